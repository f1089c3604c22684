package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/sirupsen/logrus"

	"github.com/pharmacometric/NSIMS/sim"
)

// WriteReport renders the population summary as simulation_report.md and a
// standalone simulation_report.html in dir.
func WriteReport(dir string, results []sim.PatientResult) error {
	md := renderReportMarkdown(results)

	mdPath := filepath.Join(dir, ReportMarkdownFile)
	if err := os.WriteFile(mdPath, []byte(md), 0644); err != nil {
		return fmt.Errorf("writing markdown report: %w", err)
	}

	htmlPath := filepath.Join(dir, ReportHTMLFile)
	if err := os.WriteFile(htmlPath, renderHTML(md), 0644); err != nil {
		return fmt.Errorf("writing HTML report: %w", err)
	}

	logrus.Infof("Report written to %s and %s", mdPath, htmlPath)
	return nil
}

func renderReportMarkdown(results []sim.PatientResult) string {
	summary := sim.Summarize(results)

	var timePoints []float64
	if len(results) > 0 {
		for _, obs := range results[0].Observations {
			timePoints = append(timePoints, obs.Time)
		}
	}

	var b strings.Builder
	b.WriteString("# Population Pharmacokinetics Simulation Report\n\n")

	b.WriteString("## Simulation Overview\n")
	fmt.Fprintf(&b, "- **Number of patients**: %d\n", summary.NPatients)
	fmt.Fprintf(&b, "- **Time points**: %v\n\n", timePoints)

	b.WriteString("## Population Parameters\n")
	b.WriteString("### Clearance (CL)\n")
	writeStatLines(&b, summary.Parameters.CLMean, summary.Parameters.CLSD, "L/h", true)
	b.WriteString("### Volume of Distribution (V)\n")
	writeStatLines(&b, summary.Parameters.VMean, summary.Parameters.VSD, "L", true)

	b.WriteString("## Pharmacokinetic Endpoints\n")
	b.WriteString("### Maximum Concentration (Cmax)\n")
	writeStatLines(&b, summary.Pharmacokinetics.CmaxMean, summary.Pharmacokinetics.CmaxSD, "mg/L", true)
	b.WriteString("### Area Under the Curve (AUC)\n")
	writeStatLines(&b, summary.Pharmacokinetics.AUCMean, summary.Pharmacokinetics.AUCSD, "mg*h/L", true)
	b.WriteString("### Time to Maximum Concentration (Tmax)\n")
	writeStatLines(&b, summary.Pharmacokinetics.TmaxMean, summary.Pharmacokinetics.TmaxSD, "h", false)

	b.WriteString("## Files Generated\n")
	fmt.Fprintf(&b, "- `%s`: Patient demographics and PK endpoints\n", IndividualDataFile)
	fmt.Fprintf(&b, "- `%s`: Concentration-time data for all patients\n", ConcentrationsFile)
	fmt.Fprintf(&b, "- `%s`: Individual patient parameters\n", ParametersFile)
	fmt.Fprintf(&b, "- `%s`: Detailed population statistics\n\n", SummaryFile)

	b.WriteString("## Notes\n")
	b.WriteString("Concentrations include inter-individual variability on the model\n")
	b.WriteString("parameters and residual error on each observation.\n")

	return b.String()
}

// writeStatLines emits the Mean/SD lines for one statistic, plus a CV% line
// when withCV is set. CV% is reported as 0 for a non-positive mean.
func writeStatLines(b *strings.Builder, mean, sd float64, unit string, withCV bool) {
	fmt.Fprintf(b, "- Mean: %.3f %s\n", mean, unit)
	fmt.Fprintf(b, "- SD: %.3f %s\n", sd, unit)
	if withCV {
		cv := 0.0
		if mean > 0 {
			cv = sd / mean * 100
		}
		fmt.Fprintf(b, "- CV%%: %.1f%%\n", cv)
	}
	b.WriteString("\n")
}

// renderHTML converts the markdown report into a complete HTML page.
func renderHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse([]byte(md))
	renderer := html.NewRenderer(html.RendererOptions{
		Title: "Population Pharmacokinetics Simulation Report",
		Flags: html.CommonFlags | html.CompletePage,
	})
	return markdown.Render(doc, renderer)
}
