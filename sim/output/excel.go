package output

import (
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"github.com/pharmacometric/NSIMS/sim"
)

// Workbook sheet names.
const (
	sheetIndividuals    = "Individuals"
	sheetConcentrations = "Concentrations"
	sheetParameters     = "Parameters"
)

// WriteWorkbook writes simulation_results.xlsx into dir with one sheet per
// CSV output. Cells hold native numbers, not formatted strings.
func WriteWorkbook(dir string, results []sim.PatientResult, paramNames []string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetIndividuals); err != nil {
		return fmt.Errorf("naming workbook sheet: %w", err)
	}
	for _, name := range []string{sheetConcentrations, sheetParameters} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("creating workbook sheet %s: %w", name, err)
		}
	}
	if idx, err := f.GetSheetIndex(sheetIndividuals); err == nil && idx != -1 {
		f.SetActiveSheet(idx)
	}

	if err := fillIndividualsSheet(f, results); err != nil {
		return err
	}
	if err := fillConcentrationsSheet(f, results); err != nil {
		return err
	}
	if err := fillParametersSheet(f, results, paramNames); err != nil {
		return err
	}

	path := filepath.Join(dir, WorkbookFile)
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	logrus.Infof("Workbook written to %s", path)
	return nil
}

func fillIndividualsSheet(f *excelize.File, results []sim.PatientResult) error {
	if err := setHeaderRow(f, sheetIndividuals, individualColumns); err != nil {
		return err
	}
	for i, r := range results {
		row := []interface{}{
			r.PatientID,
			r.Demographics.Weight,
			r.Demographics.Age,
			r.MaxConcentration(),
			r.AUC(),
			r.TimeOfMax(),
		}
		if err := setRow(f, sheetIndividuals, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func fillConcentrationsSheet(f *excelize.File, results []sim.PatientResult) error {
	if err := setHeaderRow(f, sheetConcentrations, concentrationColumns); err != nil {
		return err
	}
	rowIdx := 2
	for _, r := range results {
		for _, obs := range r.Observations {
			row := []interface{}{r.PatientID, obs.Time, obs.Concentration, obs.PredictedConcentration}
			if err := setRow(f, sheetConcentrations, rowIdx, row); err != nil {
				return err
			}
			rowIdx++
		}
	}
	return nil
}

func fillParametersSheet(f *excelize.File, results []sim.PatientResult, paramNames []string) error {
	header := append([]string{"PATIENT_ID"}, paramNames...)
	if err := setHeaderRow(f, sheetParameters, header); err != nil {
		return err
	}
	for i, r := range results {
		row := make([]interface{}, 0, len(header))
		row = append(row, r.PatientID)
		for _, name := range paramNames {
			row = append(row, r.Parameters[name])
		}
		if err := setRow(f, sheetParameters, i+2, row); err != nil {
			return err
		}
	}
	return nil
}

func setHeaderRow(f *excelize.File, sheet string, columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return setRow(f, sheet, 1, row)
}

func setRow(f *excelize.File, sheet string, rowIdx int, values []interface{}) error {
	for c, v := range values {
		cell, _ := excelize.CoordinatesToCellName(c+1, rowIdx)
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("setting cell %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}
