package pkmodel

import (
	"fmt"
	"sort"
)

// Route identifies how a dose enters the body.
type Route string

const (
	// RouteOral is first-order absorption from the gut.
	RouteOral Route = "oral"
	// RouteIVBolus is an instantaneous intravenous push.
	RouteIVBolus Route = "ivbolus"
	// RouteIVInfusion is a constant-rate intravenous infusion.
	RouteIVInfusion Route = "ivinfusion"
)

// ParseRoute maps a configuration tag to a Route.
func ParseRoute(tag string) (Route, error) {
	switch Route(tag) {
	case RouteOral:
		return RouteOral, nil
	case RouteIVBolus:
		return RouteIVBolus, nil
	case RouteIVInfusion:
		return RouteIVInfusion, nil
	default:
		return "", fmt.Errorf("unknown dosing route %q (valid: oral, ivbolus, ivinfusion)", tag)
	}
}

// DoseEvent is a single administration from the dosing regimen.
type DoseEvent struct {
	Time   float64
	Amount float64
	Route  Route

	// Duration is the infusion length. Only meaningful for RouteIVInfusion.
	Duration float64

	// Bioavailability is the absorbed fraction for oral doses.
	// Zero is treated as the default of 1.
	Bioavailability float64
}

// Regimen is a complete dose history, sorted by administration time.
type Regimen struct {
	events []DoseEvent
}

// RegimenOptions carries the optional dosing settings shared by every event.
type RegimenOptions struct {
	Duration        float64 // infusion length, used for RouteIVInfusion
	Bioavailability float64 // oral absorbed fraction, 0 means 1
}

// NewRegimen expands one DoseEvent per administration time and sorts the
// result. Validation of amounts and times happens at the configuration
// boundary, not here.
func NewRegimen(route Route, amount float64, times []float64, opts RegimenOptions) *Regimen {
	f := opts.Bioavailability
	if f == 0 {
		f = 1
	}
	events := make([]DoseEvent, 0, len(times))
	for _, t := range times {
		ev := DoseEvent{Time: t, Amount: amount, Route: route, Bioavailability: f}
		if route == RouteIVInfusion {
			ev.Duration = opts.Duration
		}
		events = append(events, ev)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Time < events[j].Time })
	return &Regimen{events: events}
}

// Events returns the full sorted dose history.
func (r *Regimen) Events() []DoseEvent {
	return r.events
}

// EventsBefore returns the doses administered at or before t.
func (r *Regimen) EventsBefore(t float64) []DoseEvent {
	n := 0
	for n < len(r.events) && r.events[n].Time <= t {
		n++
	}
	return r.events[:n]
}

// Len returns the number of administrations.
func (r *Regimen) Len() int {
	return len(r.events)
}
