// Package sim couples the Context Petri Net to FMU instances: it selects
// the active mode from the net's marking, steps the mode's FMU, funnels
// outputs into the global environment, fires the net to quiescence, and
// hands continuous state across mode boundaries.
package sim

import (
	"fmt"
	"io"

	"github.com/sunholo/vssim/internal/errors"
)

// Point is one sample of a time series.
type Point struct {
	T float64
	V float64
}

// Series is a named time series in first-appearance order.
type Series struct {
	Name   string
	Points []Point
}

// ModeMark records a mode change in the trace.
type ModeMark struct {
	T    float64
	Mode string
}

// FailureMark records a run failure with the time and mode it happened in.
type FailureMark struct {
	T    float64
	Mode string
	Err  error
}

// Recorder collects the run's time series and mode trace. Nothing is
// buffered lossily: every sample handed in is kept. Appends enforce
// non-decreasing time per series, so a violation of monotonic time surfaces
// at the point it is introduced.
type Recorder struct {
	series  map[string]*Series
	order   []*Series
	modes   []ModeMark
	failure *FailureMark
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{series: make(map[string]*Series)}
}

// Sample appends (t, value) to the named series, creating it on first use.
func (r *Recorder) Sample(t float64, name string, value float64) error {
	s, ok := r.series[name]
	if !ok {
		s = &Series{Name: name}
		r.series[name] = s
		r.order = append(r.order, s)
	}
	if len(s.Points) > 0 && t < s.Points[len(s.Points)-1].T {
		return errors.NewWithData(errors.INV005, "engine",
			map[string]any{"series": name, "t": t},
			"series %q: time moved backwards to %g", name, t)
	}
	s.Points = append(s.Points, Point{T: t, V: value})
	return nil
}

// MarkMode appends a mode-change marker.
func (r *Recorder) MarkMode(t float64, mode string) {
	r.modes = append(r.modes, ModeMark{T: t, Mode: mode})
}

// LastMode returns the most recently marked mode, or the empty string.
func (r *Recorder) LastMode() string {
	if len(r.modes) == 0 {
		return ""
	}
	return r.modes[len(r.modes)-1].Mode
}

// Modes returns the mode trace.
func (r *Recorder) Modes() []ModeMark { return r.modes }

// Series returns a series by name, or nil.
func (r *Recorder) Series(name string) *Series { return r.series[name] }

// SeriesNames returns all series names in first-appearance order.
func (r *Recorder) SeriesNames() []string {
	names := make([]string, len(r.order))
	for i, s := range r.order {
		names[i] = s.Name
	}
	return names
}

// Last returns the latest value of a series.
func (r *Recorder) Last(name string) (float64, bool) {
	s := r.series[name]
	if s == nil || len(s.Points) == 0 {
		return 0, false
	}
	return s.Points[len(s.Points)-1].V, true
}

// MarkFailure records the run's failure with its time and mode.
func (r *Recorder) MarkFailure(t float64, mode string, err error) {
	r.failure = &FailureMark{T: t, Mode: mode, Err: err}
}

// Failure returns the recorded failure, or nil for a clean run.
func (r *Recorder) Failure() *FailureMark { return r.failure }

// WriteCSV writes all series in long format (series,time,value), series in
// first-appearance order, samples in time order. The layout is plot-ready
// and reproducible under identical configuration.
func (r *Recorder) WriteCSV(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "series,time,value"); err != nil {
		return err
	}
	for _, s := range r.order {
		for _, p := range s.Points {
			if _, err := fmt.Fprintf(w, "%s,%g,%g\n", s.Name, p.T, p.V); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteModeTrace writes the mode trace as time,mode lines.
func (r *Recorder) WriteModeTrace(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "time,mode"); err != nil {
		return err
	}
	for _, m := range r.modes {
		if _, err := fmt.Fprintf(w, "%g,%s\n", m.T, m.Mode); err != nil {
			return err
		}
	}
	return nil
}
