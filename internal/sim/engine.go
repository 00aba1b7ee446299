package sim

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sunholo/vssim/internal/config"
	"github.com/sunholo/vssim/internal/cpn"
	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/fmi"
	"github.com/sunholo/vssim/internal/guard"
)

const (
	// MaxOuterIter bounds the mode-switch loop.
	MaxOuterIter = 5_000_000

	// StuckLimit is the number of consecutive iterations without any change
	// to time, globals, or tokens before the run is declared stuck.
	StuckLimit = 1
)

// Engine drives the co-simulation: an outer loop switching modes from the
// net's marking and an inner fixed-step loop per mode. The engine is
// single-threaded and synchronous; one FMU is live at a time.
type Engine struct {
	cfg      *config.Config
	net      *cpn.Net
	provider fmi.Provider
	rec      *Recorder
	log      zerolog.Logger

	globals guard.Env
	prev    map[string]float64 // handover snapshot, canonical names
	stops   map[string]guard.Expr
	plots   []plotSeries
	t       float64

	oscillations int
}

// plotSeries is one recorded token series: a context, or an aggregated
// parent that is active while all its children are.
type plotSeries struct {
	name     string
	children []string
}

// New validates the configuration, builds the net, and compiles the stop
// conditions. The provider supplies FMU instances; pass a zerolog.Nop
// logger to silence diagnostics.
func New(cfg *config.Config, provider fmi.Provider, log zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	net, err := cpn.Build(&cfg.Contexts)
	if err != nil {
		return nil, err
	}

	stops := make(map[string]guard.Expr, len(cfg.Simulation.Modes))
	for _, m := range cfg.Simulation.Modes {
		expr, err := guard.Compile(m.StopCondition)
		if err != nil {
			return nil, err
		}
		stops[m.Name] = expr
	}

	globals := make(guard.Env, len(cfg.Contexts.Globals))
	for _, name := range cfg.Contexts.Globals {
		globals[name] = 0
	}

	e := &Engine{
		cfg:      cfg,
		net:      net,
		provider: provider,
		rec:      NewRecorder(),
		log:      log,
		globals:  globals,
		prev:     make(map[string]float64),
		stops:    stops,
		t:        cfg.Simulation.InitialTime,
	}
	e.buildPlotSeries()
	return e, nil
}

// buildPlotSeries resolves the plot schema into the token series to record:
// each listed context, each group child, and each group parent aggregated
// over its children. First declaration of a name wins.
func (e *Engine) buildPlotSeries() {
	seen := make(map[string]bool)
	add := func(name string, children []string) {
		if seen[name] {
			return
		}
		seen[name] = true
		e.plots = append(e.plots, plotSeries{name: name, children: children})
	}
	for _, name := range e.cfg.Plot.Contexts {
		add(name, []string{name})
	}
	for _, group := range e.cfg.Plot.ContextGroups {
		add(group.Parent, group.Children)
		for _, child := range group.Children {
			add(child, []string{child})
		}
	}
}

// Recorder returns the run's trace recorder.
func (e *Engine) Recorder() *Recorder { return e.rec }

// Net returns the engine's Context Petri Net.
func (e *Engine) Net() *cpn.Net { return e.net }

// Time returns the current simulated time.
func (e *Engine) Time() float64 { return e.t }

// Oscillations returns how many quiescence runs hit the firing cap.
func (e *Engine) Oscillations() int { return e.oscillations }

// Run executes the simulation until the stop time is reached or no declared
// mode holds a token. Any failure is recorded into the trace with the time
// and mode it happened in, then returned.
func (e *Engine) Run(ctx context.Context) error {
	err := e.run(ctx)
	if err != nil {
		e.rec.MarkFailure(e.t, e.rec.LastMode(), err)
		e.log.Error().Err(err).Float64("t", e.t).Str("mode", e.rec.LastMode()).
			Msg("simulation failed")
		return err
	}
	e.log.Info().Float64("t", e.t).Int("mode_switches", len(e.rec.Modes())).
		Msg("simulation finished")
	return nil
}

// snapshot captures everything the progress watchdog compares.
type snapshot struct {
	t       float64
	globals guard.Env
	marking map[string]int
}

func (e *Engine) snapshot() snapshot {
	return snapshot{t: e.t, globals: e.globals.Clone(), marking: e.net.Marking()}
}

func (s snapshot) equal(o snapshot) bool {
	if s.t != o.t || len(s.globals) != len(o.globals) || len(s.marking) != len(o.marking) {
		return false
	}
	for k, v := range s.globals {
		if ov, ok := o.globals[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range s.marking {
		if ov, ok := o.marking[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// watchdog tracks consecutive unchanged snapshots.
type watchdog struct {
	last  snapshot
	armed bool
	stuck int
}

func (w *watchdog) observe(s snapshot) error {
	if w.armed && s.equal(w.last) {
		w.stuck++
		if w.stuck >= StuckLimit {
			return errors.NewWithData(errors.SIM001, "engine",
				map[string]any{"t": s.t},
				"no progress: time, globals, and tokens unchanged")
		}
	} else {
		w.stuck = 0
	}
	w.last = s
	w.armed = true
	return nil
}

func (e *Engine) run(ctx context.Context) error {
	stopTime := e.cfg.Simulation.StopTime
	var dog watchdog

	for outer := 0; ; outer++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if outer >= MaxOuterIter {
			return errors.New(errors.SIM001, "engine",
				"outer loop exceeded %d iterations", MaxOuterIter)
		}
		if e.t >= stopTime {
			return nil
		}

		mode, err := e.pickMode()
		if err != nil {
			return err
		}
		if mode == "" {
			e.log.Info().Float64("t", e.t).Msg("no active mode, terminating")
			return nil
		}
		if e.rec.LastMode() != mode {
			e.rec.MarkMode(e.t, mode)
			e.log.Info().Float64("t", e.t).Str("mode", mode).Msg("mode change")
		}

		// A stop condition that already holds skips instantiation entirely
		// and goes straight to the mode change attempt.
		if e.stopHolds(mode) {
			if err := e.fireQuiescence(); err != nil {
				return err
			}
			if err := dog.observe(e.snapshot()); err != nil {
				return err
			}
			continue
		}

		// runMode observes the watchdog after every inner iteration; a mode
		// segment always advances t, so no extra observation is needed here.
		if err := e.runMode(ctx, mode, &dog); err != nil {
			return err
		}
	}
}

// pickMode returns the unique declared mode whose place holds a token, the
// empty string when none does, or an I1 violation when several do.
func (e *Engine) pickMode() (string, error) {
	var active []string
	for _, m := range e.cfg.Simulation.Modes {
		if e.net.HasToken(m.Name) {
			active = append(active, m.Name)
		}
	}
	switch len(active) {
	case 0:
		return "", nil
	case 1:
		return active[0], nil
	default:
		return "", errors.NewWithData(errors.INV001, "engine",
			map[string]any{"active": active},
			"more than one active mode: %v", active)
	}
}

// stopHolds evaluates a mode's stop condition defensively: any evaluation
// failure counts as false for this iteration and is logged.
func (e *Engine) stopHolds(mode string) bool {
	holds, err := guard.Eval(e.stops[mode], e.globals)
	if err != nil {
		e.log.Warn().Err(err).Str("mode", mode).Float64("t", e.t).
			Msg("stop condition failed, treating as false")
		return false
	}
	return holds
}

// fireQuiescence fires the net to quiescence and surfaces the firing cap as
// an oscillation warning.
func (e *Engine) fireQuiescence() error {
	fired, capped, err := e.net.FireToQuiescence(e.globals)
	if err != nil {
		return err
	}
	if capped {
		e.oscillations++
		e.log.Warn().Float64("t", e.t).Int("fired", fired).
			Msg("quiescence cap reached, oscillatory guard configuration")
	}
	return e.net.CheckInvariants()
}

// runMode executes one mode segment: instantiate, restore handover state,
// initialize, step until the stop condition, the stop time, or a mode
// change, then snapshot outputs and close. The instance is closed on every
// exit path.
func (e *Engine) runMode(ctx context.Context, mode string, dog *watchdog) (err error) {
	m, _ := e.cfg.Simulation.Modes.Get(mode)
	stopTime := e.cfg.Simulation.StopTime
	stepSize := e.cfg.Simulation.StepSize

	inst, err := fmi.Open(e.provider, m.FMU, mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := inst.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// Restore the handover snapshot before initialization; unknown names
	// are skipped inside Write.
	for _, name := range m.Outputs {
		if value, ok := e.prev[e.cfg.Canonical(mode, name)]; ok {
			if err := inst.Write(name, value); err != nil {
				return err
			}
		}
	}
	if err := inst.Initialize(e.t, stopTime); err != nil {
		return err
	}

	var lastRead []float64
	for e.t < stopTime && !e.stopHolds(mode) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := inst.ApplySchedule(m.Parameters, e.net.HasToken); err != nil {
			return err
		}

		h := stepSize
		if remainder := stopTime - e.t; remainder < h {
			h = remainder
		}
		if err := inst.Step(e.t, h); err != nil {
			return err
		}

		values, err := inst.Read(m.Outputs)
		if err != nil {
			return err
		}
		lastRead = values

		tNew := e.t + h
		for i, name := range m.Outputs {
			e.globals[name] = values[i]
			if err := e.rec.Sample(tNew, name, values[i]); err != nil {
				return err
			}
		}
		if err := e.recordContexts(tNew); err != nil {
			return err
		}
		if err := e.fireQuiescence(); err != nil {
			return err
		}
		e.t = tNew

		if err := dog.observe(e.snapshot()); err != nil {
			return err
		}
		if !e.net.HasToken(mode) {
			break
		}
	}

	// Snapshot the last read values under their canonical names for the
	// next mode's restore.
	if lastRead != nil {
		for i, name := range m.Outputs {
			e.prev[e.cfg.Canonical(mode, name)] = lastRead[i]
		}
	}
	return nil
}

// recordContexts appends the 0/1 token series for every plotted context.
func (e *Engine) recordContexts(t float64) error {
	for _, p := range e.plots {
		value := 1.0
		for _, child := range p.children {
			if !e.net.HasToken(child) {
				value = 0
				break
			}
		}
		if err := e.rec.Sample(t, p.name, value); err != nil {
			return err
		}
	}
	return nil
}
