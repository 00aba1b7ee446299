package fmi

import (
	"github.com/sunholo/vssim/internal/errors"
)

// Instance adapts one FMU co-simulation slave to the engine's needs:
// name-based reads and writes, fixed-step advancement, and a lifecycle whose
// Close is idempotent so a deferred call is safe on every exit path. The
// adapter keeps no per-step history.
type Instance struct {
	name  string
	path  string
	model Model
	slave Slave
	refs  map[string]uint32

	initialized bool
	closed      bool
}

// Open acquires the archive, reads the variable reference table, and
// instantiates the slave. Any underlying failure surfaces as FMU001 with
// everything acquired so far released again.
func Open(p Provider, path, name string) (*Instance, error) {
	if p == nil {
		return nil, errors.New(errors.FMU001, "fmu", "no FMI provider registered")
	}
	model, err := p.Open(path)
	if err != nil {
		return nil, errors.NewWithData(errors.FMU001, "fmu",
			map[string]any{"path": path}, "open %s: %v", path, err)
	}
	slave, err := model.Instantiate(name)
	if err != nil {
		_ = model.Discard()
		return nil, errors.NewWithData(errors.FMU001, "fmu",
			map[string]any{"path": path, "model": model.ModelIdentifier()},
			"instantiate %s: %v", name, err)
	}
	return &Instance{
		name:  name,
		path:  path,
		model: model,
		slave: slave,
		refs:  model.ValueReferences(),
	}, nil
}

// Name returns the instance name the slave was created with.
func (in *Instance) Name() string { return in.name }

// Initialize enters initialization mode with the given start and stop times,
// then exits it. Call exactly once, after any pre-initialization writes.
func (in *Instance) Initialize(t0, tf float64) error {
	if in.initialized {
		return errors.New(errors.FMU002, "fmu", "%s: already initialized", in.name)
	}
	if err := in.slave.EnterInitialization(t0, tf); err != nil {
		return errors.New(errors.FMU002, "fmu", "%s: enter initialization: %v", in.name, err)
	}
	if err := in.slave.ExitInitialization(); err != nil {
		return errors.New(errors.FMU002, "fmu", "%s: exit initialization: %v", in.name, err)
	}
	in.initialized = true
	return nil
}

// Write sets a scalar real by name. Unknown names are silently ignored: a
// mode may declare variables that do not exist in every FMU variant.
func (in *Instance) Write(name string, value float64) error {
	ref, ok := in.refs[name]
	if !ok {
		return nil
	}
	if err := in.slave.SetReal([]uint32{ref}, []float64{value}); err != nil {
		return errors.New(errors.FMU003, "fmu", "%s: set %s: %v", in.name, name, err)
	}
	return nil
}

// Read batch-reads scalar reals, returning values in the declared order.
// A name absent from the variable table is fatal for the mode.
func (in *Instance) Read(names []string) ([]float64, error) {
	refs := make([]uint32, len(names))
	for i, name := range names {
		ref, ok := in.refs[name]
		if !ok {
			return nil, errors.NewWithData(errors.FMU004, "fmu",
				map[string]any{"variable": name}, "%s: unknown variable %q", in.name, name)
		}
		refs[i] = ref
	}
	values, err := in.slave.GetReal(refs)
	if err != nil {
		return nil, errors.New(errors.FMU003, "fmu", "%s: get reals: %v", in.name, err)
	}
	return values, nil
}

// Step advances the slave by h seconds from t.
func (in *Instance) Step(t, h float64) error {
	if h <= 0 {
		return errors.New(errors.FMU003, "fmu", "%s: non-positive step %g", in.name, h)
	}
	if err := in.slave.DoStep(t, h, false); err != nil {
		return errors.NewWithData(errors.FMU003, "fmu",
			map[string]any{"t": t, "h": h}, "%s: doStep at t=%g: %v", in.name, t, err)
	}
	return nil
}

// Close terminates the slave, frees it, and releases the working directory.
// Idempotent; every open instance must reach Close on every exit path.
func (in *Instance) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true

	var firstErr error
	if in.initialized {
		if err := in.slave.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := in.slave.Free(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := in.model.Discard(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errors.New(errors.FMU001, "fmu", "%s: close: %v", in.name, firstErr)
	}
	return nil
}

// ScheduleCase pairs a context name with the value a parameter takes while
// that context is active.
type ScheduleCase struct {
	Context string
	Value   float64
}

// ScheduledParam is one parameter schedule entry: the value written each
// step is that of the first listed context whose place currently holds a
// token, else the default.
type ScheduledParam struct {
	Name       string
	Cases      []ScheduleCase
	Default    float64
	HasDefault bool
}

// ApplySchedule writes every scheduled parameter for the current context
// activation state. active reports whether a context's place holds a token.
func (in *Instance) ApplySchedule(params []ScheduledParam, active func(string) bool) error {
	for _, p := range params {
		value := p.Default
		found := p.HasDefault
		for _, c := range p.Cases {
			if active(c.Context) {
				value = c.Value
				found = true
				break
			}
		}
		if !found {
			continue
		}
		if err := in.Write(p.Name, value); err != nil {
			return err
		}
	}
	return nil
}
