package sim

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunholo/vssim/internal/config"
	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/fmi/fmitest"
)

func parseConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

func newEngine(t *testing.T, cfg *config.Config, p *fmitest.Provider) *Engine {
	t.Helper()
	e, err := New(cfg, p, zerolog.Nop())
	require.NoError(t, err)
	return e
}

// countMode returns how many mode-change marks name the given mode.
func countMode(rec *Recorder, mode string) int {
	n := 0
	for _, m := range rec.Modes() {
		if m.Mode == mode {
			n++
		}
	}
	return n
}

// --- Pendulum -> Freeflying (one switch) -----------------------------------

const pendulumYAML = `
contexts:
  places:
    Pendulum: {initial: 1}
    Freeflying: {initial: 0}
  globals: [F, r]
  guards:
    Deactivate_Pendulum: "F < 0"
    Activate_Freeflying: "F < 0"
    Deactivate_Freeflying: "r > 2.0"
    Activate_Pendulum: "false"

simulation:
  initial_time: 0
  stop_time: 10
  step_size: 0.1
  modes:
    Pendulum:
      fmu: pendulum.fmu
      outputs: [x, y, dx, dy, F]
      stop_condition: "F < 0"
    Freeflying:
      fmu: freeflying.fmu
      outputs: [x, y, vx, vy, r]
      stop_condition: "r > 2.0"
  variable_mapping:
    Freeflying:
      vx: dx
      vy: dy

plot:
  contexts: [Pendulum, Freeflying]
`

func pendulumProvider() *fmitest.Provider {
	p := fmitest.NewProvider()
	p.Define("pendulum.fmu", &fmitest.Definition{
		Identifier: "Pendulum",
		Variables:  []string{"x", "y", "dx", "dy", "F"},
		Initial:    map[string]float64{"y": 1, "dx": 1, "dy": -0.2, "F": 1},
		Step: func(t, dt float64, state map[string]float64) {
			state["x"] += state["dx"] * dt
			state["dx"] += 0.1 * dt
			state["F"] -= 0.5 * dt
		},
	})
	p.Define("freeflying.fmu", &fmitest.Definition{
		Identifier: "Freeflying",
		Variables:  []string{"x", "y", "vx", "vy", "r"},
		Step: func(t, dt float64, state map[string]float64) {
			state["x"] += state["vx"] * dt
			state["y"] += state["vy"] * dt
			state["r"] += 0.5 * dt
		},
	})
	return p
}

func TestPendulumSwitchesOnce(t *testing.T) {
	p := pendulumProvider()
	e := newEngine(t, parseConfig(t, pendulumYAML), p)

	require.NoError(t, e.Run(context.Background()))

	rec := e.Recorder()
	assert.Equal(t, 1, countMode(rec, "Pendulum"))
	assert.Equal(t, 1, countMode(rec, "Freeflying"))
	assert.Equal(t, "Freeflying", rec.LastMode())

	// The run terminates when Freeflying deactivates, within one step of
	// the r > 2.0 crossing and well before the global stop time.
	r, ok := rec.Last("r")
	require.True(t, ok)
	assert.Greater(t, r, 2.0)
	assert.LessOrEqual(t, r, 2.0+0.5*0.1+1e-9)
	assert.Less(t, e.Time(), 10.0)

	assert.Empty(t, p.Leaked())
}

func TestPendulumHandoverConservation(t *testing.T) {
	p := pendulumProvider()
	e := newEngine(t, parseConfig(t, pendulumYAML), p)
	require.NoError(t, e.Run(context.Background()))

	rec := e.Recorder()
	require.Len(t, p.Slaves, 2)
	freeflying := p.Slaves[1]

	marks := rec.Modes()
	require.Len(t, marks, 2)
	switchTime := marks[1].T

	// P7: the value written into Freeflying before initialization equals
	// the last value read from Pendulum, through the variable mapping. The
	// canonical series' final sample at or before the switch is exactly the
	// Pendulum segment's last read.
	preInit := make(map[string]float64)
	for _, w := range freeflying.Writes {
		if w.PreInit {
			preInit[w.Name] = w.Value
		}
	}
	for local, canonical := range map[string]string{"vx": "dx", "vy": "dy", "x": "x", "y": "y"} {
		written, ok := preInit[local]
		require.True(t, ok, "no pre-init write for %s", local)
		assert.Equal(t, lastValueAtOrBefore(t, rec.Series(canonical), switchTime), written,
			"handover of %s", local)
	}
}

// lastValueAtOrBefore returns the series' last sample not later than tMax.
func lastValueAtOrBefore(t *testing.T, s *Series, tMax float64) float64 {
	t.Helper()
	require.NotNil(t, s)
	for i := len(s.Points) - 1; i >= 0; i-- {
		if s.Points[i].T <= tMax+1e-12 {
			return s.Points[i].V
		}
	}
	t.Fatalf("series %s has no sample at or before %g", s.Name, tMax)
	return 0
}

// --- Bouncing ball (three-mode cycle) --------------------------------------

const bouncingBallYAML = `
contexts:
  places:
    SlidingBall: {initial: 1}
    FlyingBall: {initial: 0}
    BouncingBall: {initial: 0}
  globals: [y, h, damper.s_rel, damper.v_rel]
  guards:
    Deactivate_SlidingBall: "y < 10 and y > 5"
    Activate_FlyingBall: "y < 10 and y > 5 or damper.s_rel > 0.2 and damper.v_rel > 0"
    Deactivate_FlyingBall: "h < 0.2"
    Activate_BouncingBall: "h < 0.2"
    Deactivate_BouncingBall: "damper.s_rel > 0.2 and damper.v_rel > 0"
    Activate_SlidingBall: "false"

simulation:
  initial_time: 0
  stop_time: 10
  step_size: 0.01
  modes:
    SlidingBall:
      fmu: sliding.fmu
      outputs: [x, y, dx, dy, h]
      stop_condition: "y < 10 and y > 5"
    FlyingBall:
      fmu: flying.fmu
      outputs: [x, y, h, vx, vy, damper.s_rel, damper.v_rel]
      stop_condition: "h < 0.2"
    BouncingBall:
      fmu: bouncing.fmu
      outputs: [x, y, damper.s_rel, damper.v_rel, h, vx]
      stop_condition: "damper.s_rel > 0.2 and damper.v_rel > 0"
  variable_mapping:
    FlyingBall:
      h: y
      vx: dx
      vy: dy
    BouncingBall:
      damper.s_rel: y
      damper.v_rel: dy
      vx: dx

plot:
  contexts: [SlidingBall, FlyingBall, BouncingBall]
`

func bouncingBallProvider() *fmitest.Provider {
	p := fmitest.NewProvider()
	p.Define("sliding.fmu", &fmitest.Definition{
		Identifier: "SlidingBall",
		Variables:  []string{"x", "y", "dx", "dy", "h"},
		Initial:    map[string]float64{"y": 10.5, "dx": 1, "dy": -1, "h": 10.5},
		Step: func(t, dt float64, state map[string]float64) {
			state["x"] += state["dx"] * dt
			state["y"] += state["dy"] * dt
			state["h"] = state["y"]
		},
	})
	p.Define("flying.fmu", &fmitest.Definition{
		Identifier: "FlyingBall",
		Variables:  []string{"x", "y", "h", "vx", "vy", "damper.s_rel", "damper.v_rel"},
		Step: func(t, dt float64, state map[string]float64) {
			state["vy"] -= 9.81 * dt
			state["h"] += state["vy"] * dt
			state["x"] += state["vx"] * dt
			state["y"] = state["h"]
			state["damper.s_rel"] = state["h"]
			state["damper.v_rel"] = state["vy"]
		},
	})
	p.Define("bouncing.fmu", &fmitest.Definition{
		Identifier: "BouncingBall",
		Variables:  []string{"x", "y", "damper.s_rel", "damper.v_rel", "h", "vx"},
		Step: func(t, dt float64, state map[string]float64) {
			s := state["damper.s_rel"]
			v := state["damper.v_rel"]
			state["damper.v_rel"] = v + (2000*(0.2-s)-50*v)*dt
			state["damper.s_rel"] = s + state["damper.v_rel"]*dt
			state["h"] = state["damper.s_rel"]
			state["y"] = state["damper.s_rel"]
			state["x"] += state["vx"] * dt
		},
	})
	return p
}

func TestBouncingBallCyclesModes(t *testing.T) {
	p := bouncingBallProvider()
	e := newEngine(t, parseConfig(t, bouncingBallYAML), p)

	require.NoError(t, e.Run(context.Background()))

	rec := e.Recorder()
	assert.Equal(t, 1, countMode(rec, "SlidingBall"))
	assert.GreaterOrEqual(t, countMode(rec, "BouncingBall"), 2,
		"expected at least two FlyingBall -> BouncingBall transitions")
	assert.GreaterOrEqual(t, countMode(rec, "FlyingBall"), 2)

	// Monotone time across the whole mode trace.
	marks := rec.Modes()
	for i := 1; i < len(marks); i++ {
		assert.LessOrEqual(t, marks[i-1].T, marks[i].T)
	}

	assert.InDelta(t, 10.0, e.Time(), 1e-9)
	assert.Empty(t, p.Leaked())
	assert.Zero(t, e.Oscillations())
}

// --- IT system (two-axis contexts, parameter schedules) --------------------

const itSystemYAML = `
contexts:
  places:
    greenSupply: {initial: 1}
    hybridSupply: {initial: 0}
    energySavingMode: {initial: 1}
    normalMode: {initial: 0}
    highPerformanceMode: {initial: 0}
  globals: [hydrogenProduction, loadDemand]
  guards:
    Activate_greenSupply: "hydrogenProduction >= loadDemand"
    Deactivate_greenSupply: "hydrogenProduction < loadDemand"
    Activate_hybridSupply: "hydrogenProduction < loadDemand"
    Deactivate_hybridSupply: "hydrogenProduction >= loadDemand"
    Activate_energySavingMode: "loadDemand < 150"
    Deactivate_energySavingMode: "loadDemand >= 150"
    Activate_normalMode: "loadDemand >= 150 and loadDemand < 200"
    Deactivate_normalMode: "loadDemand < 150 or loadDemand >= 200"
    Activate_highPerformanceMode: "loadDemand >= 200"
    Deactivate_highPerformanceMode: "loadDemand < 200"
  relations:
    exclusions:
      - [greenSupply, hybridSupply]
      - [energySavingMode, normalMode, highPerformanceMode]
    requirements:
      - {dependent: highPerformanceMode, required: hybridSupply}
      - {dependent: energySavingMode, required: greenSupply}

simulation:
  initial_time: 0
  stop_time: 10
  step_size: 0.1
  modes:
    greenSupply:
      fmu: green.fmu
      outputs: [hydrogenProduction, loadDemand]
      parameters:
        cores: {energySavingMode: 2, normalMode: 4, highPerformanceMode: 8, default: 1}
        freq: {energySavingMode: 2.0, normalMode: 3.0, highPerformanceMode: 4.0, default: 1.0}
      stop_condition: "hydrogenProduction < loadDemand"
    hybridSupply:
      fmu: hybrid.fmu
      outputs: [hydrogenProduction, loadDemand]
      parameters:
        cores: {energySavingMode: 2, normalMode: 4, highPerformanceMode: 8, default: 1}
        freq: {energySavingMode: 2.0, normalMode: 3.0, highPerformanceMode: 4.0, default: 1.0}
      stop_condition: "hydrogenProduction >= loadDemand"

plot:
  contexts: [greenSupply, hybridSupply]
  context_groups:
    operationMode: [energySavingMode, normalMode, highPerformanceMode]
`

func itSystemProvider() *fmitest.Provider {
	p := fmitest.NewProvider()
	// Demand climbs linearly from 100 while green hydrogen production is a
	// flat 180: the supply flips once, the operation mode steps through all
	// three levels.
	dynamics := func(t, dt float64, state map[string]float64) {
		state["hydrogenProduction"] = 180
		state["loadDemand"] = 100 + 15*(t+dt)
	}
	p.Define("green.fmu", &fmitest.Definition{
		Identifier: "ITSystem_greenSupply",
		Variables:  []string{"hydrogenProduction", "loadDemand", "cores", "freq"},
		Step:       dynamics,
	})
	p.Define("hybrid.fmu", &fmitest.Definition{
		Identifier: "ITSystem_hybridSupply",
		Variables:  []string{"hydrogenProduction", "loadDemand", "cores", "freq"},
		Step:       dynamics,
	})
	return p
}

func TestITSystemInvariantsAndSchedules(t *testing.T) {
	p := itSystemProvider()
	e := newEngine(t, parseConfig(t, itSystemYAML), p)

	require.NoError(t, e.Run(context.Background()))
	rec := e.Recorder()

	// One supply flip: green -> hybrid when demand outgrows production.
	assert.Equal(t, 1, countMode(rec, "greenSupply"))
	assert.Equal(t, 1, countMode(rec, "hybridSupply"))

	// P3: at most one member of each exclusion group is active at every
	// recorded step; P4: the dependent is never active without its
	// requirement.
	green := rec.Series("greenSupply").Points
	hybrid := rec.Series("hybridSupply").Points
	saving := rec.Series("energySavingMode").Points
	normal := rec.Series("normalMode").Points
	high := rec.Series("highPerformanceMode").Points
	require.NotEmpty(t, green)
	require.Len(t, hybrid, len(green))

	for i := range green {
		assert.LessOrEqual(t, green[i].V+hybrid[i].V, 1.0, "supply exclusion at t=%g", green[i].T)
		assert.LessOrEqual(t, saving[i].V+normal[i].V+high[i].V, 1.0, "operation exclusion at t=%g", saving[i].T)
		if high[i].V == 1 {
			assert.Equal(t, 1.0, hybrid[i].V, "highPerformanceMode requires hybridSupply at t=%g", high[i].T)
		}
		if saving[i].V == 1 {
			assert.Equal(t, 1.0, green[i].V, "energySavingMode requires greenSupply at t=%g", saving[i].T)
		}
	}

	// The parameter schedule followed the operation mode: the green FMU saw
	// energy-saving and normal settings, the hybrid FMU ended on the
	// high-performance ones.
	greenSlave, hybridSlave := p.Slaves[0], p.Slaves[1]
	assert.True(t, sawWrite(greenSlave, "cores", 2), "green FMU never saw energy-saving cores")
	assert.True(t, sawWrite(greenSlave, "cores", 4), "green FMU never saw normal-mode cores")

	w, ok := hybridSlave.LastWrite("cores")
	require.True(t, ok)
	assert.Equal(t, 8.0, w.Value)
	w, ok = hybridSlave.LastWrite("freq")
	require.True(t, ok)
	assert.Equal(t, 4.0, w.Value)

	assert.Empty(t, p.Leaked())
}

// --- Energy system (weak inclusion chain) ----------------------------------

const energySystemYAML = `
contexts:
  places:
    EmergencyMode: {initial: 1}
    ElectrolyzerActive: {initial: 0}
    H2SafetyMonitor: {initial: 0}
  globals: [netPower, h2Level]
  guards:
    Deactivate_EmergencyMode: "netPower > 0"
    Activate_ElectrolyzerActive: "netPower > 0"
    Deactivate_ElectrolyzerActive: "netPower <= 0"
    Activate_EmergencyMode: "netPower <= 0"
    Activate_H2SafetyMonitor: "h2Level > 0.1"
    Deactivate_H2SafetyMonitor: "h2Level < 0.05"
  relations:
    weak_inclusions:
      - {source: ElectrolyzerActive, target: H2SafetyMonitor}

simulation:
  initial_time: 0
  stop_time: 10
  step_size: 0.1
  modes:
    EmergencyMode:
      fmu: emergency.fmu
      outputs: [netPower]
      stop_condition: "netPower > 0"
    ElectrolyzerActive:
      fmu: electrolyzer.fmu
      outputs: [netPower, h2Level]
      stop_condition: "netPower <= 0"

plot:
  contexts: [EmergencyMode, ElectrolyzerActive, H2SafetyMonitor]
`

func energySystemProvider() *fmitest.Provider {
	p := fmitest.NewProvider()
	p.Define("emergency.fmu", &fmitest.Definition{
		Identifier: "EnergySystem_emergency",
		Variables:  []string{"netPower"},
		Initial:    map[string]float64{"netPower": -1},
		Step: func(t, dt float64, state map[string]float64) {
			// Batteries recharge.
			state["netPower"] += 0.5 * dt
		},
	})
	p.Define("electrolyzer.fmu", &fmitest.Definition{
		Identifier: "EnergySystem_electrolyzer",
		Variables:  []string{"netPower", "h2Level"},
		Step: func(t, dt float64, state map[string]float64) {
			// Hydrogen accumulates and eats the power surplus.
			state["h2Level"] += 0.5 * dt
			state["netPower"] = 2 - state["h2Level"]
		},
	})
	return p
}

func TestEnergySystemWeakInclusion(t *testing.T) {
	p := energySystemProvider()
	e := newEngine(t, parseConfig(t, energySystemYAML), p)

	require.NoError(t, e.Run(context.Background()))
	rec := e.Recorder()

	electrolyzer := rec.Series("ElectrolyzerActive").Points
	monitor := rec.Series("H2SafetyMonitor").Points
	require.NotEmpty(t, monitor)

	// Tokens propagate through the inclusion: while the electrolyzer runs
	// the safety monitor is active with it.
	both := false
	for i := range electrolyzer {
		if electrolyzer[i].V == 1 && monitor[i].V == 1 {
			both = true
			break
		}
	}
	assert.True(t, both, "inclusion never propagated to the safety monitor")

	// After the electrolyzer first deactivates the monitor stays active:
	// its own guard (h2Level > 0.1) still holds.
	deactivatedAt := -1.0
	wasActive := false
	for i := range electrolyzer {
		if electrolyzer[i].V == 1 {
			wasActive = true
		} else if wasActive {
			deactivatedAt = electrolyzer[i].T
			break
		}
	}
	require.Greater(t, deactivatedAt, 0.0, "electrolyzer never deactivated")
	for _, pt := range monitor {
		if pt.T >= deactivatedAt {
			assert.Equal(t, 1.0, pt.V, "monitor dropped at t=%g", pt.T)
		}
	}

	assert.Empty(t, p.Leaked())
}

// --- Oscillation and stuck detection ---------------------------------------

const oscillationYAML = `
contexts:
  places:
    Plant: {initial: 1}
    Osc: {initial: 0}
  globals: [x]
  guards:
    Activate_Plant: "false"
    Deactivate_Plant: "false"
    Activate_Osc: "x > 0"
    Deactivate_Osc: "x > 0"

simulation:
  initial_time: 0
  stop_time: 0.5
  step_size: 0.1
  modes:
    Plant:
      fmu: plant.fmu
      outputs: [x]
      stop_condition: "false"

plot:
  contexts: [Osc]
`

func TestOscillationWarningIsNotFatal(t *testing.T) {
	p := fmitest.NewProvider()
	p.Define("plant.fmu", &fmitest.Definition{
		Identifier: "Plant",
		Variables:  []string{"x"},
		Step: func(t, dt float64, state map[string]float64) {
			state["x"] = 1
		},
	})

	e := newEngine(t, parseConfig(t, oscillationYAML), p)
	require.NoError(t, e.Run(context.Background()))

	// Every step's quiescence run hits the cap; the run still completes.
	assert.Equal(t, 5, e.Oscillations())
	assert.InDelta(t, 0.5, e.Time(), 1e-9)
	assert.Empty(t, p.Leaked())
}

const stuckYAML = `
contexts:
  places:
    Frozen: {initial: 1}
  globals: [x]
  guards:
    Activate_Frozen: "false"
    Deactivate_Frozen: "false"

simulation:
  initial_time: 0
  stop_time: 10
  step_size: 0.1
  modes:
    Frozen:
      fmu: frozen.fmu
      outputs: [x]
      stop_condition: "true"

plot: {}
`

func TestStuckSimulationDetected(t *testing.T) {
	p := fmitest.NewProvider()
	p.Define("frozen.fmu", &fmitest.Definition{
		Identifier: "Frozen",
		Variables:  []string{"x"},
	})

	e := newEngine(t, parseConfig(t, stuckYAML), p)
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.SIM001))
	assert.Equal(t, errors.ExitStuck, errors.ExitCode(err))

	// The stop condition held at entry, so the FMU was never instantiated.
	assert.Equal(t, 0, p.OpenCount("frozen.fmu"))

	// The failure is recorded into the trace with time and mode.
	f := e.Recorder().Failure()
	require.NotNil(t, f)
	assert.Equal(t, "Frozen", f.Mode)
}

// --- Early stop ------------------------------------------------------------

const earlyStopYAML = `
contexts:
  places:
    Bootstrap: {initial: 1}
    Running: {initial: 0}
  globals: [x]
  guards:
    Deactivate_Bootstrap: "true"
    Activate_Running: "true"
    Activate_Bootstrap: "false"
    Deactivate_Running: "false"

simulation:
  initial_time: 0
  stop_time: 1
  step_size: 0.1
  modes:
    Bootstrap:
      fmu: bootstrap.fmu
      outputs: [x]
      stop_condition: "true"
    Running:
      fmu: running.fmu
      outputs: [x]
      stop_condition: "false"

plot: {}
`

func TestEarlyStopSkipsInstantiation(t *testing.T) {
	p := fmitest.NewProvider()
	p.Define("bootstrap.fmu", &fmitest.Definition{
		Identifier: "Bootstrap",
		Variables:  []string{"x"},
	})
	p.Define("running.fmu", &fmitest.Definition{
		Identifier: "Running",
		Variables:  []string{"x"},
		Step: func(t, dt float64, state map[string]float64) {
			state["x"] += dt
		},
	})

	e := newEngine(t, parseConfig(t, earlyStopYAML), p)
	require.NoError(t, e.Run(context.Background()))

	// The first mode's stop condition held at entry: no instantiation, but
	// the CPN still fired until the next mode took over.
	assert.Equal(t, 0, p.OpenCount("bootstrap.fmu"))
	assert.Equal(t, 1, p.OpenCount("running.fmu"))

	rec := e.Recorder()
	require.Len(t, rec.Modes(), 2)
	assert.Equal(t, "Bootstrap", rec.Modes()[0].Mode)
	assert.Equal(t, "Running", rec.Modes()[1].Mode)
	assert.InDelta(t, 1.0, e.Time(), 1e-9)
}

// --- Failure paths ---------------------------------------------------------

func TestStepRejectClosesInstance(t *testing.T) {
	p := pendulumProvider()
	p.Define("pendulum.fmu", &fmitest.Definition{
		Identifier: "Pendulum",
		Variables:  []string{"x", "y", "dx", "dy", "F"},
		Initial:    map[string]float64{"F": 1},
		StepErr: func(t float64) error {
			if t >= 0.5 {
				return stderrors.New("solver diverged")
			}
			return nil
		},
	})

	e := newEngine(t, parseConfig(t, pendulumYAML), p)
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.FMU003))
	assert.Equal(t, errors.ExitFMU, errors.ExitCode(err))

	// P8: the failing instance was still closed.
	assert.Empty(t, p.Leaked())
	require.NotNil(t, e.Recorder().Failure())
}

func TestOpenFailureSurfaces(t *testing.T) {
	p := pendulumProvider()
	p.FailOpen("pendulum.fmu", stderrors.New("corrupt archive"))

	e := newEngine(t, parseConfig(t, pendulumYAML), p)
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.FMU001))
	assert.Equal(t, errors.ExitFMU, errors.ExitCode(err))
}

func TestUnknownOutputFailsFast(t *testing.T) {
	p := pendulumProvider()
	p.Define("pendulum.fmu", &fmitest.Definition{
		Identifier: "Pendulum",
		Variables:  []string{"x", "y"}, // declared outputs dx, dy, F missing
	})

	e := newEngine(t, parseConfig(t, pendulumYAML), p)
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.FMU004))
	assert.Empty(t, p.Leaked())
}

func TestGuardErrorIsFatal(t *testing.T) {
	cfg := parseConfig(t, pendulumYAML)
	// A guard referencing a name neither global nor output fails at the
	// first quiescence run.
	cfg.Contexts.Guards[0].Expr = "ghost < 0"

	e := newEngine(t, cfg, pendulumProvider())
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.GRD001))
	assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
}

func TestInvariantViolationOnTwoActiveModes(t *testing.T) {
	cfg := parseConfig(t, pendulumYAML)
	for i := range cfg.Contexts.Places {
		cfg.Contexts.Places[i].Initial = 1
	}

	e := newEngine(t, cfg, pendulumProvider())
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.INV001))
	assert.Equal(t, errors.ExitInvariant, errors.ExitCode(err))
}

func TestCancellationClosesInstance(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := pendulumProvider()
	p.Define("pendulum.fmu", &fmitest.Definition{
		Identifier: "Pendulum",
		Variables:  []string{"x", "y", "dx", "dy", "F"},
		Initial:    map[string]float64{"F": 1},
		Step: func(t, dt float64, state map[string]float64) {
			if t >= 1.0 {
				cancel()
			}
		},
	})

	e := newEngine(t, parseConfig(t, pendulumYAML), p)
	err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The interrupted mode's instance was closed on the way out.
	assert.Empty(t, p.Leaked())
}

// sawWrite reports whether the slave ever received the value for the name.
func sawWrite(s *fmitest.Slave, name string, value float64) bool {
	for _, w := range s.Writes {
		if w.Name == name && w.Value == value {
			return true
		}
	}
	return false
}
