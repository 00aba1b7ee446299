package config

import (
	stderrors "errors"
	"strings"

	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/guard"
)

// Validate checks the whole document before any FMU is touched and returns
// every problem found, joined. Guard and stop-condition expressions are
// compiled here once to reject syntax errors early; the builder compiles its
// own shared copies.
func (c *Config) Validate() error {
	var errs []error
	fail := func(err error) { errs = append(errs, err) }

	declared := make(map[string]bool, len(c.Contexts.Places))
	for _, p := range c.Contexts.Places {
		if declared[p.Name] {
			fail(errors.New(errors.CFG007, "config", "place %q declared twice", p.Name))
			continue
		}
		declared[p.Name] = true
		if p.Initial != 0 && p.Initial != 1 {
			fail(errors.New(errors.CFG007, "config",
				"place %q: initial marking must be 0 or 1, got %d", p.Name, p.Initial))
		}
		if strings.HasSuffix(p.Name, "_ModeSwitch") {
			fail(errors.New(errors.CFG007, "config",
				"place %q: the _ModeSwitch twin is created automatically", p.Name))
		}
	}

	c.validateGuards(declared, fail)
	c.validateRelations(declared, fail)
	c.validateSimulation(declared, fail)
	c.validatePlot(declared, fail)

	return stderrors.Join(errs...)
}

func (c *Config) validateGuards(declared map[string]bool, fail func(error)) {
	seen := make(map[string]bool, len(c.Contexts.Guards))
	for _, g := range c.Contexts.Guards {
		if seen[g.Name] {
			fail(errors.New(errors.CFG007, "config", "guard %q declared twice", g.Name))
			continue
		}
		seen[g.Name] = true

		context, ok := guardContext(g.Name)
		if !ok {
			fail(errors.New(errors.CFG005, "config",
				"guard %q: transition names are Activate_<context> or Deactivate_<context>", g.Name))
		} else if !declared[context] {
			fail(errors.New(errors.CFG005, "config",
				"guard %q references undeclared context %q", g.Name, context))
		}
		if _, err := guard.Compile(g.Expr); err != nil {
			fail(err)
		}
	}
	for _, p := range c.Contexts.Places {
		for _, name := range []string{"Activate_" + p.Name, "Deactivate_" + p.Name} {
			if !seen[name] {
				fail(errors.NewWithData(errors.CFG001, "config",
					map[string]any{"context": p.Name}, "context %q: missing guard %q", p.Name, name))
			}
		}
	}
}

// guardContext extracts the context name from a canonical transition name.
func guardContext(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, "Activate_"); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(name, "Deactivate_"); ok {
		return rest, true
	}
	return "", false
}

func (c *Config) validateRelations(declared map[string]bool, fail func(error)) {
	undeclared := func(rel, name string) {
		fail(errors.New(errors.CFG005, "config",
			"%s relation references undeclared context %q", rel, name))
	}
	for _, group := range c.Contexts.Relations.Exclusions {
		if len(group) < 2 {
			fail(errors.New(errors.CFG007, "config",
				"exclusion group needs at least two members, got %d", len(group)))
		}
		for _, name := range group {
			if !declared[name] {
				undeclared("exclusion", name)
			}
		}
	}
	for _, inc := range c.Contexts.Relations.WeakInclusions {
		if !declared[inc.Source] {
			undeclared("weak inclusion", inc.Source)
		}
		if !declared[inc.Target] {
			undeclared("weak inclusion", inc.Target)
		}
	}
	for _, inc := range c.Contexts.Relations.StrongInclusions {
		if !declared[inc.Source] {
			undeclared("strong inclusion", inc.Source)
		}
		if !declared[inc.Target] {
			undeclared("strong inclusion", inc.Target)
		}
	}
	for _, req := range c.Contexts.Relations.Requirements {
		if !declared[req.Dependent] {
			undeclared("requirement", req.Dependent)
		}
		if !declared[req.Required] {
			undeclared("requirement", req.Required)
		}
	}
}

func (c *Config) validateSimulation(declared map[string]bool, fail func(error)) {
	sim := &c.Simulation
	if sim.StopTime <= sim.InitialTime {
		fail(errors.New(errors.CFG004, "config",
			"stop_time %g must be greater than initial_time %g", sim.StopTime, sim.InitialTime))
	}
	if sim.StepSize <= 0 {
		fail(errors.New(errors.CFG004, "config", "step_size %g must be positive", sim.StepSize))
	}
	if len(sim.Modes) == 0 {
		fail(errors.New(errors.CFG007, "config", "no modes declared"))
	}

	for _, m := range sim.Modes {
		if !declared[m.Name] {
			fail(errors.NewWithData(errors.CFG002, "config",
				map[string]any{"mode": m.Name}, "mode %q is not declared as a place", m.Name))
		}
		if m.FMU == "" {
			fail(errors.New(errors.CFG007, "config", "mode %q: missing fmu path", m.Name))
		}
		if len(m.Outputs) == 0 {
			fail(errors.New(errors.CFG007, "config", "mode %q: no outputs declared", m.Name))
		}
		if m.StopCondition == "" {
			fail(errors.New(errors.CFG007, "config", "mode %q: missing stop_condition", m.Name))
		} else if _, err := guard.Compile(m.StopCondition); err != nil {
			fail(err)
		}
		for _, p := range m.Parameters {
			for _, cs := range p.Cases {
				if !declared[cs.Context] {
					fail(errors.New(errors.CFG005, "config",
						"mode %q: parameter %q schedules undeclared context %q", m.Name, p.Name, cs.Context))
				}
			}
		}
	}

	for mode, mapping := range sim.VariableMapping {
		decl, ok := sim.Modes.Get(mode)
		if !ok {
			fail(errors.New(errors.CFG003, "config",
				"variable_mapping references unknown mode %q", mode))
			continue
		}
		for local := range mapping {
			if !contains(decl.Outputs, local) {
				fail(errors.NewWithData(errors.CFG003, "config",
					map[string]any{"mode": mode, "variable": local},
					"variable_mapping: %q is not an output of mode %q", local, mode))
			}
		}
	}
}

func (c *Config) validatePlot(declared map[string]bool, fail func(error)) {
	for _, name := range c.Plot.Contexts {
		if !declared[name] {
			fail(errors.New(errors.CFG005, "config",
				"plot references undeclared context %q", name))
		}
	}
	for _, group := range c.Plot.ContextGroups {
		for _, child := range group.Children {
			if !declared[child] {
				fail(errors.New(errors.CFG005, "config",
					"plot group %q references undeclared context %q", group.Parent, child))
			}
		}
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
