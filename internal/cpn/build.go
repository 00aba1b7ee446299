package cpn

import (
	"github.com/sunholo/vssim/internal/config"
	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/guard"
)

// Build constructs the Context Petri Net from declarative configuration:
// every context place with its _ModeSwitch twin, the canonical Activate/
// Deactivate transitions in guard declaration order, and the expansion of
// the four relation kinds into extra arcs and duplicate transitions.
//
// Each guard string is compiled exactly once; duplicates introduced by
// relation expansion share the compiled expression by reference.
//
// Relation expansion preserves pair conservation: wherever the expansion
// adds an arc that moves a context's token, the matching twin arc is added
// so tokens(C) + tokens(C_ModeSwitch) stays 1. For inclusions this splits
// activation the same way the deactivation side is split: a duplicate
// activation covers the partner-inactive case and activates both contexts,
// while the original is restricted (via an inhibitor on the partner's twin)
// to the partner-active case.
func Build(cfg *config.ContextConfig) (*Net, error) {
	n := New("ContextPetriNets")

	for _, p := range cfg.Places {
		place, err := n.AddPlace(p.Name, p.Initial)
		if err != nil {
			return nil, errors.New(errors.CFG007, "net", "%v", err)
		}
		twin, err := n.AddPlace(TwinName(p.Name), 1-p.Initial)
		if err != nil {
			return nil, errors.New(errors.CFG007, "net", "%v", err)
		}
		n.pairs = append(n.pairs, [2]*Place{place, twin})
	}

	compiled := make(map[string]guard.Expr, len(cfg.Guards))
	sources := make(map[string]string, len(cfg.Guards))
	for _, g := range cfg.Guards {
		expr, err := guard.Compile(g.Expr)
		if err != nil {
			return nil, err
		}
		compiled[g.Name] = expr
		sources[g.Name] = g.Expr
	}
	for _, p := range cfg.Places {
		for _, name := range []string{ActivateName(p.Name), DeactivateName(p.Name)} {
			if _, ok := compiled[name]; !ok {
				return nil, errors.NewWithData(errors.CFG001, "net",
					map[string]any{"context": p.Name}, "context %q: missing guard %q", p.Name, name)
			}
		}
	}

	// Base wiring, in guard declaration order so the configuration controls
	// firing priority.
	for _, g := range cfg.Guards {
		if _, err := n.AddTransition(g.Name, g.Expr, compiled[g.Name]); err != nil {
			return nil, errors.New(errors.CFG007, "net", "%v", err)
		}
	}
	for _, p := range cfg.Places {
		activate := ActivateName(p.Name)
		deactivate := DeactivateName(p.Name)
		wire(n,
			arc{TwinName(p.Name), activate, Input},
			arc{p.Name, activate, Output},
			arc{p.Name, deactivate, Input},
			arc{TwinName(p.Name), deactivate, Output},
		)
	}

	if err := expandRelations(n, cfg, compiled, sources); err != nil {
		return nil, err
	}
	return n, nil
}

type arc struct {
	place      string
	transition string
	kind       ArcKind
}

// wire adds weight-1 arcs between places and transitions known to exist.
func wire(n *Net, arcs ...arc) {
	for _, a := range arcs {
		if err := n.AddArc(a.place, a.transition, a.kind, 1); err != nil {
			// Build validates all names before wiring; a failure here is a
			// programming error, not a configuration error.
			panic(err)
		}
	}
}

func expandRelations(n *Net, cfg *config.ContextConfig, compiled map[string]guard.Expr, sources map[string]string) error {
	check := func(rel, name string) error {
		if n.Place(name) == nil {
			return errors.New(errors.CFG005, "net",
				"%s relation references undeclared context %q", rel, name)
		}
		return nil
	}

	// Exclusion: a cannot activate while any other group member is active.
	for _, group := range cfg.Relations.Exclusions {
		places := make([]*Place, 0, len(group))
		for _, name := range group {
			if err := check("exclusion", name); err != nil {
				return err
			}
			places = append(places, n.Place(name))
		}
		for _, a := range group {
			for _, b := range group {
				if a == b {
					continue
				}
				wire(n, arc{b, ActivateName(a), Inhibitor})
			}
		}
		n.exclusions = append(n.exclusions, places)
	}

	// Weak inclusion src -> tgt: activating src also activates tgt; src
	// deactivation consumes tgt only while tgt is active.
	for _, inc := range cfg.Relations.WeakInclusions {
		if err := check("weak inclusion", inc.Source); err != nil {
			return err
		}
		if err := check("weak inclusion", inc.Target); err != nil {
			return err
		}
		if err := expandInclusion(n, inc.Source, inc.Target, "weak", compiled, sources); err != nil {
			return err
		}
	}

	// Strong inclusion src => tgt: activating tgt also activates src; tgt
	// deactivation consumes src only while src is active.
	for _, inc := range cfg.Relations.StrongInclusions {
		if err := check("strong inclusion", inc.Source); err != nil {
			return err
		}
		if err := check("strong inclusion", inc.Target); err != nil {
			return err
		}
		if err := expandInclusion(n, inc.Target, inc.Source, "strong", compiled, sources); err != nil {
			return err
		}
	}

	// Requirement: dep borrows req's token on activation; req cannot
	// deactivate while dep is active unless the cascading duplicate fires.
	for _, req := range cfg.Relations.Requirements {
		if err := check("requirement", req.Dependent); err != nil {
			return err
		}
		if err := check("requirement", req.Required); err != nil {
			return err
		}
		dep, reqd := req.Dependent, req.Required

		wire(n,
			arc{reqd, ActivateName(dep), Input},
			arc{reqd, ActivateName(dep), Output},
			arc{dep, DeactivateName(reqd), Inhibitor},
		)

		dup := DeactivateName(reqd) + "_req_" + dep
		if _, err := n.AddTransition(dup, sources[DeactivateName(reqd)], compiled[DeactivateName(reqd)]); err != nil {
			return errors.New(errors.CFG007, "net", "%v", err)
		}
		wire(n,
			arc{reqd, dup, Input},
			arc{dep, dup, Input},
			arc{TwinName(reqd), dup, Output},
			arc{TwinName(dep), dup, Output},
		)
		n.requirements = append(n.requirements, [2]*Place{n.Place(dep), n.Place(reqd)})
	}

	return nil
}

// expandInclusion wires the shared inclusion shape: activating lead also
// activates partner, and deactivating lead consumes partner while partner is
// active. Weak inclusion leads with the source, strong inclusion with the
// target.
func expandInclusion(n *Net, lead, partner, kind string, compiled map[string]guard.Expr, sources map[string]string) error {
	activate := ActivateName(lead)
	deactivate := DeactivateName(lead)

	// The duplicate activation covers the partner-inactive case and brings
	// the partner up with the lead; the original is restricted to the
	// partner-active case.
	actDup := activate + "_" + kind + "_" + partner
	if _, err := n.AddTransition(actDup, sources[activate], compiled[activate]); err != nil {
		return errors.New(errors.CFG007, "net", "%v", err)
	}
	wire(n,
		arc{TwinName(lead), actDup, Input},
		arc{TwinName(partner), actDup, Input},
		arc{lead, actDup, Output},
		arc{partner, actDup, Output},
		arc{TwinName(partner), activate, Inhibitor},
	)

	// The original deactivation consumes the partner too; the duplicate
	// handles the partner-inactive case and deactivates the lead alone.
	deactDup := deactivate + "_" + kind + "_" + partner
	if _, err := n.AddTransition(deactDup, sources[deactivate], compiled[deactivate]); err != nil {
		return errors.New(errors.CFG007, "net", "%v", err)
	}
	wire(n,
		arc{partner, deactivate, Input},
		arc{TwinName(partner), deactivate, Output},
		arc{lead, deactDup, Input},
		arc{partner, deactDup, Inhibitor},
		arc{TwinName(lead), deactDup, Output},
	)
	return nil
}
