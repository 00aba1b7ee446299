// Package cpn implements the Context Petri Net: places carrying tokens for
// context activation state, guarded transitions, and arcs including
// inhibitors. Nets are built from declarative configuration by Build, which
// also expands context relations into additional arcs and transitions.
package cpn

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/guard"
)

// MaxFiringsPerQuiescence bounds a single FireToQuiescence run. Reaching the
// cap signals an oscillatory guard configuration; the caller surfaces it as a
// warning and carries on.
const MaxFiringsPerQuiescence = 10

// ModeSwitchSuffix names the twin place paired with every context place.
const ModeSwitchSuffix = "_ModeSwitch"

// TwinName returns the name of the mode-switch twin of a context place.
func TwinName(context string) string { return context + ModeSwitchSuffix }

// ActivateName returns the canonical activation transition name of a context.
func ActivateName(context string) string { return "Activate_" + context }

// DeactivateName returns the canonical deactivation transition name of a context.
func DeactivateName(context string) string { return "Deactivate_" + context }

// ArcKind discriminates the three arc variants.
type ArcKind int

const (
	// Input consumes tokens from the place when the transition fires.
	Input ArcKind = iota
	// Output produces tokens into the place when the transition fires.
	Output
	// Inhibitor enables the transition only while the place holds fewer
	// tokens than the arc weight. Firing does not touch the place.
	Inhibitor
)

// Arc connects a place to a transition.
type Arc struct {
	Place  *Place
	Kind   ArcKind
	Weight int
}

// Place is a named token holder. Token counts are 0 or 1 in the intended
// use; the firing semantics are defined for any non-negative count.
type Place struct {
	Name   string
	Tokens int
}

// Transition is a named, guarded transition. The guard expression may be
// shared by reference with duplicates introduced by relation expansion.
type Transition struct {
	Name     string
	Guard    guard.Expr
	GuardSrc string

	inputs     []Arc
	outputs    []Arc
	inhibitors []Arc
}

// Net is a Context Petri Net. Places and transitions keep their declaration
// order; enabled transitions fire in that order so runs are reproducible.
type Net struct {
	name        string
	places      map[string]*Place
	placeOrder  []*Place
	transitions []*Transition
	transIndex  map[string]*Transition

	// relation metadata retained for invariant checking
	pairs        [][2]*Place
	exclusions   [][]*Place
	requirements [][2]*Place
}

// New creates an empty net.
func New(name string) *Net {
	return &Net{
		name:       name,
		places:     make(map[string]*Place),
		transIndex: make(map[string]*Transition),
	}
}

// Name returns the net's name.
func (n *Net) Name() string { return n.name }

// AddPlace adds a place with an initial token count.
func (n *Net) AddPlace(name string, tokens int) (*Place, error) {
	if _, ok := n.places[name]; ok {
		return nil, fmt.Errorf("duplicate place %q", name)
	}
	if tokens < 0 {
		return nil, fmt.Errorf("place %q: negative token count %d", name, tokens)
	}
	p := &Place{Name: name, Tokens: tokens}
	n.places[name] = p
	n.placeOrder = append(n.placeOrder, p)
	return p, nil
}

// Place returns a place by name, or nil.
func (n *Net) Place(name string) *Place { return n.places[name] }

// Places returns all places in declaration order.
func (n *Net) Places() []*Place { return n.placeOrder }

// HasToken reports whether the named place exists and holds at least one token.
func (n *Net) HasToken(name string) bool {
	p := n.places[name]
	return p != nil && p.Tokens > 0
}

// AddTransition adds a transition with a compiled guard.
func (n *Net) AddTransition(name, guardSrc string, g guard.Expr) (*Transition, error) {
	if _, ok := n.transIndex[name]; ok {
		return nil, fmt.Errorf("duplicate transition %q", name)
	}
	t := &Transition{Name: name, Guard: g, GuardSrc: guardSrc}
	n.transitions = append(n.transitions, t)
	n.transIndex[name] = t
	return t, nil
}

// Transition returns a transition by name, or nil.
func (n *Net) Transition(name string) *Transition { return n.transIndex[name] }

// Transitions returns all transitions in declaration order.
func (n *Net) Transitions() []*Transition { return n.transitions }

// AddArc connects a place and a transition. Weights below one default to one.
func (n *Net) AddArc(place, transition string, kind ArcKind, weight int) error {
	p := n.places[place]
	if p == nil {
		return fmt.Errorf("arc references unknown place %q", place)
	}
	t := n.transIndex[transition]
	if t == nil {
		return fmt.Errorf("arc references unknown transition %q", transition)
	}
	if weight < 1 {
		weight = 1
	}
	arc := Arc{Place: p, Kind: kind, Weight: weight}
	switch kind {
	case Input:
		t.inputs = append(t.inputs, arc)
	case Output:
		t.outputs = append(t.outputs, arc)
	case Inhibitor:
		t.inhibitors = append(t.inhibitors, arc)
	default:
		return fmt.Errorf("unknown arc kind %d", kind)
	}
	return nil
}

// Enabled reports whether a transition may fire: all input places hold at
// least the arc weight, all inhibitor places hold less than the arc weight,
// and the guard evaluates true in env.
func (n *Net) Enabled(t *Transition, env guard.Env) (bool, error) {
	for _, arc := range t.inputs {
		if arc.Place.Tokens < arc.Weight {
			return false, nil
		}
	}
	for _, arc := range t.inhibitors {
		if arc.Place.Tokens >= arc.Weight {
			return false, nil
		}
	}
	if t.Guard == nil {
		return true, nil
	}
	return guard.Eval(t.Guard, env)
}

// Fire atomically subtracts input weights and adds output weights. The
// caller must have established enabledness.
func (n *Net) Fire(t *Transition) {
	for _, arc := range t.inputs {
		arc.Place.Tokens -= arc.Weight
	}
	for _, arc := range t.outputs {
		arc.Place.Tokens += arc.Weight
	}
}

// FireToQuiescence fires enabled transitions in declaration order until none
// is enabled or MaxFiringsPerQuiescence firings happened. It returns the
// number of firings and whether the cap was reached; the cap is a warning
// condition, not an error.
func (n *Net) FireToQuiescence(env guard.Env) (fired int, capped bool, err error) {
	for fired < MaxFiringsPerQuiescence {
		var next *Transition
		for _, t := range n.transitions {
			ok, err := n.Enabled(t, env)
			if err != nil {
				return fired, false, err
			}
			if ok {
				next = t
				break
			}
		}
		if next == nil {
			return fired, false, nil
		}
		n.Fire(next)
		fired++
	}
	return fired, true, nil
}

// Marking returns the current token count of every place.
func (n *Net) Marking() map[string]int {
	m := make(map[string]int, len(n.placeOrder))
	for _, p := range n.placeOrder {
		m[p.Name] = p.Tokens
	}
	return m
}

// MarkingString renders the marked places sorted by name, for logs and the
// console.
func (n *Net) MarkingString() string {
	var marked []string
	for _, p := range n.placeOrder {
		if p.Tokens > 0 {
			marked = append(marked, fmt.Sprintf("%s:%d", p.Name, p.Tokens))
		}
	}
	sort.Strings(marked)
	return strings.Join(marked, " ")
}

// CheckInvariants verifies pair conservation, exclusion, and requirement
// invariants over the current marking. Violations are fatal and never
// retried.
func (n *Net) CheckInvariants() error {
	for _, pair := range n.pairs {
		if pair[0].Tokens+pair[1].Tokens != 1 {
			return errors.NewWithData(errors.INV002, "net",
				map[string]any{"context": pair[0].Name},
				"pair conservation broken: %s=%d %s=%d",
				pair[0].Name, pair[0].Tokens, pair[1].Name, pair[1].Tokens)
		}
	}
	for _, group := range n.exclusions {
		active := 0
		names := make([]string, 0, len(group))
		for _, p := range group {
			if p.Tokens > 0 {
				active++
				names = append(names, p.Name)
			}
		}
		if active > 1 {
			return errors.NewWithData(errors.INV003, "net",
				map[string]any{"active": names},
				"exclusion group violated: %s active together", strings.Join(names, ", "))
		}
	}
	for _, req := range n.requirements {
		if req[0].Tokens > 0 && req[1].Tokens == 0 {
			return errors.NewWithData(errors.INV004, "net",
				map[string]any{"dependent": req[0].Name, "required": req[1].Name},
				"%s is active without required %s", req[0].Name, req[1].Name)
		}
	}
	return nil
}
