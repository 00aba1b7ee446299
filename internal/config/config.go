// Package config declares the YAML configuration document: contexts and
// their guards and relations, the simulation setup with its modes, and the
// plot schema. Where declaration order is semantic (guards drive transition
// firing priority, schedule cases resolve first-match) the decoder preserves
// document order instead of using Go maps.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sunholo/vssim/internal/errors"
	"github.com/sunholo/vssim/internal/fmi"
)

// Config is the root configuration document.
type Config struct {
	Contexts   ContextConfig `yaml:"contexts"`
	Simulation SimConfig     `yaml:"simulation"`
	Plot       PlotConfig    `yaml:"plot"`
}

// ContextConfig declares the Context Petri Net.
type ContextConfig struct {
	Places    PlaceList `yaml:"places"`
	Globals   []string  `yaml:"globals"`
	Guards    GuardList `yaml:"guards"`
	Relations Relations `yaml:"relations"`
}

// PlaceDecl declares one context place and its initial marking.
type PlaceDecl struct {
	Name    string
	Initial int
}

// PlaceList preserves the document order of the places mapping.
type PlaceList []PlaceDecl

// UnmarshalYAML decodes `name: {initial: 0|1}` entries in document order.
func (l *PlaceList) UnmarshalYAML(node *yaml.Node) error {
	return eachMappingEntry(node, "places", func(key string, value *yaml.Node) error {
		var body struct {
			Initial int `yaml:"initial"`
		}
		if err := value.Decode(&body); err != nil {
			return fmt.Errorf("place %q: %w", key, err)
		}
		*l = append(*l, PlaceDecl{Name: key, Initial: body.Initial})
		return nil
	})
}

// Get returns the declaration of a named place.
func (l PlaceList) Get(name string) (PlaceDecl, bool) {
	for _, p := range l {
		if p.Name == name {
			return p, true
		}
	}
	return PlaceDecl{}, false
}

// GuardDecl pairs a transition name with its guard expression source.
type GuardDecl struct {
	Name string
	Expr string
}

// GuardList preserves the document order of the guards mapping; transition
// declaration order, and therefore firing priority, follows it.
type GuardList []GuardDecl

// UnmarshalYAML decodes `transition: expression` entries in document order.
func (l *GuardList) UnmarshalYAML(node *yaml.Node) error {
	return eachMappingEntry(node, "guards", func(key string, value *yaml.Node) error {
		var expr string
		if err := value.Decode(&expr); err != nil {
			return fmt.Errorf("guard %q: %w", key, err)
		}
		*l = append(*l, GuardDecl{Name: key, Expr: expr})
		return nil
	})
}

// Get returns the guard expression declared for a transition name.
func (l GuardList) Get(name string) (string, bool) {
	for _, g := range l {
		if g.Name == name {
			return g.Expr, true
		}
	}
	return "", false
}

// Relations holds the four inter-context relation lists.
type Relations struct {
	Exclusions       [][]string    `yaml:"exclusions"`
	WeakInclusions   []Inclusion   `yaml:"weak_inclusions"`
	StrongInclusions []Inclusion   `yaml:"strong_inclusions"`
	Requirements     []Requirement `yaml:"requirements"`
}

// Inclusion declares a weak or strong inclusion edge.
type Inclusion struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// Requirement declares that activating Dependent requires Required active.
type Requirement struct {
	Dependent string `yaml:"dependent"`
	Required  string `yaml:"required"`
}

// SimConfig declares the co-simulation run.
type SimConfig struct {
	InitialTime float64  `yaml:"initial_time"`
	StopTime    float64  `yaml:"stop_time"`
	StepSize    float64  `yaml:"step_size"`
	Modes       ModeList `yaml:"modes"`

	// VariableMapping translates a mode's local variable names to the
	// canonical names used for the handover snapshot: mode -> local -> canonical.
	VariableMapping map[string]map[string]string `yaml:"variable_mapping"`
}

// ModeDecl binds a mode place to an FMU and its I/O declaration.
type ModeDecl struct {
	Name          string
	FMU           string
	Outputs       []string
	Parameters    []fmi.ScheduledParam
	StopCondition string
}

// ModeList preserves the document order of the modes mapping.
type ModeList []ModeDecl

// UnmarshalYAML decodes mode entries in document order, including ordered
// parameter schedules.
func (l *ModeList) UnmarshalYAML(node *yaml.Node) error {
	return eachMappingEntry(node, "modes", func(key string, value *yaml.Node) error {
		var body struct {
			FMU           string    `yaml:"fmu"`
			Outputs       []string  `yaml:"outputs"`
			Parameters    yaml.Node `yaml:"parameters"`
			StopCondition string    `yaml:"stop_condition"`
		}
		if err := value.Decode(&body); err != nil {
			return fmt.Errorf("mode %q: %w", key, err)
		}
		mode := ModeDecl{
			Name:          key,
			FMU:           body.FMU,
			Outputs:       body.Outputs,
			StopCondition: body.StopCondition,
		}
		if body.Parameters.Kind != 0 {
			params, err := decodeSchedule(&body.Parameters)
			if err != nil {
				return fmt.Errorf("mode %q: %w", key, err)
			}
			mode.Parameters = params
		}
		*l = append(*l, mode)
		return nil
	})
}

// Get returns the declaration of a named mode.
func (l ModeList) Get(name string) (ModeDecl, bool) {
	for _, m := range l {
		if m.Name == name {
			return m, true
		}
	}
	return ModeDecl{}, false
}

// decodeSchedule reads `param: {context: value, ..., default: value}` with
// the context cases kept in document order; the first marked context wins.
func decodeSchedule(node *yaml.Node) ([]fmi.ScheduledParam, error) {
	var params []fmi.ScheduledParam
	err := eachMappingEntry(node, "parameters", func(name string, value *yaml.Node) error {
		p := fmi.ScheduledParam{Name: name}
		err := eachMappingEntry(value, "parameter "+name, func(ctx string, v *yaml.Node) error {
			var f float64
			if err := v.Decode(&f); err != nil {
				return fmt.Errorf("parameter %q, case %q: %w", name, ctx, err)
			}
			if ctx == "default" {
				p.Default = f
				p.HasDefault = true
				return nil
			}
			p.Cases = append(p.Cases, fmi.ScheduleCase{Context: ctx, Value: f})
			return nil
		})
		if err != nil {
			return err
		}
		params = append(params, p)
		return nil
	})
	return params, err
}

// PlotConfig is the chart schema handed to the external plotting
// collaborator. The engine itself reads only the context names: every name
// under contexts, every group parent, and every group child gets a 0/1 token
// series in the trace.
type PlotConfig struct {
	Title         string        `yaml:"title"`
	Contexts      []string      `yaml:"contexts"`
	ContextGroups ContextGroups `yaml:"context_groups"`
}

// ContextGroup aggregates child contexts under a parent series name.
type ContextGroup struct {
	Parent   string
	Children []string
}

// ContextGroups preserves the document order of the context_groups mapping.
type ContextGroups []ContextGroup

// UnmarshalYAML decodes `parent: [child, ...]` entries in document order.
func (g *ContextGroups) UnmarshalYAML(node *yaml.Node) error {
	return eachMappingEntry(node, "context_groups", func(key string, value *yaml.Node) error {
		var children []string
		if err := value.Decode(&children); err != nil {
			return fmt.Errorf("context group %q: %w", key, err)
		}
		*g = append(*g, ContextGroup{Parent: key, Children: children})
		return nil
	})
}

// eachMappingEntry walks a YAML mapping node in document order.
func eachMappingEntry(node *yaml.Node, what string, fn func(key string, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%s: expected a mapping, got %s", what, nodeKind(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var key string
		if err := node.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("%s: bad key: %w", what, err)
		}
		if err := fn(key, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.SequenceNode:
		return "a sequence"
	case yaml.ScalarNode:
		return "a scalar"
	case yaml.MappingNode:
		return "a mapping"
	default:
		return "an unsupported node"
	}
}

// Parse decodes a configuration document without validating it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.New(errors.CFG007, "config", "parse configuration: %v", err)
	}
	return &cfg, nil
}

// Load reads, decodes, and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CFG007, "config", "read configuration: %v", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Canonical translates a mode-local variable name to its canonical handover
// name. Unmapped variables keep their own name.
func (c *Config) Canonical(mode, local string) string {
	if m, ok := c.Simulation.VariableMapping[mode]; ok {
		if canonical, ok := m[local]; ok {
			return canonical
		}
	}
	return local
}
