// Package fmitest provides a scripted in-memory FMI provider for tests.
// Each fake FMU declares its variables and advances a state map through a Go
// closure, standing in for the numerical solver behind a real slave.
package fmitest

import (
	"fmt"

	"github.com/sunholo/vssim/internal/fmi"
)

// Definition scripts one fake FMU.
type Definition struct {
	Identifier string
	GUID       string
	Variables  []string           // value reference = index in this slice
	Initial    map[string]float64 // state at instantiation
	Step       func(t, h float64, state map[string]float64)
	StepErr    func(t float64) error // optional injected doStep failure
}

// Provider serves Definitions by path and records lifecycle traffic so tests
// can assert that every instance is released.
type Provider struct {
	defs    map[string]*Definition
	openErr map[string]error

	Models []*Model
	Slaves []*Slave
}

// NewProvider creates an empty fake provider.
func NewProvider() *Provider {
	return &Provider{
		defs:    make(map[string]*Definition),
		openErr: make(map[string]error),
	}
}

// Define registers a fake FMU under an archive path.
func (p *Provider) Define(path string, def *Definition) {
	p.defs[path] = def
}

// FailOpen makes Open return err for the given path.
func (p *Provider) FailOpen(path string, err error) {
	p.openErr[path] = err
}

// Open implements fmi.Provider.
func (p *Provider) Open(path string) (fmi.Model, error) {
	if err := p.openErr[path]; err != nil {
		return nil, err
	}
	def, ok := p.defs[path]
	if !ok {
		return nil, fmt.Errorf("no such archive %q", path)
	}
	m := &Model{provider: p, def: def, Path: path}
	p.Models = append(p.Models, m)
	return m, nil
}

// OpenCount returns how many times path was opened.
func (p *Provider) OpenCount(path string) int {
	n := 0
	for _, m := range p.Models {
		if m.Path == path {
			n++
		}
	}
	return n
}

// Leaked returns the names of slaves never freed and paths of models never
// discarded.
func (p *Provider) Leaked() []string {
	var leaks []string
	for _, s := range p.Slaves {
		if !s.Freed {
			leaks = append(leaks, "slave "+s.Name)
		}
	}
	for _, m := range p.Models {
		if !m.Discarded {
			leaks = append(leaks, "model "+m.Path)
		}
	}
	return leaks
}

// Model is a fake opened archive.
type Model struct {
	provider  *Provider
	def       *Definition
	Path      string
	Discarded bool
}

func (m *Model) ModelIdentifier() string { return m.def.Identifier }
func (m *Model) GUID() string            { return m.def.GUID }

func (m *Model) ValueReferences() map[string]uint32 {
	refs := make(map[string]uint32, len(m.def.Variables))
	for i, name := range m.def.Variables {
		refs[name] = uint32(i)
	}
	return refs
}

func (m *Model) Instantiate(name string) (fmi.Slave, error) {
	state := make(map[string]float64, len(m.def.Initial))
	for k, v := range m.def.Initial {
		state[k] = v
	}
	s := &Slave{def: m.def, Name: name, state: state}
	m.provider.Slaves = append(m.provider.Slaves, s)
	return s, nil
}

func (m *Model) Discard() error {
	m.Discarded = true
	return nil
}

// Write records one SetReal call by variable name.
type Write struct {
	Name    string
	Value   float64
	PreInit bool
}

// Slave is a fake co-simulation instance.
type Slave struct {
	def   *Definition
	Name  string
	state map[string]float64

	Writes      []Write
	Initialized bool
	Terminated  bool
	Freed       bool
	Steps       int
}

func (s *Slave) EnterInitialization(start, stop float64) error {
	s.Initialized = true
	return nil
}

func (s *Slave) ExitInitialization() error { return nil }

func (s *Slave) DoStep(t, h float64, noRollback bool) error {
	if s.def.StepErr != nil {
		if err := s.def.StepErr(t); err != nil {
			return err
		}
	}
	if s.def.Step != nil {
		s.def.Step(t, h, s.state)
	}
	s.Steps++
	return nil
}

func (s *Slave) GetReal(refs []uint32) ([]float64, error) {
	values := make([]float64, len(refs))
	for i, ref := range refs {
		if int(ref) >= len(s.def.Variables) {
			return nil, fmt.Errorf("bad value reference %d", ref)
		}
		values[i] = s.state[s.def.Variables[ref]]
	}
	return values, nil
}

func (s *Slave) SetReal(refs []uint32, values []float64) error {
	if len(refs) != len(values) {
		return fmt.Errorf("refs/values length mismatch")
	}
	for i, ref := range refs {
		if int(ref) >= len(s.def.Variables) {
			return fmt.Errorf("bad value reference %d", ref)
		}
		name := s.def.Variables[ref]
		s.state[name] = values[i]
		s.Writes = append(s.Writes, Write{Name: name, Value: values[i], PreInit: !s.Initialized})
	}
	return nil
}

// LastWrite returns the most recent write to name.
func (s *Slave) LastWrite(name string) (Write, bool) {
	for i := len(s.Writes) - 1; i >= 0; i-- {
		if s.Writes[i].Name == name {
			return s.Writes[i], true
		}
	}
	return Write{}, false
}

func (s *Slave) Terminate() error {
	s.Terminated = true
	return nil
}

func (s *Slave) Free() error {
	s.Freed = true
	return nil
}
