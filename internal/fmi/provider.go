// Package fmi defines the contract the orchestrator consumes from an
// external FMI library and the Instance adapter wrapping one co-simulation
// slave. Archive extraction, model-description parsing, and the numerical
// solver behind DoStep all live on the provider side; FMI 2.0 and 3.0 differ
// only in call signatures, which the provider hides behind these interfaces.
package fmi

// Provider opens FMU archives. Implementations are supplied by the
// embedding application; Register installs the process-wide default used by
// the CLI.
type Provider interface {
	// Open acquires a working directory for the archive and reads its model
	// description.
	Open(path string) (Model, error)
}

// Model is an opened FMU archive.
type Model interface {
	// ModelIdentifier returns the co-simulation model identifier.
	ModelIdentifier() string

	// GUID returns the model's global unique identifier.
	GUID() string

	// ValueReferences returns the variable name to value reference table.
	ValueReferences() map[string]uint32

	// Instantiate creates a co-simulation slave.
	Instantiate(name string) (Slave, error)

	// Discard releases the archive's working directory.
	Discard() error
}

// Slave is one co-simulation instance.
type Slave interface {
	EnterInitialization(start, stop float64) error
	ExitInitialization() error

	// DoStep advances the slave by h seconds from t. noRollback mirrors the
	// FMI noSetFMUStatePriorToCurrentPoint flag.
	DoStep(t, h float64, noRollback bool) error

	GetReal(refs []uint32) ([]float64, error)
	SetReal(refs []uint32, values []float64) error

	Terminate() error
	Free() error
}

var registered Provider

// Register installs the process-wide provider the CLI hands to the engine.
func Register(p Provider) { registered = p }

// Registered returns the installed provider, or nil when the binary was
// built without an FMI backend.
func Registered() Provider { return registered }
