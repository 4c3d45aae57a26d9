package scope

import "shardrun/internal/config"

// Scope is an addressable, independently runnable slice of the test corpus
// for one phase. Scopes are discovered fresh each session and immutable for
// the session's duration.
type Scope struct {
	ID       string       // unique within a phase
	Phase    config.Phase
	Dir      string       // absolute path to the scope's directory
	Files    []string     // phase-specific test files found inside the scope
	SubUnits []SubUnit    // class-level sub-units, when discoverable
}

// SubUnit is a class-level slice of a scope with its own static weight.
type SubUnit struct {
	ID     string
	Weight int
	Tests  []string // individual test method names, when extractable
}
