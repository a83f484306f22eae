// Package python provides the Python guest adapter for the sandbox.
//
// The artifact is a WASI build of a Python interpreter that accepts
// "-c <program> [args...]". Every call runs a small embedded shim that
// performs the requested capability and reports the outcome as a result
// frame on stderr.
package python

import (
	_ "embed"

	"github.com/caffeineduck/pybox/sandbox"
)

//go:embed shim.py
var shim string

// Python implements sandbox.Guest for a Python interpreter artifact.
type Python struct{}

// New returns a Python guest adapter.
func New() *Python {
	return &Python{}
}

// Name returns "python".
func (p *Python) Name() string {
	return "python"
}

// Args returns the interpreter argv for one call. The code is passed as a
// separate argument, never spliced into the shim source.
func (p *Python) Args(c sandbox.Capability, code string) []string {
	return []string{"python", "-c", shim, string(c), code}
}
