package sandbox

// Capability names an entry point exposed by the guest.
type Capability string

const (
	// Exec runs statements. The value of a trailing expression, if any, is
	// returned; otherwise the result is JSON null.
	Exec Capability = "exec"
	// Eval evaluates a single expression and returns its JSON-encoded value.
	Eval Capability = "eval"
)

// Guest adapts a guest interpreter module to the host.
// Implement this interface to run a different interpreter build.
type Guest interface {
	// Name identifies the guest in logs and metrics.
	Name() string

	// Args returns the argv handed to the guest's _start for one call.
	// The guest reads the capability and the code from it and reports the
	// outcome as a single result frame on stderr.
	Args(c Capability, code string) []string
}
