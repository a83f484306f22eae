package sandbox

import (
	"io"

	"github.com/tetratelabs/wazero"
)

// CapabilityContext is the set of host resources granted to one guest
// instance: its three standard streams and its argv. Nothing else is granted:
// no filesystem, no environment, no real clocks.
type CapabilityContext struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Args   []string
}

// moduleConfig builds the wazero config for one instantiation. Start
// functions are disabled so instantiation and invocation are separate steps.
func (c CapabilityContext) moduleConfig() wazero.ModuleConfig {
	cfg := wazero.NewModuleConfig().
		WithArgs(c.Args...).
		WithStartFunctions().
		WithName("")

	if c.Stdin != nil {
		cfg = cfg.WithStdin(c.Stdin)
	}
	if c.Stdout != nil {
		cfg = cfg.WithStdout(c.Stdout)
	}
	if c.Stderr != nil {
		cfg = cfg.WithStderr(c.Stderr)
	}
	return cfg
}
