package main

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/caffeineduck/pybox/guest/python"
	"github.com/caffeineduck/pybox/internal/wasmtest"
	"github.com/caffeineduck/pybox/sandbox"
	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	lines   []string
	errs    []error
	prompts []string
}

func (r *scriptedReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

func (r *scriptedReader) SetPrompt(p string) {
	r.prompts = append(r.prompts, p)
}

func script(lines ...string) *scriptedReader {
	return &scriptedReader{lines: lines, errs: make([]error, len(lines))}
}

func newEchoHost(t *testing.T, value string) *sandbox.Host {
	t.Helper()
	m := wasmtest.New()
	host, err := sandbox.New(python.New(),
		sandbox.WithModule(m.Build(m.ReportOK(value))),
		sandbox.WithStderr(io.Discard),
	)
	require.NoError(t, err)
	t.Cleanup(func() { host.Close(context.Background()) })
	return host
}

func TestReplLoop(t *testing.T) {
	host := newEchoHost(t, "42")
	var stdout, stderr bytes.Buffer

	rl := script("x = 6 * 7", "", "x")
	err := replLoop(context.Background(), rl, host, sandbox.Exec, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "42\n42\n\n", stdout.String())
	assert.Empty(t, stderr.String())
}

func TestReplMultiLine(t *testing.T) {
	host := newEchoHost(t, "null")
	var stdout bytes.Buffer

	rl := script("for i in range(3):\\", "    pass", "exit", "never reached")
	err := replLoop(context.Background(), rl, host, sandbox.Exec, &stdout, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "null\n", stdout.String())
	assert.Equal(t, []string{"... ", ">>> "}, rl.prompts)
}

func TestReplInterruptCancelsMultiLine(t *testing.T) {
	host := newEchoHost(t, "1")
	var stdout bytes.Buffer

	rl := script("if True:\\", "", "quit")
	rl.errs[1] = readline.ErrInterrupt
	err := replLoop(context.Background(), rl, host, sandbox.Exec, &stdout, io.Discard)
	require.NoError(t, err)

	assert.Empty(t, stdout.String())
	assert.Equal(t, []string{"... ", ">>> "}, rl.prompts)
}

func TestReplReportsErrors(t *testing.T) {
	m := wasmtest.New()
	host, err := sandbox.New(python.New(),
		sandbox.WithModule(m.Build(m.ReportError("NameError: name 'y' is not defined"))),
		sandbox.WithStderr(io.Discard),
	)
	require.NoError(t, err)
	defer host.Close(context.Background())

	var stdout, stderr bytes.Buffer
	err = replLoop(context.Background(), script("y"), host, sandbox.Eval, &stdout, &stderr)
	require.NoError(t, err)

	assert.Equal(t, "Error: NameError: name 'y' is not defined\n", stderr.String())
	assert.Equal(t, "\n", stdout.String())
}
