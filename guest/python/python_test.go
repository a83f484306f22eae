package python

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/pybox/sandbox"
)

var _ sandbox.Guest = (*Python)(nil)

func TestShimEmbedded(t *testing.T) {
	if len(shim) == 0 {
		t.Fatal("shim not embedded")
	}
	checks := []string{
		"\\x00PYBOX:",
		"def _exec",
		"def _eval",
		"sys.argv",
	}
	for _, check := range checks {
		if !strings.Contains(shim, check) {
			t.Errorf("shim missing %q", check)
		}
	}
}

func TestArgs(t *testing.T) {
	code := "x = 1\nx + 1"
	args := New().Args(sandbox.Exec, code)

	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	if args[0] != "python" || args[1] != "-c" {
		t.Errorf("unexpected interpreter args %q", args[:2])
	}
	if args[3] != "exec" {
		t.Errorf("expected capability 'exec', got %q", args[3])
	}
	if args[4] != code {
		t.Errorf("code should be passed verbatim, got %q", args[4])
	}
	if strings.Contains(args[2], code) {
		t.Error("code must not be spliced into the shim")
	}
}

func TestName(t *testing.T) {
	if New().Name() != "python" {
		t.Errorf("unexpected name %q", New().Name())
	}
}

// The shim's own unit tests run under a native python3 when one is present.

func nativePython(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	return path
}

func TestShimUnitTests(t *testing.T) {
	cmd := exec.Command(nativePython(t), "-B", "shim_test.py")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("shim_test.py failed: %v\n%s", err, out)
	}
}

func TestShimReportsFrameNatively(t *testing.T) {
	tests := []struct {
		capability sandbox.Capability
		code       string
		want       string
	}{
		{sandbox.Exec, "x = 5\nx + 1", `{"ok": true, "value": "6"}`},
		{sandbox.Exec, "x = 5", `{"ok": true, "value": "null"}`},
		{sandbox.Eval, "1 / 0", `{"ok": false, "error": "ZeroDivisionError: division by zero"}`},
	}

	python := nativePython(t)
	for _, tt := range tests {
		t.Run(string(tt.capability)+" "+tt.code, func(t *testing.T) {
			args := New().Args(tt.capability, tt.code)
			var stderr bytes.Buffer
			cmd := exec.Command(python, args[1:]...)
			cmd.Stderr = &stderr
			if err := cmd.Run(); err != nil {
				t.Fatalf("run: %v", err)
			}
			if want := "\x00PYBOX:" + tt.want + "\x00"; stderr.String() != want {
				t.Errorf("stderr = %q, want %q", stderr.String(), want)
			}
		})
	}
}

// Integration tests below need the interpreter artifact. Point PYBOX_ARTIFACT
// at it or place sandbox.wasm in the repository root.

func artifactPath(t *testing.T) string {
	t.Helper()
	candidates := []string{os.Getenv("PYBOX_ARTIFACT"), filepath.Join("..", "..", sandbox.DefaultArtifact)}
	for _, p := range candidates {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	t.Skip("sandbox.wasm not found; skipping interpreter tests")
	return ""
}

func newHost(t *testing.T, opts ...sandbox.Option) *sandbox.Host {
	t.Helper()
	opts = append([]sandbox.Option{sandbox.WithArtifact(artifactPath(t))}, opts...)
	h, err := sandbox.New(New(), opts...)
	if err != nil {
		t.Fatalf("failed to create host: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func TestPythonEvaluate(t *testing.T) {
	h := newHost(t)

	tests := []struct {
		code string
		want string
	}{
		{"1 + 1", "2"},
		{"'hello'", "\"hello\""},
		{"[1, 2, 3]", "[1, 2, 3]"},
		{"{'a': 1}", "{\"a\": 1}"},
		{"None", "null"},
		{"sum(x**2 for x in range(10))", "285"},
	}
	for _, tt := range tests {
		got, err := h.Evaluate(context.Background(), tt.code)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.code, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.code, tt.want, got)
		}
	}
}

const fibonacci = `def fib(n):
    seq = [0, 1]
    while len(seq) < n:
        seq.append(seq[-1] + seq[-2])
    return seq[:n]

fib(10)`

func TestPythonExecute(t *testing.T) {
	h := newHost(t)

	tests := []struct {
		code string
		want string
	}{
		{"1 + 1", "2"},
		{"(1+2)*(3+4)", "21"},
		{"  5   +   10  ", "15"},
		{"x = 5\nx * 2", "10"},
		{"x = 1", "null"},
		{"", "null"},
		{"def f(n):\n    return n + 1\n\nf(41)", "42"},
		{"total = 0\nfor i in range(4):\n    total += i\ntotal", "6"},
		{fibonacci, "[0, 1, 1, 2, 3, 5, 8, 13, 21, 34]"},
	}
	for _, tt := range tests {
		got, err := h.Execute(context.Background(), tt.code)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.code, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%q: expected %q, got %q", tt.code, tt.want, got)
		}
	}
}

func TestPythonGuestErrors(t *testing.T) {
	h := newHost(t)

	tests := []struct {
		code   string
		prefix string
	}{
		{"1/0", "ZeroDivisionError: division by zero"},
		{"undefined_name", "NameError"},
		{"1 +", "SyntaxError"},
	}
	for _, tt := range tests {
		_, err := h.Execute(context.Background(), tt.code)
		if !errors.Is(err, sandbox.ErrGuest) {
			t.Errorf("%q: expected guest error, got %v", tt.code, err)
			continue
		}
		if !strings.HasPrefix(err.Error(), tt.prefix) {
			t.Errorf("%q: expected %q, got %q", tt.code, tt.prefix, err.Error())
		}
	}
}

func TestPythonTimeout(t *testing.T) {
	h := newHost(t, sandbox.WithTimeout(2*time.Second))

	_, err := h.Execute(context.Background(), "while True:\n    pass")
	if !errors.Is(err, sandbox.ErrInterrupted) {
		t.Fatalf("expected timeout, got %v", err)
	}

	got, err := h.Evaluate(context.Background(), "1 + 1")
	if err != nil {
		t.Fatalf("host unusable after timeout: %v", err)
	}
	if got != "2" {
		t.Errorf("expected '2', got %q", got)
	}
}

func TestPythonNoStateBetweenCalls(t *testing.T) {
	h := newHost(t)

	if _, err := h.Execute(context.Background(), "leaked = 1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := h.Evaluate(context.Background(), "leaked")
	if !errors.Is(err, sandbox.ErrGuest) || !strings.HasPrefix(err.Error(), "NameError") {
		t.Errorf("expected NameError, got %v", err)
	}
}

func TestPythonMemoryCap(t *testing.T) {
	h := newHost(t)

	_, err := h.Execute(context.Background(), "x = bytearray(64 * 1024 * 1024)")
	if !errors.Is(err, sandbox.ErrGuest) && !errors.Is(err, sandbox.ErrHostTrap) {
		t.Fatalf("expected allocation to fail, got %v", err)
	}
}
