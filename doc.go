// Package pybox runs untrusted Python inside a WebAssembly sandbox with a
// hard wall-clock timeout, a linear memory cap and a table cap.
//
// # Overview
//
// The interpreter is a WASI build shipped as sandbox.wasm. A [sandbox.Host]
// compiles it once; every call then gets a fresh module instance with
// nothing but the three standard streams, so no state survives between calls.
//
// # Basic Usage
//
//	host, err := sandbox.New(python.New(), sandbox.WithTimeout(5*time.Second))
//	if err != nil {
//	    return err
//	}
//	defer host.Close(ctx)
//
//	value, err := host.Execute(ctx, "x = 6\nx * 7")  // "42"
//	value, err = host.Evaluate(ctx, "[1, 2][0]")    // "1"
//
// # Errors
//
//	switch {
//	case errors.Is(err, sandbox.ErrGuest):        // exception raised by the code
//	case errors.Is(err, sandbox.ErrInterrupted):  // timeout
//	case errors.Is(err, sandbox.ErrHostTrap):     // engine trap
//	case errors.Is(err, sandbox.ErrInit):         // artifact or engine setup
//	}
//
// See the [sandbox] and [guest/python] packages for detailed API
// documentation, and cmd/pybox for the command line and HTTP front ends.
package pybox
