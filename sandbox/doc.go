// Package sandbox is the host side of the WebAssembly sandbox.
//
// A Host holds the wazero runtime and the compiled guest module. Each call
// runs in its own session:
//
//  1. a timeout watcher is armed with the host's budget
//  2. the guest is instantiated fresh, with a memory limiter and a
//     capability context of stdin, stdout and stderr only
//  3. the guest's _start runs the requested capability and reports the
//     outcome as one result frame on stderr
//  4. the outcome is classified as a value or an *Error of KindGuest,
//     KindInterrupted or KindHostTrap
//
// When the watcher fires it sets the session's timed-out flag, then bumps the
// session epoch past its deadline, which cancels the session context. wazero
// checks that context at function entries and loop back-edges and traps the
// guest there. The flag is read only after the call returns, so an
// interruption is never mistaken for any other trap.
//
// Memory growth is refused past the cap through wazero's experimental memory
// allocator: memory.grow returns -1 and the interpreter raises MemoryError.
// Tables are checked when the module is loaded.
package sandbox
