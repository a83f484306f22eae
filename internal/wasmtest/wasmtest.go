// Package wasmtest assembles tiny WASI command modules for tests, so the
// sandbox can be exercised against a real engine without a guest interpreter.
//
// Every module imports wasi_snapshot_preview1.fd_write and args_sizes_get,
// exports one memory and a _start function whose body is supplied by the test.
package wasmtest

import (
	"encoding/json"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/leb128"
	"github.com/tetratelabs/wabin/wasm"
)

// Table declares a funcref table.
type Table struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Module describes a module to assemble.
type Module struct {
	MemoryPages uint32
	Tables      []Table

	data     []*wasm.DataSegment
	nextData uint32
}

// Scratch addresses used by the helpers. Data segments start above them.
const (
	iovecAddr   = 0
	nwrittenAdr = 8
	argcAddr    = 16
	argvBufAddr = 20
	dataStart   = 256
)

const (
	blockVoid = 0x40

	funcFdWrite      = 0
	funcArgsSizesGet = 1
	funcStart        = 2
)

var i32 = wasm.ValueTypeI32

// New returns a module with one page of memory.
func New() *Module {
	return &Module{MemoryPages: 1, nextData: dataStart}
}

// Data places b in memory and returns its address.
func (m *Module) Data(b []byte) uint32 {
	addr := m.nextData
	m.data = append(m.data, &wasm.DataSegment{
		OffsetExpression: &wasm.ConstantExpression{
			Opcode: wasm.OpcodeI32Const,
			Data:   leb128.EncodeInt32(int32(addr)),
		},
		Init: b,
	})
	m.nextData += uint32(len(b)) + 8
	return addr
}

// WriteStderr returns instructions that write s to fd 2.
func (m *Module) WriteStderr(s string) []byte {
	addr := m.Data([]byte(s))
	return concat(
		I32Store(iovecAddr, I32Const(int32(addr))),
		I32Store(iovecAddr+4, I32Const(int32(len(s)))),
		I32Const(2),
		I32Const(iovecAddr),
		I32Const(1),
		I32Const(nwrittenAdr),
		[]byte{wasm.OpcodeCall, funcFdWrite, wasm.OpcodeDrop},
	)
}

// ReportOK returns instructions that report a successful result frame.
func (m *Module) ReportOK(value string) []byte {
	return m.WriteStderr(OKFrame(value))
}

// ReportError returns instructions that report a guest error frame.
func (m *Module) ReportError(msg string) []byte {
	return m.WriteStderr(ErrorFrame(msg))
}

// Argc returns instructions that push the guest's argument count.
func Argc() []byte {
	return concat(
		I32Const(argcAddr),
		I32Const(argvBufAddr),
		[]byte{wasm.OpcodeCall, funcArgsSizesGet, wasm.OpcodeDrop},
		I32Load(argcAddr),
	)
}

// Spin returns an infinite loop.
func Spin() []byte {
	return []byte{wasm.OpcodeLoop, blockVoid, wasm.OpcodeBr, 0x00, wasm.OpcodeEnd}
}

// Unreachable traps.
func Unreachable() []byte {
	return []byte{wasm.OpcodeUnreachable}
}

// If returns cond; if then else els end.
func If(cond, then, els []byte) []byte {
	out := concat(cond, []byte{wasm.OpcodeIf, blockVoid}, then)
	if len(els) > 0 {
		out = concat(out, []byte{wasm.OpcodeElse}, els)
	}
	return append(out, wasm.OpcodeEnd)
}

// Eq returns a == b.
func Eq(a, b []byte) []byte {
	return concat(a, b, []byte{wasm.OpcodeI32Eq})
}

// MemoryGrow returns instructions that push memory.grow(pages).
func MemoryGrow(pages int32) []byte {
	return concat(I32Const(pages), []byte{wasm.OpcodeMemoryGrow, 0x00})
}

// TableGrow returns instructions that push table.grow(ref.null, n) on table 0.
func TableGrow(n int32) []byte {
	return concat(
		[]byte{wasm.OpcodeRefNull, wasm.RefTypeFuncref},
		I32Const(n),
		[]byte{wasm.OpcodeMiscPrefix, wasm.OpcodeMiscTableGrow, 0x00},
	)
}

func I32Const(v int32) []byte {
	return append([]byte{wasm.OpcodeI32Const}, leb128.EncodeInt32(v)...)
}

// I32Load loads from a constant address.
func I32Load(addr uint32) []byte {
	return concat(I32Const(int32(addr)), []byte{wasm.OpcodeI32Load, 0x02, 0x00})
}

// I32Store stores the value produced by val at a constant address.
func I32Store(addr uint32, val []byte) []byte {
	return concat(I32Const(int32(addr)), val, []byte{wasm.OpcodeI32Store, 0x02, 0x00})
}

// OKFrame is the stderr frame a guest writes on success.
func OKFrame(value string) string {
	return frame(map[string]any{"ok": true, "value": value})
}

// ErrorFrame is the stderr frame a guest writes on failure.
func ErrorFrame(msg string) string {
	return frame(map[string]any{"ok": false, "error": msg})
}

func frame(payload map[string]any) string {
	b, _ := json.Marshal(payload)
	return "\x00PYBOX:" + string(b) + "\x00"
}

// Build assembles the module with body as the code of _start.
func (m *Module) Build(body ...[]byte) []byte {
	mod := &wasm.Module{
		TypeSection: []*wasm.FunctionType{
			{Params: []wasm.ValueType{i32, i32, i32, i32}, Results: []wasm.ValueType{i32}},
			{Params: []wasm.ValueType{i32, i32}, Results: []wasm.ValueType{i32}},
			{},
		},
		ImportSection: []*wasm.Import{
			{Type: wasm.ExternTypeFunc, Module: "wasi_snapshot_preview1", Name: "fd_write", DescFunc: 0},
			{Type: wasm.ExternTypeFunc, Module: "wasi_snapshot_preview1", Name: "args_sizes_get", DescFunc: 1},
		},
		FunctionSection: []wasm.Index{2},
		MemorySection:   &wasm.Memory{Min: m.MemoryPages},
		ExportSection: []*wasm.Export{
			{Type: wasm.ExternTypeFunc, Name: "_start", Index: funcStart},
			{Type: wasm.ExternTypeMemory, Name: "memory", Index: 0},
		},
		CodeSection: []*wasm.Code{{Body: append(concat(body...), wasm.OpcodeEnd)}},
		DataSection: m.data,
	}
	for _, t := range m.Tables {
		table := &wasm.Table{Min: t.Min, Type: wasm.RefTypeFuncref}
		if t.HasMax {
			tmax := t.Max
			table.Max = &tmax
		}
		mod.TableSection = append(mod.TableSection, table)
	}
	return binary.EncodeModule(mod)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
