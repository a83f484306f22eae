// Package wasmbin inspects the declared memory and table limits of a core
// WebAssembly module and tightens table maximums before the module is
// compiled.
package wasmbin

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tetratelabs/wabin/binary"
	"github.com/tetratelabs/wabin/leb128"
	"github.com/tetratelabs/wabin/wasm"
)

// PageSize is the size of a WebAssembly memory page in bytes.
const PageSize uint64 = 65536

// headerLen is the length of the magic number plus the version.
const headerLen = 8

var ErrTableTooLarge = errors.New("table minimum exceeds maximum")

// Limit is a declared minimum and optional maximum. Memories are counted in
// pages, tables in entries.
type Limit struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Limits lists every memory and table of a module, imported ones first.
type Limits struct {
	Memories []Limit
	Tables   []Limit
}

// Module is a decoded module together with the bytes it was decoded from.
type Module struct {
	bin []byte
	mod *wasm.Module
}

// Decode parses a core module. Component binaries and text are rejected.
func Decode(bin []byte) (*Module, error) {
	mod, err := binary.DecodeModule(bin, wasm.CoreFeaturesV2)
	if err != nil {
		return nil, fmt.Errorf("decode module: %w", err)
	}
	return &Module{bin: bin, mod: mod}, nil
}

// Bytes returns the module in binary form.
func (m *Module) Bytes() []byte {
	return m.bin
}

// Limits reports the declared limits of every memory and table.
func (m *Module) Limits() Limits {
	var out Limits
	for _, im := range m.mod.ImportSection {
		switch im.Type {
		case wasm.ExternTypeMemory:
			out.Memories = append(out.Memories, memoryLimit(im.DescMem))
		case wasm.ExternTypeTable:
			out.Tables = append(out.Tables, tableLimit(im.DescTable))
		}
	}
	if m.mod.MemorySection != nil {
		out.Memories = append(out.Memories, memoryLimit(m.mod.MemorySection))
	}
	for _, t := range m.mod.TableSection {
		out.Tables = append(out.Tables, tableLimit(t))
	}
	return out
}

// CapTables sets the maximum of every table that declares none, or one above
// limit, to limit. The engine then refuses table.grow past it. Only the import
// and table sections are re-encoded; every other section is kept byte for
// byte.
func (m *Module) CapTables(limit uint32) error {
	var importsChanged, tablesChanged bool
	for _, im := range m.mod.ImportSection {
		if im.Type != wasm.ExternTypeTable {
			continue
		}
		changed, err := capTable(im.DescTable, limit)
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", im.Module, im.Name, err)
		}
		importsChanged = importsChanged || changed
	}
	for i, t := range m.mod.TableSection {
		changed, err := capTable(t, limit)
		if err != nil {
			return fmt.Errorf("table %d: %w", i, err)
		}
		tablesChanged = tablesChanged || changed
	}

	replace := map[wasm.SectionID][]byte{}
	if importsChanged {
		replace[wasm.SectionIDImport] = encodeSection(&wasm.Module{ImportSection: m.mod.ImportSection})
	}
	if tablesChanged {
		replace[wasm.SectionIDTable] = encodeSection(&wasm.Module{TableSection: m.mod.TableSection})
	}
	if len(replace) == 0 {
		return nil
	}

	bin, err := splice(m.bin, replace)
	if err != nil {
		return err
	}
	m.bin = bin
	return nil
}

func capTable(t *wasm.Table, limit uint32) (bool, error) {
	if t.Min > limit {
		return false, fmt.Errorf("%w: %d > %d", ErrTableTooLarge, t.Min, limit)
	}
	if t.Max != nil && *t.Max <= limit {
		return false, nil
	}
	capped := limit
	t.Max = &capped
	return true, nil
}

// encodeSection encodes the single section present in part.
func encodeSection(part *wasm.Module) []byte {
	return binary.EncodeModule(part)[headerLen:]
}

// splice copies bin, substituting whole sections by id.
func splice(bin []byte, replace map[wasm.SectionID][]byte) ([]byte, error) {
	out := make([]byte, 0, len(bin))
	out = append(out, bin[:headerLen]...)

	r := bytes.NewReader(bin[headerLen:])
	for r.Len() > 0 {
		start := len(bin) - r.Len()
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("section %s: %w", wasm.SectionIDName(id), err)
		}
		if int64(size) > int64(r.Len()) {
			return nil, fmt.Errorf("section %s: truncated", wasm.SectionIDName(id))
		}
		end := len(bin) - r.Len() + int(size)
		r.Reset(bin[end:])

		if s, ok := replace[id]; ok && id != wasm.SectionIDCustom {
			out = append(out, s...)
			continue
		}
		out = append(out, bin[start:end]...)
	}
	return out, nil
}

func memoryLimit(m *wasm.Memory) Limit {
	return Limit{Min: m.Min, Max: m.Max, HasMax: m.IsMaxEncoded}
}

func tableLimit(t *wasm.Table) Limit {
	l := Limit{Min: t.Min}
	if t.Max != nil {
		l.Max, l.HasMax = *t.Max, true
	}
	return l
}
