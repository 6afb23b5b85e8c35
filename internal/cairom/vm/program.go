package vm

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
)

// programJSON mirrors the compiled-program artefact described in spec §6:
// data is a list of [hex_opcode, dec_off0, dec_off1, dec_off2] rows,
// function_addresses maps entry-point names to instruction addresses.
type programJSON struct {
	Data              [][4]string       `json:"data"`
	FunctionAddresses map[string]uint32 `json:"function_addresses"`
	CompilerVersion   string            `json:"compiler_version"`
}

// ParseProgram decodes a compiled-program JSON document. Decoding is
// bit-exact: each hex string is parsed base-16 into an unsigned 32-bit
// opcode id, each offset is parsed as signed decimal and reduced mod p.
func ParseProgram(data []byte) (*Program, error) {
	var doc programJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cairom: decoding program JSON: %w", err)
	}

	p := NewProgram()
	p.CompilerVersion = doc.CompilerVersion
	for name, addr := range doc.FunctionAddresses {
		p.FunctionAddresses[name] = addr
	}

	for rowIdx, row := range doc.Data {
		opID, err := strconv.ParseUint(row[0], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("cairom: row %d: parsing opcode hex %q: %w", rowIdx, row[0], err)
		}
		op := Opcode(opID)
		if _, err := op.Info(); err != nil {
			return nil, fmt.Errorf("cairom: row %d: %w", rowIdx, err)
		}

		var offsets [3]core.M31
		for i := 1; i <= 3; i++ {
			signed, err := strconv.ParseInt(row[i], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cairom: row %d: parsing offset %d %q: %w", rowIdx, i-1, row[i], err)
			}
			offsets[i-1] = signedM31(signed)
		}

		p.Instructions = append(p.Instructions, Instruction{
			Op:   op,
			Off0: offsets[0],
			Off1: offsets[1],
			Off2: offsets[2],
		})
	}

	return p, nil
}

// signedM31 reduces a signed displacement into the field, matching §3's
// "each offset is a signed displacement interpreted modulo p".
func signedM31(v int64) core.M31 {
	if v >= 0 {
		return core.NewM31(uint64(v))
	}
	// -v mod p, computed via the field's own Neg to stay inside canonical form.
	return core.NewM31(uint64(-v)).Neg()
}

// Serialize re-encodes the program back into the artefact's JSON shape,
// the inverse of ParseProgram (used by the round-trip property in §8).
func (p *Program) Serialize() ([]byte, error) {
	doc := programJSON{
		Data:              make([][4]string, 0, len(p.Instructions)),
		FunctionAddresses: p.FunctionAddresses,
		CompilerVersion:   p.CompilerVersion,
	}
	for _, inst := range p.Instructions {
		doc.Data = append(doc.Data, [4]string{
			fmt.Sprintf("%x", uint32(inst.Op)),
			m31ToSignedString(inst.Off0),
			m31ToSignedString(inst.Off1),
			m31ToSignedString(inst.Off2),
		})
	}
	return json.Marshal(doc)
}

// m31ToSignedString renders a field element as its canonical non-negative
// decimal representative. ParseProgram's signedM31 reduces any signed
// decimal (positive or negative) to this same canonical value, so
// Serialize/ParseProgram round-trip exactly even though the field itself has
// no notion of sign.
func m31ToSignedString(v core.M31) string {
	return strconv.FormatUint(uint64(v.Value()), 10)
}
