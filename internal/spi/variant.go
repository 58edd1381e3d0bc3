package spi

// Instr is a set of optional instructions a chip variant understands.
type Instr uint16

const (
	InstrBitModify Instr = 1 << iota
	InstrRTS
	InstrReadStatus
	InstrRxStatus
	InstrBufferIO
	InstrCRC
	InstrWriteSafe
)

// Variant describes the wire protocol of one chip family.
type Variant struct {
	Name string
	// FD selects the 12-bit address encoding (4-bit instruction nibble +
	// address) and 32-bit registers. Otherwise addresses are one byte and
	// registers 8 bit.
	FD    bool
	Instr Instr
}

// Has reports whether the variant supports every instruction in i.
func (v Variant) Has(i Instr) bool { return v.Instr&i == i }

// RegWidth is the register size in bytes.
func (v Variant) RegWidth() int {
	if v.FD {
		return 4
	}
	return 1
}

func (v Variant) maxAddr() uint16 {
	if v.FD {
		return 0xFFF
	}
	return 0xFF
}

var (
	MCP251XFD = Variant{Name: "mcp251xfd", FD: true, Instr: InstrCRC | InstrWriteSafe}
	MCP2515   = Variant{Name: "mcp2515", Instr: InstrBitModify | InstrRTS | InstrReadStatus | InstrRxStatus | InstrBufferIO}
	MCP25625  = Variant{Name: "mcp25625", Instr: InstrBitModify | InstrRTS | InstrReadStatus | InstrRxStatus | InstrBufferIO}
	// MCP2510 has no RX STATUS and no buffer load/read shortcuts.
	MCP2510 = Variant{Name: "mcp2510", Instr: InstrBitModify | InstrRTS | InstrReadStatus}
)

// VariantByName looks up a predefined variant.
func VariantByName(name string) (Variant, bool) {
	for _, v := range []Variant{MCP251XFD, MCP2515, MCP25625, MCP2510} {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}
