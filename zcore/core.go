package zcore

import (
	"encoding/binary"
	"fmt"
)

// Core is the byte-addressable story image plus a read-once projection of
// the fixed header fields. Writes are unchecked at this layer; segment
// policy is enforced by the opcode bodies.
type Core struct {
	bytes                 []uint8
	Version               uint8
	FlagByte1             uint8
	StatusBarTimeBased    bool
	ReleaseNumber         uint16
	HighMemoryBase        uint16
	FirstInstruction      uint16
	DictionaryBase        uint16
	ObjectTableBase       uint16
	GlobalVariableBase    uint16
	StaticMemoryBase      uint16
	SerialCode            string
	AbbreviationTableBase uint16
	FileChecksum          uint16
}

func LoadCore(bytes []uint8) Core {
	if len(bytes) < 0x40 {
		panic("Story file too small to hold a header")
	}

	if bytes[0] != 3 {
		panic(fmt.Sprintf("Story file is version %d, only version 3 is supported", bytes[0]))
	}

	bytes[0x1e] = 0x6 // Interpreter number - IBM PC chosen as closest match
	bytes[0x1f] = 0x1 // Interpreter version - nobody cares

	// Teletype interpreter: no status line, no screen splitting
	bytes[1] |= 0b0001_0000
	bytes[1] &= 0b1101_1111

	return Core{
		bytes:                 bytes,
		Version:               bytes[0x00],
		FlagByte1:             bytes[0x01],
		StatusBarTimeBased:    bytes[0x01]&0b0000_0010 == 0b0000_0010,
		ReleaseNumber:         binary.BigEndian.Uint16(bytes[0x02:0x04]),
		HighMemoryBase:        binary.BigEndian.Uint16(bytes[0x04:0x06]),
		FirstInstruction:      binary.BigEndian.Uint16(bytes[0x06:0x08]),
		DictionaryBase:        binary.BigEndian.Uint16(bytes[0x08:0x0a]),
		ObjectTableBase:       binary.BigEndian.Uint16(bytes[0x0a:0x0c]),
		GlobalVariableBase:    binary.BigEndian.Uint16(bytes[0x0c:0x0e]),
		StaticMemoryBase:      binary.BigEndian.Uint16(bytes[0x0e:0x10]),
		SerialCode:            string(bytes[0x12:0x18]),
		AbbreviationTableBase: binary.BigEndian.Uint16(bytes[0x18:0x1a]),
		FileChecksum:          binary.BigEndian.Uint16(bytes[0x1c:0x1e]),
	}
}

// FileLength is the packed header length word times 2 on v3. The byte slice
// length stays authoritative for bounds.
func (core *Core) FileLength() uint32 {
	return uint32(binary.BigEndian.Uint16(core.bytes[0x1a:0x1c])) * 2
}

func (core *Core) MemoryLength() uint32 {
	return uint32(len(core.bytes))
}

// InDynamic reports whether address is writable story memory.
func (core *Core) InDynamic(address uint32) bool {
	return address < uint32(core.StaticMemoryBase)
}

// BelowHigh reports whether address is readable via plain byte addressing.
func (core *Core) BelowHigh(address uint32) bool {
	return address < uint32(core.HighMemoryBase)
}

func (core *Core) InHigh(address uint32) bool {
	return address >= uint32(core.HighMemoryBase) && address < core.MemoryLength()
}

func (core *Core) ReadByte(address uint32) uint8 {
	return core.bytes[address]
}

func (core *Core) ReadHalfWord(address uint32) uint16 {
	return binary.BigEndian.Uint16(core.bytes[address : address+2])
}

func (core *Core) ReadSlice(startAddress uint32, endAddress uint32) []uint8 {
	return core.bytes[startAddress:endAddress]
}

func (core *Core) WriteByte(address uint32, value uint8) {
	core.bytes[address] = value
}

func (core *Core) WriteHalfWord(address uint32, value uint16) {
	binary.BigEndian.PutUint16(core.bytes[address:address+2], value)
}
