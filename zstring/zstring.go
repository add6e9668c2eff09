package zstring

import (
	"strings"

	"github.com/davetcode/ztty/zcore"
)

// Version 3 alphabet tables. Position 0 corresponds to Z-character 6; the
// '*' in A2 is a placeholder for the 10-bit literal escape.
const (
	alphabetA0 = "abcdefghijklmnopqrstuvwxyz"
	alphabetA1 = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	alphabetA2 = "*\n0123456789.,!?_#'\"/\\-:()"
)

type alphabet int

const (
	a0 alphabet = iota
	a1
	a2
)

var alphabetTables = [...]string{alphabetA0, alphabetA1, alphabetA2}

// Decode reads the Z-string at address and returns the expanded text along
// with the number of bytes consumed. Used both for inline print operands
// (the caller advances its PC by bytesRead) and for object names, dictionary
// words and abbreviation entries.
func Decode(core *zcore.Core, address uint32) (string, uint32) {
	return decode(core, address, false)
}

func decode(core *zcore.Core, address uint32, inAbbreviation bool) (string, uint32) {
	bytesRead := uint32(0)
	var zchars []uint8

	// First unpack the half words into a stream of 5 bit Z-characters,
	// stopping on the end bit.
	for {
		if address+bytesRead+2 > core.MemoryLength() {
			break
		}

		halfWord := core.ReadHalfWord(address + bytesRead)
		bytesRead += 2

		zchars = append(zchars,
			uint8((halfWord>>10)&0b11111),
			uint8((halfWord>>5)&0b11111),
			uint8(halfWord&0b11111))

		if halfWord>>15 == 1 {
			break
		}
	}

	var text strings.Builder
	current := a0

	for i := 0; i < len(zchars); i++ {
		zchr := zchars[i]

		switch {
		case zchr == 0:
			text.WriteByte(' ')
			current = a0

		case zchr <= 3: // Abbreviation prefix
			// Abbreviations don't nest: inside one, the prefix is dropped
			// and the following code decodes as an ordinary character.
			if !inAbbreviation && i+1 < len(zchars) {
				text.WriteString(expandAbbreviation(core, zchr, zchars[i+1]))
				i++
			}
			current = a0

		case zchr == 4: // Single shift to A1 for the next code only
			current = a1

		case zchr == 5: // Single shift to A2 for the next code only
			current = a2

		case zchr == 6 && current == a2: // 10 bit literal from the next two codes
			if i+2 < len(zchars) {
				text.WriteByte(uint8(uint16(zchars[i+1])<<5 | uint16(zchars[i+2])))
				i += 2
			}
			current = a0

		default:
			text.WriteByte(alphabetTables[current][zchr-6])
			current = a0
		}
	}

	return text.String(), bytesRead
}

func expandAbbreviation(core *zcore.Core, prefix uint8, next uint8) string {
	index := 32*uint16(prefix-1) + uint16(next)
	entryAddress := uint32(core.AbbreviationTableBase) + 2*uint32(index)
	stringAddress := 2 * uint32(core.ReadHalfWord(entryAddress))

	text, _ := decode(core, stringAddress, true)
	return text
}

// Encode turns the first six characters of a lowercased word into the
// 4-byte dictionary key form: six Z-characters packed into two half words
// with the end bit set on the second.
func Encode(word string) []uint8 {
	word = strings.ToLower(word)
	codes := make([]uint8, 0, 6)

	for i := 0; i < len(word) && i < 6 && len(codes) < 6; i++ {
		chr := word[i]

		if idx := strings.IndexByte(alphabetA0, chr); idx >= 0 {
			codes = append(codes, uint8(idx+6))
		} else if idx := strings.IndexByte(alphabetA2[1:], chr); idx >= 0 {
			// Skip the escape placeholder at position 0
			codes = append(codes, 5, uint8(idx+7))
		}
		// Characters outside both alphabets are dropped
	}

	// Pad with the A2 shift code
	for len(codes) < 6 {
		codes = append(codes, 5)
	}
	codes = codes[:6]

	w1 := uint16(codes[0])<<10 | uint16(codes[1])<<5 | uint16(codes[2])
	w2 := uint16(codes[3])<<10 | uint16(codes[4])<<5 | uint16(codes[5]) | 0x8000

	return []uint8{uint8(w1 >> 8), uint8(w1), uint8(w2 >> 8), uint8(w2)}
}
