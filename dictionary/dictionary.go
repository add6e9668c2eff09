package dictionary

import (
	"bytes"

	"github.com/davetcode/ztty/zcore"
	"github.com/davetcode/ztty/zstring"
)

type DictionaryHeader struct {
	Separators  []uint8
	entryLength uint8
	count       uint16
}

type DictionaryEntry struct {
	address     uint16
	encodedWord []uint8
	decodedWord string
}

// Dictionary is the header-described table of fixed-width sorted entries
// preceded by the word separator set. Entries are keyed by 4 bytes of
// encoded Z-string.
type Dictionary struct {
	Header  DictionaryHeader
	entries []DictionaryEntry
}

func ParseDictionary(core *zcore.Core) *Dictionary {
	baseAddress := uint32(core.DictionaryBase)
	numSeparators := core.ReadByte(baseAddress)

	header := DictionaryHeader{
		Separators:  core.ReadSlice(baseAddress+1, baseAddress+1+uint32(numSeparators)),
		entryLength: core.ReadByte(baseAddress + 1 + uint32(numSeparators)),
		count:       core.ReadHalfWord(baseAddress + 2 + uint32(numSeparators)),
	}

	entryPtr := baseAddress + 4 + uint32(numSeparators)
	entries := make([]DictionaryEntry, header.count)

	for ix := range entries {
		decodedWord, _ := zstring.Decode(core, entryPtr)
		entries[ix] = DictionaryEntry{
			address:     uint16(entryPtr),
			encodedWord: core.ReadSlice(entryPtr, entryPtr+4),
			decodedWord: decodedWord,
		}

		entryPtr += uint32(header.entryLength)
	}

	return &Dictionary{
		Header:  header,
		entries: entries,
	}
}

// IsSeparator reports whether chr is in the dictionary's word separator set.
func (d *Dictionary) IsSeparator(chr uint8) bool {
	for _, separator := range d.Header.Separators {
		if chr == separator {
			return true
		}
	}

	return false
}

// Find returns the byte address of the entry matching the 4 byte encoded
// key, or 0 when the word isn't in the dictionary. Entries are sorted but
// the tables are small enough that a linear scan has never mattered.
func (d *Dictionary) Find(encoded []uint8) uint16 {
	for _, entry := range d.entries {
		if bytes.Equal(entry.encodedWord, encoded[:4]) {
			return entry.address
		}
	}

	return 0
}
