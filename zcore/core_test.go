package zcore_test

import (
	"encoding/binary"
	"testing"

	"github.com/davetcode/ztty/zcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() []byte {
	img := make([]byte, 0x1000)
	img[0x00] = 3
	binary.BigEndian.PutUint16(img[0x02:], 88)  // release
	binary.BigEndian.PutUint16(img[0x04:], 0x0700) // high memory base
	binary.BigEndian.PutUint16(img[0x06:], 0x0700) // initial pc
	binary.BigEndian.PutUint16(img[0x08:], 0x0600) // dictionary
	binary.BigEndian.PutUint16(img[0x0a:], 0x0240) // object table
	binary.BigEndian.PutUint16(img[0x0c:], 0x0040) // globals
	binary.BigEndian.PutUint16(img[0x0e:], 0x0600) // static memory base
	copy(img[0x12:0x18], "840726")
	binary.BigEndian.PutUint16(img[0x18:], 0x0100) // abbreviations
	binary.BigEndian.PutUint16(img[0x1a:], 0x0800) // packed file length
	return img
}

func TestHeaderFields(t *testing.T) {
	core := zcore.LoadCore(testImage())

	assert.Equal(t, uint8(3), core.Version)
	assert.Equal(t, uint16(88), core.ReleaseNumber)
	assert.Equal(t, "840726", core.SerialCode)
	assert.Equal(t, uint16(0x0700), core.HighMemoryBase)
	assert.Equal(t, uint16(0x0700), core.FirstInstruction)
	assert.Equal(t, uint16(0x0600), core.DictionaryBase)
	assert.Equal(t, uint16(0x0240), core.ObjectTableBase)
	assert.Equal(t, uint16(0x0040), core.GlobalVariableBase)
	assert.Equal(t, uint16(0x0600), core.StaticMemoryBase)
	assert.Equal(t, uint16(0x0100), core.AbbreviationTableBase)
	assert.Equal(t, uint32(0x1000), core.FileLength())
	assert.Equal(t, uint32(0x1000), core.MemoryLength())
}

func TestSegmentPredicates(t *testing.T) {
	core := zcore.LoadCore(testImage())

	assert.True(t, core.InDynamic(0))
	assert.True(t, core.InDynamic(0x05ff))
	assert.False(t, core.InDynamic(0x0600))

	assert.True(t, core.BelowHigh(0x0600))
	assert.False(t, core.BelowHigh(0x0700))

	assert.False(t, core.InHigh(0x06ff))
	assert.True(t, core.InHigh(0x0700))
	assert.False(t, core.InHigh(0x1000))
}

func TestByteAndWordAccessors(t *testing.T) {
	core := zcore.LoadCore(testImage())

	core.WriteByte(0x50, 0xab)
	assert.Equal(t, uint8(0xab), core.ReadByte(0x50))

	core.WriteHalfWord(0x52, 0xbeef)
	assert.Equal(t, uint16(0xbeef), core.ReadHalfWord(0x52))
	assert.Equal(t, uint8(0xbe), core.ReadByte(0x52))
	assert.Equal(t, uint8(0xef), core.ReadByte(0x53))
}

func TestNonV3StoryRejected(t *testing.T) {
	img := testImage()
	img[0] = 5

	require.Panics(t, func() { zcore.LoadCore(img) })
}

func TestTruncatedStoryRejected(t *testing.T) {
	require.Panics(t, func() { zcore.LoadCore(make([]byte, 0x20)) })
}
