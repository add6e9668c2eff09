package zmachine

import (
	"encoding/binary"
	"testing"

	"github.com/davetcode/ztty/zobject"
	"github.com/davetcode/ztty/zstring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (z *ZMachine) objectByID(id uint16) zobject.Object {
	return zobject.GetObject(id, &z.Core)
}

const (
	testGlobals     = 0x0040
	testObjects     = 0x0240
	testObj2Props   = 0x0320
	testTextBuffer  = 0x0500
	testParseBuffer = 0x0520
	testDictionary  = 0x0600
	testStatic      = 0x0600
	testHigh        = 0x0700
	testPC          = uint32(0x0700)
)

// buildTestStory lays out a minimal story: globals, a three object tree
// (obj1 parents obj2 and obj3, obj2 is named "mailbox"), a dictionary with
// "mailbox" and "open", and room for code at the initial PC.
func buildTestStory() []byte {
	img := make([]byte, 0x1000)
	img[0] = 3
	binary.BigEndian.PutUint16(img[0x02:], 88)
	binary.BigEndian.PutUint16(img[0x04:], testHigh)
	binary.BigEndian.PutUint16(img[0x06:], uint16(testPC))
	binary.BigEndian.PutUint16(img[0x08:], testDictionary)
	binary.BigEndian.PutUint16(img[0x0a:], testObjects)
	binary.BigEndian.PutUint16(img[0x0c:], testGlobals)
	binary.BigEndian.PutUint16(img[0x0e:], testStatic)
	copy(img[0x12:0x18], "840726")
	binary.BigEndian.PutUint16(img[0x1a:], 0x0800)

	d := testDictionary
	img[d] = 1
	img[d+1] = ','
	img[d+2] = 7
	binary.BigEndian.PutUint16(img[d+3:], 2)
	copy(img[d+5:], zstring.Encode("mailbox"))
	copy(img[d+12:], zstring.Encode("open"))

	obj1 := testObjects + 62
	obj2 := obj1 + 9
	obj3 := obj2 + 9

	img[obj1] = 0x80 // attribute 0
	img[obj1+6] = 2  // child
	binary.BigEndian.PutUint16(img[obj1+7:], 0x0300)

	img[obj2+4] = 1 // parent
	img[obj2+5] = 3 // sibling
	binary.BigEndian.PutUint16(img[obj2+7:], testObj2Props)

	img[obj3+4] = 1 // parent
	binary.BigEndian.PutUint16(img[obj3+7:], 0x0340)

	// obj2: name "mailbox", property 18 = 0x0001
	p := testObj2Props
	img[p] = 3
	binary.BigEndian.PutUint16(img[p+1:], 0x48ce)
	binary.BigEndian.PutUint16(img[p+3:], 0x44f4)
	binary.BigEndian.PutUint16(img[p+5:], 0xf4a5)
	img[p+7] = (2-1)<<5 | 18
	binary.BigEndian.PutUint16(img[p+8:], 0x0001)
	img[p+10] = 0

	return img
}

func loadTestMachine(code ...byte) (*ZMachine, chan any, chan string, chan SaveRestoreResponse) {
	img := buildTestStory()
	copy(img[testPC:], code)

	outputChannel := make(chan any, 16)
	inputChannel := make(chan string, 4)
	saveRestoreChannel := make(chan SaveRestoreResponse, 4)

	return LoadRom(img, inputChannel, saveRestoreChannel, outputChannel), outputChannel, inputChannel, saveRestoreChannel
}

func globalWord(z *ZMachine, n uint32) uint16 {
	return z.Core.ReadHalfWord(uint32(testGlobals) + 2*(n-16))
}

func TestSubStoresSignedResult(t *testing.T) {
	// sub 1 2 -> global 16
	z, _, _, _ := loadTestMachine(0x15, 0x01, 0x02, 0x10)

	z.StepMachine()

	assert.Equal(t, uint16(0xffff), globalWord(z, 16))
	assert.Equal(t, testPC+4, z.pc)
}

func TestSignedComparisons(t *testing.T) {
	// jg 0xffff 0x0001 must not branch: signed -1 < 1
	z, _, _, _ := loadTestMachine(0xc3, 0x0f, 0xff, 0xff, 0x00, 0x01, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+7, z.pc)

	// jl with the same operands branches (short offset 5)
	z, _, _, _ = loadTestMachine(0xc2, 0x0f, 0xff, 0xff, 0x00, 0x01, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+10, z.pc)
}

func TestJeMultipleOperands(t *testing.T) {
	// je 1 2 3 1 branches: the last operand matches the first
	z, _, _, _ := loadTestMachine(0xc1, 0x55, 0x01, 0x02, 0x03, 0x01, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+10, z.pc)

	// je 1 2 3 4 does not
	z, _, _, _ = loadTestMachine(0xc1, 0x55, 0x01, 0x02, 0x03, 0x04, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+7, z.pc)
}

func TestCallAndReturn(t *testing.T) {
	code := make([]byte, 0x20)
	// call 0x0388 (-> 0x0710) with argument 0x1234, store to stack
	copy(code, []byte{0xe0, 0x0f, 0x03, 0x88, 0x12, 0x34, 0x00})
	// routine: 2 locals defaulting to 0x1111/0x2222, ret local 1
	copy(code[0x10:], []byte{0x02, 0x11, 0x11, 0x22, 0x22, 0xab, 0x01})

	z, _, _, _ := loadTestMachine(code...)

	z.StepMachine() // call
	assert.Equal(t, 2, z.callStack.frame)
	assert.Equal(t, 2, z.callStack.localCount())
	assert.Equal(t, uint16(0x1234), z.callStack.local(1)) // argument wins
	assert.Equal(t, uint16(0x2222), z.callStack.local(2)) // default kept
	assert.Equal(t, testPC+0x15, z.pc)

	z.StepMachine() // ret
	assert.Equal(t, -1, z.callStack.frame)
	assert.Equal(t, 0, z.callStack.top)
	assert.Equal(t, testPC+7, z.pc) // byte after the call's store byte
	assert.Equal(t, uint16(0x1234), z.callStack.popEval())
}

func TestBranchOffsetOneReturnsTrue(t *testing.T) {
	code := make([]byte, 0x20)
	// call 0x0388 with no arguments, store to stack
	copy(code, []byte{0xe0, 0x3f, 0x03, 0x88, 0x00})
	// routine with no locals: jz 0 [branch-on-true, offset 1] == rtrue
	copy(code[0x10:], []byte{0x00, 0x90, 0x00, 0xc1})

	z, _, _, _ := loadTestMachine(code...)

	z.StepMachine() // call
	z.StepMachine() // jz branches to "return 1"

	assert.Equal(t, -1, z.callStack.frame)
	assert.Equal(t, uint16(1), z.callStack.popEval())
	assert.Equal(t, testPC+5, z.pc)
}

func TestCallRoutineZeroStoresZero(t *testing.T) {
	// call 0 stores 0 without building a frame
	z, _, _, _ := loadTestMachine(0xe0, 0x3f, 0x00, 0x00, 0x10)
	z.Core.WriteHalfWord(testGlobals, 0xdead)

	z.StepMachine()

	assert.Equal(t, -1, z.callStack.frame)
	assert.Equal(t, uint16(0), globalWord(z, 16))
	assert.Equal(t, testPC+5, z.pc)
}

func TestCallFaults(t *testing.T) {
	// Call target past the end of the file
	z, _, _, _ := loadTestMachine(0xe0, 0x3f, 0x7f, 0xff, 0x00)
	require.Panics(t, func() { z.StepMachine() })

	// Call target declaring 16 locals
	code := make([]byte, 0x20)
	copy(code, []byte{0xe0, 0x3f, 0x03, 0x88, 0x00})
	code[0x10] = 16
	z, _, _, _ = loadTestMachine(code...)
	require.Panics(t, func() { z.StepMachine() })
}

func TestDivisionFaults(t *testing.T) {
	// div 1 0
	z, _, _, _ := loadTestMachine(0xd7, 0x0f, 0x00, 0x01, 0x00, 0x00, 0x10)
	require.Panics(t, func() { z.StepMachine() })

	// mod 1 0
	z, _, _, _ = loadTestMachine(0xd8, 0x0f, 0x00, 0x01, 0x00, 0x00, 0x10)
	require.Panics(t, func() { z.StepMachine() })
}

func TestStoreToVariableZeroReplacesTop(t *testing.T) {
	// store 0 9
	z, _, _, _ := loadTestMachine(0x0d, 0x00, 0x09)
	z.callStack.pushEval(5)
	z.callStack.pushEval(7)

	z.StepMachine()

	assert.Equal(t, 1, z.callStack.top) // height unchanged
	assert.Equal(t, uint16(9), z.callStack.peekEval())
}

func TestLoadFromVariableZeroPeeks(t *testing.T) {
	// load 0 -> global 16
	z, _, _, _ := loadTestMachine(0x9e, 0x00, 0x10)
	z.callStack.pushEval(0x4242)

	z.StepMachine()

	assert.Equal(t, 0, z.callStack.top) // still on the stack
	assert.Equal(t, uint16(0x4242), globalWord(z, 16))
}

func TestIncDecModifyInPlace(t *testing.T) {
	// inc global 16 then dec global 16
	z, _, _, _ := loadTestMachine(0x95, 0x10, 0x96, 0x10)
	z.Core.WriteHalfWord(testGlobals, 41)

	z.StepMachine()
	assert.Equal(t, uint16(42), globalWord(z, 16))

	z.StepMachine()
	assert.Equal(t, uint16(41), globalWord(z, 16))
}

func TestTestAttrBranches(t *testing.T) {
	// test_attr obj1 attribute 0, set in the test story
	z, _, _, _ := loadTestMachine(0x0a, 0x01, 0x00, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+7, z.pc)

	// attribute 1 is clear
	z, _, _, _ = loadTestMachine(0x0a, 0x01, 0x01, 0xc5)
	z.StepMachine()
	assert.Equal(t, testPC+4, z.pc)
}

func TestSetClearAttrOpcodes(t *testing.T) {
	// set_attr obj3 5; clear_attr obj1 0
	z, _, _, _ := loadTestMachine(0x0b, 0x03, 0x05, 0x0c, 0x01, 0x00)

	z.StepMachine()
	z.StepMachine()

	obj3 := z.objectByID(3)
	obj1 := z.objectByID(1)
	assert.True(t, obj3.TestAttribute(5))
	assert.False(t, obj1.TestAttribute(0))
}

func TestObjectTreeMutation(t *testing.T) {
	z, _, _, _ := loadTestMachine()

	// obj1 -> obj2 -> sibling obj3 initially; move obj3 under obj2
	z.MoveObject(3, 2)
	assert.Equal(t, uint16(2), z.objectByID(3).Parent)
	assert.Equal(t, uint16(3), z.objectByID(2).Child)
	assert.Equal(t, uint16(0), z.objectByID(3).Sibling)
	assert.Equal(t, uint16(2), z.objectByID(1).Child)
	assert.Equal(t, uint16(0), z.objectByID(2).Sibling)

	// Moving to the same parent is a no-op
	z.MoveObject(3, 2)
	assert.Equal(t, uint16(3), z.objectByID(2).Child)

	z.RemoveObject(3)
	assert.Equal(t, uint16(0), z.objectByID(3).Parent)
	assert.Equal(t, uint16(0), z.objectByID(3).Sibling)
	assert.Equal(t, uint16(0), z.objectByID(2).Child)

	// Removing an orphan again is harmless
	z.RemoveObject(3)
	assert.Equal(t, uint16(0), z.objectByID(3).Parent)

	require.Panics(t, func() { z.MoveObject(2, 2) })
}

func TestSreadTokenisation(t *testing.T) {
	// sread text buffer 0x0500, parse buffer 0x0520
	z, _, inputChannel, _ := loadTestMachine(0xe4, 0x0f, 0x05, 0x00, 0x05, 0x20)
	z.Core.WriteByte(testTextBuffer, 20)
	z.Core.WriteByte(testParseBuffer, 5)
	inputChannel <- "Open  Mailbox, please"

	z.StepMachine()

	// Lowercased, truncated to max-1 characters, null terminated
	stored := string(z.Core.ReadSlice(testTextBuffer+1, testTextBuffer+1+19))
	assert.Equal(t, "open  mailbox, plea", stored)
	assert.Equal(t, uint8(0), z.Core.ReadByte(testTextBuffer+20))

	assert.Equal(t, uint8(4), z.Core.ReadByte(testParseBuffer+1))

	record := func(i uint32) (uint16, uint8, uint8) {
		base := uint32(testParseBuffer) + 2 + 4*i
		return z.Core.ReadHalfWord(base), z.Core.ReadByte(base + 2), z.Core.ReadByte(base + 3)
	}

	addr, length, position := record(0) // "open"
	assert.Equal(t, uint16(testDictionary+12), addr)
	assert.Equal(t, uint8(4), length)
	assert.Equal(t, uint8(1), position)

	addr, length, position = record(1) // "mailbox"
	assert.Equal(t, uint16(testDictionary+5), addr)
	assert.Equal(t, uint8(7), length)
	assert.Equal(t, uint8(7), position)

	addr, length, position = record(2) // the separator is its own token
	assert.Equal(t, uint16(0), addr)
	assert.Equal(t, uint8(1), length)
	assert.Equal(t, uint8(14), position)

	addr, length, position = record(3) // "plea", not in the dictionary
	assert.Equal(t, uint16(0), addr)
	assert.Equal(t, uint8(4), length)
	assert.Equal(t, uint8(16), position)
}

func TestSreadCapsParsedWords(t *testing.T) {
	z, _, inputChannel, _ := loadTestMachine(0xe4, 0x0f, 0x05, 0x00, 0x05, 0x20)
	z.Core.WriteByte(testTextBuffer, 60)
	z.Core.WriteByte(testParseBuffer, 2)
	inputChannel <- "open mailbox with rusty key"

	z.StepMachine()

	assert.Equal(t, uint8(2), z.Core.ReadByte(testParseBuffer+1))
}

func TestPrintAndQuitFlushOutput(t *testing.T) {
	// print "hi", quit
	z, outputChannel, _, _ := loadTestMachine(0xb2, 0xb5, 0xc5, 0xba)

	z.Run()

	assert.Equal(t, "hi", <-outputChannel)
	assert.Equal(t, Quit(true), <-outputChannel)
}

func TestPrintNumAndChar(t *testing.T) {
	// print_num -5, print_char 'A', print_char 13, quit
	z, outputChannel, _, _ := loadTestMachine(
		0xe6, 0x3f, 0xff, 0xfb,
		0xe5, 0x7f, 'A',
		0xe5, 0x7f, 13,
		0xba)

	z.Run()

	assert.Equal(t, "-5A\n", <-outputChannel)
	assert.Equal(t, Quit(true), <-outputChannel)
}

func TestRestartSignalsHost(t *testing.T) {
	z, outputChannel, _, _ := loadTestMachine(0xb7)

	z.Run()

	assert.Equal(t, Restart(true), <-outputChannel)
}

func TestUnknownOpcodeFaults(t *testing.T) {
	// 1OP opcode 8 doesn't exist on v3
	z, outputChannel, _, _ := loadTestMachine(0x98, 0x00)

	z.Run()

	msg := <-outputChannel
	_, isRuntimeError := msg.(RuntimeError)
	assert.True(t, isRuntimeError)
}

func TestStoreOutsideDynamicMemoryFaults(t *testing.T) {
	// storeb into static memory
	z, _, _, _ := loadTestMachine(0xe2, 0x17, 0x06, 0x00, 0x00, 0x01)
	require.Panics(t, func() { z.StepMachine() })
}

func TestJumpIsUnconditional(t *testing.T) {
	// jump +0x10 (large constant operand, no branch byte)
	z, _, _, _ := loadTestMachine(0x8c, 0x00, 0x10)

	z.StepMachine()

	assert.Equal(t, testPC+3+0x10-2, z.pc)
}

func TestGlobalVariableAccessor(t *testing.T) {
	z, _, _, _ := loadTestMachine()
	z.Core.WriteHalfWord(testGlobals+2, 0x0123) // global 17

	assert.Equal(t, uint16(0x0123), z.GlobalVariable(17))
}
