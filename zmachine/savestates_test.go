package zmachine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportFormat(t *testing.T) {
	z, _, _, _ := loadTestMachine()
	z.pc = 0x0789
	z.callStack.pushEval(0x1111)
	z.callStack.pushEval(0x2222)

	lines := strings.Split(string(z.ExportSaveState()), "\n")

	assert.Equal(t, "releasenumber.serialcode", lines[0])
	assert.Equal(t, "88.840726", lines[1])
	assert.Equal(t, "pc", lines[2])
	assert.Equal(t, "0789", lines[3])
	assert.Equal(t, "stack", lines[4])
	assert.Equal(t, "0002", lines[5])
	assert.Equal(t, "1111 2222", lines[6])
	assert.Equal(t, "stack.topindex", lines[7])
	assert.Equal(t, "0001", lines[8])
	assert.Equal(t, "stack.stackframeindex", lines[9])
	assert.Equal(t, "ffff", lines[10])
	assert.Equal(t, "dynamicmemory", lines[11])
	assert.Equal(t, "0600", lines[12])
}

func TestSaveRestoreRoundTripIsBitwiseIdentical(t *testing.T) {
	z, _, _, _ := loadTestMachine()
	z.pc = 0x0720
	z.callStack.pushEval(0xaaaa)
	z.Core.WriteHalfWord(testGlobals, 0x1234)

	snapshot := z.ExportSaveState()
	dynamicBefore := append([]uint8(nil), z.Core.ReadSlice(0, uint32(testStatic))...)

	// Trash everything the snapshot covers
	z.pc = 0x0999
	z.callStack.pushEval(0xbbbb)
	z.callStack.pushEval(0xcccc)
	z.Core.WriteHalfWord(testGlobals, 0xffff)
	z.Core.WriteByte(0x0100, 0x77)

	require.True(t, z.ImportSaveState(snapshot))

	assert.Equal(t, uint32(0x0720), z.pc)
	assert.Equal(t, 0, z.callStack.top)
	assert.Equal(t, -1, z.callStack.frame)
	assert.Equal(t, uint16(0xaaaa), z.callStack.peekEval())
	assert.Equal(t, dynamicBefore, z.Core.ReadSlice(0, uint32(testStatic)))
}

func TestRestoreRejectsMismatchedRelease(t *testing.T) {
	z, _, _, _ := loadTestMachine()
	snapshot := strings.Replace(string(z.ExportSaveState()), "88.840726", "89.840726", 1)

	pcBefore := z.pc

	assert.False(t, z.ImportSaveState([]byte(snapshot)))
	assert.Equal(t, pcBefore, z.pc)
}

func TestRestoreRejectsGarbage(t *testing.T) {
	z, _, _, _ := loadTestMachine()

	assert.False(t, z.ImportSaveState([]byte("not a save file")))
	assert.False(t, z.ImportSaveState(nil))
}

func TestRestoreLeavesStateUntouchedOnFailure(t *testing.T) {
	z, _, _, _ := loadTestMachine()
	z.callStack.pushEval(0x5555)
	snapshot := z.ExportSaveState()

	// Corrupt the stack length so parsing fails partway through
	corrupted := strings.Replace(string(snapshot), "stack\n0001", "stack\nzzzz", 1)
	require.NotEqual(t, string(snapshot), corrupted)

	z.Core.WriteHalfWord(testGlobals, 0x9999)
	assert.False(t, z.ImportSaveState([]byte(corrupted)))
	assert.Equal(t, uint16(0x9999), z.Core.ReadHalfWord(testGlobals))
	assert.Equal(t, uint16(0x5555), z.callStack.peekEval())
}

// The full opcode cycle: a successful restore lands on the save opcode's
// branch operand and takes its branch-on-success path.
func TestSaveRestoreOpcodeCycle(t *testing.T) {
	code := make([]byte, 0x10)
	code[0] = 0xb5 // save, branch-on-true short offset 5
	code[1] = 0xc5
	code[5] = 0xb6 // restore at the branch target, branch-on-true offset 5
	code[6] = 0xc5

	z, outputChannel, _, saveRestoreChannel := loadTestMachine(code...)

	var snapshot []byte
	go func() {
		<-outputChannel // Save request; the host snapshots and confirms
		snapshot = z.ExportSaveState()
		saveRestoreChannel <- SaveResponse{Success: true}
	}()

	z.StepMachine() // save branches to the restore opcode
	assert.Equal(t, testPC+5, z.pc)

	// Mutate so the restore is observable
	z.Core.WriteHalfWord(testGlobals, 0x4242)

	go func() {
		<-outputChannel // Restore request
		saveRestoreChannel <- RestoreResponse{Success: true, Data: snapshot}
	}()

	z.StepMachine() // restore rewinds to save's branch operand, branches again
	assert.Equal(t, testPC+5, z.pc)
	assert.Equal(t, uint16(0), z.Core.ReadHalfWord(testGlobals))
}

func TestRestoreFailureBranchesFalse(t *testing.T) {
	// restore with branch-on-false offset 5: a failed restore takes it
	z, outputChannel, _, saveRestoreChannel := loadTestMachine(0xb6, 0x45)

	go func() {
		<-outputChannel
		saveRestoreChannel <- RestoreResponse{Success: false}
	}()

	z.StepMachine()

	assert.Equal(t, testPC+5, z.pc)
}
