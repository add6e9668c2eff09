package zmachine

import (
	"fmt"
	"strconv"
	"strings"
)

// Save is the request for the host to prompt for a filename and write the
// snapshot returned by ExportSaveState.
type Save struct{}

// Restore asks the host to prompt for a filename and hand back the file
// bytes; the core validates and applies them.
type Restore struct{}

type SaveRestoreResponse interface {
	isSaveRestoreResponse()
}

type SaveResponse struct {
	Success bool
}

func (SaveResponse) isSaveRestoreResponse() {}

type RestoreResponse struct {
	Success bool
	Data    []byte
}

func (RestoreResponse) isSaveRestoreResponse() {}

const valuesPerLine = 40

// ExportSaveState serializes the full execution state as portable 7 bit
// ASCII: release.serial, PC, the live stack cells with top and frame
// indices, then dynamic memory. The PC captured here points at the save
// opcode's branch operand, which is what makes restore resume through
// save's branch-on-success path.
func (z *ZMachine) ExportSaveState() []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "releasenumber.serialcode\n%d.%s\n", z.Core.ReleaseNumber, z.Core.SerialCode)
	fmt.Fprintf(&b, "pc\n%04x\n", z.pc)

	s := &z.callStack
	fmt.Fprintf(&b, "stack\n%04x\n", s.top+1)
	for i := 0; i <= s.top; i++ {
		fmt.Fprintf(&b, "%04x", s.cells[i])
		if (i+1)%valuesPerLine == 0 || i == s.top {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}

	fmt.Fprintf(&b, "stack.topindex\n%04x\n", uint16(s.top))
	fmt.Fprintf(&b, "stack.stackframeindex\n%04x\n", uint16(s.frame))

	dynamicLength := uint32(z.Core.StaticMemoryBase)
	fmt.Fprintf(&b, "dynamicmemory\n%04x\n", dynamicLength)
	for i := uint32(0); i < dynamicLength; i++ {
		fmt.Fprintf(&b, "%02x", z.Core.ReadByte(i))
		if (i+1)%valuesPerLine == 0 || i == dynamicLength-1 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}

	return []byte(b.String())
}

type parsedSaveState struct {
	pc            uint32
	stack         []uint16
	topIndex      int
	frameIndex    int
	dynamicMemory []uint8
}

// ImportSaveState parses and validates a snapshot and, only when the whole
// file checks out against the running story, atomically replaces PC, stack
// and dynamic memory. On any failure the machine is left untouched.
func (z *ZMachine) ImportSaveState(data []byte) bool {
	state, ok := z.parseSaveState(data)
	if !ok {
		return false
	}

	z.pc = state.pc
	z.callStack.reset()
	copy(z.callStack.cells[:], state.stack)
	z.callStack.top = state.topIndex
	z.callStack.frame = state.frameIndex
	copy(z.Core.ReadSlice(0, uint32(len(state.dynamicMemory))), state.dynamicMemory)

	return true
}

func (z *ZMachine) parseSaveState(data []byte) (parsedSaveState, bool) {
	var state parsedSaveState

	// Tokenizing on whitespace makes the parser indifferent to the host
	// line endings the file was written with.
	tokens := strings.Fields(string(data))
	next := func() (string, bool) {
		if len(tokens) == 0 {
			return "", false
		}
		token := tokens[0]
		tokens = tokens[1:]
		return token, true
	}

	expect := func(header string) bool {
		token, ok := next()
		return ok && token == header
	}

	if !expect("releasenumber.serialcode") {
		return state, false
	}
	releaseSerial, ok := next()
	if !ok || releaseSerial != fmt.Sprintf("%d.%s", z.Core.ReleaseNumber, z.Core.SerialCode) {
		return state, false
	}

	if !expect("pc") {
		return state, false
	}
	pcToken, ok := next()
	if !ok {
		return state, false
	}
	pc, err := strconv.ParseUint(pcToken, 16, 32)
	if err != nil || pc > uint64(z.Core.MemoryLength()) {
		return state, false
	}
	state.pc = uint32(pc)

	if !expect("stack") {
		return state, false
	}
	stackLength, ok := parseHexWord(next())
	if !ok || int(stackLength) > stackCapacity {
		return state, false
	}
	state.stack = make([]uint16, stackLength)
	for i := range state.stack {
		state.stack[i], ok = parseHexWord(next())
		if !ok {
			return state, false
		}
	}

	if !expect("stack.topindex") {
		return state, false
	}
	topIndex, ok := parseHexWord(next())
	if !ok {
		return state, false
	}
	state.topIndex = int(int16(topIndex))
	if state.topIndex != len(state.stack)-1 {
		return state, false
	}

	if !expect("stack.stackframeindex") {
		return state, false
	}
	frameIndex, ok := parseHexWord(next())
	if !ok {
		return state, false
	}
	state.frameIndex = int(int16(frameIndex))
	if state.frameIndex < -1 || state.frameIndex > state.topIndex {
		return state, false
	}

	if !expect("dynamicmemory") {
		return state, false
	}
	dynamicLength, ok := parseHexWord(next())
	if !ok || dynamicLength != z.Core.StaticMemoryBase {
		return state, false
	}
	state.dynamicMemory = make([]uint8, dynamicLength)
	for i := range state.dynamicMemory {
		token, ok := next()
		if !ok {
			return state, false
		}
		value, err := strconv.ParseUint(token, 16, 8)
		if err != nil {
			return state, false
		}
		state.dynamicMemory[i] = uint8(value)
	}

	return state, true
}

func parseHexWord(token string, ok bool) (uint16, bool) {
	if !ok {
		return 0, false
	}

	value, err := strconv.ParseUint(token, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(value), true
}
