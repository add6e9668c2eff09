package zmachine

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/davetcode/ztty/dictionary"
	"github.com/davetcode/ztty/zcore"
	"github.com/davetcode/ztty/zobject"
	"github.com/davetcode/ztty/zstring"
)

type Quit bool

type Restart bool

// RuntimeError carries a fatal machine fault out of the interpreter
// goroutine; the console prints it and exits.
type RuntimeError string

type StateChangeRequest int

const (
	WaitForInput StateChangeRequest = iota
	Running      StateChangeRequest = iota
)

// ZMachine owns the memory image, the stack, the RNG and the output buffer
// exclusively; the channels are its only contact with the host.
type ZMachine struct {
	Core               zcore.Core
	callStack          CallStack
	pc                 uint32
	dictionary         *dictionary.Dictionary
	rng                rng
	output             strings.Builder
	running            bool
	outputChannel      chan<- any
	inputChannel       <-chan string
	saveRestoreChannel <-chan SaveRestoreResponse
}

func LoadRom(storyFile []uint8, inputChannel <-chan string, saveRestoreChannel <-chan SaveRestoreResponse, outputChannel chan<- any) *ZMachine {
	machine := ZMachine{
		Core:               zcore.LoadCore(storyFile),
		inputChannel:       inputChannel,
		saveRestoreChannel: saveRestoreChannel,
		outputChannel:      outputChannel,
		callStack:          newCallStack(),
		rng:                newRNG(),
	}

	machine.dictionary = dictionary.ParseDictionary(&machine.Core)
	machine.pc = uint32(machine.Core.FirstInstruction)

	return &machine
}

func (z *ZMachine) readIncPC() uint8 {
	value := z.Core.ReadByte(z.pc)
	z.pc++
	return value
}

func (z *ZMachine) readHalfWordIncPC() uint16 {
	value := z.Core.ReadHalfWord(z.pc)
	z.pc += 2
	return value
}

// Packed addresses unpack by doubling on v3.
func packedAddress(originalAddress uint16) uint32 {
	return 2 * uint32(originalAddress)
}

// readVariable resolves the three-way variable namespace: 0 is the
// evaluation stack, 1-15 the current frame's locals, 16-255 globals.
//
// "In the opcodes that take indirect variable references (inc, dec,
// inc_chk, dec_chk, load, store, pull), an indirect reference to the stack
// pointer does not push or pull the top item of the stack - it is read or
// written in place."
func (z *ZMachine) readVariable(variable uint8, indirect bool) uint16 {
	switch {
	case variable == 0: // Magic stack variable
		if indirect {
			return z.callStack.peekEval()
		}
		return z.callStack.popEval()
	case variable < 16: // Routine local variables
		if int(variable) > z.callStack.localCount() {
			panic(fmt.Sprintf("Attempt to read non-existing local variable %d", variable))
		}
		return z.callStack.local(int(variable))
	default: // Global variables
		return z.Core.ReadHalfWord(uint32(z.Core.GlobalVariableBase) + 2*(uint32(variable)-16))
	}
}

func (z *ZMachine) writeVariable(variable uint8, value uint16, indirect bool) {
	switch {
	case variable == 0: // Magic stack variable
		if indirect {
			z.callStack.replaceEval(value)
		} else {
			z.callStack.pushEval(value)
		}
	case variable < 16: // Routine local variables
		if int(variable) > z.callStack.localCount() {
			panic(fmt.Sprintf("Attempt to write non-existing local variable %d", variable))
		}
		z.callStack.setLocal(int(variable), value)
	default: // Global variables
		z.writeDynamicHalfWord(uint32(z.Core.GlobalVariableBase)+2*(uint32(variable)-16), value)
	}
}

// GlobalVariable exposes a global to the host (the score watcher reads
// global 17 through this between turns). Variable numbering, 16-255.
func (z *ZMachine) GlobalVariable(variable uint8) uint16 {
	return z.readVariable(variable, true)
}

// Segment policy lives here rather than in the memory layer: stores must
// land in dynamic memory, plain loads must stay below the high segment.
func (z *ZMachine) writeDynamicByte(address uint32, value uint8) {
	if !z.Core.InDynamic(address) {
		panic(fmt.Sprintf("Write to 0x%x outside dynamic memory", address))
	}
	z.Core.WriteByte(address, value)
}

func (z *ZMachine) writeDynamicHalfWord(address uint32, value uint16) {
	if !z.Core.InDynamic(address + 1) {
		panic(fmt.Sprintf("Write to 0x%x outside dynamic memory", address))
	}
	z.Core.WriteHalfWord(address, value)
}

func (z *ZMachine) readCheckedByte(address uint32) uint8 {
	if !z.Core.BelowHigh(address) {
		panic(fmt.Sprintf("Read of 0x%x inside high memory", address))
	}
	return z.Core.ReadByte(address)
}

func (z *ZMachine) readCheckedHalfWord(address uint32) uint16 {
	if !z.Core.BelowHigh(address + 1) {
		panic(fmt.Sprintf("Read of 0x%x inside high memory", address))
	}
	return z.Core.ReadHalfWord(address)
}

// call pushes a frame and jumps to the routine body. The caller's store
// byte is deliberately not consumed here: returnValue reads it when the
// routine finishes, which is what makes every call a lazily resolved STORE.
func (z *ZMachine) call(opcode *Opcode) {
	packed := opcode.operands[0]

	// Calling routine 0 makes no call and stores 0 immediately
	if packed == 0 {
		z.writeVariable(z.readIncPC(), 0, false)
		return
	}

	routineAddress := packedAddress(packed)
	if routineAddress >= z.Core.MemoryLength() {
		panic(fmt.Sprintf("Call target 0x%x outside story file", routineAddress))
	}

	localVariableCount := z.Core.ReadByte(routineAddress)
	if localVariableCount > 15 {
		panic(fmt.Sprintf("Call target 0x%x declares %d locals", routineAddress, localVariableCount))
	}

	z.callStack.pushU32(z.pc)
	z.callStack.push(uint16(z.callStack.frame))
	z.callStack.frame = z.callStack.top
	z.callStack.push(uint16(localVariableCount))

	for k := 1; k <= int(localVariableCount); k++ {
		if k < len(opcode.operands) {
			// Value passed to routine, overrides the default
			z.callStack.push(opcode.operands[k])
		} else {
			// No value passed, use the default stored in the routine header
			z.callStack.push(z.Core.ReadHalfWord(routineAddress + 1 + 2*uint32(k-1)))
		}
	}

	z.pc = routineAddress + 1 + 2*uint32(localVariableCount)
}

// returnValue unwinds one frame and performs the deferred store through
// the caller's store byte at the restored PC.
func (z *ZMachine) returnValue(value uint16) {
	if z.callStack.frame < 0 {
		panic("Return with no call frame on the stack")
	}

	z.callStack.top = z.callStack.frame
	z.callStack.frame = int(int16(z.callStack.pop()))
	z.pc = z.callStack.popU32()

	destination := z.readIncPC()
	z.writeVariable(destination, value, false)
}

func (z *ZMachine) handleBranch(result bool) {
	branchArg1 := z.readIncPC()

	branchReversed := (branchArg1>>7)&1 == 0
	singleByte := (branchArg1>>6)&1 == 1
	offset := int32(branchArg1 & 0b11_1111)

	if !singleByte {
		offset = int32(int16((uint16(branchArg1&0b11_1111)<<8|uint16(z.readIncPC()))<<2) >> 2)
	}

	if result != branchReversed {
		switch offset {
		case 0:
			z.returnValue(0)
		case 1:
			z.returnValue(1)
		default:
			z.pc = uint32(int32(z.pc) + offset - 2)
		}
	}
}

// appendText collects output in-core; nothing reaches the host until
// flushOutput at an input request, quit, restart or save/restore.
func (z *ZMachine) appendText(s string) {
	z.output.WriteString(s)
}

func (z *ZMachine) flushOutput() {
	if z.output.Len() > 0 {
		z.outputChannel <- z.output.String()
		z.output.Reset()
	}
}

type token struct {
	start  int
	length int
}

// tokenise splits on whitespace (delimits, produces nothing) and the
// dictionary's word separators (each its own one byte token).
func tokenise(text string, dict *dictionary.Dictionary) []token {
	var tokens []token
	start := -1

	for i := 0; i <= len(text); i++ {
		chr := uint8(' ') // Virtual terminator to close the last word
		if i < len(text) {
			chr = text[i]
		}

		switch {
		case chr == ' ':
			if start >= 0 {
				tokens = append(tokens, token{start, i - start})
				start = -1
			}
		case dict.IsSeparator(chr):
			if start >= 0 {
				tokens = append(tokens, token{start, i - start})
				start = -1
			}
			tokens = append(tokens, token{i, 1})
		default:
			if start < 0 {
				start = i
			}
		}
	}

	return tokens
}

func (z *ZMachine) read(opcode *Opcode) {
	z.flushOutput()
	z.outputChannel <- WaitForInput
	rawText := <-z.inputChannel

	textBufferPtr := uint32(opcode.operands[0])
	parseBufferPtr := uint32(opcode.operands[1])

	text := strings.TrimSpace(strings.ToLower(rawText))

	maxChars := int(z.Core.ReadByte(textBufferPtr)) - 1
	if maxChars < 0 {
		maxChars = 0
	}
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	for i := 0; i < len(text); i++ {
		z.writeDynamicByte(textBufferPtr+1+uint32(i), text[i])
	}
	z.writeDynamicByte(textBufferPtr+1+uint32(len(text)), 0)

	tokens := tokenise(text, z.dictionary)

	maxWords := int(z.Core.ReadByte(parseBufferPtr))
	if len(tokens) > maxWords {
		tokens = tokens[:maxWords]
	}

	z.writeDynamicByte(parseBufferPtr+1, uint8(len(tokens)))
	recordPtr := parseBufferPtr + 2
	for _, tok := range tokens {
		word := text[tok.start : tok.start+tok.length]
		z.writeDynamicHalfWord(recordPtr, z.dictionary.Find(zstring.Encode(word)))
		z.writeDynamicByte(recordPtr+2, uint8(tok.length))
		z.writeDynamicByte(recordPtr+3, uint8(tok.start+1))
		recordPtr += 4
	}
}

func (z *ZMachine) RemoveObject(objId uint16) {
	object := zobject.GetObject(objId, &z.Core)
	if object.Parent != 0 {
		oldParent := zobject.GetObject(object.Parent, &z.Core)

		// Remove from the old place in the sibling chain
		if oldParent.Child == object.Id {
			// First child case
			oldParent.SetChild(object.Sibling, &z.Core)
		} else {
			currObjId := oldParent.Child
			for currObjId != 0 {
				currObj := zobject.GetObject(currObjId, &z.Core)
				if currObj.Sibling == object.Id {
					currObj.SetSibling(object.Sibling, &z.Core)
					break
				}
				currObjId = currObj.Sibling
			}
		}

		object.SetParent(0, &z.Core)
	}

	object.SetSibling(0, &z.Core)
}

func (z *ZMachine) MoveObject(objId uint16, newParent uint16) {
	if objId == newParent {
		panic(fmt.Sprintf("Attempt to insert object %d into itself", objId))
	}

	object := zobject.GetObject(objId, &z.Core)
	destinationObject := zobject.GetObject(newParent, &z.Core)

	// Nothing to do if the parent already matches (the relink below would
	// corrupt the sibling chain if it ran)
	if object.Parent == destinationObject.Id {
		return
	}

	z.RemoveObject(object.Id)

	object.SetSibling(destinationObject.Child, &z.Core)
	object.SetParent(destinationObject.Id, &z.Core)
	destinationObject.SetChild(object.Id, &z.Core)
}

func (z *ZMachine) Run() {
	defer func() {
		if r := recover(); r != nil {
			z.outputChannel <- RuntimeError(fmt.Sprintf("%v", r))
		}
	}()

	z.running = true
	for z.running {
		z.StepMachine()
	}
}

func (z *ZMachine) StepMachine() {
	opcode := ParseOpcode(z)

	switch opcode.operandCount {
	case OP0:
		switch opcode.opcodeNumber {
		case 0: // RTRUE
			z.returnValue(1)

		case 1: // RFALSE
			z.returnValue(0)

		case 2: // PRINT
			text, bytesRead := zstring.Decode(&z.Core, z.pc)
			z.pc += bytesRead
			z.appendText(text)

		case 3: // PRINT_RET
			text, bytesRead := zstring.Decode(&z.Core, z.pc)
			z.pc += bytesRead
			z.appendText(text)
			z.appendText("\n")
			z.returnValue(1)

		case 4: // NOP

		case 5: // SAVE
			z.flushOutput()
			z.outputChannel <- Save{}
			response, ok := (<-z.saveRestoreChannel).(SaveResponse)
			z.handleBranch(ok && response.Success)

		case 6: // RESTORE
			z.flushOutput()
			z.outputChannel <- Restore{}
			response, ok := (<-z.saveRestoreChannel).(RestoreResponse)
			// On success the PC now points at the save opcode's branch
			// operand, so the branch consumed here is save's success path.
			z.handleBranch(ok && response.Success && z.ImportSaveState(response.Data))

		case 7: // RESTART
			z.flushOutput()
			z.outputChannel <- Restart(true)
			z.running = false

		case 8: // RET_POPPED
			z.returnValue(z.callStack.popEval())

		case 9: // POP
			z.callStack.popEval()

		case 10: // QUIT
			z.flushOutput()
			z.outputChannel <- Quit(true)
			z.running = false

		case 11: // NEW_LINE
			z.appendText("\n")

		case 12: // SHOW_STATUS - no status line on a teletype

		case 13: // VERIFY - interpreters are asked to be gullible
			z.handleBranch(true)

		default:
			panic(fmt.Sprintf("Opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, opcode.address))
		}

	case OP1:
		switch opcode.opcodeNumber {
		case 0: // JZ
			z.handleBranch(opcode.operands[0] == 0)

		case 1: // GET_SIBLING
			sibling := zobject.GetObject(opcode.operands[0], &z.Core).Sibling
			z.writeVariable(z.readIncPC(), sibling, false)
			z.handleBranch(sibling != 0)

		case 2: // GET_CHILD
			child := zobject.GetObject(opcode.operands[0], &z.Core).Child
			z.writeVariable(z.readIncPC(), child, false)
			z.handleBranch(child != 0)

		case 3: // GET_PARENT
			z.writeVariable(z.readIncPC(), zobject.GetObject(opcode.operands[0], &z.Core).Parent, false)

		case 4: // GET_PROP_LEN
			z.writeVariable(z.readIncPC(), zobject.GetPropertyLength(&z.Core, uint32(opcode.operands[0])), false)

		case 5: // INC
			v := uint8(opcode.operands[0])
			z.writeVariable(v, z.readVariable(v, true)+1, true)

		case 6: // DEC
			v := uint8(opcode.operands[0])
			z.writeVariable(v, z.readVariable(v, true)-1, true)

		case 7: // PRINT_ADDR
			address := uint32(opcode.operands[0])
			if !z.Core.BelowHigh(address) {
				panic(fmt.Sprintf("print_addr of 0x%x inside high memory", address))
			}
			text, _ := zstring.Decode(&z.Core, address)
			z.appendText(text)

		case 9: // REMOVE_OBJ
			z.RemoveObject(opcode.operands[0])

		case 10: // PRINT_OBJ
			z.appendText(zobject.GetObject(opcode.operands[0], &z.Core).Name)

		case 11: // RET
			z.returnValue(opcode.operands[0])

		case 12: // JUMP - unconditional, no branch byte
			offset := int16(opcode.operands[0])
			z.pc = uint32(int32(z.pc) + int32(offset) - 2)

		case 13: // PRINT_PADDR
			address := packedAddress(opcode.operands[0])
			if !z.Core.InHigh(address) {
				panic(fmt.Sprintf("print_paddr of 0x%x outside high memory", address))
			}
			text, _ := zstring.Decode(&z.Core, address)
			z.appendText(text)

		case 14: // LOAD - variable 0 peeks rather than pops
			z.writeVariable(z.readIncPC(), z.readVariable(uint8(opcode.operands[0]), true), false)

		case 15: // NOT
			z.writeVariable(z.readIncPC(), ^opcode.operands[0], false)

		default:
			panic(fmt.Sprintf("Invalid 1OP opcode 0x%x at 0x%x", opcode.opcodeByte, opcode.address))
		}

	case OP2:
		switch opcode.opcodeNumber {
		case 1: // JE - branch if any of the rest equal the first
			if len(opcode.operands) < 2 {
				panic(fmt.Sprintf("je requires at least 2 operands at 0x%x", opcode.address))
			}
			branch := false
			for _, b := range opcode.operands[1:] {
				if opcode.operands[0] == b {
					branch = true
				}
			}
			z.handleBranch(branch)

		case 2: // JL
			z.handleBranch(int16(opcode.operands[0]) < int16(opcode.operands[1]))

		case 3: // JG
			z.handleBranch(int16(opcode.operands[0]) > int16(opcode.operands[1]))

		case 4: // DEC_CHK
			v := uint8(opcode.operands[0])
			newValue := int16(z.readVariable(v, true)) - 1
			z.writeVariable(v, uint16(newValue), true)
			z.handleBranch(newValue < int16(opcode.operands[1]))

		case 5: // INC_CHK
			v := uint8(opcode.operands[0])
			newValue := int16(z.readVariable(v, true)) + 1
			z.writeVariable(v, uint16(newValue), true)
			z.handleBranch(newValue > int16(opcode.operands[1]))

		case 6: // JIN
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			z.handleBranch(obj.Parent == opcode.operands[1])

		case 7: // TEST
			bitmap := opcode.operands[0]
			flags := opcode.operands[1]
			z.handleBranch(bitmap&flags == flags)

		case 8: // OR
			z.writeVariable(z.readIncPC(), opcode.operands[0]|opcode.operands[1], false)

		case 9: // AND
			z.writeVariable(z.readIncPC(), opcode.operands[0]&opcode.operands[1], false)

		case 10: // TEST_ATTR
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			z.handleBranch(obj.TestAttribute(opcode.operands[1]))

		case 11: // SET_ATTR
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			obj.SetAttribute(opcode.operands[1], &z.Core)

		case 12: // CLEAR_ATTR
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			obj.ClearAttribute(opcode.operands[1], &z.Core)

		case 13: // STORE - variable 0 replaces top of stack, no push
			z.writeVariable(uint8(opcode.operands[0]), opcode.operands[1], true)

		case 14: // INSERT_OBJ
			z.MoveObject(opcode.operands[0], opcode.operands[1])

		case 15: // LOADW
			z.writeVariable(z.readIncPC(), z.readCheckedHalfWord(uint32(opcode.operands[0]+2*opcode.operands[1])), false)

		case 16: // LOADB
			z.writeVariable(z.readIncPC(), uint16(z.readCheckedByte(uint32(opcode.operands[0]+opcode.operands[1]))), false)

		case 17: // GET_PROP
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			prop := obj.GetProperty(uint8(opcode.operands[1]), &z.Core)

			value := uint16(prop.Data[0])
			if len(prop.Data) == 2 {
				value = binary.BigEndian.Uint16(prop.Data)
			} else if len(prop.Data) > 2 {
				panic(fmt.Sprintf("Can't get property %d with length %d using get_prop", prop.Id, len(prop.Data)))
			}

			z.writeVariable(z.readIncPC(), value, false)

		case 18: // GET_PROP_ADDR
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			prop := obj.GetProperty(uint8(opcode.operands[1]), &z.Core)
			z.writeVariable(z.readIncPC(), uint16(prop.DataAddress), false)

		case 19: // GET_NEXT_PROP
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			z.writeVariable(z.readIncPC(), uint16(obj.GetNextProperty(uint8(opcode.operands[1]), &z.Core)), false)

		case 20: // ADD
			z.writeVariable(z.readIncPC(), opcode.operands[0]+opcode.operands[1], false)

		case 21: // SUB
			z.writeVariable(z.readIncPC(), opcode.operands[0]-opcode.operands[1], false)

		case 22: // MUL
			z.writeVariable(z.readIncPC(), opcode.operands[0]*opcode.operands[1], false)

		case 23: // DIV
			numerator := int16(opcode.operands[0])
			denominator := int16(opcode.operands[1])
			if denominator == 0 {
				panic(fmt.Sprintf("Division by zero at 0x%x", opcode.address))
			}
			z.writeVariable(z.readIncPC(), uint16(numerator/denominator), false)

		case 24: // MOD
			numerator := int16(opcode.operands[0])
			denominator := int16(opcode.operands[1])
			if denominator == 0 {
				panic(fmt.Sprintf("Modulo by zero at 0x%x", opcode.address))
			}
			z.writeVariable(z.readIncPC(), uint16(numerator%denominator), false)

		default:
			panic(fmt.Sprintf("Invalid 2OP opcode 0x%x at 0x%x", opcode.opcodeByte, opcode.address))
		}

	case VAR:
		switch opcode.opcodeNumber {
		case 0: // CALL
			z.call(&opcode)

		case 1: // STOREW
			z.writeDynamicHalfWord(uint32(opcode.operands[0]+2*opcode.operands[1]), opcode.operands[2])

		case 2: // STOREB
			z.writeDynamicByte(uint32(opcode.operands[0]+opcode.operands[1]), uint8(opcode.operands[2]))

		case 3: // PUT_PROP
			obj := zobject.GetObject(opcode.operands[0], &z.Core)
			obj.SetProperty(uint8(opcode.operands[1]), opcode.operands[2], &z.Core)

		case 4: // SREAD
			z.read(&opcode)

		case 5: // PRINT_CHAR
			chr := uint8(opcode.operands[0])
			if chr == 13 {
				z.appendText("\n")
			} else if chr >= 32 && chr <= 126 {
				z.appendText(string(rune(chr)))
			}
			// Anything else is quietly dropped

		case 6: // PRINT_NUM
			z.appendText(strconv.Itoa(int(int16(opcode.operands[0]))))

		case 7: // RANDOM
			n := int16(opcode.operands[0])
			result := uint16(0)
			if n > 0 {
				result = z.rng.next(uint16(n))
			} else {
				z.rng.seed(n)
			}
			z.writeVariable(z.readIncPC(), result, false)

		case 8: // PUSH
			z.callStack.pushEval(opcode.operands[0])

		case 9: // PULL
			z.writeVariable(uint8(opcode.operands[0]), z.callStack.popEval(), true)

		case 10, 11, 19, 20, 21: // SPLIT_WINDOW, SET_WINDOW, OUTPUT_STREAM, INPUT_STREAM, SOUND_EFFECT
			// Legal on v3 but meaningless on a teletype; operands are
			// already consumed by the decoder.

		default:
			panic(fmt.Sprintf("Opcode not implemented 0x%x at 0x%x", opcode.opcodeByte, opcode.address))
		}
	}
}
