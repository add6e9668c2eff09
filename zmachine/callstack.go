package zmachine

import "fmt"

const stackCapacity = 1024

// CallStack is a fixed capacity array of 16 bit cells holding both the
// evaluation stack and the interleaved call frames. Each frame occupies,
// from low to high: return PC (two cells, high first), previous frame
// index, local count, the locals, then that routine's evaluation cells.
// frame points at the previous-frame-index cell, -1 at the root; top is
// the last used cell, -1 when empty.
type CallStack struct {
	cells [stackCapacity]uint16
	top   int
	frame int
}

func newCallStack() CallStack {
	return CallStack{top: -1, frame: -1}
}

func (s *CallStack) reset() {
	s.top = -1
	s.frame = -1
}

func (s *CallStack) push(value uint16) {
	if s.top+1 >= stackCapacity {
		panic("Stack overflow")
	}

	s.top++
	s.cells[s.top] = value
}

func (s *CallStack) pop() uint16 {
	if s.top < 0 {
		panic("Stack underflow")
	}

	value := s.cells[s.top]
	s.top--
	return value
}

func (s *CallStack) peek(index int) uint16 {
	if index < 0 || index > s.top {
		panic(fmt.Sprintf("Stack peek out of range (index %d, top %d)", index, s.top))
	}

	return s.cells[index]
}

func (s *CallStack) poke(index int, value uint16) {
	if index < 0 || index > s.top {
		panic(fmt.Sprintf("Stack poke out of range (index %d, top %d)", index, s.top))
	}

	s.cells[index] = value
}

// Return addresses can exceed 0x10000 so they take two cells, high half
// first.
func (s *CallStack) pushU32(value uint32) {
	s.push(uint16(value >> 16))
	s.push(uint16(value))
}

func (s *CallStack) popU32() uint32 {
	low := s.pop()
	high := s.pop()
	return uint32(high)<<16 | uint32(low)
}

func (s *CallStack) localCount() int {
	if s.frame < 0 {
		return 0
	}

	return int(s.cells[s.frame+1])
}

// Locals are 1-indexed within the current frame.
func (s *CallStack) local(k int) uint16 {
	return s.peek(s.frame + 1 + k)
}

func (s *CallStack) setLocal(k int, value uint16) {
	s.poke(s.frame+1+k, value)
}

// evalFloor is the first cell belonging to the current frame's evaluation
// stack. Pops below it would eat the frame record.
func (s *CallStack) evalFloor() int {
	if s.frame < 0 {
		return 0
	}

	return s.frame + 2 + s.localCount()
}

func (s *CallStack) pushEval(value uint16) {
	s.push(value)
}

func (s *CallStack) popEval() uint16 {
	if s.top < s.evalFloor() {
		panic("Attempt to pop from empty routine stack")
	}

	return s.pop()
}

func (s *CallStack) peekEval() uint16 {
	if s.top < s.evalFloor() {
		panic("Attempt to peek at empty routine stack")
	}

	return s.cells[s.top]
}

// replaceEval swaps the top of the evaluation stack in place, used by the
// indirect variable-0 writes (inc, dec, inc_chk, dec_chk, store, pull).
func (s *CallStack) replaceEval(value uint16) {
	if s.top < s.evalFloor() {
		panic("Attempt to replace top of empty routine stack")
	}

	s.cells[s.top] = value
}
