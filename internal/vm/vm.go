package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"

	"sentra/internal/bytecode"
)

const (
	// FramesMax bounds the call-frame stack; exceeding it is a runtime
	// "Stack overflow." error rather than a Go stack overflow.
	FramesMax = 64
	// StackMax is the fixed size of the value stack: enough slots for
	// every frame to use its full local range.
	StackMax = FramesMax * 256
)

// CallFrame is one activation of a Closure. Slots points into the shared
// value stack at the base of the frame's local region; slot 0 holds the
// called Closure itself, and arguments occupy slots 1..=arity.
type CallFrame struct {
	closure  *ObjClosure
	ip       int
	slotBase int
}

// VM is a single bytecode interpreter run. It owns the value stack, the
// call-frame stack, the globals table and the string intern table. Running
// a file uses one fresh VM; the REPL reuses one VM for every line, so
// globals persist between lines. Nothing here is safe to share across
// goroutines.
type VM struct {
	stack      [StackMax]Value
	stackTop   int
	frames     [FramesMax]CallFrame
	frameCount int

	globals map[string]Value
	strings map[string]*ObjString

	openUpvalues []*ObjUpvalue

	// RunID is a random identifier assigned to this VM instance by New. It
	// is not written to stderr traces or to any REPL output.
	RunID string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	startTime   func() float64
	stdinReader *bufio.Reader
}

// New creates a VM with its native functions registered and stdio wired to
// the process defaults.
func New() *VM {
	vm := &VM{
		globals: make(map[string]Value),
		strings: make(map[string]*ObjString),
		RunID:   uuid.NewString(),
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
	vm.defineNatives()
	return vm
}

// Intern returns the canonical *ObjString for s, allocating one the first
// time a given content is seen. Because equal content always maps to the
// same pointer, Go's native == over *ObjString implements Lox string
// equality without a special case.
func (vm *VM) Intern(s string) *ObjString {
	if existing, ok := vm.strings[s]; ok {
		return existing
	}
	str := &ObjString{Chars: s, Hash: hashString(s)}
	vm.strings[s] = str
	return str
}

func (vm *VM) push(val Value) {
	vm.stack[vm.stackTop] = val
	vm.stackTop++
}

func (vm *VM) pop() Value {
	vm.stackTop--
	val := vm.stack[vm.stackTop]
	vm.stack[vm.stackTop] = nil
	return val
}

func (vm *VM) peek(distance int) Value {
	return vm.stack[vm.stackTop-1-distance]
}

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// RuntimeError is returned by run when the dispatch loop hits a Lox-level
// error or an unknown opcode. Other malformed bytecode (a constant of the
// wrong type, an out-of-range operand) panics instead. The formatted
// message and stack trace have already been written to Stderr by the time
// run returns it.
type RuntimeError struct {
	Message string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// runtimeError formats msg, writes it and a top-to-bottom stack trace to
// Stderr exactly as specified, resets the stack so the VM (or a fresh REPL
// line) starts clean, and returns the error for Run to propagate.
func (vm *VM) runtimeError(format string, args ...any) *RuntimeError {
	message := fmt.Sprintf(format, args...)
	fmt.Fprintln(vm.Stderr, message)

	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := fn.Chunk.GetLine(frame.ip - 1)
		if fn.Name == "" {
			fmt.Fprintf(vm.Stderr, "[line %d] in script\n", line)
		} else {
			fmt.Fprintf(vm.Stderr, "[line %d] in %s()\n", line, fn.Name)
		}
	}

	vm.resetStack()
	return &RuntimeError{Message: message}
}

// Interpret runs a freshly compiled top-level function to completion. It
// wraps fn in a Closure (the top-level script has no upvalues to capture)
// and calls it with zero arguments: the Closure is pushed into slot 0, a
// frame is set up for it, and the dispatch loop runs.
func (vm *VM) Interpret(fn *ObjFunction) error {
	closure := &ObjClosure{Function: fn, Upvalues: make([]*ObjUpvalue, fn.UpvalueCount)}
	vm.push(closure)
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

func (vm *VM) currentFrame() *CallFrame {
	return &vm.frames[vm.frameCount-1]
}

func (vm *VM) readByte(frame *CallFrame) byte {
	b := frame.closure.Function.Chunk.Code[frame.ip]
	frame.ip++
	return b
}

func (vm *VM) readShort(frame *CallFrame) int {
	high := int(vm.readByte(frame))
	low := int(vm.readByte(frame))
	return (high << 8) | low
}

func (vm *VM) read24(frame *CallFrame) int {
	a := int(vm.readByte(frame))
	b := int(vm.readByte(frame))
	c := int(vm.readByte(frame))
	return (a << 16) | (b << 8) | c
}

func (vm *VM) readConstant(frame *CallFrame) Value {
	idx := int(vm.readByte(frame))
	return frame.closure.Function.Chunk.Constants[idx]
}

func (vm *VM) readConstantLong(frame *CallFrame) Value {
	idx := vm.read24(frame)
	return frame.closure.Function.Chunk.Constants[idx]
}

// run is the dispatch loop: a tight switch over the next opcode. Operand
// decoding is inlined per opcode and advances ip before the opcode body
// executes, matching the original's instruction boundaries.
func (vm *VM) run() error {
	frame := vm.currentFrame()

	for {
		op := bytecode.OpCode(vm.readByte(frame))

		switch op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant(frame))

		case bytecode.OpConstantLong:
			vm.push(vm.readConstantLong(frame))

		case bytecode.OpNil:
			vm.push(nil)

		case bytecode.OpTrue:
			vm.push(true)

		case bytecode.OpFalse:
			vm.push(false)

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(vm.readByte(frame))
			vm.push(vm.stack[frame.slotBase+slot])

		case bytecode.OpSetLocal:
			slot := int(vm.readByte(frame))
			vm.stack[frame.slotBase+slot] = vm.peek(0)

		case bytecode.OpGetGlobal, bytecode.OpGetGlobalLong:
			name := vm.globalName(frame, op)
			val, ok := vm.globals[name]
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name)
			}
			vm.push(val)

		case bytecode.OpDefineGlobal, bytecode.OpDefineGlobalLong:
			name := vm.globalName(frame, op)
			vm.globals[name] = vm.pop()

		case bytecode.OpSetGlobal, bytecode.OpSetGlobalLong:
			name := vm.globalName(frame, op)
			if _, ok := vm.globals[name]; !ok {
				return vm.runtimeError("Undefined variable '%s'.", name)
			}
			vm.globals[name] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			slot := int(vm.readByte(frame))
			vm.push(vm.getUpvalue(frame.closure.Upvalues[slot]))

		case bytecode.OpSetUpvalue:
			slot := int(vm.readByte(frame))
			vm.setUpvalue(frame.closure.Upvalues[slot], vm.peek(0))

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(valuesEqual(a, b))

		case bytecode.OpGreater:
			if err := vm.numericBinaryOp(func(a, b float64) Value { return a > b }); err != nil {
				return err
			}

		case bytecode.OpLess:
			if err := vm.numericBinaryOp(func(a, b float64) Value { return a < b }); err != nil {
				return err
			}

		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return err
			}

		case bytecode.OpSubtract:
			if err := vm.numericBinaryOp(func(a, b float64) Value { return a - b }); err != nil {
				return err
			}

		case bytecode.OpMultiply:
			if err := vm.numericBinaryOp(func(a, b float64) Value { return a * b }); err != nil {
				return err
			}

		case bytecode.OpDivide:
			if err := vm.numericBinaryOp(func(a, b float64) Value { return a / b }); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.push(!isTruthy(vm.pop()))

		case bytecode.OpNegate:
			n, ok := vm.peek(0).(float64)
			if !ok {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.pop()
			vm.push(-n)

		case bytecode.OpPrint:
			fmt.Fprintln(vm.Stdout, stringify(vm.pop()))

		case bytecode.OpJump:
			offset := vm.readShort(frame)
			frame.ip += offset

		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(frame)
			if !isTruthy(vm.peek(0)) {
				frame.ip += offset
			}

		case bytecode.OpLoop:
			offset := vm.readShort(frame)
			frame.ip -= offset

		case bytecode.OpCall:
			argCount := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = vm.currentFrame()

		case bytecode.OpClosure:
			fn := vm.readConstant(frame).(*ObjFunction)
			closure := &ObjClosure{Function: fn, Upvalues: make([]*ObjUpvalue, fn.UpvalueCount)}
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(frame)
				index := int(vm.readByte(frame))
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slotBase + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
			vm.push(closure)

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slotBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slotBase
			vm.push(result)
			frame = vm.currentFrame()

		default:
			return vm.runtimeError("Unknown opcode %d.", op)
		}
	}
}

// globalName resolves the name operand of a globals opcode, using the long
// encoding when op is one of the *Long variants.
func (vm *VM) globalName(frame *CallFrame, op bytecode.OpCode) string {
	switch op {
	case bytecode.OpGetGlobalLong, bytecode.OpDefineGlobalLong, bytecode.OpSetGlobalLong:
		return vm.readConstantLong(frame).(*ObjString).Chars
	default:
		return vm.readConstant(frame).(*ObjString).Chars
	}
}

func (vm *VM) numericBinaryOp(op func(a, b float64) Value) error {
	b, bOk := vm.peek(0).(float64)
	a, aOk := vm.peek(1).(float64)
	if !aOk || !bOk {
		return vm.runtimeError("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(op(a, b))
	return nil
}

// add implements OP_ADD's polymorphism: string+string concatenates,
// number+number adds, anything else is a runtime error.
func (vm *VM) add() error {
	b := vm.peek(0)
	a := vm.peek(1)

	as, aIsString := a.(*ObjString)
	bs, bIsString := b.(*ObjString)
	if aIsString && bIsString {
		vm.pop()
		vm.pop()
		vm.push(vm.concatenate(as, bs))
		return nil
	}

	af, aIsNumber := a.(float64)
	bf, bIsNumber := b.(float64)
	if aIsNumber && bIsNumber {
		vm.pop()
		vm.pop()
		vm.push(af + bf)
		return nil
	}

	return vm.runtimeError("Operands must be two numbers or two strings.")
}

// concatenate builds the combined string and interns it. The original
// allocates eagerly and rewinds vm.objects if the intern table already has
// an equal string, to avoid leaking the transient allocation; Go's garbage
// collector makes that rewind moot, but the lookup-before-adopt behavior is
// preserved so concatenation still shares one allocation per distinct
// content.
func (vm *VM) concatenate(a, b *ObjString) *ObjString {
	return vm.Intern(a.Chars + b.Chars)
}

func (vm *VM) getUpvalue(uv *ObjUpvalue) Value {
	if uv.Open {
		return vm.stack[uv.Slot]
	}
	return uv.Closed
}

func (vm *VM) setUpvalue(uv *ObjUpvalue, val Value) {
	if uv.Open {
		vm.stack[uv.Slot] = val
	} else {
		uv.Closed = val
	}
}

// captureUpvalue returns the single Upvalue for a given stack slot, per the
// spec's "exactly one Upvalue object per local capture" invariant: reuse an
// existing open upvalue for that slot if one exists, otherwise insert a new
// one keeping openUpvalues sorted by descending slot.
func (vm *VM) captureUpvalue(slot int) *ObjUpvalue {
	i := sort.Search(len(vm.openUpvalues), func(i int) bool {
		return vm.openUpvalues[i].Slot <= slot
	})
	if i < len(vm.openUpvalues) && vm.openUpvalues[i].Slot == slot {
		return vm.openUpvalues[i]
	}

	created := &ObjUpvalue{Open: true, Slot: slot}
	vm.openUpvalues = append(vm.openUpvalues, nil)
	copy(vm.openUpvalues[i+1:], vm.openUpvalues[i:])
	vm.openUpvalues[i] = created
	return created
}

// closeUpvalues hoists every open upvalue at or above boundary into its own
// Closed field and unlinks it, so it survives the frame that owned its
// stack slot going away.
func (vm *VM) closeUpvalues(boundary int) {
	i := 0
	for i < len(vm.openUpvalues) && vm.openUpvalues[i].Slot >= boundary {
		uv := vm.openUpvalues[i]
		uv.Closed = vm.stack[uv.Slot]
		uv.Open = false
		i++
	}
	vm.openUpvalues = vm.openUpvalues[i:]
}

func (vm *VM) callValue(callee Value, argCount int) error {
	switch c := callee.(type) {
	case *ObjClosure:
		return vm.call(c, argCount)
	case *ObjNative:
		args := make([]Value, argCount)
		copy(args, vm.stack[vm.stackTop-argCount:vm.stackTop])
		result, err := c.Fn(vm, args)
		if err != nil {
			return vm.runtimeError("%s", err.Error())
		}
		vm.stackTop -= argCount + 1
		vm.push(result)
		return nil
	default:
		return vm.runtimeError("Can only call functions and classes.")
	}
}

func (vm *VM) call(closure *ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments, but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}

	vm.frames[vm.frameCount] = CallFrame{
		closure:  closure,
		ip:       0,
		slotBase: vm.stackTop - argCount - 1,
	}
	vm.frameCount++
	return nil
}
