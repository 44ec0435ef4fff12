// Package bytecode defines the instruction set and chunk format shared by
// the compiler and the virtual machine. It knows nothing about Value or Obj
// representations; constants are carried as opaque `any` so this package has
// no dependency on internal/vm.
package bytecode

//go:generate stringer -type=OpCode

type OpCode byte

const (
	OpConstant OpCode = iota
	OpConstantLong
	OpNil
	OpTrue
	OpFalse
	OpPop
	OpGetLocal
	OpSetLocal
	OpGetGlobal
	OpDefineGlobal
	OpSetGlobal
	OpGetGlobalLong
	OpDefineGlobalLong
	OpSetGlobalLong
	OpGetUpvalue
	OpSetUpvalue
	OpCloseUpvalue
	OpEqual
	OpGreater
	OpLess
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate
	OpPrint
	OpJump
	OpJumpIfFalse
	OpLoop
	OpCall
	OpClosure
	OpReturn
)

// String returns the opcode's OP_* name, or OP_UNKNOWN for a byte outside
// the set. Hand-written in the layout `stringer` would generate, since the
// toolchain that would normally run go:generate isn't available here.
func (op OpCode) String() string {
	switch op {
	case OpConstant:
		return "OP_CONSTANT"
	case OpConstantLong:
		return "OP_CONSTANT_LONG"
	case OpNil:
		return "OP_NIL"
	case OpTrue:
		return "OP_TRUE"
	case OpFalse:
		return "OP_FALSE"
	case OpPop:
		return "OP_POP"
	case OpGetLocal:
		return "OP_GET_LOCAL"
	case OpSetLocal:
		return "OP_SET_LOCAL"
	case OpGetGlobal:
		return "OP_GET_GLOBAL"
	case OpDefineGlobal:
		return "OP_DEFINE_GLOBAL"
	case OpSetGlobal:
		return "OP_SET_GLOBAL"
	case OpGetGlobalLong:
		return "OP_GET_GLOBAL_LONG"
	case OpDefineGlobalLong:
		return "OP_DEFINE_GLOBAL_LONG"
	case OpSetGlobalLong:
		return "OP_SET_GLOBAL_LONG"
	case OpGetUpvalue:
		return "OP_GET_UPVALUE"
	case OpSetUpvalue:
		return "OP_SET_UPVALUE"
	case OpCloseUpvalue:
		return "OP_CLOSE_UPVALUE"
	case OpEqual:
		return "OP_EQUAL"
	case OpGreater:
		return "OP_GREATER"
	case OpLess:
		return "OP_LESS"
	case OpAdd:
		return "OP_ADD"
	case OpSubtract:
		return "OP_SUBTRACT"
	case OpMultiply:
		return "OP_MULTIPLY"
	case OpDivide:
		return "OP_DIVIDE"
	case OpNot:
		return "OP_NOT"
	case OpNegate:
		return "OP_NEGATE"
	case OpPrint:
		return "OP_PRINT"
	case OpJump:
		return "OP_JUMP"
	case OpJumpIfFalse:
		return "OP_JUMP_IF_FALSE"
	case OpLoop:
		return "OP_LOOP"
	case OpCall:
		return "OP_CALL"
	case OpClosure:
		return "OP_CLOSURE"
	case OpReturn:
		return "OP_RETURN"
	default:
		return "OP_UNKNOWN"
	}
}
