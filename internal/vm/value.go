package vm

import (
	"fmt"
	"strconv"

	"sentra/internal/bytecode"
)

// Value is a Lox runtime value. Go's interface dynamic-typing already gives
// us the tagged union the original C struct hand-rolls (VAL_BOOL, VAL_NIL,
// VAL_NUMBER plus a pointer-to-Obj variant): nil, bool and float64 stand in
// directly for the non-object variants, and the Obj* types below stand in
// for the object variant.
type Value = any

// ObjString is an interned, immutable string. Two ObjStrings with equal
// Chars are always the same *ObjString, so Go's native pointer equality
// (and map-key equality, via the Chars field) doubles as Lox string
// equality.
type ObjString struct {
	Chars string
	Hash  uint32
}

// ObjFunction is the compile-time artifact produced by the compiler: a name,
// an arity and the Chunk that implements its body. The top-level script
// compiles to a nameless ObjFunction of arity 0.
type ObjFunction struct {
	Name         string
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
}

// ObjClosure pairs a Function with the Upvalues it captured at the point it
// was created by OP_CLOSURE.
type ObjClosure struct {
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

// ObjUpvalue is a captured variable cell. While Open it refers to a slot in
// the VM's value stack by index rather than by pointer: the stack here is a
// fixed-size array that never reallocates, but using an index instead of a
// raw pointer avoids the aliasing hazard a literal pointer-into-slice port
// would carry if that ever changed. Once the frame that owns the slot
// returns, the VM closes the upvalue: it copies the live value into Closed
// and flips Open off, after which reads and writes go through Closed
// instead.
type ObjUpvalue struct {
	Open  bool
	Slot  int
	Closed Value
}

// ObjNative is a host-provided function callable from Lox. Arity of -1
// marks a variadic native (read_number's prompt argument is optional).
type ObjNative struct {
	Name  string
	Arity int
	Fn    func(vm *VM, args []Value) (Value, error)
}

func typeName(val Value) string {
	switch val.(type) {
	case nil:
		return "nil"
	case bool:
		return "bool"
	case float64:
		return "number"
	case *ObjString:
		return "string"
	case *ObjFunction:
		return "function"
	case *ObjClosure:
		return "closure"
	case *ObjNative:
		return "native function"
	default:
		return "unknown"
	}
}

// isTruthy implements Lox truthiness: nil and false are falsy, everything
// else (including 0 and the empty string) is truthy.
func isTruthy(val Value) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// valuesEqual implements OP_EQUAL: different dynamic types are never equal;
// numbers compare by value; strings compare by pointer identity, which is
// sound because they are interned; everything else compares by identity.
func valuesEqual(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case *ObjString:
		bv, ok := b.(*ObjString)
		return ok && av == bv
	default:
		return a == b
	}
}

// stringify renders a value the way OP_PRINT and string conversion do:
// numbers use the shortest representation round-tripping through %g,
// functions print as <fn NAME> (or <script> for the nameless top level),
// natives as <native fn>.
func stringify(val Value) string {
	switch v := val.(type) {
	case nil:
		return "nil"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case *ObjString:
		return v.Chars
	case *ObjFunction:
		if v.Name == "" {
			return "<script>"
		}
		return fmt.Sprintf("<fn %s>", v.Name)
	case *ObjClosure:
		return stringify(v.Function)
	case *ObjNative:
		return "<native fn>"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// hashString computes the FNV-1a hash used by the intern table, matching
// the original's reserve_string: basis 2166136261, prime 16777619, one
// XOR-then-multiply step per byte.
func hashString(s string) uint32 {
	const basis uint32 = 2166136261
	const prime uint32 = 16777619
	h := basis
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
