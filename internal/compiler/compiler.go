// Package compiler implements the single-pass Pratt compiler: it consumes
// a lexer.Scanner's tokens and emits a bytecode.Chunk directly, with no
// intermediate AST. Local and upvalue resolution happen on a synthetic
// scope stack kept alongside the Chunk being built, one compilerState per
// function currently being compiled.
package compiler

import (
	"fmt"
	"io"
	"strconv"

	"sentra/internal/bytecode"
	"sentra/internal/lexer"
	"sentra/internal/vm"
)

type funcType int

const (
	typeFunction funcType = iota
	typeScript
)

type localVar struct {
	name       string
	depth      int
	isCaptured bool
}

type upvalueRef struct {
	index   byte
	isLocal bool
}

// compilerState tracks everything scoped to one function body being
// compiled: its locals, the upvalues it captures from enclosing functions,
// and the Chunk it emits into. enclosing chains outward to the function
// that contains this one, terminating at the top-level script.
type compilerState struct {
	enclosing  *compilerState
	function   *vm.ObjFunction
	fnType     funcType
	locals     []localVar
	upvalues   []upvalueRef
	scopeDepth int
}

func newCompilerState(enclosing *compilerState, fnType funcType, name string) *compilerState {
	cs := &compilerState{
		enclosing: enclosing,
		function:  &vm.ObjFunction{Name: name, Chunk: bytecode.NewChunk()},
		fnType:    fnType,
	}
	// Slot 0 is reserved for the function/closure value itself; it has no
	// name a Lox program could reference.
	cs.locals = append(cs.locals, localVar{name: "", depth: 0})
	return cs
}

// Parser drives the scanner one token at a time and emits bytecode as it
// goes; it never builds a persisted syntax tree.
type Parser struct {
	scanner *lexer.Scanner
	current lexer.Token
	previous lexer.Token

	compiler *compilerState
	vm       *vm.VM

	hadError  bool
	panicMode bool

	Stderr io.Writer
}

// Compile compiles source into the top-level script function. The VM
// passed in is used for string interning (constants need canonical
// *vm.ObjString values to share identity with runtime strings) and its
// Stderr receives compile diagnostics; nothing is executed. The second return value is false if any compile error was
// reported, matching interpret()'s COMPILE_ERROR path.
func Compile(source string, interp *vm.VM) (*vm.ObjFunction, bool) {
	p := &Parser{
		scanner: lexer.New(source),
		vm:      interp,
		Stderr:  interp.Stderr,
	}
	p.compiler = newCompilerState(nil, typeScript, "")

	p.advance()
	for !p.match(lexer.TokenEOF) {
		p.declaration()
	}
	fn := p.endCompiler()

	return fn, !p.hadError
}

func (p *Parser) currentChunk() *bytecode.Chunk {
	return p.compiler.function.Chunk
}

// --- token stream -----------------------------------------------------

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.ScanToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.current.Type == t
}

func (p *Parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(t lexer.TokenType, msg string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

// --- error reporting ----------------------------------------------------

func (p *Parser) errorAt(tok lexer.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	fmt.Fprintf(p.Stderr, "[line %d] Error", tok.Line)
	switch tok.Type {
	case lexer.TokenEOF:
		fmt.Fprint(p.Stderr, " at end")
	case lexer.TokenError:
		// The message itself already names the problem; no lexeme to show.
	default:
		fmt.Fprintf(p.Stderr, " at '%s'", tok.Lexeme)
	}
	fmt.Fprintf(p.Stderr, ": %s\n", msg)
}

func (p *Parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }
func (p *Parser) error(msg string)          { p.errorAt(p.previous, msg) }

// --- bytecode emission ---------------------------------------------------

func (p *Parser) emitByte(b byte) {
	p.currentChunk().Write(b, p.previous.Line)
}

func (p *Parser) emitBytes(bs ...byte) {
	for _, b := range bs {
		p.emitByte(b)
	}
}

func (p *Parser) emitReturn() {
	p.emitByte(byte(bytecode.OpNil))
	p.emitByte(byte(bytecode.OpReturn))
}

// makeConstant appends val to the current chunk's constant pool, bounded by
// OP_CONSTANT_LONG's 24-bit operand.
func (p *Parser) makeConstant(val vm.Value) int {
	idx := p.currentChunk().AddConstant(val)
	if idx > 0xFFFFFF {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

// makeByteConstant is for operands that only ever carry a one-byte index
// (OP_CLOSURE's function operand has no long form): it reports "Too many
// constants in one chunk." when the new constant's index exceeds 255.
func (p *Parser) makeByteConstant(val vm.Value) int {
	idx := p.makeConstant(val)
	if idx > 0xFF {
		p.error("Too many constants in one chunk.")
		return 0
	}
	return idx
}

func (p *Parser) emit24(v int) {
	p.emitByte(byte(v >> 16))
	p.emitByte(byte(v >> 8))
	p.emitByte(byte(v))
}

// emitConstantIndex picks the one-byte or three-byte encoding for idx,
// mirroring OP_CONSTANT / OP_CONSTANT_LONG's own selection rule. The same
// choice is reused for the globals opcodes (DEFINE/GET/SET), which this
// port promotes to carry the same pair of encodings.
func (p *Parser) emitConstantIndex(idx int, shortOp, longOp bytecode.OpCode) {
	if idx <= 0xFF {
		p.emitByte(byte(shortOp))
		p.emitByte(byte(idx))
	} else {
		p.emitByte(byte(longOp))
		p.emit24(idx)
	}
}

func (p *Parser) emitConstant(val vm.Value) {
	idx := p.makeConstant(val)
	p.emitConstantIndex(idx, bytecode.OpConstant, bytecode.OpConstantLong)
}

// emitJump emits a jump opcode with a placeholder 16-bit offset and returns
// the offset of the placeholder's first byte, for patchJump to fill in once
// the jump target is known.
func (p *Parser) emitJump(op bytecode.OpCode) int {
	p.emitByte(byte(op))
	p.emitByte(0xff)
	p.emitByte(0xff)
	return len(p.currentChunk().Code) - 2
}

func (p *Parser) patchJump(offset int) {
	jump := len(p.currentChunk().Code) - offset - 2
	if jump > 0xFFFF {
		p.error("Too much code to jump over.")
	}
	p.currentChunk().Code[offset] = byte(jump >> 8)
	p.currentChunk().Code[offset+1] = byte(jump)
}

func (p *Parser) emitLoop(loopStart int) {
	p.emitByte(byte(bytecode.OpLoop))
	offset := len(p.currentChunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		p.error("Loop body too large.")
	}
	p.emitByte(byte(offset >> 8))
	p.emitByte(byte(offset))
}

func (p *Parser) endCompiler() *vm.ObjFunction {
	p.emitReturn()
	fn := p.compiler.function
	p.compiler = p.compiler.enclosing
	return fn
}

// --- expression parsing ---------------------------------------------------

func (p *Parser) parsePrecedence(prec Precedence) {
	p.advance()
	prefix := ruleFor(p.previous.Type).prefix
	if prefix == nil {
		p.error("Expect expression.")
		return
	}

	canAssign := prec <= PrecAssignment
	prefix(p, canAssign)

	for prec <= ruleFor(p.current.Type).precedence {
		p.advance()
		infix := ruleFor(p.previous.Type).infix
		infix(p, canAssign)
	}
}

func (p *Parser) expression() {
	p.parsePrecedence(PrecAssignment)
}

func (p *Parser) number(_ bool) {
	n, _ := strconv.ParseFloat(p.previous.Lexeme, 64)
	p.emitConstant(n)
}

func (p *Parser) stringLiteral(_ bool) {
	lexeme := p.previous.Lexeme
	p.emitConstant(p.vm.Intern(lexeme[1 : len(lexeme)-1]))
}

func (p *Parser) literal(_ bool) {
	switch p.previous.Type {
	case lexer.TokenFalse:
		p.emitByte(byte(bytecode.OpFalse))
	case lexer.TokenTrue:
		p.emitByte(byte(bytecode.OpTrue))
	case lexer.TokenNil:
		p.emitByte(byte(bytecode.OpNil))
	}
}

func (p *Parser) grouping(_ bool) {
	p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after expression.")
}

func (p *Parser) unary(_ bool) {
	operator := p.previous.Type
	p.parsePrecedence(PrecUnary)
	switch operator {
	case lexer.TokenBang:
		p.emitByte(byte(bytecode.OpNot))
	case lexer.TokenMinus:
		p.emitByte(byte(bytecode.OpNegate))
	}
}

func (p *Parser) binary(_ bool) {
	operator := p.previous.Type
	rule := ruleFor(operator)
	p.parsePrecedence(rule.precedence + 1)

	switch operator {
	case lexer.TokenPlus:
		p.emitByte(byte(bytecode.OpAdd))
	case lexer.TokenMinus:
		p.emitByte(byte(bytecode.OpSubtract))
	case lexer.TokenStar:
		p.emitByte(byte(bytecode.OpMultiply))
	case lexer.TokenSlash:
		p.emitByte(byte(bytecode.OpDivide))
	case lexer.TokenEqualEqual:
		p.emitByte(byte(bytecode.OpEqual))
	case lexer.TokenBangEqual:
		p.emitBytes(byte(bytecode.OpEqual), byte(bytecode.OpNot))
	case lexer.TokenGreater:
		p.emitByte(byte(bytecode.OpGreater))
	case lexer.TokenGreaterEqual:
		p.emitBytes(byte(bytecode.OpLess), byte(bytecode.OpNot))
	case lexer.TokenLess:
		p.emitByte(byte(bytecode.OpLess))
	case lexer.TokenLessEqual:
		p.emitBytes(byte(bytecode.OpGreater), byte(bytecode.OpNot))
	}
}

func (p *Parser) and(_ bool) {
	endJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitByte(byte(bytecode.OpPop))
	p.parsePrecedence(PrecAnd)
	p.patchJump(endJump)
}

func (p *Parser) or(_ bool) {
	elseJump := p.emitJump(bytecode.OpJumpIfFalse)
	endJump := p.emitJump(bytecode.OpJump)
	p.patchJump(elseJump)
	p.emitByte(byte(bytecode.OpPop))
	p.parsePrecedence(PrecOr)
	p.patchJump(endJump)
}

func (p *Parser) call(_ bool) {
	argCount := p.argumentList()
	p.emitBytes(byte(bytecode.OpCall), argCount)
}

func (p *Parser) argumentList() byte {
	count := 0
	if !p.check(lexer.TokenRightParen) {
		for {
			p.expression()
			if count == 255 {
				p.error("Can't have more than 255 arguments.")
			}
			count++
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return byte(count)
}

func (p *Parser) variable(canAssign bool) {
	p.namedVariable(p.previous, canAssign)
}

// namedVariable resolves name against locals, then upvalues, then globals
// (in that order, matching the original's lookup chain), and emits the
// matching get/set opcode pair.
func (p *Parser) namedVariable(name lexer.Token, canAssign bool) {
	if slot := p.resolveLocal(p.compiler, name.Lexeme); slot != -1 {
		if canAssign && p.match(lexer.TokenEqual) {
			p.expression()
			p.emitBytes(byte(bytecode.OpSetLocal), byte(slot))
		} else {
			p.emitBytes(byte(bytecode.OpGetLocal), byte(slot))
		}
		return
	}

	if slot := p.resolveUpvalue(p.compiler, name.Lexeme); slot != -1 {
		if canAssign && p.match(lexer.TokenEqual) {
			p.expression()
			p.emitBytes(byte(bytecode.OpSetUpvalue), byte(slot))
		} else {
			p.emitBytes(byte(bytecode.OpGetUpvalue), byte(slot))
		}
		return
	}

	idx := p.identifierConstant(name)
	if canAssign && p.match(lexer.TokenEqual) {
		p.expression()
		p.emitConstantIndex(idx, bytecode.OpSetGlobal, bytecode.OpSetGlobalLong)
	} else {
		p.emitConstantIndex(idx, bytecode.OpGetGlobal, bytecode.OpGetGlobalLong)
	}
}

// --- locals and upvalues --------------------------------------------------

func (p *Parser) resolveLocal(c *compilerState, name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			if c.locals[i].depth == -1 {
				p.error("Can't read local variable in its own initializer.")
			}
			return i
		}
	}
	return -1
}

func (p *Parser) addUpvalue(c *compilerState, index byte, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(c.upvalues) == 256 {
		p.error("Too many closure variables in function.")
		return 0
	}
	c.upvalues = append(c.upvalues, upvalueRef{index: index, isLocal: isLocal})
	c.function.UpvalueCount = len(c.upvalues)
	return len(c.upvalues) - 1
}

// resolveUpvalue recursively searches the enclosing compiler's locals; on a
// hit it marks that local captured and adds an is_local upvalue. Otherwise
// it recurses outward and, if the outer search finds anything (local or
// upvalue), adds a non-local upvalue copying the enclosing closure's own
// upvalue pointer.
func (p *Parser) resolveUpvalue(c *compilerState, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if local := p.resolveLocal(c.enclosing, name); local != -1 {
		c.enclosing.locals[local].isCaptured = true
		return p.addUpvalue(c, byte(local), true)
	}
	if up := p.resolveUpvalue(c.enclosing, name); up != -1 {
		return p.addUpvalue(c, byte(up), false)
	}
	return -1
}

func (p *Parser) addLocal(name string) {
	if len(p.compiler.locals) == 256 {
		p.error("Too many local variables in function.")
		return
	}
	p.compiler.locals = append(p.compiler.locals, localVar{name: name, depth: -1})
}

func (p *Parser) declareVariable() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	name := p.previous.Lexeme
	for i := len(p.compiler.locals) - 1; i >= 0; i-- {
		local := p.compiler.locals[i]
		if local.depth != -1 && local.depth < p.compiler.scopeDepth {
			break
		}
		if local.name == name {
			p.error("Already a variable with this name in this scope.")
		}
	}
	p.addLocal(name)
}

func (p *Parser) identifierConstant(name lexer.Token) int {
	return p.makeConstant(p.vm.Intern(name.Lexeme))
}

func (p *Parser) parseVariable(errMsg string) int {
	p.consume(lexer.TokenIdentifier, errMsg)
	p.declareVariable()
	if p.compiler.scopeDepth > 0 {
		return 0
	}
	return p.identifierConstant(p.previous)
}

func (p *Parser) markInitialized() {
	if p.compiler.scopeDepth == 0 {
		return
	}
	p.compiler.locals[len(p.compiler.locals)-1].depth = p.compiler.scopeDepth
}

func (p *Parser) defineVariable(global int) {
	if p.compiler.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitConstantIndex(global, bytecode.OpDefineGlobal, bytecode.OpDefineGlobalLong)
}

func (p *Parser) beginScope() {
	p.compiler.scopeDepth++
}

// endScope pops every local declared in the scope being left, emitting
// OP_CLOSE_UPVALUE for ones that were captured (so the cell survives past
// this scope) and a plain OP_POP for the rest.
func (p *Parser) endScope() {
	p.compiler.scopeDepth--
	locals := p.compiler.locals
	for len(locals) > 0 && locals[len(locals)-1].depth > p.compiler.scopeDepth {
		if locals[len(locals)-1].isCaptured {
			p.emitByte(byte(bytecode.OpCloseUpvalue))
		} else {
			p.emitByte(byte(bytecode.OpPop))
		}
		locals = locals[:len(locals)-1]
	}
	p.compiler.locals = locals
}

// --- statements and declarations ------------------------------------------

func (p *Parser) declaration() {
	switch {
	case p.match(lexer.TokenVar):
		p.varDeclaration()
	case p.match(lexer.TokenFun):
		p.funDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.TokenEOF {
		switch p.current.Type {
		case lexer.TokenFun, lexer.TokenVar, lexer.TokenFor, lexer.TokenIf,
			lexer.TokenWhile, lexer.TokenPrint, lexer.TokenReturn:
			return
		}
		p.advance()
	}
}

func (p *Parser) varDeclaration() {
	global := p.parseVariable("Expect variable name.")
	if p.match(lexer.TokenEqual) {
		p.expression()
	} else {
		p.emitByte(byte(bytecode.OpNil))
	}
	p.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	p.defineVariable(global)
}

func (p *Parser) funDeclaration() {
	global := p.parseVariable("Expect function name.")
	p.markInitialized()
	p.function(typeFunction, p.previous.Lexeme)
	p.defineVariable(global)
}

// function compiles a nested function body into its own compilerState,
// then emits OP_CLOSURE in the enclosing chunk followed by one
// (is_local, index) byte pair per upvalue the body captured.
func (p *Parser) function(fnType funcType, name string) {
	child := newCompilerState(p.compiler, fnType, name)
	p.compiler = child
	p.beginScope()

	p.consume(lexer.TokenLeftParen, "Expect '(' after function name.")
	if !p.check(lexer.TokenRightParen) {
		for {
			child.function.Arity++
			if child.function.Arity > 255 {
				p.errorAtCurrent("Can't have more than 255 parameters.")
			}
			param := p.parseVariable("Expect parameter name.")
			p.defineVariable(param)
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "Expect ')' after parameters.")
	p.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	p.block()

	fn := p.endCompiler()
	idx := p.makeByteConstant(fn)
	p.emitBytes(byte(bytecode.OpClosure), byte(idx))
	for _, uv := range child.upvalues {
		if uv.isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitByte(uv.index)
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(lexer.TokenPrint):
		p.printStatement()
	case p.match(lexer.TokenLeftBrace):
		p.beginScope()
		p.block()
		p.endScope()
	case p.match(lexer.TokenIf):
		p.ifStatement()
	case p.match(lexer.TokenWhile):
		p.whileStatement()
	case p.match(lexer.TokenFor):
		p.forStatement()
	case p.match(lexer.TokenReturn):
		p.returnStatement()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
		p.declaration()
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after block.")
}

func (p *Parser) expressionStatement() {
	p.expression()
	p.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	p.emitByte(byte(bytecode.OpPop))
}

func (p *Parser) printStatement() {
	p.expression()
	p.consume(lexer.TokenSemicolon, "Expect ';' after value.")
	p.emitByte(byte(bytecode.OpPrint))
}

func (p *Parser) returnStatement() {
	if p.compiler.fnType == typeScript {
		p.error("Can't return from top-level code.")
	}
	if p.match(lexer.TokenSemicolon) {
		p.emitReturn()
	} else {
		p.expression()
		p.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
		p.emitByte(byte(bytecode.OpReturn))
	}
}

func (p *Parser) ifStatement() {
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	thenJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitByte(byte(bytecode.OpPop))
	p.statement()

	elseJump := p.emitJump(bytecode.OpJump)
	p.patchJump(thenJump)
	p.emitByte(byte(bytecode.OpPop))

	if p.match(lexer.TokenElse) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.currentChunk().Code)
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after condition.")

	exitJump := p.emitJump(bytecode.OpJumpIfFalse)
	p.emitByte(byte(bytecode.OpPop))
	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	p.emitByte(byte(bytecode.OpPop))
}

func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case p.match(lexer.TokenSemicolon):
		// no initializer
	case p.match(lexer.TokenVar):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.currentChunk().Code)
	exitJump := -1
	if !p.match(lexer.TokenSemicolon) {
		p.expression()
		p.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
		exitJump = p.emitJump(bytecode.OpJumpIfFalse)
		p.emitByte(byte(bytecode.OpPop))
	}

	if !p.match(lexer.TokenRightParen) {
		bodyJump := p.emitJump(bytecode.OpJump)
		incrementStart := len(p.currentChunk().Code)
		p.expression()
		p.emitByte(byte(bytecode.OpPop))
		p.consume(lexer.TokenRightParen, "Expect ')' after for clauses.")

		p.emitLoop(loopStart)
		loopStart = incrementStart
		p.patchJump(bodyJump)
	}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
		p.emitByte(byte(bytecode.OpPop))
	}

	p.endScope()
}
