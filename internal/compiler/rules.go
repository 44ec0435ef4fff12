package compiler

import "sentra/internal/lexer"

// Precedence orders binding strength for parsePrecedence's climb, lowest
// first so `prec <= rule.precedence` reads naturally as "still loose enough
// to keep consuming infix operators."
type Precedence uint8

const (
	PrecNone       Precedence = iota
	PrecAssignment            // =
	PrecOr                    // or
	PrecAnd                   // and
	PrecEquality              // == !=
	PrecComparison            // < > <= >=
	PrecTerm                  // + -
	PrecFactor                // * /
	PrecUnary                 // ! -
	PrecCall                  // ()
	PrecPrimary
)

// parseFn is either a prefix or infix parser for one token type. canAssign
// tells the parser whether it's allowed to treat a following `=` as
// assignment, which only makes sense at PrecAssignment or looser; only the
// variable prefix parser acts on it.
type parseFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence Precedence
}

// rules is indexed by token type. Token types with no entry get the zero
// value {nil, nil, PrecNone}, which is exactly right for tokens with no
// expression role (braces, semicolons, keywords that start statements) and
// for the reserved-but-unimplemented class/this/super.
var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:    {(*Parser).grouping, (*Parser).call, PrecCall},
		lexer.TokenMinus:        {(*Parser).unary, (*Parser).binary, PrecTerm},
		lexer.TokenPlus:         {nil, (*Parser).binary, PrecTerm},
		lexer.TokenSlash:        {nil, (*Parser).binary, PrecFactor},
		lexer.TokenStar:         {nil, (*Parser).binary, PrecFactor},
		lexer.TokenBang:         {(*Parser).unary, nil, PrecNone},
		lexer.TokenBangEqual:    {nil, (*Parser).binary, PrecEquality},
		lexer.TokenEqualEqual:   {nil, (*Parser).binary, PrecEquality},
		lexer.TokenGreater:      {nil, (*Parser).binary, PrecComparison},
		lexer.TokenGreaterEqual: {nil, (*Parser).binary, PrecComparison},
		lexer.TokenLess:         {nil, (*Parser).binary, PrecComparison},
		lexer.TokenLessEqual:    {nil, (*Parser).binary, PrecComparison},
		lexer.TokenIdentifier:   {(*Parser).variable, nil, PrecNone},
		lexer.TokenString:       {(*Parser).stringLiteral, nil, PrecNone},
		lexer.TokenNumber:       {(*Parser).number, nil, PrecNone},
		lexer.TokenAnd:          {nil, (*Parser).and, PrecAnd},
		lexer.TokenOr:           {nil, (*Parser).or, PrecOr},
		lexer.TokenFalse:        {(*Parser).literal, nil, PrecNone},
		lexer.TokenTrue:         {(*Parser).literal, nil, PrecNone},
		lexer.TokenNil:          {(*Parser).literal, nil, PrecNone},
	}
}

func ruleFor(t lexer.TokenType) parseRule {
	return rules[t]
}
