package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/conduitlabs/conduit/internal/toolreg"
)

// evalTool evaluates arithmetic expressions without shelling out to the
// model's own arithmetic.
type evalTool struct{}

func (t *evalTool) Name() string { return "evaluate_expression" }

func (t *evalTool) Description() string {
	return "Evaluate an arithmetic expression. Supports + - * / % ^, parentheses, and unary minus."
}

func (t *evalTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"description": "Arithmetic expression, e.g. \"2+2*3\"",
			},
		},
		"required": []string{"expression"},
	}
}

func (t *evalTool) Kind() toolreg.Kind { return toolreg.KindAnalysis }

func (t *evalTool) Timeout() time.Duration { return toolreg.DefaultTimeout }

func (t *evalTool) Execute(_ context.Context, args map[string]any) (*toolreg.Result, error) {
	expr := strings.TrimSpace(getString(args, "expression"))
	if expr == "" {
		return toolreg.Errorf("missing required argument: expression"), nil
	}
	value, err := evalExpression(expr)
	if err != nil {
		return toolreg.Errorf("invalid expression: %v", err), nil
	}
	return &toolreg.Result{Success: true, Data: toolreg.Row{"expression": expr, "result": value}}, nil
}

// evalExpression parses and evaluates expr with a small recursive-descent
// parser. Precedence low to high: +- , */%, unary minus, ^ (right-assoc).
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		// Right-associative.
		exp, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	switch c := p.peek(); {
	case c == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) {
			c := p.input[p.pos]
			if c >= '0' && c <= '9' || c == '.' {
				p.pos++
				continue
			}
			break
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("bad number %q", p.input[start:p.pos])
		}
		return v, nil
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}
