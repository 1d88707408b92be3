package engine

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"

	"formflow-backend/internal/metadata"
)

// Free-text condition language for field rules:
//
//	expr       := comparison (("AND"|"&&"|"OR"|"||") comparison)*
//	comparison := "(" expr ")"
//	            | "contains(" IDENT "," literal ")"
//	            | IDENT ("=="|"!="|">"|"<") literal
//	literal    := quoted-string | number | "true" | "false"
//
// AND and OR share one precedence level and evaluate strictly left-to-right.
// Stored expressions depend on that order; do not introduce AND-over-OR
// precedence. Any parse or evaluation failure fails open to true so a broken
// expression can never hide a field permanently or block a submission.

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokComma
	tokOp    // == != > <
	tokLogic // AND OR
	tokString
	tokNumber
	tokIdent
)

type token struct {
	kind tokenKind
	text string
}

var exprTokenRE = regexp.MustCompile(`^\s*(?:(\()|(\))|(,)|(==|!=|>|<)|(&&|\|\|)|('(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*")|(-?[0-9]+(?:\.[0-9]+)?)|([A-Za-z_][A-Za-z0-9_]*))`)

func tokenize(input string) ([]token, error) {
	var tokens []token
	rest := input
	for strings.TrimSpace(rest) != "" {
		m := exprTokenRE.FindStringSubmatch(rest)
		if m == nil {
			return nil, fmt.Errorf("unexpected input at %q", strings.TrimSpace(rest))
		}
		switch {
		case m[1] != "":
			tokens = append(tokens, token{tokLParen, m[1]})
		case m[2] != "":
			tokens = append(tokens, token{tokRParen, m[2]})
		case m[3] != "":
			tokens = append(tokens, token{tokComma, m[3]})
		case m[4] != "":
			tokens = append(tokens, token{tokOp, m[4]})
		case m[5] != "":
			if m[5] == "&&" {
				tokens = append(tokens, token{tokLogic, "AND"})
			} else {
				tokens = append(tokens, token{tokLogic, "OR"})
			}
		case m[6] != "":
			tokens = append(tokens, token{tokString, m[6]})
		case m[7] != "":
			tokens = append(tokens, token{tokNumber, m[7]})
		case m[8] != "":
			word := m[8]
			switch strings.ToUpper(word) {
			case "AND", "OR":
				tokens = append(tokens, token{tokLogic, strings.ToUpper(word)})
			default:
				tokens = append(tokens, token{tokIdent, word})
			}
		}
		rest = rest[len(m[0]):]
	}
	return tokens, nil
}

// evalNode is an evaluable expression tree node.
type evalNode interface {
	eval(ctx map[string]any) bool
}

type logicNode struct {
	op          string // AND or OR
	left, right evalNode
}

func (n *logicNode) eval(ctx map[string]any) bool {
	if n.op == "OR" {
		return n.left.eval(ctx) || n.right.eval(ctx)
	}
	return n.left.eval(ctx) && n.right.eval(ctx)
}

// condNode delegates leaf comparisons to the same primitive the structured
// rule path uses, so both inputs share one coercion behavior.
type condNode struct {
	cond metadata.FieldCondition
}

func (n *condNode) eval(ctx map[string]any) bool {
	return EvaluateCondition(n.cond, ctx)
}

// exprParser is a recursive-descent parser over the token stream with a
// single shared cursor.
type exprParser struct {
	tokens []token
	pos    int
}

func (p *exprParser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *exprParser) next() (token, error) {
	t, ok := p.peek()
	if !ok {
		return token{}, fmt.Errorf("unexpected end of expression")
	}
	p.pos++
	return t, nil
}

func (p *exprParser) expect(kind tokenKind, what string) (token, error) {
	t, err := p.next()
	if err != nil {
		return token{}, err
	}
	if t.kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, t.text)
	}
	return t, nil
}

func (p *exprParser) parseExpr() (evalNode, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || t.kind != tokLogic {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicNode{op: t.text, left: left, right: right}
	}
}

func (p *exprParser) parseComparison() (evalNode, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}

	if t.kind == tokLParen {
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}

	if t.kind != tokIdent {
		return nil, fmt.Errorf("expected identifier, got %q", t.text)
	}

	if strings.EqualFold(t.text, "contains") {
		if nxt, ok := p.peek(); ok && nxt.kind == tokLParen {
			p.pos++
			field, err := p.expect(tokIdent, "field name")
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return nil, err
			}
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &condNode{cond: metadata.FieldCondition{
				FieldKey: field.text,
				Operator: metadata.OpContains,
				Value:    lit,
			}}, nil
		}
	}

	op, err := p.expect(tokOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}

	var operator string
	switch op.text {
	case "==":
		operator = metadata.OpEquals
	case "!=":
		operator = metadata.OpNotEquals
	case ">":
		operator = metadata.OpGreaterThan
	case "<":
		operator = metadata.OpLessThan
	}

	return &condNode{cond: metadata.FieldCondition{
		FieldKey: t.text,
		Operator: operator,
		Value:    lit,
	}}, nil
}

func (p *exprParser) parseLiteral() (any, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.kind {
	case tokString:
		return unquote(t.text), nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return f, nil
	case tokIdent:
		switch strings.ToLower(t.text) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return nil, fmt.Errorf("expected literal, got %q", t.text)
}

func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	inner := s[1 : len(s)-1]
	inner = strings.ReplaceAll(inner, `\'`, `'`)
	inner = strings.ReplaceAll(inner, `\"`, `"`)
	inner = strings.ReplaceAll(inner, `\\`, `\`)
	return inner
}

// ParseExpression parses the condition language into an evaluable tree.
func ParseExpression(input string) (evalNode, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("trailing input after expression: %q", p.tokens[p.pos].text)
	}
	return node, nil
}

// EvaluateExpression evaluates a free-text condition against the form
// values. Malformed expressions fail open to true with a warning.
func EvaluateExpression(input string, ctx map[string]any) bool {
	node, err := ParseExpression(input)
	if err != nil {
		log.Printf("WARN: rule expression %q did not parse, treating as true: %v", input, err)
		return true
	}
	return node.eval(ctx)
}

// BuildExpression serializes structured conditions to the equivalent
// expression text. Used to pre-populate the free-text editor and to show a
// readable condition summary.
func BuildExpression(conditions []metadata.FieldCondition, logic string) string {
	if len(conditions) == 0 {
		return ""
	}
	joiner := " AND "
	if logic == metadata.LogicOr {
		joiner = " OR "
	}

	parts := make([]string, len(conditions))
	for i, c := range conditions {
		if c.Operator == metadata.OpContains {
			parts[i] = fmt.Sprintf("contains(%s, %s)", c.FieldKey, formatLiteral(c.Value))
			continue
		}
		parts[i] = fmt.Sprintf("%s %s %s", c.FieldKey, operatorSymbol(c.Operator), formatLiteral(c.Value))
	}
	return strings.Join(parts, joiner)
}

func operatorSymbol(op string) string {
	switch op {
	case metadata.OpNotEquals:
		return "!="
	case metadata.OpGreaterThan:
		return ">"
	case metadata.OpLessThan:
		return "<"
	default:
		return "=="
	}
}

func formatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return `""`
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
	default:
		return `"` + fmt.Sprintf("%v", v) + `"`
	}
}
