package condition

import (
	"fmt"
	"strconv"
	"strings"
)

// node is an expression AST node.
type node interface{}

type numberNode struct{ value float64 }

type stringNode struct{ value string }

type boolNode struct{ value bool }

// refNode is a dotted reference like stages.review.outputs.passed.
type refNode struct{ path []string }

type unaryNode struct {
	op    tokenKind // tokNot or tokMinus
	child node
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

type parser struct {
	tokens []token
	pos    int
}

// parse turns an expression (with or without {{ }} delimiters) into an AST.
func parse(expr string) (node, error) {
	src := stripDelimiters(expr)
	if src == "" {
		return nil, fmt.Errorf("empty expression")
	}
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("unexpected %q at %d", p.peek().text, p.peek().pos)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Precedence climbing: || < && < comparison < additive < multiplicative < unary.

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binaryNode{tokOr, left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = binaryNode{tokAnd, left, right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tokEq && k != tokNeq && k != tokLt && k != tokLte && k != tokGt && k != tokGte {
			return left, nil
		}
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = binaryNode{k, left, right}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tokPlus && k != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = binaryNode{k, left, right}
	}
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		k := p.peek().kind
		if k != tokStar && k != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{k, left, right}
	}
}

func (p *parser) parseUnary() (node, error) {
	switch p.peek().kind {
	case tokNot:
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{tokNot, child}, nil
	case tokMinus:
		p.next()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return unaryNode{tokMinus, child}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		v, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q at %d", t.text, t.pos)
		}
		return numberNode{v}, nil
	case tokString:
		return stringNode{t.text}, nil
	case tokIdent:
		if p.peek().kind != tokDot {
			switch t.text {
			case "true":
				return boolNode{true}, nil
			case "false":
				return boolNode{false}, nil
			}
			return nil, fmt.Errorf("bare identifier %q at %d (references look like stages.<name>.outputs.<key>)", t.text, t.pos)
		}
		path := []string{t.text}
		for p.peek().kind == tokDot {
			p.next()
			seg := p.next()
			if seg.kind != tokIdent {
				return nil, fmt.Errorf("expected identifier after '.' at %d", seg.pos)
			}
			path = append(path, seg.text)
		}
		if path[0] != "stages" || len(path) != 4 || path[2] != "outputs" {
			return nil, fmt.Errorf("invalid reference %q (expected stages.<name>.outputs.<key>)", strings.Join(path, "."))
		}
		return refNode{path}, nil
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing closing ')'")
		}
		return n, nil
	}
	return nil, fmt.Errorf("unexpected %q at %d", t.text, t.pos)
}

// collectRefs appends every reference path in the AST to out.
func collectRefs(n node, out *[]refNode) {
	switch v := n.(type) {
	case refNode:
		*out = append(*out, v)
	case unaryNode:
		collectRefs(v.child, out)
	case binaryNode:
		collectRefs(v.left, out)
		collectRefs(v.right, out)
	}
}
