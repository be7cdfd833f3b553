package condition

import (
	"fmt"
	"strconv"
)

// Outputs is one stage's output key/value map.
type Outputs map[string]any

// Context carries the stage outputs visible to a condition.
type Context struct {
	Stages map[string]Outputs
}

// NewContext returns an empty evaluation context.
func NewContext() *Context {
	return &Context{Stages: make(map[string]Outputs)}
}

// SetOutputs records the outputs of a completed stage.
func (c *Context) SetOutputs(stage string, outputs Outputs) {
	c.Stages[stage] = outputs
}

// Result is the outcome of evaluating a condition.
type Result struct {
	Value    bool
	Warnings []string // one entry per missing reference
}

// ValidateExpression checks an expression syntactically.
func ValidateExpression(expr string) error {
	_, err := parse(expr)
	return err
}

// ExtractStageReferences returns the stage names referenced by an expression,
// in first-appearance order without duplicates. A parse error yields nil.
func ExtractStageReferences(expr string) []string {
	ast, err := parse(expr)
	if err != nil {
		return nil
	}
	var refs []refNode
	collectRefs(ast, &refs)

	seen := make(map[string]bool)
	var names []string
	for _, r := range refs {
		name := r.path[1]
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// Evaluate parses and evaluates an expression against ctx. Missing references
// never produce a runtime error: the whole condition evaluates to false and
// each missing reference is recorded as a warning.
func Evaluate(expr string, ctx *Context) (Result, error) {
	ast, err := parse(expr)
	if err != nil {
		return Result{}, err
	}

	ev := &evaluator{ctx: ctx}
	v := ev.eval(ast)

	res := Result{Warnings: ev.warnings}
	if len(ev.warnings) > 0 {
		// A condition that reaches into absent outputs is false by policy,
		// even under negation.
		res.Value = false
		return res, nil
	}
	res.Value = truthy(v)
	return res, nil
}

// evaluator walks the AST with C-like coercion rules.
type evaluator struct {
	ctx      *Context
	warnings []string
}

func (e *evaluator) eval(n node) any {
	switch v := n.(type) {
	case numberNode:
		return v.value
	case stringNode:
		return v.value
	case boolNode:
		return v.value
	case refNode:
		return e.resolve(v)
	case unaryNode:
		child := e.eval(v.child)
		if v.op == tokNot {
			return !truthy(child)
		}
		return -toNumber(child)
	case binaryNode:
		return e.evalBinary(v)
	}
	return nil
}

func (e *evaluator) evalBinary(n binaryNode) any {
	switch n.op {
	case tokAnd:
		return truthy(e.eval(n.left)) && truthy(e.eval(n.right))
	case tokOr:
		return truthy(e.eval(n.left)) || truthy(e.eval(n.right))
	}

	left := e.eval(n.left)
	right := e.eval(n.right)

	switch n.op {
	case tokPlus:
		return toNumber(left) + toNumber(right)
	case tokMinus:
		return toNumber(left) - toNumber(right)
	case tokStar:
		return toNumber(left) * toNumber(right)
	case tokSlash:
		d := toNumber(right)
		if d == 0 {
			return 0.0
		}
		return toNumber(left) / d
	case tokEq:
		return equals(left, right)
	case tokNeq:
		return !equals(left, right)
	case tokLt:
		return compare(left, right) < 0
	case tokLte:
		return compare(left, right) <= 0
	case tokGt:
		return compare(left, right) > 0
	case tokGte:
		return compare(left, right) >= 0
	}
	return nil
}

// resolve looks up stages.<name>.outputs.<key>. A missing stage or key is
// recorded as a warning and resolves to nil.
func (e *evaluator) resolve(r refNode) any {
	stage, key := r.path[1], r.path[3]
	outputs, ok := e.ctx.Stages[stage]
	if !ok {
		e.warnings = append(e.warnings, fmt.Sprintf("stage %q has no recorded outputs", stage))
		return nil
	}
	v, ok := outputs[key]
	if !ok {
		e.warnings = append(e.warnings, fmt.Sprintf("stage %q has no output %q", stage, key))
		return nil
	}
	return v
}

// truthy follows C-like rules: non-zero numbers, non-empty strings, and true
// booleans are truthy; nil is falsy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != "" && t != "false" && t != "0"
	}
	return true
}

// toNumber coerces a value to float64; booleans become 0/1, numeric strings
// parse, everything else is 0.
func toNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
	}
	return 0
}

// equals compares numerically when both sides coerce to numbers or booleans,
// and as strings otherwise.
func equals(a, b any) bool {
	if isNumeric(a) && isNumeric(b) {
		return toNumber(a) == toNumber(b)
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as == bs
	}
	if aok || bok {
		// Mixed string/number: try numeric comparison.
		return toNumber(a) == toNumber(b)
	}
	return a == b
}

func compare(a, b any) int {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok && !isNumericString(as) && !isNumericString(bs) {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}
	an, bn := toNumber(a), toNumber(b)
	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	}
	return 0
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, int, bool:
		return true
	}
	return false
}

func isNumericString(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
