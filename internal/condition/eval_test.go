package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxWith(stages map[string]Outputs) *Context {
	ctx := NewContext()
	for name, out := range stages {
		ctx.SetOutputs(name, out)
	}
	return ctx
}

func TestEvaluate(t *testing.T) {
	ctx := ctxWith(map[string]Outputs{
		"review": {"passed": true, "score": 7.0, "label": "ship", "count": 0.0},
		"build":  {"ok": "true", "warnings": 3.0},
	})

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"bool ref", "{{ stages.review.outputs.passed }}", true},
		{"falsy zero", "{{ stages.review.outputs.count }}", false},
		{"negation", "{{ !stages.review.outputs.count }}", true},
		{"string truthy", "{{ stages.build.outputs.ok }}", true},
		{"eq number", "{{ stages.review.outputs.score == 7 }}", true},
		{"neq", "{{ stages.review.outputs.score != 7 }}", false},
		{"gt", "{{ stages.review.outputs.score > 5 }}", true},
		{"lte", "{{ stages.build.outputs.warnings <= 3 }}", true},
		{"string eq", `{{ stages.review.outputs.label == "ship" }}`, true},
		{"string lt", `{{ stages.review.outputs.label < "zzz" }}`, true},
		{"and", "{{ stages.review.outputs.passed && stages.build.outputs.warnings < 10 }}", true},
		{"or short", "{{ stages.review.outputs.count || stages.review.outputs.passed }}", true},
		{"arithmetic", "{{ stages.review.outputs.score + 3 == 10 }}", true},
		{"division by zero", "{{ stages.review.outputs.score / stages.review.outputs.count == 0 }}", true},
		{"mixed string number eq", `{{ stages.build.outputs.warnings == "3" }}`, true},
		{"literal only", "{{ 1 < 2 }}", true},
		{"no delimiters", "stages.review.outputs.passed", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Empty(t, res.Warnings)
		})
	}
}

func TestEvaluateMissingReferences(t *testing.T) {
	ctx := ctxWith(map[string]Outputs{
		"review": {"passed": true},
	})

	tests := []struct {
		name     string
		expr     string
		warnings int
	}{
		{"missing stage", "{{ stages.deploy.outputs.ok }}", 1},
		{"missing key", "{{ stages.review.outputs.ok }}", 1},
		{"negated missing is still false", "{{ !stages.deploy.outputs.ok }}", 1},
		{"missing forces false despite true branch", "{{ stages.deploy.outputs.ok || stages.review.outputs.passed }}", 1},
		{"two missing in arithmetic", "{{ stages.a.outputs.x + stages.b.outputs.y > 0 }}", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Evaluate(tt.expr, ctx)
			require.NoError(t, err)
			assert.False(t, res.Value, "missing references force the whole condition false")
			assert.Len(t, res.Warnings, tt.warnings)
		})
	}
}

func TestEvaluateShortCircuitSkipsMissing(t *testing.T) {
	// && short-circuits on a false left side, so the missing right-hand
	// reference is never resolved and no warning is recorded.
	ctx := ctxWith(map[string]Outputs{"review": {"passed": false}})
	res, err := Evaluate("{{ stages.review.outputs.passed && stages.deploy.outputs.ok }}", ctx)
	require.NoError(t, err)
	assert.False(t, res.Value)
	assert.Empty(t, res.Warnings)
}

func TestEvaluateParseError(t *testing.T) {
	_, err := Evaluate("{{ stages.review.outputs. }}", NewContext())
	assert.Error(t, err)
}

func TestValidateExpression(t *testing.T) {
	assert.NoError(t, ValidateExpression("{{ stages.a.outputs.x > 1 && !stages.b.outputs.y }}"))
	assert.Error(t, ValidateExpression("{{ stages.a.x }}"), "refs must be stages.<name>.outputs.<key>")
	assert.Error(t, ValidateExpression("{{ 1 + }}"))
	assert.Error(t, ValidateExpression("{{ (1 < 2 }}"))
}

func TestExtractStageReferences(t *testing.T) {
	refs := ExtractStageReferences("{{ stages.b.outputs.x && stages.a.outputs.y || stages.b.outputs.z }}")
	assert.Equal(t, []string{"b", "a"}, refs, "first-appearance order, deduplicated")

	assert.Nil(t, ExtractStageReferences("{{ not valid ("))
	assert.Empty(t, ExtractStageReferences("{{ 1 < 2 }}"))
}
