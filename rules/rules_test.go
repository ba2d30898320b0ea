package rules

import (
	"errors"
	"testing"

	"github.com/maxpert/waljson/match"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEmit(t *testing.T, r *Rules, table string) bool {
	t.Helper()
	ok, err := r.ShouldEmit(table)
	require.NoError(t, err)
	return ok
}

func TestEmptyRulesEmitEverything(t *testing.T) {
	var nilRules *Rules
	for _, table := range []string{"", "users", "orders", "x.y"} {
		assert.True(t, mustEmit(t, nilRules, table))
		assert.True(t, mustEmit(t, New(), table))
	}
}

func TestExcludeFirstSynthesizesIncludeAll(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("secrets"))

	cmds := r.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, IncludeAll, cmds[0].Kind())
	assert.Equal(t, ExcludeExact, cmds[1].Kind())
	assert.Equal(t, "secrets", cmds[1].Value())

	assert.False(t, mustEmit(t, r, "secrets"))
	assert.True(t, mustEmit(t, r, "users"))
}

func TestExcludeAfterIncludeDoesNotSynthesize(t *testing.T) {
	r := New()
	require.NoError(t, r.Include("users"))
	require.NoError(t, r.Exclude("users"))
	assert.Equal(t, 2, r.Len())
}

func TestTrailingExcludeWins(t *testing.T) {
	r := New()
	require.NoError(t, r.Include("~^user"))
	require.NoError(t, r.Exclude("users"))

	assert.False(t, mustEmit(t, r, "users"))
	assert.True(t, mustEmit(t, r, "user_roles"))
}

func TestLaterIncludeOverridesExclude(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("~^audit_"))
	require.NoError(t, r.Include("audit_keep"))

	assert.True(t, mustEmit(t, r, "audit_keep"))
	assert.False(t, mustEmit(t, r, "audit_drop"))
	assert.True(t, mustEmit(t, r, "orders"))
}

func TestIncludeOnlyDoesNotRestrict(t *testing.T) {
	// With only include directives nothing can turn the default off.
	r := New()
	require.NoError(t, r.Include("users"))
	assert.True(t, mustEmit(t, r, "orders"))
}

func TestPatternAnchoredAgainstPrefixLookalike(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude(`~^public\.`))

	assert.True(t, mustEmit(t, r, "publicity"))
	assert.False(t, mustEmit(t, r, "public.t"))
}

func TestPatternClassification(t *testing.T) {
	r := New()
	require.NoError(t, r.Include("~^a"))
	require.NoError(t, r.Include("b"))
	require.NoError(t, r.Exclude("~c$"))
	require.NoError(t, r.Exclude("d"))

	kinds := []Kind{}
	for _, cmd := range r.Commands() {
		kinds = append(kinds, cmd.Kind())
	}
	assert.Equal(t, []Kind{IncludeRegex, IncludeExact, ExcludeRegex, ExcludeExact}, kinds)
	assert.Equal(t, "^a", r.Commands()[0].Value())
}

func TestInvalidPatternRejected(t *testing.T) {
	r := New()
	err := r.Include("~(")
	require.Error(t, err)

	var patErr *match.InvalidPatternError
	assert.True(t, errors.As(err, &patErr))
	assert.Equal(t, 0, r.Len())
}

func TestMatchErrorIsFatal(t *testing.T) {
	r := New()
	require.NoError(t, r.Include("~.*"))

	_, err := r.ShouldEmit("bad\xff")
	require.Error(t, err)

	var matchErr *match.PatternMatchError
	assert.True(t, errors.As(err, &matchErr))
}

func TestEveryRuleEvaluated(t *testing.T) {
	// A failing pattern late in the list still surfaces even though an
	// earlier rule already matched.
	r := New()
	require.NoError(t, r.Exclude("x"))
	require.NoError(t, r.Include("~y"))

	_, err := r.ShouldEmit("x\xff")
	assert.Error(t, err)
}
