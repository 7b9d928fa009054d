package passpolicy_test

import (
	"testing"

	"github.com/stackworks/panelauth/pkg/passpolicy"
	"github.com/stretchr/testify/require"
)

func rules(violations []passpolicy.Violation) []passpolicy.Rule {
	out := make([]passpolicy.Rule, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Rule)
	}
	return out
}

func TestValidate(t *testing.T) {
	t.Parallel()

	strict := passpolicy.Policy{
		MinLength:      8,
		RequireUpper:   true,
		RequireSpecial: true,
		MinDigits:      2,
	}

	t.Run("reports every unmet rule at once", func(t *testing.T) {
		got := passpolicy.Validate("abc123", strict)
		require.Equal(t,
			[]passpolicy.Rule{passpolicy.RuleMinLength, passpolicy.RuleRequireUpper, passpolicy.RuleRequireSpecial},
			rules(got),
		)
	})

	t.Run("short but otherwise compliant candidate reports only length", func(t *testing.T) {
		got := passpolicy.Validate("Ab$12", strict)
		require.Equal(t, []passpolicy.Rule{passpolicy.RuleMinLength}, rules(got))
	})

	t.Run("valid candidate yields no violations", func(t *testing.T) {
		require.Empty(t, passpolicy.Validate("Abcdef$12", strict))
	})

	t.Run("empty candidate is total", func(t *testing.T) {
		got := passpolicy.Validate("", strict)
		require.Equal(t,
			[]passpolicy.Rule{
				passpolicy.RuleMinLength,
				passpolicy.RuleRequireUpper,
				passpolicy.RuleRequireSpecial,
				passpolicy.RuleMinDigits,
			},
			rules(got),
		)
	})

	t.Run("length counts code points not bytes", func(t *testing.T) {
		// 8 code points, multi-byte in UTF-8.
		got := passpolicy.Validate("Żółwik$12", passpolicy.Policy{MinLength: 8, MinDigits: 2})
		require.Empty(t, got)
	})

	t.Run("non-ASCII uppercase satisfies the uppercase rule", func(t *testing.T) {
		got := passpolicy.Validate("Łabc$123", strict)
		require.Empty(t, got)
	})

	t.Run("digit count below threshold", func(t *testing.T) {
		got := passpolicy.Validate("Abcdefg$1", strict)
		require.Equal(t, []passpolicy.Rule{passpolicy.RuleMinDigits}, rules(got))
	})

	t.Run("deterministic for repeated input", func(t *testing.T) {
		first := passpolicy.Validate("abc123", strict)
		second := passpolicy.Validate("abc123", strict)
		require.Equal(t, first, second)
	})

	t.Run("zero policy accepts anything", func(t *testing.T) {
		require.Empty(t, passpolicy.Validate("", passpolicy.Policy{}))
	})
}

func TestDefault(t *testing.T) {
	t.Parallel()

	p := passpolicy.Default()
	require.Equal(t, 8, p.MinLength)
	require.True(t, p.RequireUpper)
	require.True(t, p.RequireSpecial)
	require.Equal(t, 1, p.MinDigits)
	require.NoError(t, p.CheckBounds())
}

func TestCheckBounds(t *testing.T) {
	t.Parallel()

	t.Run("min length range", func(t *testing.T) {
		require.ErrorIs(t, passpolicy.Policy{MinLength: 0}.CheckBounds(), passpolicy.ErrMinLengthRange)
		require.ErrorIs(t, passpolicy.Policy{MinLength: 129}.CheckBounds(), passpolicy.ErrMinLengthRange)
		require.NoError(t, passpolicy.Policy{MinLength: 1}.CheckBounds())
		require.NoError(t, passpolicy.Policy{MinLength: 128}.CheckBounds())
	})

	t.Run("digit count range", func(t *testing.T) {
		require.ErrorIs(t, passpolicy.Policy{MinLength: 8, MinDigits: -1}.CheckBounds(), passpolicy.ErrMinDigitsRange)
		require.ErrorIs(t, passpolicy.Policy{MinLength: 8, MinDigits: 11}.CheckBounds(), passpolicy.ErrMinDigitsRange)
		require.NoError(t, passpolicy.Policy{MinLength: 8, MinDigits: 10}.CheckBounds())
	})
}
