package leaf

import (
	"testing"
	"time"

	"github.com/AsgerHL/Bachelor-POC/pkg/rule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegexRuleMatchesAllOccurrences(t *testing.T) {
	r, err := NewRegexRule(`\d{3}-\d{4}`, rule.Warning)
	require.NoError(t, err)

	fragments, err := r.Match("call 555-1234 or 555-5678")
	require.NoError(t, err)
	assert.Len(t, fragments, 2)
	assert.Equal(t, "555-1234", fragments[0].Match)
	assert.Equal(t, "555-5678", fragments[1].Match)
}

func TestRegexRuleNoMatch(t *testing.T) {
	r, err := NewRegexRule(`xyz`, rule.Warning)
	require.NoError(t, err)

	fragments, err := r.Match("nothing here")
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestRegexRuleJSONRoundTrip(t *testing.T) {
	original, err := NewRegexRule(`foo+`, rule.Critical)
	require.NoError(t, err)

	data, err := original.ToJSON()
	require.NoError(t, err)

	decoded, err := rule.FromJSONObject(data)
	require.NoError(t, err)
	assert.Equal(t, rule.Critical, decoded.Sensitivity())
}

func TestLastModifiedRule(t *testing.T) {
	threshold := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewLastModifiedRule(threshold, rule.Notification)

	older, err := r.Match(threshold.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, older)

	newer, err := r.Match(threshold.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, newer, 1)
}

func TestDimensionsRuleThresholds(t *testing.T) {
	r := NewDimensionsRule(800, 600, 0, rule.Warning)

	small, err := r.Match(rule.ImageSize{Width: 640, Height: 480})
	require.NoError(t, err)
	assert.Empty(t, small)

	big, err := r.Match(rule.ImageSize{Width: 1920, Height: 1080})
	require.NoError(t, err)
	assert.Len(t, big, 1)
}

func TestDimensionsRuleAreaThreshold(t *testing.T) {
	r := NewDimensionsRule(0, 0, 1_000_000, rule.Warning)

	matches, err := r.Match(rule.ImageSize{Width: 2000, Height: 600})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	noMatch, err := r.Match(rule.ImageSize{Width: 100, Height: 100})
	require.NoError(t, err)
	assert.Empty(t, noMatch)
}

func TestAlwaysAndNeverMatchesRules(t *testing.T) {
	always := NewAlwaysMatchesRule(rule.Notification)
	matches, err := always.Match(struct{}{})
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	never := NewNeverMatchesRule(rule.Notification)
	matches, err = never.Match(nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestBuggyRuleAlwaysErrors(t *testing.T) {
	buggy := NewBuggyRule(rule.Notification)
	_, err := buggy.Match(struct{}{})
	assert.Error(t, err)
}

func TestCPRRuleAcceptsValidCandidate(t *testing.T) {
	r := NewCPRRule(false, true)

	// 010160-XXXX is an exception date (modulus-11 skipped).
	fragments, err := r.Match("cpr: 0101600001 in the file")
	require.NoError(t, err)
	require.Len(t, fragments, 1)
	assert.Equal(t, 0.5, fragments[0].Probability)
	assert.Equal(t, "0101XX-XXXX", fragments[0].Match)
}

func TestCPRRuleRejectsBadModulus11(t *testing.T) {
	r := NewCPRRule(false, true)

	// 230180-XXXX is not an exception date; an arbitrary serial is very
	// unlikely to satisfy modulus 11.
	fragments, err := r.Match("ref 2301800001")
	require.NoError(t, err)
	assert.Empty(t, fragments)
}

func TestCPRRuleIgnoreIrrelevantSuppressesOldestBand(t *testing.T) {
	withoutFilter := NewCPRRule(false, false)
	withFilter := NewCPRRule(true, false)
	withFilter.ExamineContext = false
	withoutFilter.ExamineContext = false

	text := "id 2205995008 appears once"

	base, err := withoutFilter.Match(text)
	require.NoError(t, err)
	require.Len(t, base, 1)

	filtered, err := withFilter.Match(text)
	require.NoError(t, err)
	assert.Empty(t, filtered, "an 1858-1899 birth year should be suppressed")
}

func TestCPRRuleCenturyBoundaryDigit9(t *testing.T) {
	r := NewCPRRule(false, false)
	r.ExamineContext = false

	// Digit 7 = 9 switches century at yy=37, not yy=57 like digits 5-8:
	// 010137-9007 decodes to 2037-01-01, a future birth date that must be
	// rejected rather than misread as 1937.
	fragments, err := r.Match("ref 0101379007")
	require.NoError(t, err)
	assert.Empty(t, fragments, "2037-01-01 is a future date and must not match")
}

func TestCPRRuleRejectsFutureBirthDate(t *testing.T) {
	r := NewCPRRule(false, false)
	r.ExamineContext = false

	future := time.Now().AddDate(1, 0, 0)
	// Serial "4001" puts digit 7 in the high band so the decoded century
	// tracks the actual (future) year instead of falling back to 1900s.
	digits := future.Format("020106") + "4001"

	fragments, err := r.Match("future " + digits)
	require.NoError(t, err)
	assert.Empty(t, fragments)
}
