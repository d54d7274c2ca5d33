package araya

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeMessage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		text     string
		expected Classification
	}{
		{
			"builder",
			"Let's build this together, I can help and create the fix",
			ClassificationBuilder,
		},
		{
			"destroyer",
			"this is a scam, hack exploit nonsense",
			ClassificationDestroyer,
		},
		{
			"neutral empty",
			"hello there",
			ClassificationNeutral,
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			analysis := AnalyzeMessage(tc.text)
			assert.Equal(t, tc.expected, analysis.Classification)
		})
	}
}

func TestAnalyzeMessageScore(t *testing.T) {
	t.Parallel()

	neutral := AnalyzeMessage("completely unrelated text")
	assert.InDelta(t, 0.5, neutral.BuilderScore, 0.001)
	assert.Zero(t, neutral.BuilderCount)
	assert.Zero(t, neutral.DestroyerCount)

	builder := AnalyzeMessage("I want to build and create and improve things")
	assert.Greater(t, builder.BuilderScore, 0.6)
	assert.Positive(t, builder.BuilderCount)

	destroyer := AnalyzeMessage("what a scam, total waste")
	assert.Less(t, destroyer.BuilderScore, 0.4)
}

func TestAnalyzeMessageCaseInsensitive(t *testing.T) {
	t.Parallel()
	upper := AnalyzeMessage("LET'S BUILD SOMETHING")
	lower := AnalyzeMessage("let's build something")
	assert.Equal(t, lower.BuilderScore, upper.BuilderScore)
}

func TestVerifySocialURL(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		url   string
		valid bool
	}{
		{"https://github.com/someone", true},
		{"https://twitter.com/someone", true},
		{"https://x.com/someone", true},
		{"https://linkedin.com/in/someone", true},
		{"https://www.youtube.com/@someone", true},
		{"https://example.com/profile", false},
		{"not a url", false},
		{"", false},
	}
	for _, tc := range testCases {
		check := VerifySocialURL(tc.url)
		assert.Equalf(t, tc.valid, check.IsValid, "url=%q", tc.url)
		if tc.valid {
			// automated checks never replace the human pass
			assert.True(t, check.NeedsHumanReview)
		}
	}
}
