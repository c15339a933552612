package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt_PerTypeDefault(t *testing.T) {
	got := BuildSystemPrompt(Request{Type: TarotInterpretation})
	assert.Contains(t, got, "tarot")

	got = BuildSystemPrompt(Request{Type: DailyHoroscope})
	assert.Contains(t, got, "horoscope")
}

func TestBuildSystemPrompt_ExplicitOverride(t *testing.T) {
	got := BuildSystemPrompt(Request{
		Type:         TarotInterpretation,
		SystemPrompt: "You are a test persona.",
	})
	assert.Equal(t, "You are a test persona.", got)
}

func TestBuildSystemPrompt_ContextBlock(t *testing.T) {
	got := BuildSystemPrompt(Request{
		Type: QuestionAnswer,
		Context: map[string]string{
			"zodiac_sign": "leo",
			"birth_date":  "1990-07-30",
		},
	})

	assert.Contains(t, got, "Context:")
	assert.Contains(t, got, "zodiac_sign: leo")
	assert.Contains(t, got, "birth_date: 1990-07-30")
	// Keys are emitted in sorted order so prompts stay cache-stable.
	assert.Less(t, strings.Index(got, "birth_date"), strings.Index(got, "zodiac_sign"))
}

func TestGenerationType_Heavy(t *testing.T) {
	assert.True(t, NatalChartAnalysis.Heavy())
	assert.True(t, SynastryAnalysis.Heavy())
	assert.False(t, TarotInterpretation.Heavy())
	assert.False(t, DailyHoroscope.Heavy())
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
