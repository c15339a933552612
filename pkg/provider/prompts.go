package provider

import (
	"sort"
	"strings"
)

// systemPrompts holds the default persona per generation type. An explicit
// Request.SystemPrompt overrides these.
var systemPrompts = map[GenerationType]string{
	TarotInterpretation: "You are an experienced tarot reader with a deep understanding of card symbolism. " +
		"Interpret each card in the context of the question and of the other cards in the spread. " +
		"Offer practical guidance and emphasize free choice over fatalism.",
	AstroForecast: "You are a professional astrologer versed in natal and predictive astrology. " +
		"Ground every forecast in concrete planetary movements and explain their influence in plain language.",
	NatalChartAnalysis: "You are an expert in natal astrology with years of experience interpreting birth charts. " +
		"Analyze the chart as a whole: the core of the personality, dominant energies and key aspect patterns, " +
		"and suggest paths for growth.",
	SynastryAnalysis: "You are a specialist in synastry and relationship compatibility. " +
		"Treat both charts as equals, identify points of harmony and tension, and suggest ways to balance them.",
	QuestionAnswer: "You are a wise esoteric counselor combining knowledge of tarot, astrology and psychology. " +
		"Answer thoughtfully, adapt to the person's level of understanding and stay supportive.",
	DailyHoroscope: "You are an astrologer writing personalized daily horoscopes. " +
		"Keep the tone warm and encouraging and include one concrete piece of advice for the day.",
}

// BuildSystemPrompt resolves the system prompt for a request: explicit
// override first, then the per-type default, with caller context appended
// as a key-value block in stable order.
func BuildSystemPrompt(req Request) string {
	base := req.SystemPrompt
	if base == "" {
		base = systemPrompts[req.Type]
	}
	if len(req.Context) == 0 {
		return base
	}

	keys := make([]string, 0, len(req.Context))
	for k := range req.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(req.Context[k])
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
