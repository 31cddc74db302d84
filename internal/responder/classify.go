package responder

import (
	"strings"

	"github.com/stellarlinkco/banterbot/internal/addressing"
	"github.com/stellarlinkco/banterbot/internal/persona"
)

var weatherWords = []string{
	"погод", "дожд", "снег", "холодн", "жарк", "градус", "температур", "зонт", "weather",
}

var questionWords = []string{
	"что", "как", "почему", "зачем", "когда", "где", "кто", "сколько",
	"какой", "какая", "какое", "какие", "куда", "откуда", "чей", "чья", "разве", "неужели",
}

// Classify picks the message kind for a live message. Supporters always get
// the secondary kind; otherwise weather talk wins over questions, and
// everything else is banter.
func Classify(mode addressing.Mode, text string) persona.Kind {
	if mode == addressing.RespondAsSecondary {
		return persona.KindSecondary
	}
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, w := range weatherWords {
		if strings.Contains(lower, w) {
			return persona.KindWeather
		}
	}
	if strings.Contains(lower, "?") {
		return persona.KindQuestion
	}
	first := strings.TrimLeft(lower, "@,.!- ")
	if i := strings.IndexFunc(first, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!'
	}); i >= 0 {
		first = first[:i]
	}
	for _, w := range questionWords {
		if first == w {
			return persona.KindQuestion
		}
	}
	return persona.KindBanter
}
