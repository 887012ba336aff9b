package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"tutor-rag/internal/config"
	"tutor-rag/internal/llmservice"
)

// Challenge is one multiple-choice practice question.
type Challenge struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     string   `json:"correct"`
	Explanation string   `json:"explanation"`
	Trait       string   `json:"trait,omitempty"`
}

// fallbackPool holds pre-baked questions served whenever the model is
// slow, unreachable or returns something unparseable. A challenge must
// never block the student on an API hiccup.
var fallbackPool = map[string][]Challenge{
	"Math": {
		{
			Question:    "If Viddy has 12 apples and gives 4 to a friend, how many does he have left?",
			Options:     []string{"6", "8", "10", "12"},
			Correct:     "8",
			Explanation: "12 minus 4 is 8! Great subtracting!",
			Trait:       "math",
		},
		{
			Question:    "What is 5 groups of 3 stars?",
			Options:     []string{"8", "12", "15", "20"},
			Correct:     "15",
			Explanation: "5 x 3 = 15. You are reaching for the stars!",
			Trait:       "math",
		},
	},
	"Science": {
		{
			Question:    "Which of these is a source of light?",
			Options:     []string{"The Moon", "The Sun", "A Mirror", "A Wall"},
			Correct:     "The Sun",
			Explanation: "The Sun is our biggest star and gives us light!",
			Trait:       "logical_reasoning",
		},
		{
			Question:    "What do plants need most to grow?",
			Options:     []string{"Chocolate", "Ice Cream", "Sunlight & Water", "Toys"},
			Correct:     "Sunlight & Water",
			Explanation: "Plants need sun and water to make their own food!",
			Trait:       "logical_reasoning",
		},
	},
	"English": {
		{
			Question:    "Which word is an action word (verb)?",
			Options:     []string{"Apple", "Quickly", "Run", "Blue"},
			Correct:     "Run",
			Explanation: "'Run' is something you do! That's a verb.",
			Trait:       "pattern_recognition",
		},
	},
	"iq": {
		{
			Question:    "Look at the pattern: 2, 4, 6, 8, ... What comes next?",
			Options:     []string{"9", "10", "11", "12"},
			Correct:     "10",
			Explanation: "We are counting by 2s! 8 + 2 = 10.",
			Trait:       "pattern_recognition",
		},
	},
	"eq": {
		{
			Question:    "Your friend looks sad because they lost their toy. What should you do?",
			Options:     []string{"Laugh at them", "Ignore them", "Ask if they want a hug", "Take their other toys"},
			Correct:     "Ask if they want a hug",
			Explanation: "Being kind to friends makes the world better!",
			Trait:       "empathy",
		},
	},
}

// Fallback picks a random pre-baked challenge for the subject, falling
// back to the generic reasoning pool for unknown subjects.
func Fallback(subject string) Challenge {
	pool := fallbackPool[subject]
	if len(pool) == 0 {
		pool = fallbackPool["iq"]
	}
	return pool[rand.Intn(len(pool))]
}

// Generator produces fresh practice questions with the fast model.
type Generator struct {
	model llms.Model
	cfg   config.LLMConfig
}

func NewGenerator(model llms.Model, cfg config.LLMConfig) *Generator {
	return &Generator{model: model, cfg: cfg}
}

// Generate asks the model for one question. Any failure - no model,
// timeout, malformed JSON, missing fields - serves a static fallback
// instead.
func (g *Generator) Generate(ctx context.Context, subject string, grade int) Challenge {
	const system = "You write one multiple-choice practice question for young students. " +
		"Respond with ONLY a JSON object with keys: question, options (array of exactly 4 strings), " +
		"correct (one of the options), explanation (one friendly sentence)."
	user := fmt.Sprintf("Subject: %s\nGrade: %d\nWrite one fun, age-appropriate question.", subject, grade)

	raw, err := llmservice.Generate(ctx, g.model, system, user, 0.7, time.Duration(g.cfg.TimeoutSeconds)*time.Second)
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Challenge generation failed, serving fallback")
		return Fallback(subject)
	}

	var ch Challenge
	if err := json.Unmarshal([]byte(stripFences(raw)), &ch); err != nil ||
		ch.Question == "" || len(ch.Options) != 4 || ch.Correct == "" {
		log.Warn().Str("subject", subject).Msg("Challenge response unparseable, serving fallback")
		return Fallback(subject)
	}
	return ch
}

// stripFences removes a markdown code fence if the model wrapped its
// JSON in one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
