package validator

import (
	"fmt"
	"strings"

	"tutor-rag/internal/config"
	"tutor-rag/internal/models"
)

// Category is one forbidden-topic bucket with its canned redirect.
// Categories are checked in order and the first keyword hit
// short-circuits, before any subject logic or model call runs.
type Category struct {
	Name     string
	Keywords []string
	Redirect string
}

// Policy holds the keyword tables the validator matches against. It is
// a plain replaceable value: the pipeline depends only on the check
// methods, so a model-based classifier can be swapped in behind the
// same boolean gate without touching orchestration.
type Policy struct {
	Question          []Category
	ForbiddenDocument []string
	SubjectKeywords   map[string][]string
}

// DefaultPolicy returns the built-in taxonomy for a grade 1-5 learning
// product.
func DefaultPolicy() *Policy {
	return &Policy{
		Question: []Category{
			{
				Name:     "violence",
				Keywords: []string{"kill", "murder", "bomb", "attack", "weapon", "shoot", "suicide", "stab", "gun"},
				Redirect: "I can't help with harmful or dangerous topics.\n\n" +
					"Real learning keeps people safe. Let's explore something from your textbook instead 📚.",
			},
			{
				Name:     "adult",
				Keywords: []string{"porn", "xxx", "sex", "nude", "onlyfans"},
				Redirect: "That topic isn't suitable for a school learning space.\n\n" +
					"Ask me anything from your subject and we'll learn together! 🌱",
			},
			{
				Name:     "drugs",
				Keywords: []string{"cocaine", "heroin", "meth", "weed", "drug", "alcohol", "smoking"},
				Redirect: "I can't help with harmful substances.\n\n" +
					"If you're curious about science, we can explore safe chemistry or biology ideas instead 🔬.",
			},
			{
				Name: "prompt",
				Keywords: []string{
					"ignore previous instructions", "system prompt", "jailbreak",
					"act as", "developer mode", "unfiltered",
				},
				Redirect: "I follow learning safety rules so students get trustworthy answers 🙂\n\n" +
					"Try asking a question from your lesson!",
			},
			{
				Name: "offtopic",
				Keywords: []string{
					"movie", "cinema", "celebrity", "gossip",
					"casino", "betting", "bitcoin", "crypto",
					"instagram", "tiktok", "youtube",
				},
				Redirect: "That sounds interesting, but I'm your study companion right now.\n\n" +
					"Let's focus on your subject — what chapter are you studying? 📖",
			},
		},
		ForbiddenDocument: []string{
			// Advanced academic content, far above grade 1-5.
			"machine learning", "neural network", "deep learning", "artificial intelligence",
			"tensor", "regression", "classification", "clustering", "reinforcement learning",
			"phd", "thesis", "dissertation", "journal", "ieee", "acm", "arxiv",
			"tensorflow", "pytorch", "keras", "university", "semester",
			// Professional domains.
			"engineering", "medical", "finance", "business administration", "law",
			// Unsafe material.
			"pornography", "sexual", "drug", "alcohol", "tobacco", "violence",
		},
		SubjectKeywords: map[string][]string{
			"math": {
				"number", "addition", "subtraction", "multiplication", "division",
				"fraction", "decimal", "geometry", "angle", "measurement",
			},
			"science": {
				"plant", "animal", "energy", "force", "experiment", "body",
				"environment", "water", "air", "food chain",
			},
			"english": {
				"grammar", "noun", "verb", "adjective", "sentence", "story",
				"reading", "writing", "spelling", "paragraph",
			},
			"hindi": {
				"हिंदी", "व्याकरण", "कविता", "कहानी", "संज्ञा", "क्रिया", "शब्द",
			},
			"social": {
				"history", "geography", "map", "earth", "india", "river", "mountain",
			},
			"general": {},
		},
	}
}

// Validator gates questions and uploaded documents before any model
// call. Both checks are pure keyword heuristics and run synchronously.
type Validator struct {
	policy *Policy
	cfg    config.SafetyConfig
}

func New(policy *Policy, cfg config.SafetyConfig) *Validator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Validator{policy: policy, cfg: cfg}
}

// Classify returns the first forbidden category the text matches, or
// ok=false when the text is clean.
func (v *Validator) Classify(text string) (Category, bool) {
	lowered := strings.ToLower(text)
	for _, category := range v.policy.Question {
		for _, kw := range category.Keywords {
			if strings.Contains(lowered, kw) {
				return category, true
			}
		}
	}
	return Category{}, false
}

// CheckQuestion gates an incoming question. A forbidden keyword match
// wins over any benign academic content in the same question.
func (v *Validator) CheckQuestion(question string) (bool, string) {
	if len(strings.TrimSpace(question)) < 2 {
		return false, models.EmptyQuestionMessage
	}
	if category, blocked := v.Classify(question); blocked {
		return false, category.Redirect
	}
	return true, "Allowed"
}

// CheckDocument gates an uploaded document at ingestion time. It
// rejects documents that are too short to be a real extraction (likely
// a scanned/image-only PDF), documents dense in advanced or unsafe
// keywords, and documents whose content scores low for the declared
// subject while another subject's keyword set scores higher.
func (v *Validator) CheckDocument(text, declaredSubject string, grade int) (bool, string) {
	if len(strings.TrimSpace(text)) < v.cfg.MinDocumentChars {
		return false, "PDF seems empty or scanned. Upload a readable textbook."
	}

	lowered := strings.ToLower(text)

	if countMatches(lowered, v.policy.ForbiddenDocument) >= v.cfg.ForbiddenDocHits {
		return false, fmt.Sprintf(
			"This document looks like advanced academic material.\nPlease upload a Grade %d %s textbook.",
			grade, declaredSubject)
	}

	subject := strings.ToLower(declaredSubject)
	if subject != "general" {
		subjectScore := countMatches(lowered, v.policy.SubjectKeywords[subject])
		if subjectScore < v.cfg.MinSubjectMatches {
			detected := v.detectSubject(lowered)
			return false, fmt.Sprintf(
				"This doesn't look like a %s textbook.\nIt seems closer to %s.\nPlease upload the correct subject book.",
				capitalize(subject), capitalize(detected))
		}
	}

	return true, "Valid textbook."
}

// detectSubject picks the subject whose keyword set scores highest, or
// "general" when nothing matches.
func (v *Validator) detectSubject(lowered string) string {
	best, bestScore := "general", 0
	for subject, keywords := range v.policy.SubjectKeywords {
		if score := countMatches(lowered, keywords); score > bestScore {
			best, bestScore = subject, score
		}
	}
	return best
}

func countMatches(lowered string, keywords []string) int {
	total := 0
	for _, kw := range keywords {
		total += strings.Count(lowered, strings.ToLower(kw))
	}
	return total
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
