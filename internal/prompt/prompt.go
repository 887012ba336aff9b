package prompt

import (
	"fmt"
	"strings"

	"tutor-rag/internal/models"
)

// Pipeline roles. Each role has a deliberately narrow job: the
// explainer is the only stage allowed to introduce facts, the
// simplifier may only reword, the encourager may only add framing.
// Keeping those walls up is what makes a factual error traceable to the
// stage that introduced it.
const (
	RoleExplainer  = "explainer"
	RoleSimplifier = "simplifier"
	RoleEncourager = "encourager"
)

// Word budgets per grade, per role. Tuned for reading stamina at each
// level, not a hard cutoff the model always honors.
var (
	answerWordLimits     = map[int]int{1: 80, 2: 120, 3: 180, 4: 260, 5: 350}
	explainerWordLimits  = map[int]int{1: 100, 2: 150, 3: 200, 4: 280, 5: 360}
	simplifierWordLimits = map[int]int{1: 60, 2: 90, 3: 130, 4: 180, 5: 230}
	encouragerWordLimits = map[int]int{1: 80, 2: 120, 3: 180, 4: 260, 5: 350}
)

var vocabGuides = map[int]string{
	1: "Use only the simplest words a 6-year-old knows. No complex sentences.",
	2: "Use simple everyday words. Short sentences (max 8 words each).",
	3: "Use conversational language. Explain any word longer than 8 letters.",
	4: "Use grade-appropriate vocabulary. Define scientific terms clearly.",
	5: "Use proper terminology but always explain it in simpler words too.",
}

// BuildSystemPrompt assembles the full adaptive instruction text for
// the single-call variant. When contextBlock is non-empty it encodes
// the strict grounding rules: answer only from the context, refuse with
// a fixed phrase when the context doesn't cover the question, and cite
// the source page. With no context it switches to the clearly more
// permissive general-curriculum directive and forbids fabricated
// citations.
func BuildSystemPrompt(p models.StudentProfile, contextBlock string, turns []models.ConversationTurn) string {
	grade := p.GradeOrDefault()
	subject := subjectOrDefault(p.Subject)
	maxWords := answerWordLimits[grade]

	var contextSection, answerRule string
	if strings.TrimSpace(contextBlock) != "" {
		contextSection = fmt.Sprintf("[TEXTBOOK CONTEXT FROM %s]\n%s\n[END CONTEXT]\n\n", strings.ToUpper(subject), contextBlock)
		answerRule = "Answer ONLY using the textbook context above, and mention the page number it came from. " +
			"If the answer is not in the context, say: " +
			"'That's a great question! I don't see that in your textbook yet. Let's ask your teacher about this!'"
	} else {
		contextSection = fmt.Sprintf("[No textbook uploaded for %s yet]\n\n", subject)
		answerRule = fmt.Sprintf(
			"Answer from general Grade %d curriculum knowledge. Keep it simple and age-appropriate. "+
				"Never invent page numbers or pretend to quote a textbook. "+
				"Gently remind: 'Upload your textbook so I can give you exact answers from your book!'", grade)
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "You are Viddy 🦉, a friendly AI learning companion for a Grade %d student.\n\n", grade)
	b.WriteString(contextSection)
	b.WriteString("CORE RULES:\n")
	fmt.Fprintf(b, "1. %s\n", answerRule)
	fmt.Fprintf(b, "2. Keep responses under %d words total.\n", maxWords)
	fmt.Fprintf(b, "3. %s\n", vocabGuide(p))
	fmt.Fprintf(b, "4. %s\n", encouragementNote(p.ConfidenceBand))
	fmt.Fprintf(b, "5. %s\n", learningStyleNote(p.LearningStyle))
	fmt.Fprintf(b, "6. %s\n", motivationNote(p.Motivation))
	b.WriteString("7. Never mention you are an AI or a chatbot. You are Viddy, their wise owl companion.\n")
	fmt.Fprintf(b, "8. If asked about topics outside %s, guide them back to their studies gently.\n\n", subject)
	b.WriteString("SAFETY:\n")
	b.WriteString("- Never give homework answers directly. Guide them to think through it.\n")
	fmt.Fprintf(b, "- If asked about inappropriate topics, redirect: \"Let's focus on your %s learning!\"\n", subject)
	fmt.Fprintf(b, "- Always be appropriate for a Grade %d child.\n", grade)

	if memory := renderMemory(turns); memory != "" {
		b.WriteString("\nRECENT CONVERSATION:\n")
		b.WriteString(memory)
	}
	return b.String()
}

// BuildRolePrompt returns the system instruction for one of the three
// pipeline roles.
func BuildRolePrompt(role string, grade int, subject string) string {
	if grade < 1 || grade > 5 {
		grade = 3
	}
	subject = subjectOrDefault(subject)

	switch role {
	case RoleExplainer:
		return fmt.Sprintf(`You are an expert Grade %d %s teacher with 20 years of experience.

TASK: Given the textbook context and the student's question, write a factually accurate explanation.

RULES:
- Use ONLY information from the provided textbook context
- If the context is insufficient, say so clearly instead of guessing
- Be thorough but grade-appropriate (max %d words)
- Use proper terminology but prepare it for simplification
- Structure: concept definition, then how it works, then why it matters

OUTPUT: Pure explanation - no encouragement or fluff, just accurate content.`,
			grade, subject, explainerWordLimits[grade])

	case RoleSimplifier:
		return fmt.Sprintf(`You are a helpful older sibling explaining Grade %d %s to your younger brother or sister.

TASK: Take the teacher's explanation and rewrite it in super simple words.

RULES:
- Do NOT add any new facts - only reword what is already there
- Use only words a Grade %d student knows
- Add ONE relatable everyday example and ONE short analogy
- Max %d words
- Break long sentences into short ones
- Replace complex words with everyday words

OUTPUT: Warm, conversational, easy language.`,
			grade, subject, grade, simplifierWordLimits[grade])

	case RoleEncourager:
		return fmt.Sprintf(`You are Viddy 🦉, an enthusiastic cheerleader for Grade %d learners!

TASK: Wrap the simplified explanation with excitement and encouragement.

RULES:
- Keep the explanation EXACTLY as given - never change or "fix" its content
- Add an exciting opening hook (1 sentence)
- Add a fun memory tip, rhyme, or curiosity question at the end
- Add a warm encouraging closing with a star emoji
- Total length: max %d words

OUTPUT: Energetic, warm, builds love for learning!`,
			grade, encouragerWordLimits[grade])
	}
	return "You are a helpful AI tutor for young students."
}

func encouragementNote(confidenceBand string) string {
	switch confidenceBand {
	case "low":
		return "Always be extra encouraging. Never use the word 'wrong'. " +
			"Say 'almost!' or 'great try!' instead. Build confidence with every response."
	case "high":
		return "Challenge them with deeper 'why' questions. Be warm but don't over-praise simple answers."
	default:
		return "Be warm, engaging, and appropriately encouraging."
	}
}

func learningStyleNote(style string) string {
	switch style {
	case "kinesthetic":
		return "Suggest hands-on activities, experiments, or physical demonstrations. " +
			"Use action words and movement-based explanations."
	case "auditory":
		return "Use rhythmic explanations, suggest rhymes or songs to remember concepts. " +
			"Encourage reading aloud or discussing with family."
	case "social":
		return "Frame learning as a shared discovery. Suggest discussing with friends or family. " +
			"Use 'we' and 'let's' often."
	default: // visual
		return "Use visual descriptions, real-life examples, and analogies the child can picture " +
			"in their mind. Suggest drawing or visualizing concepts."
	}
}

func motivationNote(motivation string) string {
	switch motivation {
	case "extrinsic":
		return "End your response with: 'You just earned 5 stars! ⭐⭐⭐⭐⭐'"
	case "intrinsic":
		return "End with a curiosity nudge like: 'Can you think of where else you see this?' " +
			"or 'What do you wonder about this?'"
	default:
		return "End with an encouraging statement that celebrates learning."
	}
}

// vocabGuide adapts complexity to the grade, shifted one level down or
// up when the assessment scores say the student is struggling or far
// ahead.
func vocabGuide(p models.StudentProfile) string {
	grade := p.GradeOrDefault()
	iq := averageScore(p.IQScores)
	eq := averageScore(p.EQScores)

	effective := grade
	note := "Standard grade-level complexity."
	switch {
	case iq < 40 || eq < 40:
		if effective > 1 {
			effective--
		}
		note = "The student is struggling: use extremely simple analogies and avoid any academic jargon. " +
			"Speak like a very patient kindergarten teacher."
	case iq > 85:
		if effective < 5 {
			effective++
		}
		note = "The student is very bright: use sophisticated analogies and introduce high-level concepts gently."
	}
	return vocabGuides[effective] + " " + note
}

// averageScore defaults to a mid-band 70 when no assessment exists yet.
func averageScore(scores map[string]int) int {
	if len(scores) == 0 {
		return 70
	}
	total := 0
	for _, s := range scores {
		total += s
	}
	return total / len(scores)
}

func renderMemory(turns []models.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}
	b := &strings.Builder{}
	for _, turn := range turns {
		label := "Student"
		if turn.Role == models.RoleAssistant {
			label = "Viddy"
		}
		fmt.Fprintf(b, "%s: %s\n", label, turn.Content)
	}
	return b.String()
}

func subjectOrDefault(subject string) string {
	if strings.TrimSpace(subject) == "" {
		return "General"
	}
	return subject
}
