package models

const (
	// ContextSeparator joins retrieved chunks inside the context block.
	ContextSeparator = "\n\n---\n\n"

	// CitationPrefix starts every citation line appended to a final answer.
	CitationPrefix = "📖 Source: Your textbook"
)

// Student-facing messages. The student never sees a raw error; every
// failure path resolves to one of these (or a validator redirect).
const (
	// NotFoundMessage terminates the pipeline when a textbook exists but
	// retrieval found nothing relevant enough to ground an answer.
	NotFoundMessage = "That's a great question! I couldn't find information about this in your textbook. " +
		"It might be in a different chapter, or you could check with your teacher! 📚"

	// ExplainFallbackMessage replaces the answer when the explainer model
	// call fails outright.
	ExplainFallbackMessage = "I'm having trouble thinking right now. Can you try asking that again in a moment? 🙂"

	// SafetyReplacementMessage replaces a final answer that the safety
	// classifier flagged as not child-appropriate.
	SafetyReplacementMessage = "Hmm, let me think about that differently. Ask me something from your lesson and we'll learn together! 📖"

	// EmptyQuestionMessage is returned for blank or single-character input.
	EmptyQuestionMessage = "Please ask a proper question 🙂"
)

// Pipeline stage names used in streamed events.
const (
	StageValidator  = "validator"
	StageRetriever  = "retriever"
	StageExplainer  = "explainer"
	StageSimplifier = "simplifier"
	StageEncourager = "encourager"
	StageSafety     = "safety"
)

// Event statuses.
const (
	StatusThinking = "thinking"
	StatusDone     = "done"
	StatusBlocked  = "blocked"
)
