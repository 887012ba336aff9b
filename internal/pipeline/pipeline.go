package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"tutor-rag/internal/config"
	"tutor-rag/internal/llmservice"
	"tutor-rag/internal/memory"
	"tutor-rag/internal/models"
	"tutor-rag/internal/prompt"
	"tutor-rag/internal/retriever"
	"tutor-rag/internal/validator"
)

// Event is one streamed pipeline update. Stage events carry
// stage/status/text; the terminal event sets Final with the complete
// answer, citations, safety flag and query id. A failed stage still
// emits a normal done event with fallback text, so streaming clients
// never need an error-rendering path for model failures.
type Event struct {
	Stage          string `json:"stage,omitempty"`
	Status         string `json:"status,omitempty"`
	Text           string `json:"text,omitempty"`
	Final          bool   `json:"final,omitempty"`
	Citations      string `json:"citations,omitempty"`
	SafetyVerified bool   `json:"safety_verified"`
	QueryID        string `json:"query_id,omitempty"`
}

// HistoryWriter persists completed exchanges. Optional; the pipeline
// works without one.
type HistoryWriter interface {
	SaveMessage(ctx context.Context, studentID, queryID, query, response string) error
}

// Orchestrator runs the staged answer pipeline:
//
//	VALIDATE -> RETRIEVE -> EXPLAIN -> SIMPLIFY -> ENCOURAGE -> SAFETY_CHECK -> COMPLETE
//
// with two early terminals: a blocked question, and the grounding
// circuit-breaker (textbook uploaded but nothing relevant retrieved).
// The heavy model handles fact generation; the fast model handles
// rewording, encouragement and the safety classification.
type Orchestrator struct {
	heavy   llms.Model
	fast    llms.Model
	retr    *retriever.Retriever
	check   *validator.Validator
	mem     *memory.Store
	history HistoryWriter
	cfg     *config.Config
}

func New(cfg *config.Config, heavy, fast llms.Model, retr *retriever.Retriever, check *validator.Validator, mem *memory.Store) *Orchestrator {
	return &Orchestrator{
		heavy: heavy,
		fast:  fast,
		retr:  retr,
		check: check,
		mem:   mem,
		cfg:   cfg,
	}
}

// WithHistory attaches an optional persistent chat-history writer.
func (o *Orchestrator) WithHistory(h HistoryWriter) *Orchestrator {
	o.history = h
	return o
}

// QueryID derives the stable per-query identifier carried by the
// terminal event.
func QueryID(studentID, query string) string {
	h := fnv.New32a()
	h.Write([]byte(query))
	return fmt.Sprintf("q_%s_%05d", studentID, h.Sum32()%100000)
}

// Run executes the full pipeline and streams events on the returned
// channel, which is closed after the terminal event (or when ctx is
// cancelled). The pipeline always reaches a terminal state; model
// failures degrade per stage and never surface as stream errors.
func (o *Orchestrator) Run(ctx context.Context, query string, profile models.StudentProfile) <-chan Event {
	events := make(chan Event, 8)
	go func() {
		defer close(events)
		o.run(ctx, query, profile, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, query string, profile models.StudentProfile, events chan<- Event) {
	emit := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	queryID := QueryID(profile.StudentID, query)
	grade := profile.GradeOrDefault()
	subject := profile.Subject
	if subject == "" {
		subject = "General"
	}

	// VALIDATE: keyword gate, synchronous, before any paid model call.
	if allowed, msg := o.check.CheckQuestion(query); !allowed {
		log.Info().Str("query_id", queryID).Msg("Question blocked by validator")
		if !emit(Event{Stage: models.StageValidator, Status: models.StatusBlocked, Text: msg}) {
			return
		}
		emit(Event{Final: true, Text: msg, SafetyVerified: true, QueryID: queryID})
		return
	}

	// RETRIEVE
	if !emit(Event{Stage: models.StageRetriever, Status: models.StatusThinking}) {
		return
	}
	contextBlock, chunks, err := o.retr.Retrieve(ctx, query, profile.Owner())
	if err != nil {
		log.Warn().Err(err).Str("query_id", queryID).Msg("Context retrieval failed")
		if profile.TextbookUploaded {
			// A textbook exists but we can't read it; answering from
			// general knowledge here would be indistinguishable from
			// hallucination, so stop instead.
			if !emit(Event{Stage: models.StageRetriever, Status: models.StatusDone, Text: models.ExplainFallbackMessage}) {
				return
			}
			emit(Event{Final: true, Text: models.ExplainFallbackMessage, SafetyVerified: true, QueryID: queryID})
			return
		}
		contextBlock, chunks = "", nil
	}

	if contextBlock == "" && profile.TextbookUploaded {
		// Circuit-breaker: the textbook simply doesn't cover this.
		// Refusing beats letting the model guess, even though a
		// context-free answer would be easy to produce.
		if !emit(Event{Stage: models.StageRetriever, Status: models.StatusDone, Text: models.NotFoundMessage}) {
			return
		}
		emit(Event{Final: true, Text: models.NotFoundMessage, SafetyVerified: true, QueryID: queryID})
		return
	}

	retrieveNote := "No textbook uploaded yet. Answering from general knowledge."
	if contextBlock != "" {
		retrieveNote = fmt.Sprintf("Found %d words of context from your %s textbook.", len(strings.Fields(contextBlock)), subject)
	}
	if !emit(Event{Stage: models.StageRetriever, Status: models.StatusDone, Text: retrieveNote}) {
		return
	}

	// EXPLAIN: the only stage allowed to produce facts.
	if !emit(Event{Stage: models.StageExplainer, Status: models.StatusThinking}) {
		return
	}
	explainContext := contextBlock
	if explainContext == "" {
		explainContext = "[No textbook context - use general grade-level curriculum knowledge]"
	}
	explainInput := fmt.Sprintf(
		"Context from textbook:\n%s\n\nStudent's question: %s\n\nProvide a clear, factual explanation suitable for Grade %d.",
		explainContext, query, grade)
	explanation, err := o.call(ctx, o.heavy, o.cfg.HeavyLLM, prompt.BuildRolePrompt(prompt.RoleExplainer, grade, subject), explainInput)
	if err != nil {
		log.Warn().Err(err).Str("query_id", queryID).Msg("Explainer failed")
		explanation = fmt.Sprintf("I understand you're asking about: %s. Let me help explain this clearly.", query)
	}
	if !emit(Event{Stage: models.StageExplainer, Status: models.StatusDone, Text: explanation}) {
		return
	}

	// SIMPLIFY: reword only; on failure pass the explanation through.
	if !emit(Event{Stage: models.StageSimplifier, Status: models.StatusThinking}) {
		return
	}
	simplifyInput := fmt.Sprintf(
		"Teacher's explanation:\n%s\n\nStudent's question was: %s\n\nSimplify this for a Grade %d student with a real-life example.",
		explanation, query, grade)
	simplified, err := o.call(ctx, o.fast, o.cfg.FastLLM, prompt.BuildRolePrompt(prompt.RoleSimplifier, grade, subject), simplifyInput)
	if err != nil {
		log.Warn().Err(err).Str("query_id", queryID).Msg("Simplifier failed")
		simplified = explanation
	}
	if !emit(Event{Stage: models.StageSimplifier, Status: models.StatusDone, Text: simplified}) {
		return
	}

	// ENCOURAGE: add framing only; on failure pass the simplified text
	// through. Citations are appended mechanically afterwards, never
	// generated by the model.
	if !emit(Event{Stage: models.StageEncourager, Status: models.StatusThinking}) {
		return
	}
	encourageInput := fmt.Sprintf(
		"Simplified explanation:\n%s\n\nOriginal question: %s\n\nWrap this with an exciting opening and encouraging closing. Add a memory tip or fun fact.",
		simplified, query)
	encouraged, err := o.call(ctx, o.fast, o.cfg.FastLLM, prompt.BuildRolePrompt(prompt.RoleEncourager, grade, subject), encourageInput)
	if err != nil {
		log.Warn().Err(err).Str("query_id", queryID).Msg("Encourager failed")
		encouraged = simplified
	}
	if !emit(Event{Stage: models.StageEncourager, Status: models.StatusDone, Text: encouraged}) {
		return
	}

	citations := retriever.FormatCitations(chunks)
	final := encouraged
	if citations != "" {
		final += "\n\n" + citations
	}

	// SAFETY_CHECK
	if !emit(Event{Stage: models.StageSafety, Status: models.StatusThinking}) {
		return
	}
	verified := o.safetyCheck(ctx, final)
	if !verified {
		final = models.SafetyReplacementMessage
		citations = ""
	}
	if !emit(Event{Stage: models.StageSafety, Status: models.StatusDone, Text: "Checked for child-appropriateness."}) {
		return
	}

	// COMPLETE: memory is mutated only here, after a fully-formed final
	// response exists.
	o.mem.Append(profile.StudentID, query, final)
	o.persist(ctx, profile.StudentID, queryID, query, final)

	emit(Event{Final: true, Text: final, Citations: citations, SafetyVerified: verified, QueryID: queryID})
}

// RunSingle is the latency-sensitive variant: same VALIDATE and
// RETRIEVE semantics (including the circuit-breaker), then one model
// call carrying the full adaptive system prompt instead of the staged
// council.
func (o *Orchestrator) RunSingle(ctx context.Context, query string, profile models.StudentProfile) (string, error) {
	if allowed, msg := o.check.CheckQuestion(query); !allowed {
		return msg, nil
	}

	contextBlock, chunks, err := o.retr.Retrieve(ctx, query, profile.Owner())
	if err != nil {
		log.Warn().Err(err).Msg("Context retrieval failed")
		if profile.TextbookUploaded {
			return models.ExplainFallbackMessage, nil
		}
		contextBlock, chunks = "", nil
	}
	if contextBlock == "" && profile.TextbookUploaded {
		return models.NotFoundMessage, nil
	}

	system := prompt.BuildSystemPrompt(profile, contextBlock, o.mem.History(profile.StudentID))
	answer, err := o.call(ctx, o.heavy, o.cfg.HeavyLLM, system, query)
	if err != nil {
		log.Warn().Err(err).Msg("Single-call response failed")
		return models.ExplainFallbackMessage, nil
	}

	if citations := retriever.FormatCitations(chunks); citations != "" {
		answer += "\n\n" + citations
	}
	o.mem.Append(profile.StudentID, query, answer)
	o.persist(ctx, profile.StudentID, QueryID(profile.StudentID, query), query, answer)
	return answer, nil
}

func (o *Orchestrator) call(ctx context.Context, model llms.Model, cfg config.LLMConfig, system, user string) (string, error) {
	return llmservice.Generate(ctx, model, system, user, cfg.Temperature, time.Duration(cfg.TimeoutSeconds)*time.Second)
}

// safetyCheck classifies the final text for child-appropriateness with
// one fast-model call. An unreachable classifier fails open by default
// (availability over strictness for an education product); set
// safety.fail_closed to invert that trade-off.
func (o *Orchestrator) safetyCheck(ctx context.Context, text string) bool {
	const system = "You are a content safety checker for a children's education app. " +
		"Answer with exactly one word: YES if the text is appropriate for children aged 6-11, NO otherwise."

	answer, err := o.call(ctx, o.fast, o.cfg.FastLLM, system, text)
	if err != nil {
		if o.cfg.Safety.FailClosed {
			log.Warn().Err(err).Msg("Safety check unavailable; failing closed")
			return false
		}
		log.Warn().Err(err).Msg("Safety check unavailable; failing open")
		return true
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(answer)), "YES")
}

func (o *Orchestrator) persist(ctx context.Context, studentID, queryID, query, response string) {
	if o.history == nil {
		return
	}
	if err := o.history.SaveMessage(ctx, studentID, queryID, query, response); err != nil {
		log.Warn().Err(err).Str("query_id", queryID).Msg("Failed to persist chat message")
	}
}
