package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"tutor-rag/internal/challenge"
	"tutor-rag/internal/config"
	"tutor-rag/internal/embedding"
	"tutor-rag/internal/extract"
	"tutor-rag/internal/history"
	"tutor-rag/internal/ingest"
	"tutor-rag/internal/llmservice"
	"tutor-rag/internal/memory"
	"tutor-rag/internal/models"
	"tutor-rag/internal/pipeline"
	"tutor-rag/internal/retriever"
	"tutor-rag/internal/studysheet"
	"tutor-rag/internal/validator"
	"tutor-rag/internal/vectorindex"
)

// ErrNoHistoryStore is returned by history operations when persistence
// is not configured.
var ErrNoHistoryStore = errors.New("history store not configured")

// Service wires the tutoring core together behind one explicit
// lifecycle. Model endpoints are allowed to be absent at startup: the
// service still comes up and every affected path degrades to its
// templated fallback instead of failing.
type Service struct {
	cfg        *config.Config
	embedder   embedding.Embedder
	index      *vectorindex.Manager
	ingestor   *ingest.Ingestor
	retr       *retriever.Retriever
	check      *validator.Validator
	mem        *memory.Store
	orch       *pipeline.Orchestrator
	hist       *history.Store
	heavy      llms.Model
	fast       llms.Model
	challenges *challenge.Generator
}

// New builds the service from config. Only the vector store is a hard
// requirement; everything else degrades gracefully when unavailable.
func New(cfg *config.Config) (*Service, error) {
	index, err := vectorindex.NewManager(&cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.EmbedBatchSize)
	if err != nil {
		log.Warn().Err(err).Msg("Embedder unavailable; ingestion and retrieval disabled")
		embedder = nil
	}
	heavy, err := llmservice.NewModel(&cfg.HeavyLLM)
	if err != nil {
		log.Warn().Err(err).Msg("Heavy model unavailable; answers degrade to fallbacks")
		heavy = nil
	}
	fast, err := llmservice.NewModel(&cfg.FastLLM)
	if err != nil {
		log.Warn().Err(err).Msg("Fast model unavailable; rewording stages pass through")
		fast = nil
	}

	check := validator.New(nil, cfg.Safety)
	mem := memory.New(cfg.Memory.MaxPairs)
	retr := retriever.New(embedder, index, cfg.RAG)
	orch := pipeline.New(cfg, heavy, fast, retr, check, mem)

	svc := &Service{
		cfg:        cfg,
		embedder:   embedder,
		index:      index,
		ingestor:   ingest.New(embedder, index, cfg.RAG),
		retr:       retr,
		check:      check,
		mem:        mem,
		orch:       orch,
		heavy:      heavy,
		fast:       fast,
		challenges: challenge.NewGenerator(fast, cfg.FastLLM),
	}

	if cfg.History.Enabled {
		hist, err := history.Connect(&cfg.History)
		if err != nil {
			log.Warn().Err(err).Msg("History store unavailable; chat log disabled")
		} else if err := hist.Init(context.Background()); err != nil {
			log.Warn().Err(err).Msg("History store init failed; chat log disabled")
			_ = hist.Close()
		} else {
			svc.hist = hist
			orch.WithHistory(hist)
		}
	}
	return svc, nil
}

// Shutdown releases external resources.
func (s *Service) Shutdown() error {
	if s.hist != nil {
		return s.hist.Close()
	}
	return nil
}

// ValidateQuestion gates a question before any model call. Grade and
// subject are part of the contract for policy implementations that
// want them; the default keyword gate ignores both.
func (s *Service) ValidateQuestion(question string, grade int, subject string) (bool, string) {
	return s.check.CheckQuestion(question)
}

// ValidateDocument gates extracted document text at upload time.
func (s *Service) ValidateDocument(text, subject string, grade int) (bool, string) {
	return s.check.CheckDocument(text, subject, grade)
}

// Ingest chunks, embeds and stores extracted pages for the student,
// replacing any previous textbook for the same subject.
func (s *Service) Ingest(ctx context.Context, pages []models.Page, studentID, subject string, grade int) (int, error) {
	owner := models.Owner{StudentID: studentID, Subject: subject}
	return s.ingestor.Ingest(ctx, pages, owner, grade)
}

// IngestFile extracts a document file, validates its content against
// the declared subject and ingests it. Upload errors carry messages
// that can be shown to the user as-is.
func (s *Service) IngestFile(ctx context.Context, path, studentID, subject string, grade int) (int, error) {
	pages, err := extract.File(path)
	if err != nil {
		return 0, fmt.Errorf("could not read the document: %w", err)
	}

	full := &strings.Builder{}
	for _, page := range pages {
		full.WriteString(page.Text)
		full.WriteString("\n")
	}
	if ok, msg := s.check.CheckDocument(full.String(), subject, grade); !ok {
		return 0, errors.New(msg)
	}

	count, err := s.ingestor.Ingest(ctx, pages, models.Owner{StudentID: studentID, Subject: subject}, grade)
	if errors.Is(err, ingest.ErrEmptyDocument) {
		return 0, errors.New("the document has no readable text - it may be a scanned or image-only PDF")
	}
	return count, err
}

// RetrieveContext returns the citation-bearing context block and the
// chunks behind it. An empty block with a nil error means either "no
// textbook" or "nothing relevant"; the caller disambiguates via the
// profile's textbook flag.
func (s *Service) RetrieveContext(ctx context.Context, query, studentID, subject string) (string, []models.RetrievedChunk, error) {
	return s.retr.Retrieve(ctx, query, models.Owner{StudentID: studentID, Subject: subject})
}

// RunPipeline streams the staged pipeline for a question.
func (s *Service) RunPipeline(ctx context.Context, query string, profile models.StudentProfile) <-chan pipeline.Event {
	return s.orch.Run(ctx, query, profile)
}

// RunSingleResponse runs the single-call variant and returns the final
// text.
func (s *Service) RunSingleResponse(ctx context.Context, query string, profile models.StudentProfile) (string, error) {
	return s.orch.RunSingle(ctx, query, profile)
}

// AppendMemory records an exchange in the rolling window on behalf of
// the session layer.
func (s *Service) AppendMemory(studentID, query, response string) {
	s.mem.Append(studentID, query, response)
}

// ClearMemory drops the student's rolling window, e.g. on logout.
func (s *Service) ClearMemory(studentID string) {
	s.mem.Clear(studentID)
}

// DeleteTextbook removes the student's textbook collection for the
// subject. Returns false if none existed.
func (s *Service) DeleteTextbook(studentID, subject string) (bool, error) {
	return s.index.Delete(models.Owner{StudentID: studentID, Subject: subject})
}

// TextbookStats reports whether a textbook exists and its chunk count.
func (s *Service) TextbookStats(studentID, subject string) vectorindex.Stats {
	return s.index.Stats(models.Owner{StudentID: studentID, Subject: subject})
}

// GenerateChallenge produces a practice question, falling back to a
// pre-baked one when the model can't deliver in time.
func (s *Service) GenerateChallenge(ctx context.Context, subject string, grade int) challenge.Challenge {
	return s.challenges.Generate(ctx, subject, grade)
}

// StudySheet renders an HTML study sheet of key points for a concept.
func (s *Service) StudySheet(ctx context.Context, concept, subject string, grade int) ([]byte, error) {
	points, err := studysheet.KeyPoints(ctx, s.fast, s.cfg.FastLLM, concept, subject, grade)
	if err != nil {
		return nil, err
	}
	return studysheet.RenderHTML(concept, subject, grade, points)
}

// RecentHistory returns persisted exchanges for a student, newest
// first.
func (s *Service) RecentHistory(ctx context.Context, studentID string, limit int) ([]history.ChatMessage, error) {
	if s.hist == nil {
		return nil, ErrNoHistoryStore
	}
	return s.hist.Recent(ctx, studentID, limit)
}

// SaveFeedback records a thumbs-up/down vote on an answer.
func (s *Service) SaveFeedback(ctx context.Context, studentID, queryID, kind string) error {
	if s.hist == nil {
		return ErrNoHistoryStore
	}
	return s.hist.SaveFeedback(ctx, studentID, queryID, kind)
}
