package ingest

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"tutor-rag/internal/config"
	"tutor-rag/internal/embedding"
	"tutor-rag/internal/helper"
	"tutor-rag/internal/models"
	"tutor-rag/internal/vectorindex"
)

// ErrEmptyDocument means extraction produced no usable text after
// noise filtering, typically a scanned or image-only PDF. The caller
// must surface this instead of creating an empty collection.
var ErrEmptyDocument = errors.New("document contains no usable text")

// chunkSeparators is the layered split preference: paragraph breaks
// first, then lines, then sentence-ending punctuation, then spaces,
// then a hard character cut. The empty separator is the backstop that
// keeps an unbroken run (garbled or scanned extractions produce these)
// from becoming one oversized chunk.
var chunkSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " ", ""}

// Ingestor splits extracted pages into chunks, embeds them in batches
// and replaces the owner's collection with the result.
type Ingestor struct {
	embedder embedding.Embedder
	index    *vectorindex.Manager
	cfg      config.RAGConfig
}

func New(embedder embedding.Embedder, index *vectorindex.Manager, cfg config.RAGConfig) *Ingestor {
	return &Ingestor{embedder: embedder, index: index, cfg: cfg}
}

// Ingest processes one uploaded document for the owner. Any previous
// collection for the same owner is replaced wholesale, never merged,
// so a re-upload can't leave stale or duplicate chunks behind. Returns
// the number of chunks stored.
func (ing *Ingestor) Ingest(ctx context.Context, pages []models.Page, owner models.Owner, grade int) (int, error) {
	if ing.embedder == nil {
		return 0, errors.New("no embedder configured")
	}

	chunks, err := ing.split(pages)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, ErrEmptyDocument
	}

	textbookID, err := helper.GenerateUUID()
	if err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(chunks))
	batch := ing.cfg.EmbedBatchSize
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))

		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		vectors, err := ing.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embedding batch %d: %w", start/batch+1, err)
		}
		if len(vectors) != len(texts) {
			return 0, fmt.Errorf("embedding batch %d: got %d vectors for %d texts", start/batch+1, len(vectors), len(texts))
		}

		for i, chunk := range chunks[start:end] {
			docs = append(docs, chromem.Document{
				ID:        fmt.Sprintf("%s-c%04d", textbookID, chunk.SequenceIndex),
				Content:   chunk.Text,
				Embedding: vectors[i],
				Metadata: map[string]string{
					vectorindex.MetaStudentID:  owner.StudentID,
					vectorindex.MetaSubject:    strings.ToLower(owner.Subject),
					vectorindex.MetaGrade:      strconv.Itoa(grade),
					vectorindex.MetaPage:       strconv.Itoa(chunk.SourcePage),
					vectorindex.MetaChunkIndex: strconv.Itoa(chunk.SequenceIndex),
				},
			})
		}
	}

	if err := ing.index.Replace(ctx, owner, docs); err != nil {
		return 0, err
	}

	log.Info().
		Str("student", owner.StudentID).
		Str("subject", owner.Subject).
		Int("chunks", len(docs)).
		Msg("Ingested textbook")
	return len(docs), nil
}

// split turns pages into bounded chunks. Pages too short to carry
// content are skipped before splitting; sub-chunks too short after
// splitting (running headers, page numbers) are dropped.
func (ing *Ingestor) split(pages []models.Page) ([]models.Chunk, error) {
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ing.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(ing.cfg.ChunkOverlap),
		textsplitter.WithSeparators(chunkSeparators),
	)

	var chunks []models.Chunk
	seq := 0
	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if len(text) < ing.cfg.MinPageChars {
			continue
		}
		parts, err := splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", page.Number, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if len(part) < ing.cfg.MinChunkChars {
				continue
			}
			chunks = append(chunks, models.Chunk{
				Text:          part,
				SourcePage:    page.Number,
				SequenceIndex: seq,
			})
			seq++
		}
	}
	return chunks, nil
}
