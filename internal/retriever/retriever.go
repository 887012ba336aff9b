package retriever

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"tutor-rag/internal/config"
	"tutor-rag/internal/embedding"
	"tutor-rag/internal/models"
	"tutor-rag/internal/vectorindex"
)

// Retriever turns a question into a citation-bearing context block.
//
// An empty context block is a signal, not an error, and it is
// deliberately ambiguous at this layer: it means either "no textbook
// uploaded" or "textbook covers nothing relevant". The pipeline
// disambiguates using profile.TextbookUploaded: that one flag decides
// between the general-knowledge fallback and the refusal
// circuit-breaker, and nothing here may collapse the two.
type Retriever struct {
	embedder embedding.Embedder
	index    *vectorindex.Manager
	cfg      config.RAGConfig
}

func New(embedder embedding.Embedder, index *vectorindex.Manager, cfg config.RAGConfig) *Retriever {
	return &Retriever{embedder: embedder, index: index, cfg: cfg}
}

// Retrieve embeds the query, finds the owner's nearest chunks, filters
// by the similarity threshold, then sorts and caps. Threshold filtering
// runs BEFORE the cap: capping first would starve results whenever
// everything is borderline-relevant.
func (r *Retriever) Retrieve(ctx context.Context, query string, owner models.Owner) (string, []models.RetrievedChunk, error) {
	if !r.index.Exists(owner) {
		return "", nil, nil
	}
	if r.embedder == nil {
		return "", nil, errors.New("no embedder configured")
	}

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return "", nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.index.Query(ctx, owner, queryEmbedding, r.cfg.TopK)
	if errors.Is(err, vectorindex.ErrNoTextbook) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	minScore := float32(r.cfg.MinScore)
	chunks := make([]models.RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		similarity := 1 - match.Distance
		if similarity < minScore {
			continue
		}
		chunks = append(chunks, models.RetrievedChunk{
			Text:       match.Text,
			SourcePage: match.Page,
			Similarity: similarity,
			ChunkIndex: match.ChunkIndex,
		})
	}
	if len(chunks) == 0 {
		return "", nil, nil
	}

	// Stable sort keeps the original rank on equal scores.
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
	if len(chunks) > r.cfg.MaxContextChunks {
		chunks = chunks[:r.cfg.MaxContextChunks]
	}

	log.Debug().
		Str("student", owner.StudentID).
		Str("subject", owner.Subject).
		Int("chunks", len(chunks)).
		Msg("Retrieved context")

	return formatContext(chunks), chunks, nil
}

// formatContext renders chunks as attributed blocks, most relevant
// first, joined by a visible separator.
func formatContext(chunks []models.RetrievedChunk) string {
	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		header := fmt.Sprintf("[Your textbook | relevance %.2f]", chunk.Similarity)
		if chunk.SourcePage > 0 {
			header = fmt.Sprintf("[Page %d | relevance %.2f]", chunk.SourcePage, chunk.Similarity)
		}
		blocks = append(blocks, header+"\n"+chunk.Text)
	}
	return strings.Join(blocks, models.ContextSeparator)
}

// FormatCitations builds the page-list citation line for the final
// chunk set. Chunks without a known page contribute nothing; the
// result is empty when no page is known at all.
func FormatCitations(chunks []models.RetrievedChunk) string {
	seen := make(map[int]bool)
	pages := make([]int, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.SourcePage > 0 && !seen[chunk.SourcePage] {
			seen[chunk.SourcePage] = true
			pages = append(pages, chunk.SourcePage)
		}
	}
	if len(pages) == 0 {
		return ""
	}
	sort.Ints(pages)

	if len(pages) == 1 {
		return fmt.Sprintf("%s (Page %d)", models.CitationPrefix, pages[0])
	}
	parts := make([]string, len(pages))
	for i, page := range pages {
		parts[i] = fmt.Sprintf("%d", page)
	}
	return fmt.Sprintf("%s (Pages %s)", models.CitationPrefix, strings.Join(parts, ", "))
}
