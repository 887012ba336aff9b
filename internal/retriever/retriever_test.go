package retriever

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutor-rag/internal/config"
	"tutor-rag/internal/models"
	"tutor-rag/internal/vectorindex"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func testRAGConfig() config.RAGConfig {
	return config.RAGConfig{
		TopK:             6,
		MinScore:         0.30,
		MaxContextChunks: 3,
	}
}

// chunkDoc builds a stored chunk whose similarity to the query vector
// [1,0,0] is exactly sim.
func chunkDoc(owner models.Owner, id, text string, page int, sim float64) chromem.Document {
	return chromem.Document{
		ID:      id,
		Content: text,
		Embedding: []float32{
			float32(sim),
			float32(math.Sqrt(1 - sim*sim)),
			0,
		},
		Metadata: map[string]string{
			vectorindex.MetaStudentID: owner.StudentID,
			vectorindex.MetaSubject:   strings.ToLower(owner.Subject),
			vectorindex.MetaPage:      fmt.Sprint(page),
		},
	}
}

func newTestRetriever(t *testing.T, owner models.Owner, docs []chromem.Document) *Retriever {
	t.Helper()
	index, err := vectorindex.NewManager(&config.VectorConfig{InMemory: true})
	require.NoError(t, err)
	if docs != nil {
		require.NoError(t, index.Replace(context.Background(), owner, docs))
	}
	return New(fakeEmbedder{}, index, testRAGConfig())
}

func TestRetrieveNoTextbook(t *testing.T) {
	owner := models.Owner{StudentID: "alice", Subject: "Science"}
	r := newTestRetriever(t, owner, nil)

	block, chunks, err := r.Retrieve(context.Background(), "what is photosynthesis", owner)
	require.NoError(t, err)
	assert.Empty(t, block)
	assert.Nil(t, chunks)
}

func TestRetrieveRanksAndFilters(t *testing.T) {
	owner := models.Owner{StudentID: "alice", Subject: "Science"}
	r := newTestRetriever(t, owner, []chromem.Document{
		chunkDoc(owner, "c1", "water cycle basics", 30, 0.55),
		chunkDoc(owner, "c2", "plants make their own food", 12, 0.92),
		chunkDoc(owner, "c3", "glossary of terms", 88, 0.10),
	})

	block, chunks, err := r.Retrieve(context.Background(), "how do plants eat", owner)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "plants make their own food", chunks[0].Text)
	assert.Equal(t, 12, chunks[0].SourcePage)
	assert.InDelta(t, 0.92, chunks[0].Similarity, 0.001)
	assert.Equal(t, 30, chunks[1].SourcePage)

	assert.Contains(t, block, "[Page 12 | relevance 0.92]")
	assert.Contains(t, block, "plants make their own food")
	assert.Contains(t, block, models.ContextSeparator)
	assert.NotContains(t, block, "glossary of terms")
}

func TestRetrieveCapsContextChunks(t *testing.T) {
	owner := models.Owner{StudentID: "alice", Subject: "Science"}
	r := newTestRetriever(t, owner, []chromem.Document{
		chunkDoc(owner, "c1", "chunk one", 1, 0.90),
		chunkDoc(owner, "c2", "chunk two", 2, 0.85),
		chunkDoc(owner, "c3", "chunk three", 3, 0.80),
		chunkDoc(owner, "c4", "chunk four", 4, 0.75),
		chunkDoc(owner, "c5", "chunk five", 5, 0.70),
	})

	_, chunks, err := r.Retrieve(context.Background(), "anything", owner)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "chunk one", chunks[0].Text)
	assert.Equal(t, "chunk three", chunks[2].Text)
}

func TestRetrieveAllBelowThreshold(t *testing.T) {
	owner := models.Owner{StudentID: "alice", Subject: "Science"}
	r := newTestRetriever(t, owner, []chromem.Document{
		chunkDoc(owner, "c1", "unrelated one", 1, 0.12),
		chunkDoc(owner, "c2", "unrelated two", 2, 0.05),
	})

	block, chunks, err := r.Retrieve(context.Background(), "quantum physics", owner)
	require.NoError(t, err)
	assert.Empty(t, block)
	assert.Nil(t, chunks)
}

func TestRetrieveNoEmbedder(t *testing.T) {
	owner := models.Owner{StudentID: "alice", Subject: "Science"}
	index, err := vectorindex.NewManager(&config.VectorConfig{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, index.Replace(context.Background(), owner, []chromem.Document{
		chunkDoc(owner, "c1", "something", 1, 0.9),
	}))

	r := New(nil, index, testRAGConfig())
	_, _, err = r.Retrieve(context.Background(), "anything", owner)
	assert.Error(t, err)
}

func TestFormatContextUnknownPage(t *testing.T) {
	block := formatContext([]models.RetrievedChunk{
		{Text: "no page info", SourcePage: 0, Similarity: 0.8},
	})
	assert.Contains(t, block, "[Your textbook | relevance 0.80]")
}

func TestFormatCitations(t *testing.T) {
	assert.Equal(t, "", FormatCitations(nil))
	assert.Equal(t, "", FormatCitations([]models.RetrievedChunk{{SourcePage: 0}}))

	assert.Equal(t,
		"📖 Source: Your textbook (Page 12)",
		FormatCitations([]models.RetrievedChunk{{SourcePage: 12}}))

	assert.Equal(t,
		"📖 Source: Your textbook (Pages 3, 7, 12)",
		FormatCitations([]models.RetrievedChunk{
			{SourcePage: 12},
			{SourcePage: 3},
			{SourcePage: 7},
			{SourcePage: 3},
		}))
}
