package studysheet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"tutor-rag/internal/config"
)

type fakeModel struct {
	out string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.out}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return f.out, nil
}

func TestKeyPointsParsesAndCaps(t *testing.T) {
	model := &fakeModel{out: `- Plants make their own food.
• Sunlight gives them energy.

* Water comes from the roots.
Leaves are green because of chlorophyll.
Point five.
Point six.
Point seven should be dropped.`}

	points, err := KeyPoints(context.Background(), model, config.LLMConfig{TimeoutSeconds: 1}, "Photosynthesis", "Science", 3)
	require.NoError(t, err)
	require.Len(t, points, 6)
	assert.Equal(t, "Plants make their own food.", points[0])
	assert.Equal(t, "Sunlight gives them energy.", points[1])
	assert.Equal(t, "Water comes from the roots.", points[2])
	assert.NotContains(t, points, "Point seven should be dropped.")
}

func TestKeyPointsNoModel(t *testing.T) {
	_, err := KeyPoints(context.Background(), nil, config.LLMConfig{}, "Photosynthesis", "Science", 3)
	assert.Error(t, err)
}

func TestRenderHTML(t *testing.T) {
	html, err := RenderHTML("Photosynthesis", "Science", 3, []string{
		"Plants make their own food.",
		"Sunlight gives them energy.",
	})
	require.NoError(t, err)

	out := string(html)
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "Photosynthesis")
	assert.Contains(t, out, "Grade 3 | Science")
	assert.Contains(t, out, "<li>Plants make their own food.</li>")
	assert.Contains(t, out, "Viddy 🦉")
}
