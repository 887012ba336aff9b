package studysheet

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"tutor-rag/internal/config"
	"tutor-rag/internal/llmservice"
)

const maxKeyPoints = 6

// KeyPoints asks the model for short classroom teaching points on a
// concept, one per line.
func KeyPoints(ctx context.Context, model llms.Model, cfg config.LLMConfig, concept, subject string, grade int) ([]string, error) {
	const system = "You prepare short, simple teaching key points for a primary school classroom."
	user := fmt.Sprintf(
		"Generate 5 short, simple teaching key points for:\nSubject: %s\nConcept: %s\nGrade: %d\n\nKeep sentences short.\nNo numbering.\nOne point per line.",
		subject, concept, grade)

	raw, err := llmservice.Generate(ctx, model, system, user, 0.5, time.Duration(cfg.TimeoutSeconds)*time.Second)
	if err != nil {
		return nil, err
	}

	var points []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "-•* ")
		if line == "" {
			continue
		}
		points = append(points, line)
		if len(points) == maxKeyPoints {
			break
		}
	}
	return points, nil
}

// RenderHTML builds a printable study sheet from key points. The sheet
// is assembled as markdown and rendered with goldmark.
func RenderHTML(concept, subject string, grade int, points []string) ([]byte, error) {
	md := &strings.Builder{}
	fmt.Fprintf(md, "# %s\n\n", concept)
	fmt.Fprintf(md, "**Grade %d | %s**\n\n", grade, subject)
	md.WriteString("## Key Points\n\n")
	for _, point := range points {
		fmt.Fprintf(md, "- %s\n", point)
	}
	md.WriteString("\n---\n\nMade with Viddy 🦉\n")

	renderer := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	var buf bytes.Buffer
	if err := renderer.Convert([]byte(md.String()), &buf); err != nil {
		return nil, fmt.Errorf("rendering study sheet: %w", err)
	}
	return buf.Bytes(), nil
}
