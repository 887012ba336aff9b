package models

import "strings"

// Owner identifies the isolation unit for textbook data.
// Every chunk, embedding and collection belongs to exactly one owner.
type Owner struct {
	StudentID string
	Subject   string
}

// Key returns the canonical owner key used for collection naming and
// metadata filters. Subject comparison is case-insensitive.
func (o Owner) Key() string {
	return o.StudentID + "|" + strings.ToLower(o.Subject)
}

// Page is one unit of extracted document text, as produced by the
// document extractor. Number is 1-based; 0 means the source format has
// no page concept (plain text, DOCX).
type Page struct {
	Number int
	Text   string
}

// Chunk is a bounded span of page text prepared for embedding.
type Chunk struct {
	Text          string
	SourcePage    int // 0 = unknown
	SequenceIndex int
}

// RetrievedChunk is a chunk scored against a query at retrieval time.
// It is derived per query and never persisted.
type RetrievedChunk struct {
	Text       string
	SourcePage int
	Similarity float32
	ChunkIndex int
}

// ConversationTurn is one line of the rolling short-term dialogue window.
type ConversationTurn struct {
	Role    string // "student" or "assistant"
	Content string
}

const (
	RoleStudent   = "student"
	RoleAssistant = "assistant"
)

// StudentProfile is the read-only per-call view of the student consumed
// by the prompt builder and the pipeline. Its lifecycle is owned by the
// session layer, not by this core.
type StudentProfile struct {
	StudentID        string
	Name             string
	Grade            int    // 1-5
	Subject          string
	LearningStyle    string // visual | kinesthetic | auditory | social
	ConfidenceBand   string // low | medium | high
	Motivation       string // extrinsic | intrinsic | mixed
	IQScores         map[string]int
	EQScores         map[string]int
	TextbookUploaded bool
}

// Owner returns the vector-index owner for this profile.
func (p StudentProfile) Owner() Owner {
	return Owner{StudentID: p.StudentID, Subject: p.Subject}
}

// GradeOrDefault clamps the grade to the supported 1-5 band.
func (p StudentProfile) GradeOrDefault() int {
	if p.Grade < 1 || p.Grade > 5 {
		return 3
	}
	return p.Grade
}
