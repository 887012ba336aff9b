package history

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"tutor-rag/internal/config"
)

// ChatMessage is one persisted question/answer exchange. Unlike the
// in-process conversation window, this survives restarts; it backs the
// "chat history" view and feedback analysis, not prompting.
type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages,alias:cm"`
	ID            int64     `bun:"id,pk,autoincrement"`
	StudentID     string    `bun:"student_id,notnull"`
	QueryID       string    `bun:"query_id"`
	Query         string    `bun:"query,notnull"`
	Response      string    `bun:"response,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Feedback is a thumbs-up/thumbs-down vote on one answer.
type Feedback struct {
	bun.BaseModel `bun:"table:feedback,alias:f"`
	ID            int64     `bun:"id,pk,autoincrement"`
	StudentID     string    `bun:"student_id,notnull"`
	QueryID       string    `bun:"query_id,notnull"`
	Kind          string    `bun:"kind,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Store is the optional Postgres-backed chat log. The rest of the core
// treats it as absent when not configured.
type Store struct {
	db *bun.DB
}

// Connect opens the history database. With a password configured it
// uses the pgdriver connector (Supabase-style auth); otherwise it goes
// through the registered lib/pq driver with a plain DSN.
func Connect(cfg *config.HistoryConfig) (*Store, error) {
	var sqldb *sql.DB
	if cfg.Password != "" {
		sqldb = sql.OpenDB(pgdriver.NewConnector(
			pgdriver.WithDSN(cfg.DSN),
			pgdriver.WithPassword(cfg.Password),
		))
	} else {
		var err error
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return &Store{db: db}, nil
}

// Init creates the tables if they don't exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*ChatMessage)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateTable().Model((*Feedback)(nil)).IfNotExists().Exec(ctx)
	return err
}

// SaveMessage records one completed exchange.
func (s *Store) SaveMessage(ctx context.Context, studentID, queryID, query, response string) error {
	msg := &ChatMessage{
		StudentID: studentID,
		QueryID:   queryID,
		Query:     query,
		Response:  response,
	}
	_, err := s.db.NewInsert().Model(msg).Exec(ctx)
	return err
}

// Recent returns up to limit exchanges for the student, newest first.
func (s *Store) Recent(ctx context.Context, studentID string, limit int) ([]ChatMessage, error) {
	var msgs []ChatMessage
	err := s.db.NewSelect().
		Model(&msgs).
		Where("student_id = ?", studentID).
		OrderExpr("created_at DESC").
		Limit(limit).
		Scan(ctx)
	return msgs, err
}

// SaveFeedback records a vote on an answer.
func (s *Store) SaveFeedback(ctx context.Context, studentID, queryID, kind string) error {
	fb := &Feedback{StudentID: studentID, QueryID: queryID, Kind: kind}
	_, err := s.db.NewInsert().Model(fb).Exec(ctx)
	return err
}

// Clear drops all of a student's persisted messages.
func (s *Store) Clear(ctx context.Context, studentID string) error {
	_, err := s.db.NewDelete().
		Model((*ChatMessage)(nil)).
		Where("student_id = ?", studentID).
		Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
