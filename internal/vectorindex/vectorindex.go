package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"tutor-rag/internal/config"
	"tutor-rag/internal/models"
)

var (
	// ErrNoTextbook signals that no collection exists for the owner. It
	// is an expected condition, not a failure: callers use it to route
	// to the general-knowledge fallback path.
	ErrNoTextbook = errors.New("no textbook uploaded for this student and subject")

	// ErrNameCollision means two distinct owners resolved to the same
	// collection name. The disambiguating hash makes this effectively
	// impossible; if it ever fires it is a configuration fault and must
	// never be papered over by merging the owners' data.
	ErrNameCollision = errors.New("collection name collision between two owners")
)

// Metadata keys attached to every stored chunk. Queries filter on
// student_id and subject explicitly, so even if two owners' chunks ever
// shared physical storage the filter would still keep them apart.
const (
	MetaStudentID  = "student_id"
	MetaSubject    = "subject"
	MetaGrade      = "grade"
	MetaPage       = "page"
	MetaChunkIndex = "chunk_index"
)

const (
	// maxSlugLen bounds the readable part of a collection name so the
	// full name (slug + hash + generation) stays under common vector
	// store limits (Chroma caps names at 63 chars).
	maxSlugLen = 30
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Result is one ranked nearest-neighbor match. Distance is cosine
// distance: 0 identical, larger means less similar.
type Result struct {
	Text       string
	Page       int
	ChunkIndex int
	Distance   float32
}

type Stats struct {
	Exists     bool
	ChunkCount int
}

// Manager owns one isolated chromem collection per (student, subject).
//
// Re-uploads never mutate a live collection: Replace builds a fully
// populated collection under a fresh generation name, then publishes it
// by swapping a pointer in the live map. A concurrent query sees either
// the old complete collection or the new complete one, never a
// half-written state.
type Manager struct {
	db *chromem.DB

	mu     sync.RWMutex
	live   map[string]string // base name -> published collection name
	owners map[string]string // base name -> owner key, collision tripwire
}

// NewManager opens (or creates) the embedded vector store and recovers
// published collections from a previous run.
func NewManager(cfg *config.VectorConfig) (*Manager, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening vector store: %w", err)
		}
	}
	m := &Manager{
		db:     db,
		live:   make(map[string]string),
		owners: make(map[string]string),
	}
	m.recoverPublished()
	return m, nil
}

// recoverPublished rebuilds the live map after a restart. If a crash
// left more than one generation for a base name, the newest complete
// one wins and stale generations are dropped.
func (m *Manager) recoverPublished() {
	var stale []string
	for name := range m.db.ListCollections() {
		base, ok := splitGeneration(name)
		if !ok {
			continue
		}
		current, exists := m.live[base]
		if !exists {
			m.live[base] = name
			continue
		}
		// Generation suffixes are zero-padded millis, so the newer
		// name compares greater lexicographically.
		if name > current {
			stale = append(stale, current)
			m.live[base] = name
		} else {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		if err := m.db.DeleteCollection(name); err != nil {
			log.Warn().Err(err).Str("collection", name).Msg("Failed to drop stale collection generation")
		}
	}
}

// Replace atomically swaps in docs as the owner's entire collection.
// Passing an empty doc set is a caller bug (the ingest layer rejects
// empty documents before reaching here) but is tolerated.
func (m *Manager) Replace(ctx context.Context, owner models.Owner, docs []chromem.Document) error {
	base := baseName(owner)

	m.mu.RLock()
	current := m.live[base]
	m.mu.RUnlock()

	// Generations must be strictly increasing: replaces inside the same
	// millisecond would otherwise reuse the live name, and the cleanup
	// below would drop the fresh collection.
	gen := time.Now().UnixMilli()
	if current != "" {
		if prev, err := strconv.ParseInt(current[len(current)-13:], 10, 64); err == nil && prev >= gen {
			gen = prev + 1
		}
	}
	name := fmt.Sprintf("%s-g%013d", base, gen)

	col, err := m.db.CreateCollection(name, ownerMetadata(owner), nil)
	if err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			// Drop the half-written collection; the previously
			// published one stays live.
			if delErr := m.db.DeleteCollection(name); delErr != nil {
				log.Warn().Err(delErr).Str("collection", name).Msg("Failed to drop aborted collection")
			}
			return fmt.Errorf("adding documents: %w", err)
		}
	}

	m.mu.Lock()
	if existing, ok := m.owners[base]; ok && existing != owner.Key() {
		m.mu.Unlock()
		_ = m.db.DeleteCollection(name)
		return fmt.Errorf("%w: %q", ErrNameCollision, base)
	}
	old := m.live[base]
	m.live[base] = name
	m.owners[base] = owner.Key()
	m.mu.Unlock()

	if old != "" {
		if err := m.db.DeleteCollection(old); err != nil {
			log.Warn().Err(err).Str("collection", old).Msg("Failed to drop replaced collection")
		}
	}
	log.Info().Str("collection", name).Int("chunks", len(docs)).Msg("Published collection")
	return nil
}

// Query returns up to topK nearest neighbors for the owner, ranked by
// ascending distance. Results are restricted to the owner's own chunks
// by an explicit metadata equality filter, not just by collection
// naming. Fails with ErrNoTextbook if the owner has no collection.
func (m *Manager) Query(ctx context.Context, owner models.Owner, queryEmbedding []float32, topK int) ([]Result, error) {
	col, err := m.collection(owner)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}
	if topK <= 0 {
		return nil, nil
	}

	where := map[string]string{
		MetaStudentID: owner.StudentID,
		MetaSubject:   strings.ToLower(owner.Subject),
	}
	matches, err := col.QueryEmbedding(ctx, queryEmbedding, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, match := range matches {
		results = append(results, Result{
			Text:       match.Content,
			Page:       atoiOrZero(match.Metadata[MetaPage]),
			ChunkIndex: atoiOrZero(match.Metadata[MetaChunkIndex]),
			Distance:   1 - match.Similarity,
		})
	}
	return results, nil
}

// Delete removes the owner's collection. Returns false if none existed.
func (m *Manager) Delete(owner models.Owner) (bool, error) {
	base := baseName(owner)

	m.mu.Lock()
	name, ok := m.live[base]
	delete(m.live, base)
	delete(m.owners, base)
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := m.db.DeleteCollection(name); err != nil {
		return false, fmt.Errorf("dropping collection: %w", err)
	}
	return true, nil
}

// Stats reports whether the owner has a collection and how many chunks
// it holds.
func (m *Manager) Stats(owner models.Owner) Stats {
	col, err := m.collection(owner)
	if err != nil {
		return Stats{}
	}
	return Stats{Exists: true, ChunkCount: col.Count()}
}

// Exists reports whether a collection is published for the owner.
func (m *Manager) Exists(owner models.Owner) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.live[baseName(owner)]
	return ok
}

func (m *Manager) collection(owner models.Owner) (*chromem.Collection, error) {
	base := baseName(owner)

	m.mu.RLock()
	name, ok := m.live[base]
	existing, claimed := m.owners[base]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNoTextbook
	}
	if claimed && existing != owner.Key() {
		return nil, fmt.Errorf("%w: %q", ErrNameCollision, base)
	}
	col := m.db.GetCollection(name, nil)
	if col == nil {
		return nil, ErrNoTextbook
	}
	return col, nil
}

// baseName derives a deterministic collection name from the owner. The
// readable slug is truncated, so a hash of the full untruncated key is
// appended: two long subject names that truncate to the same prefix
// still get distinct collections.
func baseName(owner models.Owner) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower("student-"+owner.StudentID+"-"+owner.Subject), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
	}
	h := fnv.New64a()
	h.Write([]byte(owner.Key()))
	return fmt.Sprintf("%s-%016x", slug, h.Sum64())
}

// splitGeneration strips the "-g<13 digits>" suffix added by Replace.
func splitGeneration(name string) (string, bool) {
	i := strings.LastIndex(name, "-g")
	if i < 0 || len(name)-i != 15 {
		return "", false
	}
	for _, r := range name[i+2:] {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return name[:i], true
}

func ownerMetadata(owner models.Owner) map[string]string {
	return map[string]string{
		MetaStudentID: owner.StudentID,
		MetaSubject:   strings.ToLower(owner.Subject),
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
