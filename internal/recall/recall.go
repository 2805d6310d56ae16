// Package recall ranks a character's memories against conversational context.
package recall

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/relevance"
)

const (
	DefaultLimit    = 5
	DefaultMinScore = 0.1
)

// Scored is a memory record with its relevance to one query. Never persisted.
type Scored struct {
	memory.Record
	Score float64 `json:"score"`
}

// Observer receives retrieval outcomes; observability.Metrics satisfies it.
type Observer interface {
	ObserveMemoryEvent(event string)
}

// Retriever loads and ranks memories. Read failures degrade to an empty
// result; memory augmentation must never fail a conversation turn.
type Retriever struct {
	store    memory.Store
	scorer   relevance.Scorer
	logger   *slog.Logger
	observer Observer
	// normalize maps stored content onto the text that gets scored.
	normalize func(string) string
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithScorer swaps the relevance scorer.
func WithScorer(s relevance.Scorer) Option {
	return func(r *Retriever) {
		if s != nil {
			r.scorer = s
		}
	}
}

// WithContentNormalizer scores fn(content) instead of the stored content.
// Records are returned unchanged.
func WithContentNormalizer(fn func(string) string) Option {
	return func(r *Retriever) {
		if fn != nil {
			r.normalize = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.logger = logging.OrDiscard(l) }
}

func WithObserver(o Observer) Option {
	return func(r *Retriever) { r.observer = o }
}

func NewRetriever(store memory.Store, opts ...Option) *Retriever {
	r := &Retriever{
		store:  store,
		scorer: relevance.Default,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Records lists every record for the character, or nil on failure.
func (r *Retriever) Records(ctx context.Context, characterID string) []memory.Record {
	if r == nil || r.store == nil || strings.TrimSpace(characterID) == "" {
		return nil
	}
	records, err := r.store.List(ctx, characterID)
	if err != nil {
		r.logger.Warn("memory read failed, continuing without memories", "character_id", characterID, "error", err)
		r.observe("read_failed")
		return nil
	}
	return records
}

// Retrieve scores every memory against queryContext, drops those below
// minScore, orders by score then importance (both descending) and keeps at
// most limit. limit <= 0 keeps everything.
func (r *Retriever) Retrieve(ctx context.Context, characterID, queryContext string, limit int, minScore float64) []Scored {
	records := r.Records(ctx, characterID)
	if len(records) == 0 {
		return []Scored{}
	}

	scored := make([]Scored, 0, len(records))
	for _, rec := range records {
		content := rec.Content
		if r.normalize != nil {
			content = r.normalize(content)
		}
		s := r.scorer.Score(queryContext, content)
		if s < minScore {
			continue
		}
		scored = append(scored, Scored{Record: rec, Score: s})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Importance > scored[j].Importance
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	if len(scored) > 0 {
		r.observe("retrieved")
	}
	return scored
}

var typePriority = map[memory.Type]int{
	memory.TypePreference:   5,
	memory.TypeRelationship: 4,
	memory.TypeFact:         3,
	memory.TypeEvent:        2,
	memory.TypeConversation: 1,
}

// Personality orders memories by type priority (PREFERENCE, RELATIONSHIP,
// FACT, EVENT, CONVERSATION, then the rest) and importance. Used before any
// conversational query exists, e.g. at session start. Score is left at zero.
func (r *Retriever) Personality(ctx context.Context, characterID string, limit int) []Scored {
	records := r.Records(ctx, characterID)
	if len(records) == 0 {
		return []Scored{}
	}
	out := make([]Scored, 0, len(records))
	for _, rec := range records {
		out = append(out, Scored{Record: rec})
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := typePriority[out[i].Type], typePriority[out[j].Type]
		if pi != pj {
			return pi > pj
		}
		return out[i].Importance > out[j].Importance
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Retriever) observe(event string) {
	if r.observer != nil {
		r.observer.ObserveMemoryEvent(event)
	}
}

// RelativeTime renders a record timestamp as "3 hours ago".
func RelativeTime(rec memory.Record, now time.Time) string {
	t, ok := rec.Time()
	if !ok {
		return "some time ago"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatLine renders a memory the way prompts list them:
// "- (<type>, <relative time>) <content>".
func FormatLine(rec memory.Record, content string, now time.Time) string {
	typ := strings.ToLower(string(rec.Type))
	if typ == "" {
		typ = string(memory.TypeUnknown)
	}
	return "- (" + typ + ", " + RelativeTime(rec, now) + ") " + strings.TrimSpace(content)
}

// FormatLines renders scored memories one per line.
func FormatLines(items []Scored, now time.Time) string {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, FormatLine(it.Record, it.Content, now))
	}
	return strings.Join(lines, "\n")
}
