package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"word-finder/content"
	"word-finder/ranker"
)

// StorageKey is the blob store key the record lives under.
const StorageKey = "finderMetrics"

// PromptEvery is the impression interval at which feedback is requested.
const PromptEvery = 3

// MaxDwellSeconds caps the dwell time a single impression can contribute.
const MaxDwellSeconds = 3600

// ErrNoRecord is returned by a Store when nothing is stored under the key.
var ErrNoRecord = errors.New("no stored metrics record")

var (
	impressionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_impressions_total",
		Help: "Card impressions recorded, by content type",
	}, []string{"type"})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finder_feedback_total",
		Help: "Feedback events recorded, by content type and verdict",
	}, []string{"type", "liked"})

	saveFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finder_metrics_save_failures_total",
		Help: "Failed writes of the metrics record",
	})
)

// Store is a key-value blob store.
type Store interface {
	LoadBlob(ctx context.Context, key string) ([]byte, error)
	SaveBlob(ctx context.Context, key string, data []byte) error
}

// Tracker records impressions and feedback and answers ordering queries.
// The full record is written back to the Store after each mutation; a failed
// save is logged and never reported to the caller.
type Tracker struct {
	mu     sync.Mutex
	record *Record
	store  Store
	ranker *ranker.Ranker
	now    func() time.Time
	pick   func(n int) int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLikeBonus sets the score bonus per liked feedback event.
func WithLikeBonus(bonus float64) Option {
	return func(t *Tracker) {
		t.ranker = ranker.NewRanker(bonus)
	}
}

// WithClock sets the time source used for feedback timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithPicker sets the random index source used to sample recent searches.
func WithPicker(pick func(n int) int) Option {
	return func(t *Tracker) {
		t.pick = pick
	}
}

// Open loads the record from store, or starts a fresh one when none exists
// or the stored one cannot be decoded.
func Open(ctx context.Context, store Store, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		store:  store,
		ranker: ranker.NewRanker(ranker.DefaultLikeBonus),
		now:    time.Now,
		pick:   rand.Intn,
	}
	for _, opt := range opts {
		opt(t)
	}

	data, err := store.LoadBlob(ctx, StorageKey)
	switch {
	case errors.Is(err, ErrNoRecord):
		t.record = NewRecord()
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("load metrics: %w", err)
	}

	record := &Record{}
	if err := json.Unmarshal(data, record); err != nil {
		slog.Warn("discarding unreadable metrics record", "error", err)
		t.record = NewRecord()
		return t, nil
	}
	record.normalize()
	t.record = record

	return t, nil
}

// RecordImpression registers that a card of type typ was shown for query,
// optionally with the seconds the user dwelt on it and the rendered text.
// It reports whether the user should now be asked for feedback.
func (t *Tracker) RecordImpression(ctx context.Context, typ content.Type, query string, dwellSeconds float64, text string) bool {
	switch {
	case math.IsNaN(dwellSeconds) || dwellSeconds < 0:
		dwellSeconds = 0
	case dwellSeconds > MaxDwellSeconds:
		dwellSeconds = MaxDwellSeconds
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.record
	r.Clicks++
	r.LastQuery = query
	r.TypeEngagement[typ] += 1 + dwellSeconds/10
	r.addRecentSearch(query)

	if text != "" {
		for _, word := range Tokenize(text) {
			r.RelatedWords.Add(word)
		}
	}

	r.recomputePreferredType()
	t.persist(ctx)

	impressionsTotal.WithLabelValues(string(typ)).Inc()

	return r.Clicks%PromptEvery == 0
}

// RecordFeedback appends a like or dislike for typ.
func (t *Tracker) RecordFeedback(ctx context.Context, typ content.Type, liked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.record.Feedback = append(t.record.Feedback, Feedback{
		Type:      typ,
		Liked:     liked,
		Timestamp: t.now(),
	})
	t.persist(ctx)

	feedbackTotal.WithLabelValues(string(typ), strconv.FormatBool(liked)).Inc()
}

// ShouldPromptFeedback reports whether the impression count is a multiple
// of PromptEvery.
func (t *Tracker) ShouldPromptFeedback() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clicks%PromptEvery == 0
}

// Rank returns the scored content types, best first.
func (t *Tracker) Rank() []ranker.RankedType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ranker.Rank(t.record.TypeEngagement, t.record.LikedTypes())
}

// RankTypes returns the content types in feed order.
func (t *Tracker) RankTypes() []content.Type {
	return ranker.Order(t.Rank())
}

// Recommend returns up to three related words for query.
func (t *Tracker) Recommend(query string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ranker.Recommend(t.record.RelatedWords.Entries(), query, ranker.DefaultRecommendLimit)
}

// RandomRecentSearch samples one of the recent searches.
func (t *Tracker) RandomRecentSearch() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.record.RecentSearches)
	if n == 0 {
		return "", false
	}
	return t.record.RecentSearches[t.pick(n)], true
}

// Snapshot returns a copy of the current record.
func (t *Tracker) Snapshot() *Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.Clone()
}

// persist writes the record; callers must hold t.mu.
func (t *Tracker) persist(ctx context.Context) {
	data, err := json.Marshal(t.record)
	if err != nil {
		saveFailuresTotal.Inc()
		slog.Warn("failed to encode metrics", "error", err)
		return
	}
	if err := t.store.SaveBlob(ctx, StorageKey, data); err != nil {
		saveFailuresTotal.Inc()
		slog.Warn("failed to save metrics", "error", err)
	}
}
