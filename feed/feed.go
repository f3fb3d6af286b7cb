package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"word-finder/content"
	"word-finder/provider"
	"word-finder/ranker"
)

// DefaultWord is looked up when a feed has no query and no recent search.
const DefaultWord = "example"

const defaultSlots = 5

var (
	// ErrSuperseded is returned when a newer feed for the same target
	// started before this one finished fetching.
	ErrSuperseded = errors.New("feed superseded by a newer request")

	// ErrCardNotFound is returned when a card ID is unknown.
	ErrCardNotFound = errors.New("card not found")
)

var (
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finder_feed_build_duration_seconds",
		Help:    "Time to fetch and commit a feed",
		Buckets: prometheus.DefBuckets,
	})

	supersededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finder_feed_superseded_total",
		Help: "Feeds dropped because a newer request for the same target started",
	})
)

// Card is one filled feed slot.
type Card struct {
	ID             string       `json:"id"`
	Generation     string       `json:"generation"`
	Target         string       `json:"-"`
	Slot           int          `json:"slot"`
	Type           content.Type `json:"type"`
	Query          string       `json:"query"`
	Content        string       `json:"content"`
	PromptFeedback bool         `json:"promptFeedback"`

	// OnImpressionEnd re-records the impression with the measured dwell time.
	OnImpressionEnd func(dwellSeconds float64) `json:"-"`
	// OnFeedback records a like or dislike for the card's content type.
	OnFeedback func(liked bool) `json:"-"`
}

// Feed is the result of a build.
type Feed struct {
	Generation string   `json:"generation"`
	Query      string   `json:"query"`
	Cards      []*Card  `json:"cards"`
	Related    []string `json:"related"`
}

// ContentFetcher fetches slot content. It never fails; failures come back
// as fallback text.
type ContentFetcher interface {
	Fetch(ctx context.Context, t content.Type, req provider.Request) string
}

// Personalizer is the engagement state the builder reads and updates.
type Personalizer interface {
	RankTypes() []content.Type
	RecordImpression(ctx context.Context, t content.Type, query string, dwellSeconds float64, text string) bool
	RecordFeedback(ctx context.Context, t content.Type, liked bool)
	Recommend(query string) []string
	RandomRecentSearch() (string, bool)
}

// CardStore logs delivered cards so later interactions can find them.
type CardStore interface {
	SaveCard(ctx context.Context, card *Card) error
	GetCard(ctx context.Context, id string) (*Card, error)
}

// Renderer displays a committed feed.
type Renderer interface {
	RenderCard(ctx context.Context, card *Card) error
	RenderRelated(ctx context.Context, words []string) error
}

// Params selects what to build.
type Params struct {
	// Target identifies the audience (a chat, an HTTP client). Newer builds
	// for the same target supersede older ones.
	Target string
	// Query is the searched word; empty builds the home feed.
	Query string
	// Slots overrides the builder's slot count when positive.
	Slots int
}

// Builder fills feeds slot by slot.
type Builder struct {
	fetcher      ContentFetcher
	personalizer Personalizer
	cards        CardStore
	slots        int
	now          func() time.Time

	mu     sync.Mutex
	latest map[string]string
}

// Option configures a Builder.
type Option func(*Builder)

// WithSlots sets the number of cards per feed.
func WithSlots(n int) Option {
	return func(b *Builder) {
		b.slots = n
	}
}

// WithClock sets the time source used for date facts.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a new feed builder.
func NewBuilder(fetcher ContentFetcher, personalizer Personalizer, cards CardStore, opts ...Option) *Builder {
	b := &Builder{
		fetcher:      fetcher,
		personalizer: personalizer,
		cards:        cards,
		slots:        defaultSlots,
		now:          time.Now,
		latest:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches and commits a feed. Only the most recent Build per target
// commits; earlier ones that finish later return ErrSuperseded without
// touching metrics or the renderer.
func (b *Builder) Build(ctx context.Context, p Params, renderer Renderer) (*Feed, error) {
	start := time.Now()
	target, query := p.Target, p.Query
	generation := b.begin(target)
	defer b.finish(target, generation)

	slots := b.slots
	if p.Slots > 0 {
		slots = p.Slots
	}

	word := query
	if word == "" {
		if recent, ok := b.personalizer.RandomRecentSearch(); ok {
			word = recent
		} else {
			word = DefaultWord
		}
	}

	order := b.personalizer.RankTypes()
	types := make([]content.Type, slots)
	for i := range types {
		types[i] = ranker.SelectSlot(order, i)
	}

	slog.Info("building feed", "target", target, "query", query, "word", word, "order", order)

	req := provider.Request{Word: word, Date: b.now()}
	texts := make([]string, len(types))
	var wg sync.WaitGroup
	for i, t := range types {
		wg.Add(1)
		go func(i int, t content.Type) {
			defer wg.Done()
			texts[i] = b.fetcher.Fetch(ctx, t, req)
		}(i, t)
	}
	wg.Wait()

	if !b.isLatest(target, generation) {
		supersededTotal.Inc()
		slog.Info("dropping superseded feed", "target", target, "generation", generation)
		return nil, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f := &Feed{Generation: generation, Query: query, Related: []string{}}
	for i, t := range types {
		card := &Card{
			ID:         uuid.NewString(),
			Generation: generation,
			Target:     target,
			Slot:       i,
			Type:       t,
			Query:      word,
			Content:    texts[i],
		}
		card.PromptFeedback = b.personalizer.RecordImpression(ctx, t, word, 0, card.Content)
		b.bind(card)

		if err := b.cards.SaveCard(ctx, card); err != nil {
			slog.Warn("failed to log card", "card_id", card.ID, "error", err)
		}
		if err := renderer.RenderCard(ctx, card); err != nil {
			slog.Warn("failed to render card", "card_id", card.ID, "type", t, "error", err)
		}
		f.Cards = append(f.Cards, card)
	}

	if query != "" {
		f.Related = b.personalizer.Recommend(query)
		if len(f.Related) > 0 {
			if err := renderer.RenderRelated(ctx, f.Related); err != nil {
				slog.Warn("failed to render related words", "error", err)
			}
		}
	}

	buildDuration.Observe(time.Since(start).Seconds())
	slog.Info("feed complete", "target", target, "generation", generation, "cards", len(f.Cards))
	return f, nil
}

// EndImpression re-records a logged card's impression with its dwell time.
func (b *Builder) EndImpression(ctx context.Context, cardID string, dwellSeconds float64) error {
	card, err := b.lookup(ctx, cardID)
	if err != nil {
		return err
	}
	b.personalizer.RecordImpression(ctx, card.Type, card.Query, dwellSeconds, card.Content)
	return nil
}

// Feedback records a like or dislike for a logged card.
func (b *Builder) Feedback(ctx context.Context, cardID string, liked bool) (*Card, error) {
	card, err := b.lookup(ctx, cardID)
	if err != nil {
		return nil, err
	}
	b.personalizer.RecordFeedback(ctx, card.Type, liked)
	return card, nil
}

func (b *Builder) lookup(ctx context.Context, cardID string) (*Card, error) {
	card, err := b.cards.GetCard(ctx, cardID)
	if err != nil {
		if errors.Is(err, ErrCardNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup card %s: %w", cardID, err)
	}
	return card, nil
}

func (b *Builder) bind(card *Card) {
	t, query, text := card.Type, card.Query, card.Content
	card.OnImpressionEnd = func(dwellSeconds float64) {
		b.personalizer.RecordImpression(context.Background(), t, query, dwellSeconds, text)
	}
	card.OnFeedback = func(liked bool) {
		b.personalizer.RecordFeedback(context.Background(), t, liked)
	}
}

func (b *Builder) begin(target string) string {
	generation := uuid.NewString()
	b.mu.Lock()
	b.latest[target] = generation
	b.mu.Unlock()
	return generation
}

// finish forgets target once its latest build has returned.
func (b *Builder) finish(target, generation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.latest[target] == generation {
		delete(b.latest, target)
	}
}

func (b *Builder) isLatest(target, generation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest[target] == generation
}
