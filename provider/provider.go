package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"word-finder/content"
)

const (
	defaultDictionaryURL = "https://api.dictionaryapi.dev"
	defaultFunFactURL    = "https://uselessfacts.jsph.pl"
	defaultDateFactURL   = "http://numbersapi.com"
)

// Fallback texts.
const (
	NoDefinition    = "No definition found."
	DefinitionError = "Error fetching definition."
	FunFactError    = "Could not fetch fun fact."
)

// DateFactFallbacks are served at random when the date API fails.
var DateFactFallbacks = []string{
	"On this day, something amazing happened in history!",
	"Did you know? Today has a fun fact waiting for you.",
	"This day in history was pretty cool!",
}

var errNoDefinition = errors.New("no definition")

var fetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "finder_provider_fetch_total",
	Help: "Content provider fetches, by provider and outcome",
}, []string{"provider", "outcome"})

// Request describes what a slot needs fetched.
type Request struct {
	Word string
	Date time.Time
}

type fetchFunc func(ctx context.Context, req Request) string

// Client fetches card content.
type Client struct {
	httpClient      *http.Client
	dictionaryURL   string
	funFactURL      string
	dateFactURL     string
	limiter         *rate.Limiter
	breakerFailures uint32
	breakerTimeout  time.Duration
	pick            func(n int) int
	breakers        map[content.Type]*gobreaker.CircuitBreaker[string]
	fetchers        map[content.Type]fetchFunc
}

// Option configures a Client.
type Option func(*Client)

// WithDictionaryURL sets the dictionary API base URL (for testing).
func WithDictionaryURL(u string) Option {
	return func(c *Client) {
		c.dictionaryURL = strings.TrimRight(u, "/")
	}
}

// WithFunFactURL sets the fun-fact API base URL (for testing).
func WithFunFactURL(u string) Option {
	return func(c *Client) {
		c.funFactURL = strings.TrimRight(u, "/")
	}
}

// WithDateFactURL sets the date-fact API base URL (for testing).
func WithDateFactURL(u string) Option {
	return func(c *Client) {
		c.dateFactURL = strings.TrimRight(u, "/")
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit caps outgoing requests across all providers.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithCircuitBreaker trips a provider's breaker after the given number of
// consecutive failures and keeps it open for timeout.
func WithCircuitBreaker(failures uint32, timeout time.Duration) Option {
	return func(c *Client) {
		c.breakerFailures = failures
		c.breakerTimeout = timeout
	}
}

// WithPicker sets the random index source used for date fallbacks.
func WithPicker(pick func(n int) int) Option {
	return func(c *Client) {
		c.pick = pick
	}
}

// NewClient creates a new provider client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		dictionaryURL:   defaultDictionaryURL,
		funFactURL:      defaultFunFactURL,
		dateFactURL:     defaultDateFactURL,
		limiter:         rate.NewLimiter(rate.Limit(5), 5),
		breakerFailures: 5,
		breakerTimeout:  30 * time.Second,
		pick:            rand.Intn,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breakers = make(map[content.Type]*gobreaker.CircuitBreaker[string], len(content.All))
	for _, t := range content.All {
		c.breakers[t] = c.newBreaker(t)
	}

	c.fetchers = map[content.Type]fetchFunc{
		content.Definition: func(ctx context.Context, req Request) string {
			return c.GetDefinition(ctx, req.Word)
		},
		content.FunFact: func(ctx context.Context, req Request) string {
			return c.GetFunFact(ctx)
		},
		content.DateFact: func(ctx context.Context, req Request) string {
			return c.GetDateFact(ctx, int(req.Date.Month()), req.Date.Day())
		},
	}

	return c
}

func (c *Client) newBreaker(t content.Type) *gobreaker.CircuitBreaker[string] {
	failures := c.breakerFailures
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    string(t),
		Timeout: c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNoDefinition)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Info("provider breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
	})
}

// Fetch returns the content for a slot of type t.
func (c *Client) Fetch(ctx context.Context, t content.Type, req Request) string {
	fetch, ok := c.fetchers[t]
	if !ok {
		slog.Warn("no provider for content type", "type", t)
		return ""
	}
	return fetch(ctx, req)
}

// GetDefinition returns "partOfSpeech: definition" for each meaning of
// word, joined with " | ".
func (c *Client) GetDefinition(ctx context.Context, word string) string {
	text, err := c.execute(ctx, content.Definition, func() (string, error) {
		return c.fetchDefinition(ctx, word)
	})
	switch {
	case errors.Is(err, errNoDefinition):
		return NoDefinition
	case err != nil:
		slog.Warn("definition fetch failed", "word", word, "error", err)
		return DefinitionError
	}
	return text
}

// GetFunFact returns a random fun fact.
func (c *Client) GetFunFact(ctx context.Context) string {
	text, err := c.execute(ctx, content.FunFact, func() (string, error) {
		return c.fetchText(ctx, c.funFactURL+"/random.json?language=en")
	})
	if err != nil {
		slog.Warn("fun fact fetch failed", "error", err)
		return FunFactError
	}
	return text
}

// GetDateFact returns a fact about the given calendar day.
func (c *Client) GetDateFact(ctx context.Context, month, day int) string {
	text, err := c.execute(ctx, content.DateFact, func() (string, error) {
		return c.fetchText(ctx, fmt.Sprintf("%s/%d/%d/date?json", c.dateFactURL, month, day))
	})
	if err != nil {
		slog.Warn("date fact fetch failed", "month", month, "day", day, "error", err)
		return DateFactFallbacks[c.pick(len(DateFactFallbacks))]
	}
	return text
}

func (c *Client) execute(ctx context.Context, t content.Type, fn func() (string, error)) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		fetchTotal.WithLabelValues(string(t), "fallback").Inc()
		return "", fmt.Errorf("rate limit: %w", err)
	}

	text, err := c.breakers[t].Execute(fn)
	if err != nil {
		fetchTotal.WithLabelValues(string(t), "fallback").Inc()
		return "", err
	}
	fetchTotal.WithLabelValues(string(t), "ok").Inc()
	return text, nil
}

type dictionaryEntry struct {
	Word     string    `json:"word"`
	Meanings []meaning `json:"meanings"`
}

type meaning struct {
	PartOfSpeech string `json:"partOfSpeech"`
	Definitions  []struct {
		Definition string `json:"definition"`
	} `json:"definitions"`
}

func (c *Client) fetchDefinition(ctx context.Context, word string) (string, error) {
	u := fmt.Sprintf("%s/api/v2/entries/en/%s", c.dictionaryURL, url.PathEscape(word))

	resp, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", errNoDefinition
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var entries []dictionaryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(entries) == 0 {
		return "", errNoDefinition
	}

	parts := make([]string, 0, len(entries[0].Meanings))
	for _, m := range entries[0].Meanings {
		if len(m.Definitions) == 0 {
			return "", fmt.Errorf("meaning %q has no definitions", m.PartOfSpeech)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", m.PartOfSpeech, m.Definitions[0].Definition))
	}
	return strings.Join(parts, " | "), nil
}

// fetchText reads the "text" field of a JSON fact response.
func (c *Client) fetchText(ctx context.Context, u string) (string, error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var fact struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fact); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if fact.Text == "" {
		return "", fmt.Errorf("empty fact")
	}
	return fact.Text, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	return resp, nil
}
