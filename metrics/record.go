package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"word-finder/content"
	"word-finder/ranker"
)

// MaxRecentSearches bounds Record.RecentSearches.
const MaxRecentSearches = 10

// Record is the persisted engagement state.
type Record struct {
	Clicks         int                      `json:"clicks"`
	LastQuery      string                   `json:"lastQuery"`
	PreferredType  content.Type             `json:"preferredType"`
	TypeEngagement map[content.Type]float64 `json:"typeEngagement"`
	Feedback       []Feedback               `json:"feedback"`
	RecentSearches []string                 `json:"recentSearches"`
	RelatedWords   *WordCounts              `json:"relatedWords"`
}

// Feedback is a single like/dislike for a shown card.
type Feedback struct {
	Type      content.Type `json:"type"`
	Liked     bool         `json:"liked"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewRecord returns the state of a first-time user.
func NewRecord() *Record {
	r := &Record{}
	r.normalize()
	return r
}

// normalize fills in anything a stored record may lack.
func (r *Record) normalize() {
	if r.PreferredType == "" {
		r.PreferredType = content.Definition
	}
	if r.TypeEngagement == nil {
		r.TypeEngagement = make(map[content.Type]float64)
	}
	for _, t := range content.All {
		if _, ok := r.TypeEngagement[t]; !ok {
			r.TypeEngagement[t] = 0
		}
	}
	if r.Feedback == nil {
		r.Feedback = []Feedback{}
	}
	if r.RecentSearches == nil {
		r.RecentSearches = []string{}
	}
	if len(r.RecentSearches) > MaxRecentSearches {
		r.RecentSearches = r.RecentSearches[len(r.RecentSearches)-MaxRecentSearches:]
	}
	if r.RelatedWords == nil {
		r.RelatedWords = NewWordCounts()
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := &Record{
		Clicks:         r.Clicks,
		LastQuery:      r.LastQuery,
		PreferredType:  r.PreferredType,
		TypeEngagement: make(map[content.Type]float64, len(r.TypeEngagement)),
		Feedback:       append([]Feedback{}, r.Feedback...),
		RecentSearches: append([]string{}, r.RecentSearches...),
		RelatedWords:   r.RelatedWords.Clone(),
	}
	for k, v := range r.TypeEngagement {
		c.TypeEngagement[k] = v
	}
	return c
}

// LikedTypes returns the type of every liked feedback event in order.
func (r *Record) LikedTypes() []content.Type {
	var liked []content.Type
	for _, f := range r.Feedback {
		if f.Liked {
			liked = append(liked, f.Type)
		}
	}
	return liked
}

// LikeCounts tallies feedback per type.
func (r *Record) LikeCounts() (likes, dislikes map[content.Type]int) {
	likes = make(map[content.Type]int)
	dislikes = make(map[content.Type]int)
	for _, f := range r.Feedback {
		if f.Liked {
			likes[f.Type]++
		} else {
			dislikes[f.Type]++
		}
	}
	return likes, dislikes
}

func (r *Record) addRecentSearch(query string) {
	for _, q := range r.RecentSearches {
		if q == query {
			return
		}
	}
	r.RecentSearches = append(r.RecentSearches, query)
	if len(r.RecentSearches) > MaxRecentSearches {
		r.RecentSearches = r.RecentSearches[1:]
	}
}

func (r *Record) recomputePreferredType() {
	best := content.All[0]
	for _, t := range content.All[1:] {
		if r.TypeEngagement[t] > r.TypeEngagement[best] {
			best = t
		}
	}
	r.PreferredType = best
}

var nonWord = regexp.MustCompile(`\W+`)

// Tokenize splits text on runs of non-word characters and lowercases every
// token. Leading or trailing punctuation produces empty tokens, which are
// kept.
func Tokenize(text string) []string {
	tokens := nonWord.Split(text, -1)
	for i, tok := range tokens {
		tokens[i] = strings.ToLower(tok)
	}
	return tokens
}

// WordCounts is a word → count table that remembers insertion order,
// including across JSON round trips.
type WordCounts struct {
	order  []string
	counts map[string]int
}

// NewWordCounts creates an empty table.
func NewWordCounts() *WordCounts {
	return &WordCounts{counts: make(map[string]int)}
}

// Add increments the count of word, appending it if unseen.
func (w *WordCounts) Add(word string) {
	if _, ok := w.counts[word]; !ok {
		w.order = append(w.order, word)
	}
	w.counts[word]++
}

// Count returns the count of word.
func (w *WordCounts) Count(word string) int {
	return w.counts[word]
}

// Len returns the number of distinct words.
func (w *WordCounts) Len() int {
	return len(w.order)
}

// Entries returns the table in insertion order.
func (w *WordCounts) Entries() []ranker.WordCount {
	entries := make([]ranker.WordCount, len(w.order))
	for i, word := range w.order {
		entries[i] = ranker.WordCount{Word: word, Count: w.counts[word]}
	}
	return entries
}

// Clone returns a deep copy.
func (w *WordCounts) Clone() *WordCounts {
	c := NewWordCounts()
	c.order = append(c.order, w.order...)
	for k, v := range w.counts {
		c.counts[k] = v
	}
	return c
}

// MarshalJSON encodes the table as a JSON object in insertion order.
func (w *WordCounts) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, word := range w.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(word)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", w.counts[word])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order.
func (w *WordCounts) UnmarshalJSON(data []byte) error {
	w.order = nil
	w.counts = make(map[string]int)

	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("read related words: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("related words: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("read related word: %w", err)
		}
		word, ok := tok.(string)
		if !ok {
			return fmt.Errorf("related words: expected string key, got %v", tok)
		}
		var count int
		if err := dec.Decode(&count); err != nil {
			return fmt.Errorf("read count for %q: %w", word, err)
		}
		if _, seen := w.counts[word]; !seen {
			w.order = append(w.order, word)
		}
		w.counts[word] = count
	}

	_, err = dec.Token()
	return err
}
