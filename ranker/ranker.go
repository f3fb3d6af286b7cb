package ranker

import (
	"sort"
	"strings"

	"word-finder/content"
)

const (
	// DefaultLikeBonus is added to a type's score for every liked feedback event.
	DefaultLikeBonus = 5.0

	// DefaultRecommendLimit caps the number of related words returned.
	DefaultRecommendLimit = 3
)

// RankedType contains a content type with its computed scores.
type RankedType struct {
	Type          content.Type
	Engagement    float64
	FeedbackBonus float64
	FinalScore    float64
}

// WordCount is one entry of the related-word table.
type WordCount struct {
	Word  string
	Count int
}

// Ranker orders content types by learned engagement.
type Ranker struct {
	likeBonus float64
}

// NewRanker creates a ranker that adds likeBonus per liked feedback event.
func NewRanker(likeBonus float64) *Ranker {
	return &Ranker{likeBonus: likeBonus}
}

// Rank scores every known content type and sorts them by final score.
// liked holds the type of each liked feedback event, one entry per event.
// Ties keep definition order.
func (r *Ranker) Rank(engagement map[content.Type]float64, liked []content.Type) []RankedType {
	bonus := make(map[content.Type]float64)
	for _, t := range liked {
		bonus[t] += r.likeBonus
	}

	ranked := make([]RankedType, len(content.All))
	for i, t := range content.All {
		ranked[i] = RankedType{
			Type:          t,
			Engagement:    engagement[t],
			FeedbackBonus: bonus[t],
			FinalScore:    engagement[t] + bonus[t],
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})

	return ranked
}

// Order returns just the types of a ranking.
func Order(ranked []RankedType) []content.Type {
	order := make([]content.Type, len(ranked))
	for i, r := range ranked {
		order[i] = r.Type
	}
	return order
}

// SelectSlot cycles order to fill an arbitrary slot index.
func SelectSlot(order []content.Type, index int) content.Type {
	if len(order) == 0 {
		return content.Definition
	}
	i := index % len(order)
	if i < 0 {
		i += len(order)
	}
	return order[i]
}

// Recommend returns up to limit words by descending count, skipping the
// query itself (case-insensitive). First-seen words win ties.
func Recommend(words []WordCount, query string, limit int) []string {
	sorted := make([]WordCount, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	exclude := strings.ToLower(query)
	result := []string{}
	for _, wc := range sorted {
		if len(result) >= limit {
			break
		}
		if wc.Word == exclude {
			continue
		}
		result = append(result, wc.Word)
	}
	return result
}
