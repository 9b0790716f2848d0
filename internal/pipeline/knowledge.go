package pipeline

import (
	"context"
	"sort"
)

// Snippet is one ranked piece of knowledge offered to the completion prompt.
type Snippet struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Tags  string  `json:"tags,omitempty"`
	Score float64 `json:"score"`
}

// KnowledgeSource returns up to k snippets relevant to question, best first.
type KnowledgeSource interface {
	Retrieve(ctx context.Context, question string, k int) ([]Snippet, error)
}

// DefaultSnippets is the built-in sales knowledge used by the static source.
func DefaultSnippets() []Snippet {
	return []Snippet{
		{ID: "5", Text: "Цена: Виртуальный хостинг — 300 руб./месяц", Tags: "цены", Score: 0.7761},
		{ID: "7", Text: "Акция: Бесплатный домен при оплате года хостинга", Tags: "акции", Score: 0.7239},
		{ID: "49", Text: "Гарантия: Бесплатный хостинг при разработке сайта", Tags: "гарантии", Score: 0.655},
	}
}

// StaticKnowledge serves a fixed snippet list regardless of the question.
type StaticKnowledge struct {
	snippets []Snippet
}

func NewStaticKnowledge(snippets []Snippet) *StaticKnowledge {
	sorted := append([]Snippet(nil), snippets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })
	return &StaticKnowledge{snippets: sorted}
}

func (s *StaticKnowledge) Retrieve(_ context.Context, _ string, k int) ([]Snippet, error) {
	n := len(s.snippets)
	if k > 0 && k < n {
		n = k
	}
	return append([]Snippet(nil), s.snippets[:n]...), nil
}
