package form

import (
	"errors"
	"fmt"
)

// Question is a single prompt in the intake flow.
type Question struct {
	ID     string `yaml:"id"`
	Prompt string `yaml:"prompt"`
}

// Catalog is the ordered, immutable list of questions driving a conversation.
type Catalog struct {
	questions []Question
}

var ErrEmptyCatalog = errors.New("catalog has no questions")

// NewCatalog validates the question list and freezes it into a Catalog.
func NewCatalog(questions []Question) (Catalog, error) {
	if len(questions) == 0 {
		return Catalog{}, ErrEmptyCatalog
	}

	seen := make(map[string]struct{}, len(questions))
	for i, q := range questions {
		if q.ID == "" {
			return Catalog{}, fmt.Errorf("question %d has no id", i)
		}
		if q.Prompt == "" {
			return Catalog{}, fmt.Errorf("question %q has no prompt", q.ID)
		}
		if _, ok := seen[q.ID]; ok {
			return Catalog{}, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
	}

	return Catalog{questions: append([]Question(nil), questions...)}, nil
}

// Len reports the number of questions.
func (c Catalog) Len() int {
	return len(c.questions)
}

// At returns the question at position i. Panics on out-of-range, matching
// slice semantics; callers hold the cursor invariant.
func (c Catalog) At(i int) Question {
	return c.questions[i]
}

// Questions returns a copy of the ordered question list.
func (c Catalog) Questions() []Question {
	return append([]Question(nil), c.questions...)
}

// Entry pairs a question with the text captured for it.
type Entry struct {
	Question Question
	Answer   string
}

// AnswerSet is the finalized snapshot of a session's answers, in catalog order.
type AnswerSet []Entry
