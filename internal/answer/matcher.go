package answer

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"

	"github.com/foxseedlab/trivia/internal/presenter"
	"github.com/foxseedlab/trivia/internal/question"
)

const (
	shortAnswerMaxLen = 6
	longAnswerMinLen  = 12

	shortAnswerTolerance  = 0
	mediumAnswerTolerance = 2
	longAnswerTolerance   = 3
)

// Matches reports whether guess answers q. Unknown question types never match.
func Matches(q question.Question, guess string) bool {
	guess = strings.TrimSpace(guess)
	switch q.Type {
	case question.TypeBoolean:
		return fold(guess) == fold(q.CorrectAnswer)
	case question.TypeMultiple:
		return matchesMultiple(q, guess)
	default:
		return false
	}
}

func matchesMultiple(q question.Question, guess string) bool {
	p := presenter.Present(q)
	correct := p.Correct()
	folded := fold(guess)
	if correct.Label != "" && folded == fold(correct.Label) {
		return true
	}
	tolerance := MaxEditDistance(shortestChoiceLen(p.Choices))
	return levenshtein.ComputeDistance(folded, fold(correct.Text)) <= tolerance
}

// MaxEditDistance is the accepted typo budget for a question whose shortest
// candidate answer has minLen characters.
func MaxEditDistance(minLen int) int {
	if minLen < shortAnswerMaxLen {
		return shortAnswerTolerance
	}
	if minLen > longAnswerMinLen {
		return longAnswerTolerance
	}
	return mediumAnswerTolerance
}

func shortestChoiceLen(choices []presenter.Choice) int {
	shortest := -1
	for _, c := range choices {
		n := utf8.RuneCountInString(c.Text)
		if shortest < 0 || n < shortest {
			shortest = n
		}
	}
	if shortest < 0 {
		return 0
	}
	return shortest
}

// fold builds a fresh Caser per call; Casers are not safe for concurrent use.
func fold(s string) string {
	return cases.Fold().String(s)
}
