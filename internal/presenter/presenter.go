// Package presenter derives the player-facing layout of a question.
//
// The layout is a pure function of the stored question so it can be rebuilt
// at any time, including after a restart, with identical labels.
package presenter

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/net/html"

	"github.com/foxseedlab/trivia/internal/question"
)

type Choice struct {
	// Label is empty for boolean questions.
	Label string
	Text  string
}

type Presentation struct {
	Choices      []Choice
	CorrectIndex int
}

func (p Presentation) Correct() Choice {
	if p.CorrectIndex < 0 || p.CorrectIndex >= len(p.Choices) {
		return Choice{}
	}
	return p.Choices[p.CorrectIndex]
}

// Present lays out the answers of q. Boolean questions keep the stored
// order; multiple-choice answers are entity-decoded, sorted and labelled A, B, C...
func Present(q question.Question) Presentation {
	if q.Type != question.TypeMultiple {
		choices := make([]Choice, 0, 1+len(q.IncorrectAnswers))
		choices = append(choices, Choice{Text: q.CorrectAnswer})
		for _, a := range q.IncorrectAnswers {
			choices = append(choices, Choice{Text: a})
		}
		return Presentation{Choices: choices, CorrectIndex: 0}
	}

	correct := Decode(q.CorrectAnswer)
	texts := make([]string, 0, 1+len(q.IncorrectAnswers))
	for _, a := range q.IncorrectAnswers {
		texts = append(texts, Decode(a))
	}
	texts = append(texts, correct)
	slices.Sort(texts)

	choices := make([]Choice, len(texts))
	for i, t := range texts {
		choices[i] = Choice{Label: Label(i), Text: t}
	}
	return Presentation{
		Choices:      choices,
		CorrectIndex: slices.Index(texts, correct),
	}
}

// Label returns the letter for the i-th choice.
func Label(i int) string {
	return string(rune('A' + i))
}

// Decode resolves HTML entities such as &quot; and &#039;.
func Decode(s string) string {
	return html.UnescapeString(s)
}

// Prompt renders the question announcement for the given 0-based round.
func Prompt(q question.Question, roundIndex, roundTotal int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Question %d / %d**:\n", roundIndex+1, roundTotal)
	if q.Type == question.TypeBoolean {
		b.WriteString("True or False: ")
	}
	b.WriteString(Decode(q.Prompt))
	if q.Type == question.TypeMultiple {
		b.WriteString("\n**Answers**:")
		for _, c := range Present(q).Choices {
			b.WriteString("\n")
			b.WriteString(FormatChoice(c))
		}
	}
	return b.String()
}

func FormatChoice(c Choice) string {
	if c.Label == "" {
		return c.Text
	}
	return fmt.Sprintf("**%s**. %s", c.Label, c.Text)
}
