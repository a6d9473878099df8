package question

import (
	"context"
	"errors"
)

type Type string

const (
	TypeBoolean  Type = "boolean"
	TypeMultiple Type = "multiple"
)

const (
	MinBatchAmount = 1
	MaxBatchAmount = 20
)

var (
	// ErrInvalidAmount is returned for a batch request outside [MinBatchAmount, MaxBatchAmount]
	// or one the upstream refused as malformed.
	ErrInvalidAmount = errors.New("number of questions must be between 1 and 20")
	// ErrUnavailable covers transport failures and upstream refusals worth retrying later.
	ErrUnavailable = errors.New("question provider unavailable")
)

// Question is immutable once fetched. Text fields may carry HTML entities.
type Question struct {
	Type             Type     `json:"type"`
	Difficulty       string   `json:"difficulty,omitempty"`
	Category         string   `json:"category,omitempty"`
	Prompt           string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

// Batch is the fixed question set of one game, indexed by round.
type Batch []Question

type Provider interface {
	Fetch(ctx context.Context, amount int) (Batch, error)
}

func ValidAmount(amount int) bool {
	return amount >= MinBatchAmount && amount <= MaxBatchAmount
}
