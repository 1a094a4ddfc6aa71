package question

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/louisbranch/askmi/internal/platform/errors"
)

// Undo reverts a single Book mutation.
type Undo func()

// Book stores each questioner's questions in ask order.
//
// Removal swaps the last question into the removed slot and shrinks the
// sequence, so an index is only valid until the next removal for the same
// questioner. Callers must re-read indices after any removal.
//
// Book is not safe for concurrent use; the owning ledger instance serializes
// access.
type Book struct {
	sequences   map[common.Address][]Question
	questioners []common.Address
}

// NewBook returns an empty book.
func NewBook() *Book {
	return &Book{sequences: make(map[common.Address][]Question)}
}

// Append adds q to its questioner's sequence and returns the new index.
func (b *Book) Append(q Question) (int, Undo) {
	questioner := q.Questioner
	previous := b.sequences[questioner]
	_, known := b.sequences[questioner]

	next := make([]Question, len(previous), len(previous)+1)
	copy(next, previous)
	b.sequences[questioner] = append(next, q)
	if !known {
		b.questioners = append(b.questioners, questioner)
	}

	return len(previous), func() {
		if known {
			b.sequences[questioner] = previous
			return
		}
		delete(b.sequences, questioner)
		b.questioners = b.questioners[:len(b.questioners)-1]
	}
}

// Get returns the question at index for questioner.
func (b *Book) Get(questioner common.Address, index int) (Question, error) {
	sequence := b.sequences[questioner]
	if index < 0 || index >= len(sequence) {
		return Question{}, indexError(questioner, index, len(sequence))
	}
	return sequence[index], nil
}

// Len returns the number of stored questions for questioner.
func (b *Book) Len(questioner common.Address) int {
	return len(b.sequences[questioner])
}

// Remove deletes the question at index by moving the last question into its
// slot, and returns the deleted question.
func (b *Book) Remove(questioner common.Address, index int) (Question, Undo, error) {
	sequence := b.sequences[questioner]
	if index < 0 || index >= len(sequence) {
		return Question{}, nil, indexError(questioner, index, len(sequence))
	}
	removed := sequence[index]

	next := make([]Question, len(sequence)-1)
	copy(next, sequence[:len(sequence)-1])
	if index < len(next) {
		next[index] = sequence[len(sequence)-1]
	}
	b.sequences[questioner] = next

	return removed, func() { b.sequences[questioner] = sequence }, nil
}

// MarkAnswered moves the question at index to the answered state.
func (b *Book) MarkAnswered(questioner common.Address, index int) (Undo, error) {
	return b.update(questioner, index, func(q *Question) { q.Answered = true })
}

// IncrementTips adds one to the question's tip count.
func (b *Book) IncrementTips(questioner common.Address, index int) (Undo, error) {
	return b.update(questioner, index, func(q *Question) { q.TipCount++ })
}

// Questions returns a copy of questioner's sequence.
func (b *Book) Questions(questioner common.Address) []Question {
	sequence := b.sequences[questioner]
	out := make([]Question, len(sequence))
	copy(out, sequence)
	return out
}

// Questioners lists every identity that has asked, in first-ask order.
// Identities stay listed after all of their questions are removed.
func (b *Book) Questioners() []common.Address {
	out := make([]common.Address, len(b.questioners))
	copy(out, b.questioners)
	return out
}

// Each calls fn for every stored question until fn returns false.
func (b *Book) Each(fn func(index int, q Question) bool) {
	for _, questioner := range b.questioners {
		for i, q := range b.sequences[questioner] {
			if !fn(i, q) {
				return
			}
		}
	}
}

func (b *Book) update(questioner common.Address, index int, mutate func(*Question)) (Undo, error) {
	sequence := b.sequences[questioner]
	if index < 0 || index >= len(sequence) {
		return nil, indexError(questioner, index, len(sequence))
	}
	previous := sequence[index]
	mutate(&sequence[index])
	return func() { sequence[index] = previous }, nil
}

func indexError(questioner common.Address, index, length int) error {
	return apperrors.WithMetadata(
		apperrors.CodeQuestionIndexOutOfRange,
		"question index out of range",
		map[string]string{
			"questioner": questioner.Hex(),
			"index":      strconv.Itoa(index),
			"questions":  strconv.Itoa(length),
		},
	)
}
