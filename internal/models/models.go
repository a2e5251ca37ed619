package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultSource labels cards produced from an uploaded document.
const DefaultSource = "PDF Upload"

// Difficulty is the symbolic difficulty the generator asks the model for.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists the values a generated card may carry, easiest first.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// ParseDifficulty accepts any casing and surrounding whitespace.
func ParseDifficulty(raw string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(raw)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown difficulty %q", raw)
	}
	return d, nil
}

func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Level maps the symbolic difficulty onto the 1-5 storage scale.
// easy=1, medium=2, hard=3. Unknown values map to 0, which is not a valid Level.
func (d Difficulty) Level() Level {
	switch d {
	case DifficultyEasy:
		return 1
	case DifficultyMedium:
		return 2
	case DifficultyHard:
		return 3
	}
	return 0
}

// Level is the numeric difficulty used by the deck store, 1 being easiest.
// Levels 4 and 5 are reserved for manual grading and have no symbolic form.
type Level int

const (
	MinLevel Level = 1
	MaxLevel Level = 5
)

func (l Level) Valid() bool {
	return l >= MinLevel && l <= MaxLevel
}

// Difficulty returns the symbolic form of l. ok is false for reserved or invalid levels.
func (l Level) Difficulty() (Difficulty, bool) {
	switch l {
	case 1:
		return DifficultyEasy, true
	case 2:
		return DifficultyMedium, true
	case 3:
		return DifficultyHard, true
	}
	return "", false
}

// Flashcard is one generated question/answer pair plus review bookkeeping.
type Flashcard struct {
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Difficulty     Difficulty `json:"difficulty"`
	CorrectCount   int        `json:"correctCount"`
	IncorrectCount int        `json:"incorrectCount"`
	Tags           []string   `json:"tags"`
	SourceDocument string     `json:"sourceDocument"`
}

// PipelineResult is the only value that crosses the pipeline boundary.
type PipelineResult struct {
	Success    bool        `json:"success"`
	Flashcards []Flashcard `json:"flashcards"`
	Error      string      `json:"error,omitempty"`
}

// Succeeded builds a successful result. An empty batch is reported as a failure.
func Succeeded(cards []Flashcard) PipelineResult {
	if len(cards) == 0 {
		return Failed("no flashcards were generated")
	}
	return PipelineResult{Success: true, Flashcards: cards}
}

// Failed builds a failed result carrying msg.
func Failed(msg string) PipelineResult {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "Failed to generate flashcards"
	}
	return PipelineResult{Success: false, Flashcards: []Flashcard{}, Error: msg}
}

// Stage names a step of one pipeline invocation.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageExtracting         Stage = "extracting"
	StagePrompting          Stage = "prompting"
	StageAwaitingCompletion Stage = "awaiting_completion"
	StageParsing            Stage = "parsing"
	StageDone               Stage = "done"
)

// Card is a flashcard stored in a deck.
type Card struct {
	ID             string     `json:"id"`
	Deck           string     `json:"deck"`
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Level          Level      `json:"difficulty"`
	CorrectCount   int        `json:"correctCount"`
	IncorrectCount int        `json:"incorrectCount"`
	Tags           []string   `json:"tags"`
	SourceDocument string     `json:"sourceDocument"`
	LastReviewed   *time.Time `json:"lastReviewed,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
