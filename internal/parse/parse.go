package parse

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"flashdoc/internal/models"
)

var (
	ErrMalformedJSON  = errors.New("reply is not valid JSON")
	ErrMalformedShape = errors.New("reply does not match the flashcard contract")
)

// Kind classifies a parse failure.
type Kind string

const (
	KindMalformedJSON  Kind = "malformed_json"
	KindMalformedShape Kind = "malformed_shape"
)

// Error reports why a reply was rejected. Raw holds the unmodified reply for
// diagnostics and is never part of Error().
type Error struct {
	Kind   Kind
	Reason string
	Raw    string
	Err    error
}

func (e *Error) Error() string {
	msg := "parse: malformed reply"
	if e.Kind == KindMalformedJSON {
		msg = "parse: reply is not valid JSON"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrMalformedJSON:
		return e.Kind == KindMalformedJSON
	case ErrMalformedShape:
		return e.Kind == KindMalformedShape
	}
	return false
}

var (
	openFenceRe  = regexp.MustCompile("(?i)^```(?:json)?\\s*")
	closeFenceRe = regexp.MustCompile("\\s*```$")
)

// StripFences removes a leading ```json (or bare ```) fence and a trailing ```
// fence, then trims the remainder.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = openFenceRe.ReplaceAllString(s, "")
	s = closeFenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

const cardSchema = `{
	"type": "object",
	"required": ["question", "answer", "difficulty"],
	"properties": {
		"question":   {"type": "string", "minLength": 1},
		"answer":     {"type": "string", "minLength": 1},
		"difficulty": {"type": "string", "pattern": "(?i)^\\s*(easy|medium|hard)\\s*$"}
	}
}`

var schema = jsonschema.MustCompileString("flashcard.json", cardSchema)

type generatedCard struct {
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
}

// Parse turns a raw completion reply into enriched flashcards labelled with
// source. The batch is accepted or rejected as a whole.
func Parse(raw, source string) ([]models.Flashcard, error) {
	if source == "" {
		source = models.DefaultSource
	}
	body := StripFences(raw)

	var value any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return nil, &Error{Kind: KindMalformedJSON, Raw: raw, Err: err}
	}

	items, ok := value.([]any)
	if !ok {
		return nil, &Error{Kind: KindMalformedShape, Reason: "expected a JSON array", Raw: raw}
	}
	if len(items) == 0 {
		return nil, &Error{Kind: KindMalformedShape, Reason: "no flashcards in reply", Raw: raw}
	}
	for i, item := range items {
		if err := schema.Validate(item); err != nil {
			return nil, &Error{Kind: KindMalformedShape, Reason: "flashcard " + strconv.Itoa(i) + " is invalid", Raw: raw, Err: err}
		}
	}

	var generated []generatedCard
	if err := json.Unmarshal([]byte(body), &generated); err != nil {
		return nil, &Error{Kind: KindMalformedShape, Raw: raw, Err: err}
	}

	cards := make([]models.Flashcard, 0, len(generated))
	for i, g := range generated {
		question := strings.TrimSpace(g.Question)
		answer := strings.TrimSpace(g.Answer)
		if question == "" || answer == "" {
			return nil, &Error{Kind: KindMalformedShape, Reason: "flashcard " + strconv.Itoa(i) + " has an empty question or answer", Raw: raw}
		}
		difficulty, err := models.ParseDifficulty(g.Difficulty)
		if err != nil {
			return nil, &Error{Kind: KindMalformedShape, Reason: "flashcard " + strconv.Itoa(i) + " has an unknown difficulty", Raw: raw, Err: err}
		}
		cards = append(cards, models.Flashcard{
			Question:       question,
			Answer:         answer,
			Difficulty:     difficulty,
			CorrectCount:   0,
			IncorrectCount: 0,
			Tags:           []string{},
			SourceDocument: source,
		})
	}
	return cards, nil
}
