package deck

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"flashdoc/internal/models"
)

var (
	// ErrNotFound indicates that no card has the requested id.
	ErrNotFound = errors.New("card not found")

	// ErrInvalidCard is returned when a card cannot be stored as given.
	ErrInvalidCard = errors.New("invalid card")
)

// Store keeps saved flashcards grouped into named decks.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const cardColumns = `id, deck, question, answer, level, correct_count, incorrect_count,
	tags, source_document, last_reviewed, created_at, updated_at`

// Add saves generated flashcards into deckName and returns the stored cards in
// input order. Difficulty labels are mapped onto numeric levels here.
func (s *Store) Add(ctx context.Context, deckName string, cards []models.Flashcard) (_ []models.Card, err error) {
	deckName = strings.TrimSpace(deckName)
	if deckName == "" {
		return nil, fmt.Errorf("%w: deck name is required", ErrInvalidCard)
	}

	now := s.now()
	stored := make([]models.Card, 0, len(cards))
	for i, fc := range cards {
		level := fc.Difficulty.Level()
		if !level.Valid() {
			return nil, fmt.Errorf("%w: card %d: unknown difficulty %q", ErrInvalidCard, i, fc.Difficulty)
		}
		if strings.TrimSpace(fc.Question) == "" || strings.TrimSpace(fc.Answer) == "" {
			return nil, fmt.Errorf("%w: card %d: question and answer are required", ErrInvalidCard, i)
		}
		tags := fc.Tags
		if tags == nil {
			tags = []string{}
		}
		stored = append(stored, models.Card{
			ID:             uuid.NewString(),
			Deck:           deckName,
			Question:       fc.Question,
			Answer:         fc.Answer,
			Level:          level,
			CorrectCount:   fc.CorrectCount,
			IncorrectCount: fc.IncorrectCount,
			Tags:           tags,
			SourceDocument: fc.SourceDocument,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?);`)
	if err != nil {
		return nil, eris.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, c := range stored {
		tags, err := json.Marshal(c.Tags)
		if err != nil {
			return nil, eris.Wrap(err, "encode tags")
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.Deck, c.Question, c.Answer, int(c.Level), c.CorrectCount, c.IncorrectCount,
			string(tags), c.SourceDocument, c.CreatedAt, c.UpdatedAt,
		); err != nil {
			return nil, eris.Wrapf(err, "insert card %s", c.ID)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "commit cards")
	}
	return stored, nil
}

// List returns the cards of deckName in insertion order.
func (s *Store) List(ctx context.Context, deckName string) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cardColumns+`
		FROM cards
		WHERE deck = ?
		ORDER BY created_at ASC, rowid ASC;`, deckName)
	if err != nil {
		return nil, eris.Wrap(err, "query deck")
	}
	defer rows.Close()

	cards := []models.Card{}
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "iterate deck")
	}
	return cards, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Card, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?;`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return card, err
}

func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?;`, id)
	if err != nil {
		return eris.Wrapf(err, "delete card %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Review records one answer to a card and stamps the review time.
func (s *Store) Review(ctx context.Context, id string, correct bool) (*models.Card, error) {
	column := "incorrect_count"
	if correct {
		column = "correct_count"
	}
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE cards
		SET `+column+` = `+column+` + 1, last_reviewed = ?, updated_at = ?
		WHERE id = ?;`, now, now, id)
	if err != nil {
		return nil, eris.Wrapf(err, "review card %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (*models.Card, error) {
	var (
		card         models.Card
		level        int
		tags         string
		lastReviewed sql.NullTime
	)
	if err := row.Scan(
		&card.ID,
		&card.Deck,
		&card.Question,
		&card.Answer,
		&level,
		&card.CorrectCount,
		&card.IncorrectCount,
		&tags,
		&card.SourceDocument,
		&lastReviewed,
		&card.CreatedAt,
		&card.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "scan card")
	}

	card.Level = models.Level(level)
	if err := json.Unmarshal([]byte(tags), &card.Tags); err != nil || card.Tags == nil {
		card.Tags = []string{}
	}
	if lastReviewed.Valid {
		t := lastReviewed.Time
		card.LastReviewed = &t
	}
	return &card, nil
}
