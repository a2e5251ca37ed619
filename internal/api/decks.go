package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"flashdoc/internal/deck"
	"flashdoc/internal/models"
)

type reviewRequest struct {
	Correct *bool `json:"correct" validate:"required"`
}

func (s *Server) handleListDeck(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "deck")
	cards, err := s.decks.List(r.Context(), name)
	if err != nil {
		s.log.Error("list deck", zap.String("deck", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch flashcards")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deck": name, "cards": cards})
}

func (s *Server) handleAddToDeck(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "deck")
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var cards []models.Flashcard
	if err := json.NewDecoder(r.Body).Decode(&cards); err != nil {
		writeError(w, http.StatusBadRequest, s.bodyError(err, "expected a JSON array of flashcards"))
		return
	}
	if len(cards) == 0 {
		writeError(w, http.StatusBadRequest, "no flashcards to save")
		return
	}
	for i := range cards {
		if cards[i].SourceDocument == "" {
			cards[i].SourceDocument = models.DefaultSource
		}
	}

	stored, err := s.decks.Add(r.Context(), name, cards)
	if err != nil {
		if errors.Is(err, deck.ErrInvalidCard) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.log.Error("add to deck", zap.String("deck", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create deck")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"deck": name, "cards": stored})
}

func (s *Server) handleReviewCard(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, s.bodyError(err, "invalid JSON body"))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "correct is required")
		return
	}

	card, err := s.decks.Review(r.Context(), chi.URLParam(r, "id"), *req.Correct)
	if err != nil {
		if errors.Is(err, deck.ErrNotFound) {
			writeError(w, http.StatusNotFound, "card not found")
			return
		}
		s.log.Error("review card", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to update progress")
		return
	}
	writeJSON(w, http.StatusOK, card)
}

func (s *Server) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := s.decks.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, deck.ErrNotFound) {
			writeError(w, http.StatusNotFound, "card not found")
			return
		}
		s.log.Error("delete card", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to delete card")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
