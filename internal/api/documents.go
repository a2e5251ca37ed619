package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"flashdoc/internal/extract"
	"flashdoc/internal/models"
	"flashdoc/internal/pipeline"
)

type processRequest struct {
	FileContent string `json:"fileContent" validate:"required"`
	Source      string `json:"source"`
	Deck        string `json:"deck"`
	Chunked     bool   `json:"chunked"`
}

func (s *Server) handleProcessDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost, http.MethodOptions)
		return
	}

	// A chunked run makes one completion call per chunk, so it can outlive the
	// server write timeout. Each call is bounded by the completion timeout.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		s.log.Debug("clear write deadline", zap.Error(err))
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		result models.PipelineResult
		deck   string
	)
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			writeFailure(w, http.StatusBadRequest, s.bodyError(err, "invalid multipart form"))
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		doc, err := readDocument(file, header)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, s.bodyError(err, "failed to read upload"))
			return
		}
		if extract.Detect(doc.Name, doc.ContentType) == extract.KindUnknown {
			writeFailure(w, http.StatusBadRequest, "unsupported file type")
			return
		}

		deck = r.FormValue("deck")
		result = s.generator.Run(invocationContext(r), pipeline.Input{
			Document: doc,
			Source:   r.FormValue("source"),
			Chunked:  parseBool(r.FormValue("chunked")),
		})

	case "application/json":
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, s.bodyError(err, "invalid JSON body"))
			return
		}
		req.FileContent = strings.TrimSpace(req.FileContent)
		if err := s.validate.Struct(req); err != nil {
			writeFailure(w, http.StatusBadRequest, "fileContent is required")
			return
		}

		deck = req.Deck
		if deck == "" {
			deck = r.URL.Query().Get("deck")
		}
		result = s.generator.RunText(invocationContext(r), req.FileContent, req.Source, req.Chunked)

	default:
		writeFailure(w, http.StatusBadRequest, "unsupported content type")
		return
	}

	if !result.Success {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}

	if deck = strings.TrimSpace(deck); deck != "" {
		if _, err := s.decks.Add(r.Context(), deck, result.Flashcards); err != nil {
			s.log.Error("save generated cards", zap.String("deck", deck), zap.Error(err))
			writeFailure(w, http.StatusInternalServerError, "Failed to save flashcards")
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// bodyError turns a body read failure into a client message, naming the
// upload limit when it was the cause.
func (s *Server) bodyError(err error, fallback string) string {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Sprintf("upload exceeds the %d MB limit", s.maxUpload>>20)
	}
	return fallback
}

func readDocument(file multipart.File, header *multipart.FileHeader) (extract.Document, error) {
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return extract.Document{}, err
	}
	return extract.Document{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
