package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"flashdoc/internal/models"
	"flashdoc/internal/pipeline"
)

const (
	maxMultipartMemory    = 8 << 20 // 8 MB
	defaultMaxUploadBytes = 10 << 20
)

// Generator runs the flashcard pipeline.
type Generator interface {
	Run(ctx context.Context, in pipeline.Input) models.PipelineResult
	RunText(ctx context.Context, text, source string, chunked bool) models.PipelineResult
}

// DeckStore persists saved cards.
type DeckStore interface {
	Add(ctx context.Context, deckName string, cards []models.Flashcard) ([]models.Card, error)
	List(ctx context.Context, deckName string) ([]models.Card, error)
	Review(ctx context.Context, id string, correct bool) (*models.Card, error)
	Remove(ctx context.Context, id string) error
}

// Options tunes a Server. Zero values select defaults.
type Options struct {
	MaxUploadBytes int64
	AllowedOrigins []string
	Logger         *zap.Logger
	// JobRetention is how long a completed job stays queryable.
	JobRetention time.Duration
}

type Server struct {
	router    chi.Router
	generator Generator
	decks     DeckStore
	jobs      *JobManager
	log       *zap.Logger
	validate  *validator.Validate
	maxUpload int64
}

func NewServer(generator Generator, decks DeckStore, opts Options) *Server {
	s := &Server{
		generator: generator,
		decks:     decks,
		jobs:      NewJobManager(opts.JobRetention),
		log:       opts.Logger,
		validate:  validator.New(),
		maxUpload: opts.MaxUploadBytes,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = defaultMaxUploadBytes
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.routes(origins)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes(origins []string) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	r.HandleFunc("/process-document", s.handleProcessDocument)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)

		api.HandleFunc("/flashcards/process-document", s.handleProcessDocument)
		api.Post("/flashcards/jobs", s.handleCreateJob)
		api.Get("/flashcards/jobs/{id}", s.handleJobStatus)

		api.Get("/decks/{deck}/cards", s.handleListDeck)
		api.Post("/decks/{deck}/cards", s.handleAddToDeck)
		api.Post("/cards/{id}/review", s.handleReviewCard)
		api.Delete("/cards/{id}", s.handleDeleteCard)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

// invocationContext tags ctx with the request id so pipeline logs can be
// correlated with the request line.
func invocationContext(r *http.Request) context.Context {
	return pipeline.WithInvocation(r.Context(), middleware.GetReqID(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.Failed(message))
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeFailure(w, http.StatusMethodNotAllowed, "method not allowed")
}
