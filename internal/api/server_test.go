package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flashdoc/internal/completion"
	"flashdoc/internal/db"
	"flashdoc/internal/deck"
	"flashdoc/internal/extract"
	"flashdoc/internal/models"
	"flashdoc/internal/pipeline"
	"flashdoc/internal/prompt"
)

const capitalReply = `[{"question":"What is the capital of France?","answer":"Paris","difficulty":"easy"}]`

type completerFunc func(ctx context.Context, p prompt.Prompt) (string, error)

func (f completerFunc) Complete(ctx context.Context, p prompt.Prompt) (string, error) {
	return f(ctx, p)
}

type testEnv struct {
	server *httptest.Server
	decks  *deck.Store
	calls  *atomic.Int32
	last   atomic.Value
}

func newTestEnv(t *testing.T, reply func(p prompt.Prompt) (string, error), opts Options) *testEnv {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "decks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	env := &testEnv{decks: deck.NewStore(conn), calls: &atomic.Int32{}}
	completer := completerFunc(func(_ context.Context, p prompt.Prompt) (string, error) {
		env.calls.Add(1)
		env.last.Store(p)
		return reply(p)
	})
	gen := pipeline.New(extract.New(t.TempDir()), completer)

	env.server = httptest.NewServer(NewServer(gen, env.decks, opts).Handler())
	t.Cleanup(env.server.Close)
	return env
}

func capital(prompt.Prompt) (string, error) { return capitalReply, nil }

func multipartBody(t *testing.T, field, name string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decodeResult(t *testing.T, resp *http.Response) models.PipelineResult {
	t.Helper()
	defer resp.Body.Close()
	var result models.PipelineResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func TestProcessDocumentMultipart(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	for _, path := range []string{"/process-document", "/api/flashcards/process-document"} {
		body, ct := multipartBody(t, "file", "notes.txt", []byte("Paris is the capital of France."), nil)
		resp, err := http.Post(env.server.URL+path, ct, body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		result := decodeResult(t, resp)
		require.True(t, result.Success)
		require.Len(t, result.Flashcards, 1)
		assert.Equal(t, "Paris", result.Flashcards[0].Answer)
		assert.Equal(t, "PDF Upload", result.Flashcards[0].SourceDocument)
	}

	p := env.last.Load().(prompt.Prompt)
	assert.Equal(t, prompt.UserPrefix+"Paris is the capital of France.", p.User)
}

func TestProcessDocumentJSON(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	resp, err := http.Post(env.server.URL+"/process-document", "application/json",
		strings.NewReader(`{"fileContent":"Paris is the capital of France.","source":"atlas"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	require.True(t, result.Success)
	assert.Equal(t, "atlas", result.Flashcards[0].SourceDocument)
}

func TestProcessDocumentBadRequests(t *testing.T) {
	env := newTestEnv(t, capital, Options{MaxUploadBytes: 1024})

	tests := []struct {
		name string
		body func() (*bytes.Buffer, string)
	}{
		{"missing file", func() (*bytes.Buffer, string) {
			return multipartBody(t, "", "", nil, map[string]string{"deck": "x"})
		}},
		{"wrong field", func() (*bytes.Buffer, string) {
			return multipartBody(t, "upload", "notes.txt", []byte("text"), nil)
		}},
		{"unsupported type", func() (*bytes.Buffer, string) {
			return multipartBody(t, "file", "photo.png", []byte{0x89, 'P', 'N', 'G'}, nil)
		}},
		{"oversize", func() (*bytes.Buffer, string) {
			return multipartBody(t, "file", "big.txt", bytes.Repeat([]byte("a "), 4096), nil)
		}},
		{"empty fileContent", func() (*bytes.Buffer, string) {
			return bytes.NewBufferString(`{"fileContent":"   "}`), "application/json"
		}},
		{"invalid json", func() (*bytes.Buffer, string) {
			return bytes.NewBufferString(`{"fileContent":`), "application/json"
		}},
		{"unsupported content type", func() (*bytes.Buffer, string) {
			return bytes.NewBufferString("hello"), "text/plain"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := tt.body()
			resp, err := http.Post(env.server.URL+"/process-document", ct, body)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			result := decodeResult(t, resp)
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
		})
	}
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestProcessDocumentOutlivesWriteTimeout(t *testing.T) {
	var calls atomic.Int32
	completer := completerFunc(func(context.Context, prompt.Prompt) (string, error) {
		calls.Add(1)
		time.Sleep(80 * time.Millisecond)
		return capitalReply, nil
	})
	gen := pipeline.New(extract.New(t.TempDir()), completer, pipeline.WithChunking(100, 1, 1))

	srv := httptest.NewUnstartedServer(NewServer(gen, nil, Options{}).Handler())
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)

	body, err := json.Marshal(map[string]any{
		"fileContent": strings.Repeat("Paris is the capital of France. ", 15),
		"chunked":     true,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/process-document", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	result := decodeResult(t, resp)
	require.True(t, result.Success, result.Error)
	assert.Greater(t, calls.Load(), int32(2))
	assert.Len(t, result.Flashcards, int(calls.Load()))
}

func TestProcessDocumentMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req, err := http.NewRequest(method, env.server.URL+"/process-document", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Allow"), http.MethodPost)
		resp.Body.Close()
	}
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/process-document", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
	assert.Equal(t, "86400", resp.Header.Get("Access-Control-Max-Age"))

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Empty(t, buf.String())
	assert.Equal(t, int32(0), env.calls.Load())
}

func TestProcessDocumentPipelineFailure(t *testing.T) {
	tests := []struct {
		name  string
		reply func(prompt.Prompt) (string, error)
		want  string
	}{
		{"object reply", func(prompt.Prompt) (string, error) {
			return `{"question":"Q","answer":"A","difficulty":"easy"}`, nil
		}, "Invalid response format from AI service"},
		{"timeout", func(prompt.Prompt) (string, error) {
			return "", &completion.Error{Kind: completion.KindTimeout}
		}, "Request timed out. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.reply, Options{})
			resp, err := http.Post(env.server.URL+"/process-document", "application/json",
				strings.NewReader(`{"fileContent":"text"}`))
			require.NoError(t, err)
			assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

			result := decodeResult(t, resp)
			assert.False(t, result.Success)
			assert.NotNil(t, result.Flashcards)
			assert.Empty(t, result.Flashcards)
			assert.Equal(t, tt.want, result.Error)
		})
	}
}

func TestProcessDocumentSavesToDeck(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	body, ct := multipartBody(t, "file", "notes.md", []byte("# France\n\nParis"), map[string]string{"deck": "geography"})
	resp, err := http.Post(env.server.URL+"/process-document", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	cards, err := env.decks.List(context.Background(), "geography")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, models.Level(1), cards[0].Level)
}

func TestDeckEndpoints(t *testing.T) {
	env := newTestEnv(t, capital, Options{})
	base := env.server.URL + "/api"

	resp, err := http.Post(base+"/decks/history/cards", "application/json", strings.NewReader(
		`[{"question":"Who?","answer":"Napoleon","difficulty":"hard"},{"question":"When?","answer":"1804","difficulty":"medium"}]`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var added struct {
		Cards []models.Card `json:"cards"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&added))
	resp.Body.Close()
	require.Len(t, added.Cards, 2)
	assert.Equal(t, models.Level(3), added.Cards[0].Level)
	assert.Equal(t, models.Level(2), added.Cards[1].Level)

	resp, err = http.Get(base + "/decks/history/cards")
	require.NoError(t, err)
	var listed struct {
		Deck  string        `json:"deck"`
		Cards []models.Card `json:"cards"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	assert.Equal(t, "history", listed.Deck)
	require.Len(t, listed.Cards, 2)

	id := added.Cards[0].ID
	resp, err = http.Post(base+"/cards/"+id+"/review", "application/json", strings.NewReader(`{"correct":false}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reviewed models.Card
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reviewed))
	resp.Body.Close()
	assert.Equal(t, 1, reviewed.IncorrectCount)
	assert.NotNil(t, reviewed.LastReviewed)

	resp, err = http.Post(base+"/cards/"+id+"/review", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, base+"/cards/"+id, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Post(base+"/decks/history/cards", "application/json", strings.NewReader(
		`[{"question":"Q","answer":"A","difficulty":"legendary"}]`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestJobs(t *testing.T) {
	env := newTestEnv(t, capital, Options{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.png"} {
		fw, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("Paris is the capital of France."))
	}
	require.NoError(t, mw.WriteField("deck", "jobs"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(env.server.URL+"/api/flashcards/jobs", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created GenerationJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.NotEmpty(t, created.ID)
	require.Len(t, created.Files, 2)

	var job GenerationJob
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.server.URL + "/api/flashcards/jobs/" + created.ID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		job = GenerationJob{}
		if json.NewDecoder(resp.Body).Decode(&job) != nil {
			return false
		}
		return job.Status == JobStatusComplete
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, FileStatusComplete, job.Files[0].Status)
	assert.Equal(t, 100, job.Files[0].Percent)
	require.NotNil(t, job.Files[0].Result)
	assert.Equal(t, "a.txt", job.Files[0].Result.Flashcards[0].SourceDocument)

	assert.Equal(t, FileStatusError, job.Files[1].Status)
	assert.Equal(t, "unsupported file type", job.Files[1].Error)

	cards, err := env.decks.List(context.Background(), "jobs")
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	resp, err = http.Get(env.server.URL + "/api/flashcards/jobs/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestJobManagerStageProgress(t *testing.T) {
	m := NewJobManager(0)
	id, _ := m.CreateJob([]string{"a.pdf"})
	obs := jobObserver{jobs: m, id: id, index: 0}

	obs.StageStarted(context.Background(), models.StageAwaitingCompletion)
	job, ok := m.GetJob(id)
	require.True(t, ok)
	assert.Equal(t, FileStatusProcessing, job.Files[0].Status)
	assert.Equal(t, "awaiting_completion", job.Files[0].Step)
	assert.Equal(t, 40, job.Files[0].Percent)

	m.MarkFileDone(id, 0, models.Failed(""))
	job, _ = m.GetJob(id)
	assert.Equal(t, FileStatusError, job.Files[0].Status)
	assert.Equal(t, "Failed to generate flashcards", job.Files[0].Error)
}

func TestDeckBodiesAreCapped(t *testing.T) {
	env := newTestEnv(t, capital, Options{MaxUploadBytes: 64})

	cards := `[{"question":"` + strings.Repeat("q", 200) + `","answer":"A","difficulty":"easy"}]`
	resp, err := http.Post(env.server.URL+"/api/decks/big/cards", "application/json", strings.NewReader(cards))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Contains(t, body["error"], "limit")

	review := `{"correct":true,"note":"` + strings.Repeat("n", 200) + `"}`
	resp, err = http.Post(env.server.URL+"/api/cards/any/review", "application/json", strings.NewReader(review))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	stored, err := env.decks.List(context.Background(), "big")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestJobManagerDropsExpiredJobs(t *testing.T) {
	m := NewJobManager(time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	done, _ := m.CreateJob([]string{"a.txt"})
	m.MarkFileDone(done, 0, models.PipelineResult{Success: true, Flashcards: []models.Flashcard{{Question: "Q", Answer: "A"}}})
	m.MarkCompleted(done)
	running, _ := m.CreateJob([]string{"b.txt"})
	m.MarkProcessing(running)

	now = now.Add(59 * time.Second)
	_, ok := m.GetJob(done)
	assert.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = m.GetJob(done)
	assert.False(t, ok)
	_, ok = m.GetJob(running)
	assert.True(t, ok, "unfinished jobs are kept")

	m.mu.Lock()
	assert.Len(t, m.jobs, 1)
	m.mu.Unlock()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, capital, Options{})
	resp, err := http.Get(env.server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}
