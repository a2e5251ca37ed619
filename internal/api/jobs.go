package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"flashdoc/internal/extract"
	"flashdoc/internal/models"
	"flashdoc/internal/pipeline"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusComplete   = "complete"

	FileStatusPending    = "pending"
	FileStatusProcessing = "processing"
	FileStatusComplete   = "complete"
	FileStatusError      = "error"
)

// GenerationJob tracks background flashcard generation across several files.
type GenerationJob struct {
	ID        string         `json:"jobId"`
	Status    string         `json:"status"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Files     []FileProgress `json:"files"`
}

// FileProgress captures per-file progress updates that the frontend polls.
type FileProgress struct {
	Index   int                    `json:"index"`
	Name    string                 `json:"name"`
	Status  string                 `json:"status"`
	Step    string                 `json:"step,omitempty"`
	Message string                 `json:"message,omitempty"`
	Percent int                    `json:"percent"`
	Result  *models.PipelineResult `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

var stageProgress = map[models.Stage]struct {
	percent int
	message string
}{
	models.StageExtracting:         {10, "Extracting text"},
	models.StagePrompting:          {25, "Building prompt"},
	models.StageAwaitingCompletion: {40, "Waiting for completion"},
	models.StageParsing:            {90, "Parsing flashcards"},
}

const defaultJobRetention = 30 * time.Minute

// JobManager tracks generation jobs in memory. Completed jobs are dropped once
// they have been idle for longer than the retention period.
type JobManager struct {
	mu        sync.Mutex
	jobs      map[string]*GenerationJob
	retention time.Duration
	now       func() time.Time
}

func NewJobManager(retention time.Duration) *JobManager {
	if retention <= 0 {
		retention = defaultJobRetention
	}
	return &JobManager{
		jobs:      make(map[string]*GenerationJob),
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *JobManager) CreateJob(fileNames []string) (string, *GenerationJob) {
	files := make([]FileProgress, len(fileNames))
	for i, name := range fileNames {
		files[i] = FileProgress{
			Index:  i,
			Name:   name,
			Status: FileStatusPending,
		}
	}
	now := m.now()
	job := &GenerationJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Files:     files,
	}

	m.mu.Lock()
	m.sweep(now)
	m.jobs[job.ID] = job
	m.mu.Unlock()

	return job.ID, job.clone()
}

func (m *JobManager) GetJob(id string) (*GenerationJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(m.now())
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	return job.clone(), true
}

// sweep drops completed jobs idle past the retention period. Callers hold mu.
func (m *JobManager) sweep(now time.Time) {
	for id, job := range m.jobs {
		if job.Status == JobStatusComplete && now.Sub(job.UpdatedAt) > m.retention {
			delete(m.jobs, id)
		}
	}
}

func (m *JobManager) MarkProcessing(id string) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusProcessing
	})
}

func (m *JobManager) MarkCompleted(id string) {
	m.withJob(id, func(job *GenerationJob) {
		job.Status = JobStatusComplete
	})
}

func (m *JobManager) UpdateFileStage(id string, index int, stage models.Stage) {
	progress, ok := stageProgress[stage]
	if !ok {
		return
	}
	m.withJob(id, func(job *GenerationJob) {
		if file := job.file(index); file != nil {
			file.Status = FileStatusProcessing
			file.Step = string(stage)
			file.Message = progress.message
			file.Percent = progress.percent
		}
	})
}

// MarkFileDone records the pipeline result of one file.
func (m *JobManager) MarkFileDone(id string, index int, result models.PipelineResult) {
	m.withJob(id, func(job *GenerationJob) {
		file := job.file(index)
		if file == nil {
			return
		}
		res := result
		file.Result = &res
		file.Percent = 100
		if result.Success {
			file.Status = FileStatusComplete
			file.Step = string(models.StageDone)
			file.Message = "Processing complete"
			file.Error = ""
			return
		}
		msg := strings.TrimSpace(result.Error)
		if msg == "" {
			msg = "processing error"
		}
		file.Status = FileStatusError
		file.Step = "error"
		file.Message = msg
		file.Error = msg
	})
}

func (m *JobManager) withJob(id string, fn func(job *GenerationJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return
	}
	fn(job)
	job.UpdatedAt = m.now()
}

func (job *GenerationJob) file(index int) *FileProgress {
	if index < 0 || index >= len(job.Files) {
		return nil
	}
	return &job.Files[index]
}

func (job *GenerationJob) clone() *GenerationJob {
	if job == nil {
		return nil
	}
	copyJob := *job
	copyJob.Files = make([]FileProgress, len(job.Files))
	for i, file := range job.Files {
		copyJob.Files[i] = file
		if file.Result != nil {
			res := *file.Result
			res.Flashcards = append([]models.Flashcard(nil), file.Result.Flashcards...)
			copyJob.Files[i].Result = &res
		}
	}
	return &copyJob
}

// jobObserver feeds pipeline stage transitions into a job's file progress.
type jobObserver struct {
	jobs  *JobManager
	id    string
	index int
}

func (o jobObserver) StageStarted(_ context.Context, stage models.Stage) {
	o.jobs.UpdateFileStage(o.id, o.index, stage)
}

func (jobObserver) StageFailed(context.Context, models.Stage, error) {}
func (jobObserver) Completed(context.Context, int, time.Duration)    {}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, s.bodyError(err, "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	// Files are read before responding; the server removes multipart temp
	// files once the handler returns.
	docs := make([]extract.Document, 0, len(files))
	names := make([]string, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		doc, err := readDocument(file, header)
		if err != nil {
			writeError(w, http.StatusBadRequest, s.bodyError(err, "failed to read upload"))
			return
		}
		docs = append(docs, doc)
		names = append(names, header.Filename)
	}

	deck := strings.TrimSpace(r.FormValue("deck"))
	source := r.FormValue("source")
	chunked := parseBool(r.FormValue("chunked"))

	jobID, snapshot := s.jobs.CreateJob(names)
	go s.runJob(context.WithoutCancel(invocationContext(r)), jobID, docs, source, deck, chunked)

	writeJSON(w, http.StatusAccepted, snapshot)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.GetJob(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) runJob(ctx context.Context, jobID string, docs []extract.Document, source, deck string, chunked bool) {
	s.jobs.MarkProcessing(jobID)
	for idx, doc := range docs {
		docSource := source
		if docSource == "" {
			docSource = doc.Name
		}
		result := s.generator.Run(ctx, pipeline.Input{
			Document: doc,
			Source:   docSource,
			Chunked:  chunked,
			Observer: jobObserver{jobs: s.jobs, id: jobID, index: idx},
		})
		if result.Success && deck != "" {
			if _, err := s.decks.Add(ctx, deck, result.Flashcards); err != nil {
				result = models.Failed("Failed to save flashcards")
			}
		}
		s.jobs.MarkFileDone(jobID, idx, result)
	}
	s.jobs.MarkCompleted(jobID)
}
