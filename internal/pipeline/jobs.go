package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/dirkdd/llm-graph-builder-sub004/internal/decision"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/extractor"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/navtree"
	"github.com/dirkdd/llm-graph-builder-sub004/internal/validator"
)

// JobStatus represents the state of an extraction job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusParsing    JobStatus = "parsing"
	StatusSectioning JobStatus = "sectioning"
	StatusExtracting JobStatus = "extracting"
	StatusValidating JobStatus = "validating"
	StatusPublishing JobStatus = "publishing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusPartial    JobStatus = "partial"
	StatusDupSkipped JobStatus = "duplicate_skipped"
)

// Job tracks the state of a single document extraction.
type Job struct {
	mu sync.Mutex

	ID    string `json:"job_id"`
	DocID string `json:"doc_id"`

	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`

	DocType         navtree.DocType `json:"document_type,omitempty"`
	RequireReferral *bool           `json:"-"`
	Force           bool            `json:"-"`

	Progress Progress `json:"progress"`

	ContentHash string    `json:"content_hash,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Internal: not serialized.
	fileData []byte
	results  []GroupResult
	errors   []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalSections     int      `json:"total_sections"`
	SectionsProcessed int      `json:"sections_processed"`
	TreesExtracted    int      `json:"trees_extracted"`
	TreesComplete     int      `json:"trees_complete"`
	TreesPublished    int      `json:"trees_published"`
	Errors            []string `json:"errors"`
}

// GroupResult is the per-section-group output contract: the extracted tree
// plus its validation verdict and extraction warnings.
type GroupResult struct {
	GroupID             string              `json:"group_id"`
	GroupTitle          string              `json:"group_title,omitempty"`
	Tree                *decision.Tree      `json:"tree"`
	Validation          *validator.Result   `json:"validation"`
	Warnings            []extractor.Warning `json:"warnings"`
	RequireReferralPath bool                `json:"require_referral_path"`
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// IncrSectionsProcessed atomically increments processed sections.
func (j *Job) IncrSectionsProcessed() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsProcessed++
	j.UpdatedAt = time.Now()
}

// AddTree records one extracted tree and whether it validated complete.
func (j *Job) AddTree(complete bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TreesExtracted++
	if complete {
		j.Progress.TreesComplete++
	}
	j.UpdatedAt = time.Now()
}

// IncrTreesPublished records a successful sink publish.
func (j *Job) IncrTreesPublished() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TreesPublished++
	j.UpdatedAt = time.Now()
}

// SetTotalSections records the decision-bearing section count.
func (j *Job) SetTotalSections(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.TotalSections = n
	j.UpdatedAt = time.Now()
}

// SetFileData sets the raw file bytes for processing.
func (j *Job) SetFileData(data []byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = data
}

// FileData returns the raw file bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// SetResults stores the finished per-group results and releases the raw
// file bytes.
func (j *Job) SetResults(results []GroupResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = results
	j.fileData = nil
	j.UpdatedAt = time.Now()
}

// Results returns the finished per-group results, nil while processing.
func (j *Job) Results() []GroupResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.results
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID       string    `json:"job_id"`
	DocID    string    `json:"doc_id"`
	Status   JobStatus `json:"status"`
	Phase    string    `json:"phase"`
	Filename string    `json:"filename"`
	Title    string    `json:"title"`
	Progress Progress  `json:"progress"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	return JobSnapshot{
		ID:       j.ID,
		DocID:    j.DocID,
		Status:   j.Status,
		Phase:    j.Phase,
		Filename: j.Filename,
		Title:    j.Title,
		Progress: Progress{
			TotalSections:     j.Progress.TotalSections,
			SectionsProcessed: j.Progress.SectionsProcessed,
			TreesExtracted:    j.Progress.TreesExtracted,
			TreesComplete:     j.Progress.TreesComplete,
			TreesPublished:    j.Progress.TreesPublished,
			Errors:            errs,
		},
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
