package models

import (
	"fmt"
	"time"
)

// Kind identifies the media-retrieval operation a [Task] performs.
type Kind string

const (
	KindResolveLink      Kind = "resolve-link"
	KindDownloadTrack    Kind = "download-track"
	KindDownloadPlaylist Kind = "download-playlist"
	KindSaveMetadata     Kind = "save-metadata"
	KindGetURLs          Kind = "get-urls"
	KindSyncPlaylist     Kind = "sync-playlist"
	KindUpdateMetadata   Kind = "update-metadata"
)

// Kinds lists every known [Kind].
func Kinds() []Kind {
	return []Kind{
		KindResolveLink, KindDownloadTrack, KindDownloadPlaylist, KindSaveMetadata,
		KindGetURLs, KindSyncPlaylist, KindUpdateMetadata,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ProducesArtifact reports whether tasks of this kind leave files in the artifact store.
func (k Kind) ProducesArtifact() bool {
	switch k {
	case KindResolveLink, KindUpdateMetadata:
		return false
	default:
		return true
	}
}

// State is a position in the task lifecycle.
//
// Transitions only move forward: pending → running → completed | failed.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a final state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateRunning
	case StateRunning:
		return next == StateCompleted || next == StateFailed
	default:
		return false
	}
}

// Category classifies a failure for callers.
type Category string

const (
	CategoryInvalidRequest    Category = "InvalidRequest"
	CategoryNotFound          Category = "NotFound"
	CategoryEngineFailure     Category = "EngineFailure"
	CategoryIOFailure         Category = "IOFailure"
	CategoryTimeout           Category = "Timeout"
	CategoryTaskBusy          Category = "TaskBusy"
	CategoryInvalidTransition Category = "InvalidTransition"

	// Reported by the HTTP API only; never recorded on a task.
	CategoryNotCompleted Category = "NotCompleted"
	CategoryQueueFull    Category = "QueueFull"
	CategoryUnavailable  Category = "Unavailable"
	CategoryRateLimited  Category = "RateLimited"
)

// Request holds the validated, immutable parameters of a task.
//
// Not every field applies to every [Kind]; see the orchestrator's validation rules.
type Request struct {
	Source     string   `json:"source,omitempty"`      // Catalog URL or free-text query
	Format     string   `json:"format,omitempty"`      // Output container, e.g. mp3
	Quality    string   `json:"quality,omitempty"`     // "best" or a bitrate such as 320k
	OutputFile string   `json:"output_file,omitempty"` // Caller-supplied artifact name
	SaveFile   string   `json:"save_file,omitempty"`   // Metadata file name for save/sync
	FilePaths  []string `json:"file_paths,omitempty"`  // Files to retag, relative to the output dir
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	c := r
	if r.FilePaths != nil {
		c.FilePaths = append([]string(nil), r.FilePaths...)
	}
	return c
}

// Result references what a completed task produced.
type Result struct {
	Path     string   `json:"-"`                   // Artifact location inside the managed directory
	Filename string   `json:"filename,omitempty"`  // Name a client should save the download as
	FileSize int64    `json:"file_size,omitempty"` // Bytes (sum of files for directory artifacts)
	Files    []string `json:"files,omitempty"`     // Member file names for directory artifacts
	URLs     []string `json:"urls,omitempty"`      // Resolved source URLs
	IsDir    bool     `json:"is_dir,omitempty"`
}

// Empty reports whether the result carries no reference at all.
func (r *Result) Empty() bool {
	return r == nil || (r.Path == "" && r.Filename == "" && len(r.Files) == 0 && len(r.URLs) == 0)
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := *r
	if r.Files != nil {
		c.Files = append([]string(nil), r.Files...)
	}
	if r.URLs != nil {
		c.URLs = append([]string(nil), r.URLs...)
	}
	return &c
}

// TaskError describes why a task failed.
type TaskError struct {
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Task is a tracked unit of asynchronous work.
type Task struct {
	ID         string     `json:"task_id"`
	Kind       Kind       `json:"kind"`
	Request    Request    `json:"request"`
	State      State      `json:"state"`
	Result     *Result    `json:"result,omitempty"`
	Error      *TaskError `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (t *Task) Clone() Task {
	c := *t
	c.Request = t.Request.Clone()
	c.Result = t.Result.Clone()
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return c
}

// Duration returns how long the task ran, or zero if it has not finished.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}
