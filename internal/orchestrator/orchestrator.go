// Package orchestrator implements the job state machine (C10): register,
// pause, resume, and complete jobs, publishing a (progression_blob,
// resume_blob) tuple to an external registry on every pause, and publishing
// JobEvents on a buffered channel returned by Events. No package in this
// repository reads that channel; internal/shellproto serves job state from
// Jobs and Job instead.
package orchestrator

import (
	"context"
	"sync"
	"time"

	xsync "github.com/puzpuzpuz/xsync/v3"

	"github.com/cascadefs/waterfall/internal/debug"
	"github.com/cascadefs/waterfall/internal/errors"
)

// State is one node of the job lifecycle diagram:
//
//	NEW --register--> ACTIVE --success--> DONE
//	                 |   ^
//	               pause | resume
//	                 v   |
//	                PAUSED
//
// ACTIVE covers both the uploading and downloading directions; Job.Kind
// distinguishes which for the externally-reported status string.
type State int

const (
	StateNew State = iota
	StateActive
	StatePaused
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Kind distinguishes an upload job from a download job, purely for the
// externally reported status string ("uploading" / "downloading").
type Kind int

const (
	KindUpload Kind = iota
	KindDownload
)

func (k Kind) activeStatus() string {
	if k == KindDownload {
		return "downloading"
	}
	return "uploading"
}

// Status reports the external registry's three-value status field derived
// from a job's (Kind, State).
func Status(kind Kind, state State) string {
	switch state {
	case StateDone:
		return "done"
	case StateActive:
		return kind.activeStatus()
	default:
		return kind.activeStatus()
	}
}

// Job is the externally persisted tuple the core treats as opaque state
// apart from its Status transitions.
type Job struct {
	ID                   string
	Name                 string
	FilePath             string
	Password             string
	UserSuppliedPassword bool
	Kind                 Kind
	ThreadCount          int
	ProgressionBlob      []byte
	ResumeBlob           []byte
	DeletedAt            *time.Time

	State State
}

// JobRegistry is the external collaborator persisting Job tuples. The core
// never queries it beyond Save/Load — no SQLite schema is part of this
// package.
type JobRegistry interface {
	Save(ctx context.Context, job Job) error
	Load(ctx context.Context, id string) (Job, bool, error)
}

// Tier is the subscription class determining the per-attachment size cap.
type Tier struct {
	Name              string
	MaxAttachmentSize int64
}

// Credential is what a CredentialStore hands the uploader pool: a bearer
// token, the channel to post attachments into, and the tier governing its
// size cap.
type Credential struct {
	Token     string
	ChannelID string
	Tier      Tier
}

// CredentialStore supplies fresh credentials, refreshing expired OAuth2
// tokens transparently.
type CredentialStore interface {
	Credential(ctx context.Context) (Credential, error)
}

// JobEvent is published on the orchestrator's event channel every time a
// job transitions state. internal/shellproto does not relay these events.
type JobEvent struct {
	JobID string
	State State
	Err   error
}

// Orchestrator owns every job's lifecycle state. It never back-references
// workers: transitions are driven by explicit calls from the CLI or
// shellproto handlers, and workers report completion/failure the same way.
type Orchestrator struct {
	registry JobRegistry
	jobs     *xsync.MapOf[string, *Job]
	events   chan JobEvent

	mu sync.Mutex
}

// New builds an Orchestrator backed by registry, with an event channel of
// the given buffer size (0 for synchronous delivery).
func New(registry JobRegistry, eventBuffer int) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		jobs:     xsync.NewMapOf[string, *Job](),
		events:   make(chan JobEvent, eventBuffer),
	}
}

// Events returns the channel of job state transitions.
func (o *Orchestrator) Events() <-chan JobEvent {
	return o.events
}

func (o *Orchestrator) publish(jobID string, state State, err error) {
	select {
	case o.events <- JobEvent{JobID: jobID, State: state, Err: err}:
	default:
		debug.Log("event channel full, dropping transition for job %v", jobID)
	}
}

// Register moves a NEW job to ACTIVE and persists it.
func (o *Orchestrator) Register(ctx context.Context, job Job) error {
	if job.ID == "" {
		return errors.New("orchestrator: job ID is required")
	}
	job.State = StateActive

	if err := o.registry.Save(ctx, job); err != nil {
		return errors.Wrap(err, "Save")
	}

	jobCopy := job
	o.jobs.Store(job.ID, &jobCopy)
	o.publish(job.ID, StateActive, nil)
	return nil
}

// Pause moves an ACTIVE job to PAUSED, persisting the progression and
// resume blobs supplied by the caller (the container uploader's current
// snapshot).
func (o *Orchestrator) Pause(ctx context.Context, jobID string, progressionBlob, resumeBlob []byte) error {
	return o.transition(ctx, jobID, StateActive, StatePaused, func(j *Job) {
		j.ProgressionBlob = progressionBlob
		j.ResumeBlob = resumeBlob
	})
}

// Resume moves a PAUSED job back to ACTIVE.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	return o.transition(ctx, jobID, StatePaused, StateActive, nil)
}

// Complete moves an ACTIVE job to DONE.
func (o *Orchestrator) Complete(ctx context.Context, jobID string) error {
	return o.transition(ctx, jobID, StateActive, StateDone, func(j *Job) {
		j.ResumeBlob = nil
	})
}

func (o *Orchestrator) transition(ctx context.Context, jobID string, from, to State, mutate func(*Job)) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	job, ok := o.jobs.Load(jobID)
	if !ok {
		return errors.Errorf("orchestrator: unknown job %v", jobID)
	}
	if job.State != from {
		return errors.Errorf("orchestrator: job %v is %v, cannot move to %v", jobID, job.State, to)
	}

	updated := *job
	if mutate != nil {
		mutate(&updated)
	}
	updated.State = to

	if err := o.registry.Save(ctx, updated); err != nil {
		o.publish(jobID, job.State, err)
		return errors.Wrap(err, "Save")
	}

	o.jobs.Store(jobID, &updated)
	o.publish(jobID, to, nil)
	return nil
}

// Load fetches a job from the registry into the in-memory table, for a
// freshly started process reconnecting to a job a previous run paused.
// It does not change the job's persisted state.
func (o *Orchestrator) Load(ctx context.Context, jobID string) (Job, bool, error) {
	job, ok, err := o.registry.Load(ctx, jobID)
	if err != nil || !ok {
		return Job{}, ok, err
	}

	jobCopy := job
	o.jobs.Store(jobID, &jobCopy)
	return job, true, nil
}

// Job returns a copy of the job's current in-memory state.
func (o *Orchestrator) Job(jobID string) (Job, bool) {
	job, ok := o.jobs.Load(jobID)
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Jobs returns a snapshot of every job currently tracked in memory, for
// the shell-facing listing endpoint.
func (o *Orchestrator) Jobs() []Job {
	jobs := make([]Job, 0, o.jobs.Size())
	o.jobs.Range(func(_ string, job *Job) bool {
		jobs = append(jobs, *job)
		return true
	})
	return jobs
}

// Exit pauses every still-active job and flushes its resume blob to the
// registry before termination, per the lifecycle diagram's exit(app) edge.
// Jobs lacking a fresh resume blob (snapshot) are paused with whatever blob
// they last reported.
func (o *Orchestrator) Exit(ctx context.Context) error {
	var firstErr error

	o.jobs.Range(func(id string, job *Job) bool {
		if job.State != StateActive {
			return true
		}
		if err := o.Pause(ctx, id, job.ProgressionBlob, job.ResumeBlob); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
		return true
	})

	return firstErr
}
