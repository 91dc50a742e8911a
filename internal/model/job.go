package model

import "time"

// JobStats holds the progress counters for a job. Progress updates carry
// deltas that the store merges into the persisted counters.
type JobStats struct {
	Found   int `json:"found"`
	New     int `json:"new"`
	Updated int `json:"updated"`
}

// Add merges another stats value into this one.
func (s *JobStats) Add(other JobStats) {
	s.Found += other.Found
	s.New += other.New
	s.Updated += other.Updated
}

// IsZero reports whether all counters are zero.
func (s JobStats) IsZero() bool {
	return s.Found == 0 && s.New == 0 && s.Updated == 0
}

// Job is one row per pipeline stage execution. A job is created running,
// mutated only through the job tracker (progress, complete, fail) or the
// stale-job sweep, and immutable once terminal.
type Job struct {
	ID           string       `json:"id"`
	Stage        StageType    `json:"stage"`
	Dataset      string       `json:"dataset"`
	Status       JobStatus    `json:"status"`
	Stats        JobStats     `json:"stats"`
	Message      string       `json:"message,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Metadata     *JobMetadata `json:"metadata,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
	LastUpdate   *time.Time   `json:"last_update,omitempty"`
	TimeoutAt    time.Time    `json:"timeout_at"`
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}
