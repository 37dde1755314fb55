package domain

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindAllocation JobKind = "allocation"
	JobKindRoute      JobKind = "route"
)

func (k JobKind) Valid() bool {
	return k == JobKindAllocation || k == JobKindRoute
}

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Status only moves forward; re-applying the same terminal status is allowed
// so result writes can be repeated.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusProcessing:
		return to == JobStatusProcessing || to.IsTerminal()
	case JobStatusCompleted, JobStatusFailed:
		return from == to
	default:
		return false
	}
}

// InputSummary counts what was submitted. It is written once, at creation.
type InputSummary struct {
	SourceCount      int    `json:"sourceCount"`
	DestinationCount int    `json:"destinationCount"`
	PairCount        int    `json:"pairCount"`
	SkippedPairs     int    `json:"skippedPairs"`
	Grouped          bool   `json:"grouped,omitempty"`
	AllocationJobID  string `json:"allocationJobId,omitempty"`
}

// Job is the durable record of one allocation or route-finding run.
type Job struct {
	ID              string
	Kind            JobKind
	OwnerID         string
	Status          JobStatus
	Input           json.RawMessage
	InputSummary    InputSummary
	Results         json.RawMessage
	ErrorMessage    string
	ExecutionTimeMS int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// ResultPatch is the terminal write for a job. Input, InputSummary and
// CreatedAt are only used when no record exists for JobID yet.
type ResultPatch struct {
	Kind         JobKind
	JobID        string
	OwnerID      string
	Status       JobStatus
	Results      json.RawMessage
	ErrorMessage string
	CompletedAt  time.Time

	Input        json.RawMessage
	InputSummary InputSummary
	CreatedAt    time.Time
}

type JobListFilter struct {
	Kind    JobKind
	OwnerID string
	Status  JobStatus
	Limit   int
}

// QueueMessage is the transport format sent to queue backends. The units of
// work live in the job record, so the message only identifies the job.
type QueueMessage struct {
	JobID       string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	OwnerID     string    `json:"owner_id"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}
