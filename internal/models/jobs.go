package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Upload struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	CustomerID uuid.UUID       `json:"customer_id" db:"customer_id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Prefix     string          `json:"prefix" db:"prefix"`
	Filename   string          `json:"filename" db:"filename"`
	MD5        string          `json:"md5,omitempty" db:"md5"`
	Type       string          `json:"type" db:"type"`
	Meta       json.RawMessage `json:"meta,omitempty" db:"meta"`
	AutoUpload bool            `json:"auto_upload" db:"auto_upload"`
	Deleted    bool            `json:"-" db:"deleted"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// QueuedItem is one row of the durable work queue. UploadID is nil for
// advanced-analysis items, which carry Sources instead.
type QueuedItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UploadID  *uuid.UUID      `json:"upload_id,omitempty" db:"upload_id"`
	Queue     string          `json:"queue" db:"queue"`
	Priority  int             `json:"priority" db:"priority"`
	Sources   []uuid.UUID     `json:"sources,omitempty" db:"sources"`
	Meta      json.RawMessage `json:"meta" db:"meta"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusFinished JobStatus = "finished"
	JobStatusError    JobStatus = "error"
	JobStatusDeleted  JobStatus = "deleted"
)

type JobResult struct {
	JobID      uuid.UUID       `json:"id" db:"job_id"`
	UploadID   uuid.UUID       `json:"upload_id" db:"upload_id"`
	CustomerID uuid.UUID       `json:"customer_id" db:"customer_id"`
	UserID     uuid.UUID       `json:"user_id" db:"user_id"`
	Type       string          `json:"type" db:"type"`
	Status     JobStatus       `json:"status" db:"status"`
	Runtime    float64         `json:"runtime" db:"runtime"`
	ObjectKey  *string         `json:"object_key,omitempty" db:"object_key"`
	Meta       json.RawMessage `json:"meta,omitempty" db:"meta"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

type VersionState string

const (
	VersionStateTesting    VersionState = "testing"
	VersionStateInternal   VersionState = "internal"
	VersionStateExternal   VersionState = "external"
	VersionStateDeprecated VersionState = "deprecated"
)

type AnalysisVersion struct {
	Version       string       `json:"version" db:"version"`
	Product       string       `json:"product" db:"product"`
	State         VersionState `json:"state" db:"state"`
	EndOfLifeDate *time.Time   `json:"end_of_life_date,omitempty" db:"end_of_life_date"`
}
