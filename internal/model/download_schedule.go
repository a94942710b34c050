package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleStatus is the closed set of DownloadSchedule states.
type ScheduleStatus string

const (
	ScheduleStatusPending   ScheduleStatus = "Pending"
	ScheduleStatusProcessed ScheduleStatus = "Processed"
	ScheduleStatusError     ScheduleStatus = "Error"
	ScheduleStatusDeleted   ScheduleStatus = "Deleted"
)

// ScheduleType identifies the export kind a schedule row is routed to.
type ScheduleType string

const (
	ScheduleTypeOpportunities             ScheduleType = "Opportunities"
	ScheduleTypeMyOpportunityVerification ScheduleType = "MyOpportunityVerifications"
	ScheduleTypeVerificationFiles         ScheduleType = "VerificationFiles"
)

// DownloadSchedule is one export job. Filter holds the serialized query
// parameters; FilterHash is its deterministic digest and, together with
// UserID and Type, the dedup fingerprint for pending work.
type DownloadSchedule struct {
	ID              uuid.UUID      `db:"id"`
	UserID          uuid.UUID      `db:"user_id"`
	Type            ScheduleType   `db:"type"`
	Filter          string         `db:"filter"`
	FilterHash      string         `db:"filter_hash"`
	Status          ScheduleStatus `db:"status"`
	FileID          *uuid.UUID     `db:"file_id"`
	FileStorageType *StorageType   `db:"file_storage_type"`
	FileKey         *string        `db:"file_key"`
	ErrorReason     *string        `db:"error_reason"`
	// RetryCount is nil until the first error; the first failure records 0.
	RetryCount   *int      `db:"retry_count"`
	DateCreated  time.Time `db:"date_created"`
	DateModified time.Time `db:"date_modified"`
}
