package kafka

import (
	"time"

	"github.com/google/uuid"
)

// Report lifecycle event types
const (
	EventReportRequested = "report_requested"
	EventReportCompleted = "report_completed"
	EventReportFailed    = "report_failed"
	EventReportArchived  = "report_archived"
	EventReportRestored  = "report_restored"
	EventReportDeleted   = "report_deleted"
)

// ReportEvent represents a report lifecycle transition published to the
// audit stream.
type ReportEvent struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	Timestamp     time.Time              `json:"timestamp"`
	Source        string                 `json:"source"`
	TenantID      string                 `json:"tenant_id,omitempty"`
	ReportID      string                 `json:"report_id"`
	Status        string                 `json:"status,omitempty"`
	Data          map[string]interface{} `json:"data,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
}

// NewReportEvent builds a report lifecycle event with a fresh event ID
func NewReportEvent(eventType, source, tenantID, reportID, status string) *ReportEvent {
	return &ReportEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Timestamp:     time.Now().UTC(),
		Source:        source,
		TenantID:      tenantID,
		ReportID:      reportID,
		Status:        status,
		SchemaVersion: "1.0",
	}
}
