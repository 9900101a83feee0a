// Package lookout defines the wire types for the lookout report API.
package lookout

import (
	"fmt"
	"time"
)

// Report status values
const (
	StatusGenerating = "generating"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusArchived   = "archived"
)

// PlaceholderPrefix marks optimistic records that have not been persisted yet.
const PlaceholderPrefix = "generating-"

// ReportRecord is a single report entry as returned by the listing and
// detail endpoints.
type ReportRecord struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Title         string `json:"title"`
	Type          string `json:"type,omitempty"`
	Category      string `json:"category,omitempty"`
	Date          string `json:"date,omitempty"`
	Size          string `json:"size,omitempty"`
	RiskLevel     string `json:"risk_level,omitempty"`
	FlowsAnalyzed int64  `json:"flows_analyzed,omitempty"`
	GeneratedBy   string `json:"generated_by,omitempty"`
}

// IsPlaceholder reports whether the record is an optimistic local entry
// rather than a persisted report.
func (r ReportRecord) IsPlaceholder() bool {
	return len(r.ID) > len(PlaceholderPrefix) && r.ID[:len(PlaceholderPrefix)] == PlaceholderPrefix
}

// NewPlaceholderID builds the synthetic ID used for optimistic entries.
func NewPlaceholderID(t time.Time) string {
	return fmt.Sprintf("%s%d", PlaceholderPrefix, t.UnixMilli())
}

// NewPlaceholderRecord builds the optimistic record shown while a report
// is being generated.
func NewPlaceholderRecord(t time.Time, title string) ReportRecord {
	return ReportRecord{
		ID:          NewPlaceholderID(t),
		Status:      StatusGenerating,
		Title:       title,
		Date:        t.UTC().Format("2006-01-02"),
		GeneratedBy: "system",
	}
}

// CreateReportRequest is the request body accepted by POST /api/reports.
// Quick generation supplies DurationHours only; custom reports supply the
// full configuration.
type CreateReportRequest struct {
	DurationHours      int      `json:"duration_hours,omitempty"`
	ReportName         string   `json:"report_name,omitempty"`
	DataSources        []string `json:"data_sources,omitempty"`
	VisualizationTypes []string `json:"visualization_types,omitempty"`
	TimeRange          string   `json:"time_range,omitempty"`
	Schedule           string   `json:"schedule,omitempty"`
	Recipients         []string `json:"recipients,omitempty"`
	OutputFormat       string   `json:"output_format,omitempty"`
}

// CreateReportResponse is the response body returned by POST /api/reports.
// Servers are inconsistent about which fields they populate, so clients
// must classify the whole shape rather than trusting any single field.
type CreateReportResponse struct {
	Success bool          `json:"success,omitempty"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Details string        `json:"details,omitempty"`
	Status  string        `json:"status,omitempty"`
	Report  *ReportRecord `json:"report,omitempty"`
}

// ReportListing is the response body of GET /api/reports. Servers return
// either a flat Reports slice or the grouped Shared/User/Admin form.
type ReportListing struct {
	Reports []ReportRecord `json:"reports,omitempty"`
	Shared  []ReportRecord `json:"shared,omitempty"`
	User    []ReportRecord `json:"user,omitempty"`
	Admin   []ReportRecord `json:"admin,omitempty"`
}

// Flatten merges a listing into a single slice, deduplicating by ID.
// The first occurrence of an ID wins; groups are visited in shared,
// user, admin order, after any flat entries.
func (l ReportListing) Flatten() []ReportRecord {
	out := make([]ReportRecord, 0, len(l.Reports)+len(l.Shared)+len(l.User)+len(l.Admin))
	seen := make(map[string]struct{})

	appendGroup := func(group []ReportRecord) {
		for _, r := range group {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, r)
		}
	}

	appendGroup(l.Reports)
	appendGroup(l.Shared)
	appendGroup(l.User)
	appendGroup(l.Admin)
	return out
}

// IDs returns the set of all report IDs in the listing, regardless of
// status. Used to baseline observed reports before and during a
// generation run.
func (l ReportListing) IDs() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, r := range l.Flatten() {
		ids[r.ID] = struct{}{}
	}
	return ids
}

// CreationOutcome is the classified result of a report creation call.
// Exactly one of the two shapes applies: an accepted submission or a
// rejection with a user-facing reason.
type CreationOutcome struct {
	Accepted bool
	Reason   string
}

// Accept returns an accepted creation outcome.
func Accept() CreationOutcome {
	return CreationOutcome{Accepted: true}
}

// Reject returns a rejected creation outcome with the given reason.
func Reject(reason string) CreationOutcome {
	return CreationOutcome{Accepted: false, Reason: reason}
}

// GenericCreationFailure is the user-facing reason used when a rejected
// creation response carries no usable error text.
const GenericCreationFailure = "Failed to generate report. Please try again."

// ClassifyCreation decides, once, whether a creation response means the
// server accepted the request. Servers signal acceptance in three shapes:
// an explicit success flag, a message with no error, or a generating
// status. Everything else is a rejection, with the reason taken from the
// error, details, or message field, in that order.
func ClassifyCreation(statusCode int, resp *CreateReportResponse) CreationOutcome {
	if resp == nil {
		return Reject(GenericCreationFailure)
	}

	rejectReason := func() string {
		switch {
		case resp.Error != "":
			return resp.Error
		case resp.Details != "":
			return resp.Details
		case resp.Message != "":
			return resp.Message
		default:
			return GenericCreationFailure
		}
	}

	if statusCode < 200 || statusCode > 299 {
		return Reject(rejectReason())
	}

	if resp.Success || (resp.Message != "" && resp.Error == "") || resp.Status == StatusGenerating {
		return Accept()
	}
	return Reject(rejectReason())
}

// ArchiveActionRequest is the request body for PATCH /api/reports/:id.
type ArchiveActionRequest struct {
	Action string `json:"action"`
}

// Archive action values
const (
	ActionArchive = "archive"
	ActionRestore = "restore"
)
