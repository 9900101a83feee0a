// Package reports owns the persistence and generation lifecycle of
// network flow reports.
package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/database"
	"flowsight/pkg/logging"
)

// ErrNotFound is returned when a report does not exist for the tenant.
var ErrNotFound = errors.New("report not found")

// Visibility scopes for listing grouping
const (
	ScopeShared = "shared"
	ScopeUser   = "user"
	ScopeAdmin  = "admin"
)

// Store persists report records in PostgreSQL.
type Store struct {
	db     database.PostgresConn
	logger logging.Logger
}

// NewStore creates a report store backed by the given connection.
func NewStore(db database.PostgresConn, logger logging.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// CreateParams describes a new report row.
type CreateParams struct {
	Title       string
	Type        string
	Category    string
	Scope       string
	GeneratedBy string
}

const reportColumns = `id, title, report_type, category, status, archived,
       generated_at, COALESCE(size_bytes, 0), COALESCE(risk_level, ''),
       COALESCE(flows_analyzed, 0), generated_by, scope`

// Create inserts a new report in generating state and returns the record.
func (s *Store) Create(ctx context.Context, tenantID string, params CreateParams) (*api.ReportRecord, error) {
	if params.Scope == "" {
		params.Scope = ScopeUser
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reports (id, tenant_id, title, report_type, category, scope, status, generated_by, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, tenantID, params.Title, params.Type, params.Category, params.Scope, api.StatusGenerating, params.GeneratedBy, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert report: %w", err)
	}

	return &api.ReportRecord{
		ID:          id,
		Status:      api.StatusGenerating,
		Title:       params.Title,
		Type:        params.Type,
		Category:    params.Category,
		Date:        now.Format("2006-01-02"),
		GeneratedBy: params.GeneratedBy,
	}, nil
}

// List returns the active (non-archived) reports for a tenant, grouped
// by visibility scope.
func (s *Store) List(ctx context.Context, tenantID string) (*api.ReportListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE tenant_id = $1 AND archived = false
		ORDER BY generated_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	listing := &api.ReportListing{}
	for rows.Next() {
		record, scope, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		switch scope {
		case ScopeShared:
			listing.Shared = append(listing.Shared, *record)
		case ScopeAdmin:
			listing.Admin = append(listing.Admin, *record)
		default:
			listing.User = append(listing.User, *record)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read report rows: %w", err)
	}
	return listing, nil
}

// ListArchived returns the archived reports for a tenant.
func (s *Store) ListArchived(ctx context.Context, tenantID string) ([]api.ReportRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE tenant_id = $1 AND archived = true
		ORDER BY generated_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived reports: %w", err)
	}
	defer rows.Close()

	var out []api.ReportRecord
	for rows.Next() {
		record, _, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read report rows: %w", err)
	}
	return out, nil
}

// Get returns a single report for the tenant.
func (s *Store) Get(ctx context.Context, tenantID, reportID string) (*api.ReportRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reportColumns+`
		FROM reports
		WHERE tenant_id = $1 AND id = $2`, tenantID, reportID)

	record, _, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// MarkCompleted transitions a generating report to completed with its
// computed results. The guard on status makes the transition idempotent.
func (s *Store) MarkCompleted(ctx context.Context, reportID, riskLevel string, flowsAnalyzed, sizeBytes int64, content []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET status = $1, risk_level = $2, flows_analyzed = $3, size_bytes = $4, content = $5, updated_at = NOW()
		WHERE id = $6 AND status = $7`,
		api.StatusCompleted, riskLevel, flowsAnalyzed, sizeBytes, content, reportID, api.StatusGenerating)
	if err != nil {
		return fmt.Errorf("failed to complete report: %w", err)
	}
	return requireRowsAffected(result)
}

// MarkFailed transitions a generating report to failed.
func (s *Store) MarkFailed(ctx context.Context, reportID, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		api.StatusFailed, reason, reportID, api.StatusGenerating)
	if err != nil {
		return fmt.Errorf("failed to mark report failed: %w", err)
	}
	return requireRowsAffected(result)
}

// Delete permanently removes a report.
func (s *Store) Delete(ctx context.Context, tenantID, reportID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM reports WHERE tenant_id = $1 AND id = $2`, tenantID, reportID)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	return requireRowsAffected(result)
}

// Archive hides a report from the active listing. The underlying status
// is preserved so a restore returns the report unchanged.
func (s *Store) Archive(ctx context.Context, tenantID, reportID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET archived = true, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND archived = false`, tenantID, reportID)
	if err != nil {
		return fmt.Errorf("failed to archive report: %w", err)
	}
	return requireRowsAffected(result)
}

// Restore returns an archived report to the active listing.
func (s *Store) Restore(ctx context.Context, tenantID, reportID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports SET archived = false, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND archived = true`, tenantID, reportID)
	if err != nil {
		return fmt.Errorf("failed to restore report: %w", err)
	}
	return requireRowsAffected(result)
}

// Content returns the rendered content of a completed report.
func (s *Store) Content(ctx context.Context, tenantID, reportID string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT content FROM reports
		WHERE tenant_id = $1 AND id = $2 AND status = $3`,
		tenantID, reportID, api.StatusCompleted).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch report content: %w", err)
	}
	return content, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReport(row rowScanner) (*api.ReportRecord, string, error) {
	var (
		record      api.ReportRecord
		archived    bool
		generatedAt time.Time
		sizeBytes   int64
		scope       string
	)
	err := row.Scan(&record.ID, &record.Title, &record.Type, &record.Category,
		&record.Status, &archived, &generatedAt, &sizeBytes,
		&record.RiskLevel, &record.FlowsAnalyzed, &record.GeneratedBy, &scope)
	if err != nil {
		return nil, "", err
	}

	if archived {
		record.Status = api.StatusArchived
	}
	record.Date = generatedAt.UTC().Format("2006-01-02")
	record.Size = humanSize(sizeBytes)
	return &record, scope, nil
}

func requireRowsAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func humanSize(bytes int64) string {
	switch {
	case bytes <= 0:
		return ""
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	case bytes < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	default:
		return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
	}
}
