package reports

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/logging"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, logging.NewNopLogger()), mock
}

func reportRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "report_type", "category", "status", "archived",
		"generated_at", "size_bytes", "risk_level", "flows_analyzed",
		"generated_by", "scope",
	})
}

func TestCreateInsertsGeneratingRow(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reports")).
		WithArgs(sqlmock.AnyArg(), "tenant-1", "Daily threats", "threat_summary", "security",
			ScopeUser, api.StatusGenerating, "analyst@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record, err := store.Create(context.Background(), "tenant-1", CreateParams{
		Title:       "Daily threats",
		Type:        "threat_summary",
		Category:    "security",
		GeneratedBy: "analyst@example.com",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, record.ID)
	assert.Equal(t, api.StatusGenerating, record.Status)
	assert.Equal(t, "Daily threats", record.Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListGroupsByScope(t *testing.T) {
	store, mock := newTestStore(t)
	generatedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reports")).
		WithArgs("tenant-1").
		WillReturnRows(reportRows().
			AddRow("r1", "Org baseline", "traffic", "network", api.StatusCompleted, false,
				generatedAt, int64(2516582), "low", int64(150000), "system", ScopeShared).
			AddRow("r2", "My investigation", "threat_summary", "security", api.StatusCompleted, false,
				generatedAt, int64(1024), "high", int64(900), "analyst@example.com", ScopeUser).
			AddRow("r3", "Audit trail", "audit", "compliance", api.StatusGenerating, false,
				generatedAt, int64(0), "", int64(0), "admin@example.com", ScopeAdmin))

	listing, err := store.List(context.Background(), "tenant-1")
	require.NoError(t, err)

	require.Len(t, listing.Shared, 1)
	require.Len(t, listing.User, 1)
	require.Len(t, listing.Admin, 1)

	assert.Equal(t, "2.4 MB", listing.Shared[0].Size)
	assert.Equal(t, "2026-08-20", listing.Shared[0].Date)
	assert.Equal(t, "1.0 KB", listing.User[0].Size)
	assert.Empty(t, listing.Admin[0].Size)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListArchivedMapsStatus(t *testing.T) {
	store, mock := newTestStore(t)
	generatedAt := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("archived = true")).
		WithArgs("tenant-1").
		WillReturnRows(reportRows().
			AddRow("r9", "Old report", "traffic", "network", api.StatusCompleted, true,
				generatedAt, int64(512), "low", int64(10), "system", ScopeShared))

	archived, err := store.ListArchived(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, api.StatusArchived, archived[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM reports")).
		WithArgs("tenant-1", "missing").
		WillReturnRows(reportRows())

	_, err := store.Get(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedGuardsOnGeneratingStatus(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE reports")).
		WithArgs(api.StatusCompleted, "high", int64(900), int64(2048), []byte(`{}`), "r1", api.StatusGenerating).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkCompleted(context.Background(), "r1", "high", 900, 2048, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveAndRestore(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("SET archived = true")).
		WithArgs("tenant-1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Archive(context.Background(), "tenant-1", "r1"))

	mock.ExpectExec(regexp.QuoteMeta("SET archived = false")).
		WithArgs("tenant-1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Restore(context.Background(), "tenant-1", "r1"))

	// Restoring a report that is not archived is a not-found
	mock.ExpectExec(regexp.QuoteMeta("SET archived = false")).
		WithArgs("tenant-1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.Restore(context.Background(), "tenant-1", "r1"), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteMissingReport(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reports")).
		WithArgs("tenant-1", "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.Delete(context.Background(), "tenant-1", "missing"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestContentOnlyForCompletedReports(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT content FROM reports")).
		WithArgs("tenant-1", "r1", api.StatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"content"}).AddRow([]byte(`{"risk_level":"low"}`)))

	content, err := store.Content(context.Background(), "tenant-1", "r1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"risk_level":"low"}`, string(content))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT content FROM reports")).
		WithArgs("tenant-1", "pending", api.StatusCompleted).
		WillReturnRows(sqlmock.NewRows([]string{"content"}))

	_, err = store.Content(context.Background(), "tenant-1", "pending")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "", humanSize(0))
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.0 KB", humanSize(1024))
	assert.Equal(t, "2.4 MB", humanSize(2516582))
	assert.Equal(t, "3.0 GB", humanSize(3*1024*1024*1024))
}
