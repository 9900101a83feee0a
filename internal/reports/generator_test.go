package reports

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowsight/internal/metrics"
	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/kafka"
	"flowsight/pkg/logging"
)

func newTestMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		ReportGenerations: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "report_generations_total"}, []string{"status"}),
		GenerationTime:    prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "report_generation_duration_seconds"}, []string{"report_type"}),
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*kafka.ReportEvent
}

func (p *recordingPublisher) PublishReportEvent(event *kafka.ReportEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	records []api.ReportRecord
}

func (b *recordingBroadcaster) BroadcastReportStatus(tenantID string, record api.ReportRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
}

func newTestGenerator(t *testing.T) (*Generator, sqlmock.Sqlmock, sqlmock.Sqlmock, *recordingPublisher, *recordingBroadcaster) {
	t.Helper()

	pg, pgMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	ch, chMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	publisher := &recordingPublisher{}
	broadcaster := &recordingBroadcaster{}
	store := NewStore(pg, logging.NewNopLogger())
	gen := NewGenerator(store, ch, publisher, broadcaster, logging.NewNopLogger(), newTestMetrics())
	return gen, pgMock, chMock, publisher, broadcaster
}

func aggregateRows(flows, sources, dests, bytes, critical, high, medium, low int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"total_flows", "unique_sources", "unique_dests", "total_bytes",
		"critical_threats", "high_threats", "medium_threats", "low_threats",
	}).AddRow(flows, sources, dests, bytes, critical, high, medium, low)
}

func TestGeneratorRunCompletesReport(t *testing.T) {
	gen, pgMock, chMock, publisher, broadcaster := newTestGenerator(t)

	chMock.ExpectQuery(regexp.QuoteMeta("FROM flow_events")).
		WithArgs("tenant-1", 24).
		WillReturnRows(aggregateRows(150000, 1200, 340, 9_800_000_000, 0, 3, 12, 80))

	pgMock.ExpectExec(regexp.QuoteMeta("UPDATE reports")).
		WithArgs(api.StatusCompleted, "high", int64(150000), sqlmock.AnyArg(), sqlmock.AnyArg(),
			"r1", api.StatusGenerating).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := api.ReportRecord{ID: "r1", Status: api.StatusGenerating, Title: "Daily threats"}
	gen.Run(context.Background(), "tenant-1", record, 24)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, kafka.EventReportCompleted, publisher.events[0].EventType)
	assert.Equal(t, "r1", publisher.events[0].ReportID)
	assert.Equal(t, "lookout", publisher.events[0].Source)

	require.Len(t, broadcaster.records, 1)
	assert.Equal(t, api.StatusCompleted, broadcaster.records[0].Status)
	assert.Equal(t, "high", broadcaster.records[0].RiskLevel)
	assert.Equal(t, int64(150000), broadcaster.records[0].FlowsAnalyzed)

	assert.Equal(t, float64(1), testutil.ToFloat64(gen.metrics.ReportGenerations.WithLabelValues(api.StatusCompleted)))
	assert.Equal(t, 1, testutil.CollectAndCount(gen.metrics.GenerationTime))

	assert.NoError(t, pgMock.ExpectationsWereMet())
	assert.NoError(t, chMock.ExpectationsWereMet())
}

func TestGeneratorRunFailsWhenFlowDataUnavailable(t *testing.T) {
	gen, pgMock, chMock, publisher, broadcaster := newTestGenerator(t)

	chMock.ExpectQuery(regexp.QuoteMeta("FROM flow_events")).
		WithArgs("tenant-1", 24).
		WillReturnError(errors.New("clickhouse unavailable"))

	pgMock.ExpectExec(regexp.QuoteMeta("UPDATE reports")).
		WithArgs(api.StatusFailed, "flow data unavailable", "r1", api.StatusGenerating).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := api.ReportRecord{ID: "r1", Status: api.StatusGenerating}
	gen.Run(context.Background(), "tenant-1", record, 24)

	require.Len(t, publisher.events, 1)
	assert.Equal(t, kafka.EventReportFailed, publisher.events[0].EventType)

	require.Len(t, broadcaster.records, 1)
	assert.Equal(t, api.StatusFailed, broadcaster.records[0].Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(gen.metrics.ReportGenerations.WithLabelValues(api.StatusFailed)))
	assert.Equal(t, 0, testutil.CollectAndCount(gen.metrics.GenerationTime))

	assert.NoError(t, pgMock.ExpectationsWereMet())
	assert.NoError(t, chMock.ExpectationsWereMet())
}

func TestRiskLevelDerivation(t *testing.T) {
	assert.Equal(t, "critical", FlowAggregates{CriticalCount: 1, LowCount: 50}.RiskLevel())
	assert.Equal(t, "high", FlowAggregates{HighCount: 2, MediumCount: 9}.RiskLevel())
	assert.Equal(t, "medium", FlowAggregates{MediumCount: 1}.RiskLevel())
	assert.Equal(t, "low", FlowAggregates{LowCount: 4}.RiskLevel())
	assert.Equal(t, "low", FlowAggregates{}.RiskLevel())
}
