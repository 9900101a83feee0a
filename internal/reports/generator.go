package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowsight/internal/metrics"
	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/database"
	"flowsight/pkg/kafka"
	"flowsight/pkg/logging"
)

// EventPublisher publishes report lifecycle events to the audit stream.
type EventPublisher interface {
	PublishReportEvent(event *kafka.ReportEvent) error
}

// Broadcaster pushes report status changes to connected clients.
type Broadcaster interface {
	BroadcastReportStatus(tenantID string, record api.ReportRecord)
}

// FlowAggregates summarizes the flow traffic a report covers.
type FlowAggregates struct {
	TotalFlows    int64 `json:"total_flows"`
	UniqueSources int64 `json:"unique_sources"`
	UniqueDests   int64 `json:"unique_dests"`
	TotalBytes    int64 `json:"total_bytes"`
	CriticalCount int64 `json:"critical_threats"`
	HighCount     int64 `json:"high_threats"`
	MediumCount   int64 `json:"medium_threats"`
	LowCount      int64 `json:"low_threats"`
}

// RiskLevel derives the report risk rating from threat counts.
func (a FlowAggregates) RiskLevel() string {
	switch {
	case a.CriticalCount > 0:
		return "critical"
	case a.HighCount > 0:
		return "high"
	case a.MediumCount > 0:
		return "medium"
	default:
		return "low"
	}
}

// ReportContent is the rendered body of a completed report.
type ReportContent struct {
	Title       string         `json:"title"`
	GeneratedAt time.Time      `json:"generated_at"`
	WindowHours int            `json:"window_hours"`
	RiskLevel   string         `json:"risk_level"`
	Aggregates  FlowAggregates `json:"aggregates"`
}

// Generator computes report results from the flow analytics store and
// drives the report through its status transitions.
type Generator struct {
	store      *Store
	clickhouse database.ClickHouseConn
	events     EventPublisher
	broadcast  Broadcaster
	logger     logging.Logger
	metrics    *metrics.Metrics
	source     string
}

// NewGenerator creates a report generator. events, broadcast, and
// serviceMetrics may be nil, in which case those side effects are skipped.
func NewGenerator(store *Store, ch database.ClickHouseConn, events EventPublisher, broadcast Broadcaster, logger logging.Logger, serviceMetrics *metrics.Metrics) *Generator {
	return &Generator{
		store:      store,
		clickhouse: ch,
		events:     events,
		broadcast:  broadcast,
		logger:     logger,
		metrics:    serviceMetrics,
		source:     "lookout",
	}
}

// Run generates the report synchronously: it aggregates flow data over
// the window, completes or fails the report row, and fans out the
// lifecycle event. Callers run it in a goroutine for async generation.
func (g *Generator) Run(ctx context.Context, tenantID string, record api.ReportRecord, windowHours int) {
	if windowHours <= 0 {
		windowHours = 24
	}
	start := time.Now()

	aggregates, err := g.aggregateFlows(ctx, tenantID, windowHours)
	if err != nil {
		g.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"report_id": record.ID,
			"error":     err.Error(),
		}).Error("flow aggregation failed, marking report failed")
		g.fail(ctx, tenantID, record, "flow data unavailable")
		return
	}

	content := ReportContent{
		Title:       record.Title,
		GeneratedAt: time.Now().UTC(),
		WindowHours: windowHours,
		RiskLevel:   aggregates.RiskLevel(),
		Aggregates:  aggregates,
	}
	payload, err := json.Marshal(content)
	if err != nil {
		g.fail(ctx, tenantID, record, "failed to render report content")
		return
	}

	if err := g.store.MarkCompleted(ctx, record.ID, aggregates.RiskLevel(), aggregates.TotalFlows, int64(len(payload)), payload); err != nil {
		g.logger.WithFields(logging.Fields{
			"report_id": record.ID,
			"error":     err.Error(),
		}).Error("failed to persist completed report")
		return
	}

	record.Status = api.StatusCompleted
	record.RiskLevel = aggregates.RiskLevel()
	record.FlowsAnalyzed = aggregates.TotalFlows
	record.Size = humanSize(int64(len(payload)))

	if g.metrics != nil {
		g.metrics.ReportGenerations.WithLabelValues(api.StatusCompleted).Inc()
		g.metrics.GenerationTime.WithLabelValues(reportTypeLabel(record.Type)).Observe(time.Since(start).Seconds())
	}
	g.publish(kafka.EventReportCompleted, tenantID, record.ID, api.StatusCompleted)
	if g.broadcast != nil {
		g.broadcast.BroadcastReportStatus(tenantID, record)
	}

	g.logger.WithFields(logging.Fields{
		"tenant_id":      tenantID,
		"report_id":      record.ID,
		"flows_analyzed": aggregates.TotalFlows,
		"risk_level":     aggregates.RiskLevel(),
	}).Info("report generation finished")
}

func (g *Generator) fail(ctx context.Context, tenantID string, record api.ReportRecord, reason string) {
	if err := g.store.MarkFailed(ctx, record.ID, reason); err != nil {
		g.logger.WithFields(logging.Fields{
			"report_id": record.ID,
			"error":     err.Error(),
		}).Error("failed to persist failed report")
		return
	}
	record.Status = api.StatusFailed
	if g.metrics != nil {
		g.metrics.ReportGenerations.WithLabelValues(api.StatusFailed).Inc()
	}
	g.publish(kafka.EventReportFailed, tenantID, record.ID, api.StatusFailed)
	if g.broadcast != nil {
		g.broadcast.BroadcastReportStatus(tenantID, record)
	}
}

func reportTypeLabel(reportType string) string {
	if reportType == "" {
		return "unknown"
	}
	return reportType
}

func (g *Generator) publish(eventType, tenantID, reportID, status string) {
	if g.events == nil {
		return
	}
	event := kafka.NewReportEvent(eventType, g.source, tenantID, reportID, status)
	if err := g.events.PublishReportEvent(event); err != nil {
		g.logger.WithFields(logging.Fields{
			"report_id":  reportID,
			"event_type": eventType,
			"error":      err.Error(),
		}).Warn("failed to publish report event")
	}
}

// aggregateFlows summarizes flow traffic for the tenant over the window.
func (g *Generator) aggregateFlows(ctx context.Context, tenantID string, windowHours int) (FlowAggregates, error) {
	var a FlowAggregates

	query := `
		SELECT
			count() AS total_flows,
			uniq(source_ip) AS unique_sources,
			uniq(dest_ip) AS unique_dests,
			sum(bytes) AS total_bytes,
			countIf(severity = 'critical') AS critical_threats,
			countIf(severity = 'high') AS high_threats,
			countIf(severity = 'medium') AS medium_threats,
			countIf(severity = 'low') AS low_threats
		FROM flow_events
		WHERE tenant_id = ? AND timestamp >= now() - INTERVAL ? HOUR`

	err := g.clickhouse.QueryRowContext(ctx, query, tenantID, windowHours).Scan(
		&a.TotalFlows, &a.UniqueSources, &a.UniqueDests, &a.TotalBytes,
		&a.CriticalCount, &a.HighCount, &a.MediumCount, &a.LowCount)
	if err != nil {
		return FlowAggregates{}, fmt.Errorf("flow aggregate query failed: %w", err)
	}
	return a, nil
}
