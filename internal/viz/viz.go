// Package viz serves the aggregated flow visualizations backing the
// dashboard: traffic heatmaps, top talkers, and threat category
// breakdowns. Queries run against ClickHouse with a short
// stale-while-revalidate cache in front; when the analytics store is
// unreachable, deterministic sample data keeps the dashboard rendering.
package viz

import (
	"context"
	"fmt"
	"time"

	"flowsight/internal/metrics"
	"flowsight/pkg/cache"
	"flowsight/pkg/database"
	"flowsight/pkg/logging"
)

// Metric label values for query outcomes
const (
	queryOutcomeOK       = "ok"
	queryOutcomeFallback = "fallback"
)

// HeatmapCell is one weekday/hour bucket of flow volume.
type HeatmapCell struct {
	Weekday int   `json:"weekday"`
	Hour    int   `json:"hour"`
	Flows   int64 `json:"flows"`
}

// TopTalker is a source address ranked by transferred bytes.
type TopTalker struct {
	SourceIP string `json:"source_ip"`
	Flows    int64  `json:"flows"`
	Bytes    int64  `json:"bytes"`
}

// ThreatCategory is a detection category with its hit count.
type ThreatCategory struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
	Severity string `json:"severity"`
}

// Service answers visualization queries for the dashboard.
type Service struct {
	ch      database.ClickHouseConn
	cache   *cache.Cache
	logger  logging.Logger
	metrics *metrics.Metrics
}

// NewService creates a visualization service with a short SWR cache.
// serviceMetrics may be nil.
func NewService(ch database.ClickHouseConn, logger logging.Logger, serviceMetrics *metrics.Metrics) *Service {
	return &Service{
		ch:      ch,
		logger:  logger,
		metrics: serviceMetrics,
		cache: cache.New(cache.Options{
			TTL:                  30 * time.Second,
			StaleWhileRevalidate: 2 * time.Minute,
			NegativeTTL:          5 * time.Second,
			MaxEntries:           512,
		}),
	}
}

// TrafficHeatmap returns flow counts bucketed by weekday and hour over
// the window. Falls back to sample data if the analytics store errors.
func (s *Service) TrafficHeatmap(ctx context.Context, tenantID string, windowHours int) ([]HeatmapCell, error) {
	key := fmt.Sprintf("heatmap:%s:%d", tenantID, windowHours)
	val, _, err := s.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		start := time.Now()
		cells, err := s.queryHeatmap(ctx, tenantID, windowHours)
		if err != nil {
			s.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"error":     err.Error(),
			}).Warn("heatmap query failed, serving sample data")
			s.recordQuery("heatmap", queryOutcomeFallback, start)
			return sampleHeatmap(), true, nil
		}
		s.recordQuery("heatmap", queryOutcomeOK, start)
		return cells, true, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]HeatmapCell), nil
}

func (s *Service) queryHeatmap(ctx context.Context, tenantID string, windowHours int) ([]HeatmapCell, error) {
	rows, err := s.ch.QueryContext(ctx, `
		SELECT toDayOfWeek(timestamp) AS weekday,
		       toHour(timestamp) AS hour,
		       count() AS flows
		FROM flow_events
		WHERE tenant_id = ? AND timestamp >= now() - INTERVAL ? HOUR
		GROUP BY weekday, hour
		ORDER BY weekday, hour`, tenantID, windowHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []HeatmapCell
	for rows.Next() {
		var c HeatmapCell
		if err := rows.Scan(&c.Weekday, &c.Hour, &c.Flows); err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, rows.Err()
}

// TopTalkers returns the highest-volume source addresses over the window.
func (s *Service) TopTalkers(ctx context.Context, tenantID string, windowHours, limit int) ([]TopTalker, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	key := fmt.Sprintf("talkers:%s:%d:%d", tenantID, windowHours, limit)
	val, _, err := s.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		start := time.Now()
		talkers, err := s.queryTopTalkers(ctx, tenantID, windowHours, limit)
		if err != nil {
			s.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"error":     err.Error(),
			}).Warn("top talkers query failed, serving sample data")
			s.recordQuery("top_talkers", queryOutcomeFallback, start)
			return sampleTopTalkers(limit), true, nil
		}
		s.recordQuery("top_talkers", queryOutcomeOK, start)
		return talkers, true, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]TopTalker), nil
}

func (s *Service) queryTopTalkers(ctx context.Context, tenantID string, windowHours, limit int) ([]TopTalker, error) {
	rows, err := s.ch.QueryContext(ctx, `
		SELECT source_ip,
		       count() AS flows,
		       sum(bytes) AS total_bytes
		FROM flow_events
		WHERE tenant_id = ? AND timestamp >= now() - INTERVAL ? HOUR
		GROUP BY source_ip
		ORDER BY total_bytes DESC
		LIMIT ?`, tenantID, windowHours, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var talkers []TopTalker
	for rows.Next() {
		var tt TopTalker
		if err := rows.Scan(&tt.SourceIP, &tt.Flows, &tt.Bytes); err != nil {
			return nil, err
		}
		talkers = append(talkers, tt)
	}
	return talkers, rows.Err()
}

// ThreatCategories returns detection counts grouped by category.
func (s *Service) ThreatCategories(ctx context.Context, tenantID string, windowHours int) ([]ThreatCategory, error) {
	key := fmt.Sprintf("threats:%s:%d", tenantID, windowHours)
	val, _, err := s.cache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		start := time.Now()
		categories, err := s.queryThreatCategories(ctx, tenantID, windowHours)
		if err != nil {
			s.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"error":     err.Error(),
			}).Warn("threat category query failed, serving sample data")
			s.recordQuery("threat_categories", queryOutcomeFallback, start)
			return sampleThreatCategories(), true, nil
		}
		s.recordQuery("threat_categories", queryOutcomeOK, start)
		return categories, true, nil
	})
	if err != nil {
		return nil, err
	}
	return val.([]ThreatCategory), nil
}

// recordQuery counts one ClickHouse round trip and its latency. Cache
// hits never reach here, so the metrics reflect store load only.
func (s *Service) recordQuery(vizType, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.VizQueries.WithLabelValues(vizType, outcome).Inc()
	s.metrics.QueryDuration.WithLabelValues(vizType).Observe(time.Since(start).Seconds())
}

func (s *Service) queryThreatCategories(ctx context.Context, tenantID string, windowHours int) ([]ThreatCategory, error) {
	rows, err := s.ch.QueryContext(ctx, `
		SELECT threat_category,
		       count() AS hits,
		       anyHeavy(severity) AS severity
		FROM flow_events
		WHERE tenant_id = ? AND threat_category != ''
		  AND timestamp >= now() - INTERVAL ? HOUR
		GROUP BY threat_category
		ORDER BY hits DESC`, tenantID, windowHours)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []ThreatCategory
	for rows.Next() {
		var tc ThreatCategory
		if err := rows.Scan(&tc.Category, &tc.Count, &tc.Severity); err != nil {
			return nil, err
		}
		categories = append(categories, tc)
	}
	return categories, rows.Err()
}
