package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"

	"flowsight/internal/metrics"
	"flowsight/internal/realtime"
	"flowsight/internal/reports"
	"flowsight/internal/viz"
	"flowsight/pkg/api/common"
	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/kafka"
	"flowsight/pkg/logging"
)

var (
	store          *reports.Store
	generator      *reports.Generator
	vizService     *viz.Service
	contentCache   goredis.UniversalClient
	producer       *kafka.Producer
	hub            *realtime.Hub
	logger         logging.Logger
	serviceMetrics *metrics.Metrics
)

const contentCacheTTL = 10 * time.Minute

// Init initializes the handlers package with its dependencies. The cache,
// producer, and hub are optional; handlers degrade gracefully without them.
func Init(s *reports.Store, g *reports.Generator, v *viz.Service, cache goredis.UniversalClient, p *kafka.Producer, h *realtime.Hub, log logging.Logger, m *metrics.Metrics) {
	store = s
	generator = g
	vizService = v
	contentCache = cache
	producer = p
	hub = h
	logger = log
	serviceMetrics = m
}

func tenantFromContext(c *gin.Context) (string, bool) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Tenant context required"})
		return "", false
	}
	return tenantID, true
}

// CreateReport handles POST /api/reports. It persists the report row in
// generating state, kicks off async generation, and answers immediately.
func CreateReport(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	var req api.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	if req.DurationHours <= 0 && req.ReportName == "" {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: "Either duration_hours or report_name is required",
		})
		return
	}

	params := reports.CreateParams{
		Title:       req.ReportName,
		Type:        "traffic_summary",
		Category:    "network",
		GeneratedBy: c.GetString("user_id"),
	}
	if params.Title == "" {
		params.Title = fmt.Sprintf("Flow report (last %dh)", req.DurationHours)
	}
	if len(req.DataSources) > 0 || req.OutputFormat != "" {
		params.Type = "custom"
	}
	if c.GetString("role") == "admin" {
		params.Scope = reports.ScopeAdmin
	}

	record, err := store.Create(c.Request.Context(), tenantID, params)
	if err != nil {
		if serviceMetrics != nil {
			serviceMetrics.ReportRequests.WithLabelValues("error").Inc()
		}
		logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"error":     err.Error(),
		}).Error("failed to create report")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to create report"})
		return
	}

	if serviceMetrics != nil {
		serviceMetrics.ReportRequests.WithLabelValues("accepted").Inc()
	}
	publishEvent(kafka.EventReportRequested, tenantID, record.ID, api.StatusGenerating)

	windowHours := req.DurationHours
	if windowHours <= 0 {
		windowHours = 24
	}

	// Generation outlives the request
	go generator.Run(context.WithoutCancel(c.Request.Context()), tenantID, *record, windowHours)

	c.JSON(http.StatusAccepted, api.CreateReportResponse{
		Success: true,
		Status:  api.StatusGenerating,
		Report:  record,
	})
}

// ListReports handles GET /api/reports, returning the grouped listing.
func ListReports(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	listing, err := store.List(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"error":     err.Error(),
		}).Error("failed to list reports")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to fetch reports"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

// ListArchivedReports handles GET /api/reports/archived.
func ListArchivedReports(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	archived, err := store.ListArchived(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"error":     err.Error(),
		}).Error("failed to list archived reports")
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to fetch archived reports"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": archived})
}

// DeleteReport handles DELETE /api/reports/:id.
func DeleteReport(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	reportID := c.Param("id")

	if err := store.Delete(c.Request.Context(), tenantID, reportID); err != nil {
		respondStoreError(c, tenantID, reportID, err, "delete")
		return
	}

	invalidateContentCache(c.Request.Context(), tenantID, reportID)
	publishEvent(kafka.EventReportDeleted, tenantID, reportID, "")
	c.JSON(http.StatusOK, common.NewSuccessResponse("Report deleted"))
}

// UpdateReport handles PATCH /api/reports/:id with an action field.
func UpdateReport(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	reportID := c.Param("id")

	var req api.ArchiveActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.ErrorResponse{Error: "Invalid request body", Details: err.Error()})
		return
	}

	switch req.Action {
	case api.ActionArchive:
		if err := store.Archive(c.Request.Context(), tenantID, reportID); err != nil {
			respondStoreError(c, tenantID, reportID, err, "archive")
			return
		}
		publishEvent(kafka.EventReportArchived, tenantID, reportID, api.StatusArchived)
		c.JSON(http.StatusOK, common.NewSuccessResponse("Report archived"))

	case api.ActionRestore:
		if err := store.Restore(c.Request.Context(), tenantID, reportID); err != nil {
			respondStoreError(c, tenantID, reportID, err, "restore")
			return
		}
		publishEvent(kafka.EventReportRestored, tenantID, reportID, "")
		c.JSON(http.StatusOK, common.NewSuccessResponse("Report restored"))

	default:
		c.JSON(http.StatusBadRequest, common.ErrorResponse{
			Error: fmt.Sprintf("Unknown action %q", req.Action),
		})
	}
}

// GetReportContent handles GET /api/reports/:id/content with a Redis
// read-through cache in front of the store.
func GetReportContent(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	reportID := c.Param("id")
	cacheKey := contentCacheKey(tenantID, reportID)

	if contentCache != nil {
		if cached, err := contentCache.Get(c.Request.Context(), cacheKey).Bytes(); err == nil {
			c.Data(http.StatusOK, "application/json", cached)
			return
		}
	}

	content, err := store.Content(c.Request.Context(), tenantID, reportID)
	if err != nil {
		respondStoreError(c, tenantID, reportID, err, "content")
		return
	}

	if contentCache != nil {
		if err := contentCache.Set(c.Request.Context(), cacheKey, content, contentCacheTTL).Err(); err != nil {
			logger.WithFields(logging.Fields{
				"report_id": reportID,
				"error":     err.Error(),
			}).Warn("failed to cache report content")
		}
	}
	c.Data(http.StatusOK, "application/json", content)
}

// GetTrafficHeatmap handles GET /api/viz/heatmap.
func GetTrafficHeatmap(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	cells, err := vizService.TrafficHeatmap(c.Request.Context(), tenantID, windowParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to build heatmap"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": cells})
}

// GetTopTalkers handles GET /api/viz/top-talkers.
func GetTopTalkers(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	talkers, err := vizService.TopTalkers(c.Request.Context(), tenantID, windowParam(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to fetch top talkers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"talkers": talkers})
}

// GetThreatCategories handles GET /api/viz/threat-categories.
func GetThreatCategories(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}

	categories, err := vizService.ThreatCategories(c.Request.Context(), tenantID, windowParam(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Failed to fetch threat categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// ServeWS handles GET /ws, upgrading the authenticated request.
func ServeWS(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	hub.ServeWS(c.Writer, c.Request, tenantID)
}

func windowParam(c *gin.Context) int {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 || hours > 24*90 {
		return 24
	}
	return hours
}

func contentCacheKey(tenantID, reportID string) string {
	return fmt.Sprintf("report:content:%s:%s", tenantID, reportID)
}

func invalidateContentCache(ctx context.Context, tenantID, reportID string) {
	if contentCache == nil {
		return
	}
	if err := contentCache.Del(ctx, contentCacheKey(tenantID, reportID)).Err(); err != nil {
		logger.WithFields(logging.Fields{
			"report_id": reportID,
			"error":     err.Error(),
		}).Warn("failed to invalidate report content cache")
	}
}

func respondStoreError(c *gin.Context, tenantID, reportID string, err error, op string) {
	if errors.Is(err, reports.ErrNotFound) {
		c.JSON(http.StatusNotFound, common.ErrorResponse{Error: "Report not found"})
		return
	}
	logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"report_id": reportID,
		"op":        op,
		"error":     err.Error(),
	}).Error("report operation failed")
	c.JSON(http.StatusInternalServerError, common.ErrorResponse{Error: "Report operation failed"})
}

func publishEvent(eventType, tenantID, reportID, status string) {
	if producer == nil {
		return
	}
	event := kafka.NewReportEvent(eventType, "lookout", tenantID, reportID, status)
	if err := producer.PublishReportEvent(event); err != nil {
		logger.WithFields(logging.Fields{
			"event_type": eventType,
			"report_id":  reportID,
			"error":      err.Error(),
		}).Warn("failed to publish report event")
	}
}
