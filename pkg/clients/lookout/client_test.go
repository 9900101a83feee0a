package lookout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	api "flowsight/pkg/api/lookout"
	"flowsight/pkg/logging"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL:   server.URL,
		AuthToken: "test-token",
		Logger:    logging.NewNopLogger(),
	})
	return client, server
}

func TestCreateReportAccepted(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/reports", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req api.CreateReportRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 24, req.DurationHours)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(api.CreateReportResponse{Status: api.StatusGenerating})
	}))

	outcome, err := client.CreateReport(context.Background(), api.CreateReportRequest{DurationHours: 24})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateReportRejectedUsesServerError(t *testing.T) {
	var calls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(api.CreateReportResponse{Error: "boom"})
	}))

	outcome, err := client.CreateReport(context.Background(), api.CreateReportRequest{DurationHours: 1})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, "boom", outcome.Reason)

	// Creation is never retried, even on 5xx
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCreateReportMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))

	outcome, err := client.CreateReport(context.Background(), api.CreateReportRequest{DurationHours: 1})
	require.Error(t, err)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, api.GenericCreationFailure, outcome.Reason)
}

func TestCreateReportTransportFailure(t *testing.T) {
	client, server := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	outcome, err := client.CreateReport(context.Background(), api.CreateReportRequest{DurationHours: 1})
	require.Error(t, err)
	assert.False(t, outcome.Accepted)
	assert.Equal(t, api.GenericCreationFailure, outcome.Reason)
}

func TestCreateReportLogsTransportFailure(t *testing.T) {
	logger, hook := logrustest.NewNullLogger()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(Config{BaseURL: server.URL, Logger: logger})
	_, err := client.CreateReport(context.Background(), api.CreateReportRequest{DurationHours: 1})
	require.Error(t, err)

	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, "report creation request failed", hook.LastEntry().Message)
}

func TestListReportsGrouped(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		json.NewEncoder(w).Encode(api.ReportListing{
			Shared: []api.ReportRecord{{ID: "r1", Status: api.StatusCompleted}},
			User:   []api.ReportRecord{{ID: "r1", Status: api.StatusCompleted}, {ID: "r2", Status: api.StatusGenerating}},
		})
	}))

	listing, err := client.ListReports(context.Background())
	require.NoError(t, err)

	flat := listing.Flatten()
	assert.Len(t, flat, 2)
}

func TestArchiveReportSendsPatchAction(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/reports/r42", r.URL.Path)

		var req api.ArchiveActionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, api.ActionArchive, req.Action)

		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))

	require.NoError(t, client.ArchiveReport(context.Background(), "r42"))
}

func TestDeleteReportSurfacesServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "report not found"})
	}))

	err := client.DeleteReport(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report not found")
}

func TestGetReportContent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/reports/r7/content", r.URL.Path)
		w.Write([]byte(`{"sections":[]}`))
	}))

	content, err := client.GetReportContent(context.Background(), "r7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sections":[]}`, string(content))
}
