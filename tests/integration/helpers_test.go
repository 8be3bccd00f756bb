//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// randomID returns a unique incident id with the given prefix.
func randomID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// createIncident creates an incident of the given type and returns it.
func createIncident(t *testing.T, client *testutil.Client, id string, incidentType domain.IncidentType) domain.Incident {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"id":          id,
		"title":       "Incident " + id,
		"description": "reported by integration tests",
		"type":        incidentType,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			Created  bool            `json:"created"`
			Incident domain.Incident `json:"incident"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.True(t, result.Data.Created)
	return result.Data.Incident
}

func getIncident(t *testing.T, client *testutil.Client, id string) domain.Incident {
	t.Helper()

	resp, err := client.GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data domain.Incident `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func closeIncident(t *testing.T, client *testutil.Client, id string) {
	t.Helper()

	resp, err := client.POST("/api/v1/incidents/"+id+"/close", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

// auditEntries returns the audit entries recorded for an entity key, newest first.
func auditEntries(t *testing.T, client *testutil.Client, entityKey string) []domain.AuditLogEntry {
	t.Helper()

	resp, err := client.GET("/api/v1/audit?entity_key=" + entityKey)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.AuditLogEntry `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func countActions(entries []domain.AuditLogEntry, action domain.AuditAction) int {
	n := 0
	for _, e := range entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

// setSLADueDate moves an incident's SLA deadline, bypassing the API.
func setSLADueDate(t *testing.T, id string, due time.Time) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET sla_due_date = $2 WHERE id = $1`, id, due.UnixMilli())
	require.NoError(t, err)
}

// setResolvedAt backdates a closed incident's resolution time.
func setResolvedAt(t *testing.T, id string, resolvedAt time.Time) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`UPDATE incidents SET resolved_at = $2 WHERE id = $1`, id, resolvedAt)
	require.NoError(t, err)
}

// runMaintenance triggers a sweep and waits for it to finish.
func runMaintenance(t *testing.T, client *testutil.Client) {
	t.Helper()

	job := testApp.MaintenanceJob()
	job.Wait()

	resp, err := client.POST("/api/v1/jobs/maintenance", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	_ = resp.Body.Close()

	job.Wait()
}
