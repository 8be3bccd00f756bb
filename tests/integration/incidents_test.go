//go:build integration

package integration

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bissquit/incident-tracker/internal/domain"
	"github.com/bissquit/incident-tracker/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncidents_Create(t *testing.T) {
	client := newTestClient(t)
	id := randomID("create")

	before := time.Now().UnixMilli()
	inc := createIncident(t, client, id, domain.IncidentTypeSystemOutage)

	assert.Equal(t, id, inc.ID)
	assert.Equal(t, domain.IncidentStatusOpen, inc.Status)
	assert.Equal(t, domain.PriorityCritical, inc.Priority)
	assert.Equal(t, 4, inc.SLADuration)
	assert.Equal(t, domain.SLAStatusOnTrack, inc.SLAStatus)
	assert.Equal(t, inc.SLAStartTime+4*domain.MillisPerHour, inc.SLADueDate)
	assert.GreaterOrEqual(t, inc.SLAStartTime, before)
	assert.Nil(t, inc.SLABreachedAt)
	assert.Nil(t, inc.AssignedUserID)

	got := getIncident(t, client, id)
	assert.Equal(t, inc.SLADueDate, got.SLADueDate)
}

func TestIncidents_Create_Duplicate(t *testing.T) {
	client := newTestClient(t)
	id := randomID("dup")
	createIncident(t, client, id, domain.IncidentTypeAPIFailure)

	resp, err := client.POST("/api/v1/incidents", map[string]interface{}{
		"id":          id,
		"title":       "other title",
		"description": "other",
		"type":        domain.IncidentTypeLoginProblem,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			Created bool   `json:"created"`
			Message string `json:"message"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.False(t, result.Data.Created)
	assert.Equal(t, "incident already exists", result.Data.Message)

	got := getIncident(t, client, id)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, "Incident "+id, got.Title)
}

func TestIncidents_Create_Concurrent(t *testing.T) {
	id := randomID("race-create")
	codes := make([]int, 6)

	var wg sync.WaitGroup
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := newAnonymousClient().WithToken(testToken).POST("/api/v1/incidents", map[string]interface{}{
				"id":          id,
				"title":       "Incident " + id,
				"description": "raced",
				"type":        domain.IncidentTypeAPIFailure,
			})
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i)
	}
	wg.Wait()

	var created, existing int
	for _, code := range codes {
		switch code {
		case http.StatusCreated:
			created++
		case http.StatusOK:
			existing++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, len(codes)-1, existing)
}

func TestIncidents_Create_UnknownTypeDefaultsToMedium(t *testing.T) {
	client := newTestClient(t)
	inc := createIncident(t, client, randomID("unknown"), "BILLING_QUESTION")

	assert.Equal(t, domain.PriorityMedium, inc.Priority)
	assert.Equal(t, 72, inc.SLADuration)
}

func TestIncidents_Create_Validation(t *testing.T) {
	client := newTestClient(t).WithoutValidation()

	tests := []struct {
		name    string
		payload map[string]interface{}
		message string
	}{
		{"missing id", map[string]interface{}{"title": "t", "description": "d", "type": "API_FAILURE"}, "id is required"},
		{"missing title", map[string]interface{}{"id": randomID("v"), "description": "d", "type": "API_FAILURE"}, "title is required"},
		{"blank description", map[string]interface{}{"id": randomID("v"), "title": "t", "description": "  ", "type": "API_FAILURE"}, "description is required"},
		{"missing type", map[string]interface{}{"id": randomID("v"), "title": "t", "description": "d"}, "type is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.POST("/api/v1/incidents", tt.payload)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, testutil.ReadBody(t, resp), tt.message)
		})
	}
}

func TestIncidents_CloseReopen(t *testing.T) {
	client := newTestClient(t)
	id := randomID("lifecycle")
	createIncident(t, client, id, domain.IncidentTypeLoginProblem)

	closeIncident(t, client, id)

	closed := getIncident(t, client, id)
	assert.Equal(t, domain.IncidentStatusClosed, closed.Status)
	require.NotNil(t, closed.ResolvedAt)

	var resolveTimes int
	err := testDB.QueryRow(t.Context(),
		`SELECT COUNT(*) FROM resolve_times WHERE incident_id = $1 AND time_spent >= 0`, id).Scan(&resolveTimes)
	require.NoError(t, err)
	assert.Equal(t, 1, resolveTimes)

	// closing twice fails
	resp, err := client.POST("/api/v1/incidents/"+id+"/close", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	before := time.Now().UnixMilli()
	resp, err = client.POST("/api/v1/incidents/"+id+"/reopen", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	reopened := getIncident(t, client, id)
	assert.Equal(t, domain.IncidentStatusOpen, reopened.Status)
	assert.Equal(t, domain.SLAStatusOnTrack, reopened.SLAStatus)
	assert.Nil(t, reopened.ResolvedAt)
	assert.Nil(t, reopened.SLABreachedAt)
	assert.GreaterOrEqual(t, reopened.SLAStartTime, before)
	assert.Equal(t, reopened.SLAStartTime+int64(reopened.SLADuration)*domain.MillisPerHour, reopened.SLADueDate)

	// reopening an open incident fails
	resp, err = client.POST("/api/v1/incidents/"+id+"/reopen", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	entries := auditEntries(t, client, id)
	assert.Equal(t, 1, countActions(entries, domain.AuditActionCreate))
	assert.Equal(t, 1, countActions(entries, domain.AuditActionClose))
	assert.Equal(t, 1, countActions(entries, domain.AuditActionReopen))
}

func TestIncidents_NotFound(t *testing.T) {
	client := newTestClient(t)

	for _, path := range []string{"/close", "/reopen"} {
		resp, err := client.POST("/api/v1/incidents/missing-incident"+path, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		_ = resp.Body.Close()
	}

	resp, err := client.GET("/api/v1/incidents/missing-incident")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestIncidents_Assign(t *testing.T) {
	client := newTestClient(t)
	id := randomID("assign")
	createIncident(t, client, id, domain.IncidentTypeAPIFailure)

	resp, err := client.POST("/api/v1/incidents/"+id+"/assign", map[string]string{"user_id": "ghost"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/api/v1/incidents/"+id+"/assign", map[string]string{"user_id": "oncall-primary"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.POST("/api/v1/incidents/"+id+"/assign", map[string]string{"user_id": "oncall-secondary"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	got := getIncident(t, client, id)
	require.NotNil(t, got.AssignedUserID)
	assert.Equal(t, "oncall-primary", *got.AssignedUserID)

	entries := auditEntries(t, client, id)
	require.Equal(t, 1, countActions(entries, domain.AuditActionUpdate))
	for _, e := range entries {
		if e.Action == domain.AuditActionUpdate {
			require.NotNil(t, e.FieldChanged)
			assert.Equal(t, "assignedUserId", *e.FieldChanged)
			assert.Nil(t, e.OldValue)
			require.NotNil(t, e.NewValue)
			assert.Equal(t, "oncall-primary", *e.NewValue)
		}
	}
}

func TestIncidents_Assign_Concurrent(t *testing.T) {
	client := newTestClient(t).WithoutValidation()
	id := randomID("race")
	createIncident(t, client, id, domain.IncidentTypeAPIFailure)

	users := []string{"oncall-primary", "oncall-secondary", "oncall-primary", "oncall-secondary"}
	codes := make([]int, len(users))

	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			resp, err := newAnonymousClient().WithToken(testToken).POST(
				"/api/v1/incidents/"+id+"/assign", map[string]string{"user_id": user})
			if err != nil {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}(i, user)
	}
	wg.Wait()

	var ok, conflict int
	for _, code := range codes {
		switch code {
		case http.StatusNoContent:
			ok++
		case http.StatusConflict:
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(users)-1, conflict)
}

func TestIncidents_Assign_Closed(t *testing.T) {
	client := newTestClient(t)
	id := randomID("assign-closed")
	createIncident(t, client, id, domain.IncidentTypeAPIFailure)
	closeIncident(t, client, id)

	resp, err := client.POST("/api/v1/incidents/"+id+"/assign", map[string]string{"user_id": "oncall-primary"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestIncidents_List(t *testing.T) {
	client := newTestClient(t)
	prefix := randomID("list")
	createIncident(t, client, prefix+"-a", domain.IncidentTypeDataSyncIssue)
	createIncident(t, client, prefix+"-b", domain.IncidentTypeSystemOutage)
	createIncident(t, client, prefix+"-c", domain.IncidentTypeLoginProblem)
	closeIncident(t, client, prefix+"-c")

	resp, err := client.GET("/api/v1/incidents?title=" + prefix + "&status=OPEN")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.Incident `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	require.Len(t, result.Data, 2)

	resp, err = client.GET("/api/v1/incidents?title=" + prefix + "&min_priority=critical")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &result)
	require.Len(t, result.Data, 1)
	assert.Equal(t, prefix+"-b", result.Data[0].ID)
}

func TestIncidents_RequiresToken(t *testing.T) {
	client := newAnonymousClient()

	resp, err := client.POST("/api/v1/incidents", map[string]string{"id": randomID("anon")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = client.WithToken("not-a-token").POST("/api/v1/incidents/x/close", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()

	// reads stay public
	resp, err = client.GET("/api/v1/incidents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}
