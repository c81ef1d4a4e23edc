package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"notification-dispatch/internal/audit"
	"notification-dispatch/internal/common/logger"
	"notification-dispatch/internal/models"
	"notification-dispatch/internal/notification/dispatch"
	"notification-dispatch/internal/notification/transport"
	"notification-dispatch/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ==========================
// Test Helpers
// ==========================

type stubPinger struct {
	name string
	err  error
}

func (p stubPinger) Name() string                   { return p.name }
func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type stubHistory struct{ events []audit.Event }

func (h stubHistory) History(ctx context.Context, notificationID string, size int) ([]audit.Event, error) {
	return h.events, nil
}

type testEnv struct {
	store  *repository.Memory
	server *Server
	failed bool
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	store := repository.NewMemory()
	env := &testEnv{store: store}

	nt := store.PutNotificationType(&models.NotificationType{
		Code: "account.password_reset", Name: "Password reset",
		Category: models.CategoryAccount, Priority: models.PriorityHigh, IsActive: true,
	})
	ch := store.PutChannel(&models.Channel{Code: "email", Type: models.ChannelEmail, IsActive: true})
	store.PutTemplate(&models.Template{
		Code: "reset", NotificationTypeID: nt.ID, ChannelID: ch.ID, Language: "en",
		SubjectTemplate: "Hi {{name}}", ContentTemplate: "Your code is {{code}}", IsActive: true,
	})
	store.PutContact(&models.Contact{TenantID: "t1", UserID: "u1", Email: "u1@example.com"})

	reg := transport.NewRegistry()
	reg.Register(models.ChannelEmail, transport.Func(func(ctx context.Context, n *models.Notification, ch *models.Channel) (string, error) {
		if env.failed {
			return "", errors.New("smtp: 421 service not available")
		}
		return "msg-1", nil
	}))

	orch := dispatch.New(dispatch.Dependencies{
		Catalog:       store,
		Preferences:   store,
		Notifications: store,
		Transports:    reg,
		Recipients:    dispatch.NewContactDirectory(store),
		Logger:        logger.NewNoOpLogger(),
	}, dispatch.Options{DefaultLanguage: "en"})

	env.server = NewServer(orch, logger.NewNoOpLogger(), opts...)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, user string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderTenantID, "t1")
		req.Header.Set(HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func (e *testEnv) dispatch(t *testing.T) *models.Notification {
	w := e.do(t, http.MethodPost, "/api/v1/internal/dispatch", dispatch.Request{
		TenantID: "t1", UserID: "u1",
		TypeCode: "account.password_reset", ChannelCode: "email",
		Data: map[string]interface{}{"name": "Ada", "code": "123456"},
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.NotNil(t, result.Notification)
	return result.Notification
}

// ==========================
// Tests
// ==========================

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestReady(t *testing.T) {
	env := newTestEnv(t, WithHealthChecks(stubPinger{name: "postgres"}, stubPinger{name: "redis", err: errors.New("dial tcp: refused")}))
	w := env.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "dial tcp: refused")

	env = newTestEnv(t, WithHealthChecks(stubPinger{name: "postgres"}))
	w = env.do(t, http.MethodGet, "/ready", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDispatch_Sent(t *testing.T) {
	env := newTestEnv(t)
	n := env.dispatch(t)

	assert.Equal(t, models.StatusSent, n.Status)
	assert.Equal(t, "Hi Ada", n.Subject)
	assert.Equal(t, "Your code is 123456", n.Content)
	assert.Equal(t, "msg-1", n.ExternalID)
}

func TestDispatch_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		body     interface{}
		expected int
	}{
		{"malformed body", "not an object", http.StatusBadRequest},
		{"missing user", dispatch.Request{TenantID: "t1", TypeCode: "account.password_reset", ChannelCode: "email"}, http.StatusBadRequest},
		{"unknown type", dispatch.Request{TenantID: "t1", UserID: "u1", TypeCode: "nope", ChannelCode: "email"}, http.StatusUnprocessableEntity},
		{"unknown channel", dispatch.Request{TenantID: "t1", UserID: "u1", TypeCode: "account.password_reset", ChannelCode: "fax"}, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/internal/dispatch", tt.body, "")
			assert.Equal(t, tt.expected, w.Code, w.Body.String())
		})
	}
}

func TestDispatch_TransportFailureKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	env.failed = true

	w := env.do(t, http.MethodPost, "/api/v1/internal/dispatch", dispatch.Request{
		TenantID: "t1", UserID: "u1", TypeCode: "account.password_reset", ChannelCode: "email",
	}, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)

	var body struct {
		Result dispatch.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Result.Notification)
	assert.Equal(t, models.StatusFailed, body.Result.Notification.Status)
	assert.Equal(t, 1, env.store.NotificationCount())
}

func TestInbox_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/notifications", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInbox_ReadFlow(t *testing.T) {
	env := newTestEnv(t)
	first := env.dispatch(t)
	env.dispatch(t)

	w := env.do(t, http.MethodGet, "/api/v1/notifications/unread-count", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread":2}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/notifications/"+first.ID+"/read", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"changed":true}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/notifications/"+first.ID+"/read", nil, "u1")
	assert.JSONEq(t, `{"changed":false}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/notifications/read-all", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":1}`, w.Body.String())

	w = env.do(t, http.MethodPut, "/api/v1/notifications/"+first.ID+"/unread", nil, "u1")
	assert.JSONEq(t, `{"changed":true}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/notifications?unread=true", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, first.ID, list.Notifications[0].ID)
}

func TestInbox_OtherUsersNotificationIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	n := env.dispatch(t)

	w := env.do(t, http.MethodGet, "/api/v1/notifications/"+n.ID, nil, "u2")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOTIFICATION_NOT_FOUND")

	w = env.do(t, http.MethodPut, "/api/v1/notifications/"+n.ID+"/read", nil, "u2")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancel_SentNotificationConflicts(t *testing.T) {
	env := newTestEnv(t)
	n := env.dispatch(t)

	w := env.do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/cancel", nil, "u1")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATE_TRANSITION")
}

func TestScheduledDispatchAndCancel(t *testing.T) {
	env := newTestEnv(t)
	later := time.Now().Add(2 * time.Hour).UTC()

	w := env.do(t, http.MethodPost, "/api/v1/internal/dispatch", dispatch.Request{
		TenantID: "t1", UserID: "u1", TypeCode: "account.password_reset", ChannelCode: "email",
		ScheduleAt: &later,
	}, "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var result dispatch.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, dispatch.OutcomeScheduled, result.Outcome)

	w = env.do(t, http.MethodPost, "/api/v1/internal/dispatch-due", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report dispatch.DueReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 0, report.Picked)

	w = env.do(t, http.MethodPost, "/api/v1/notifications/"+result.Notification.ID+"/cancel", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code)
	var cancelled models.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cancelled))
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestDelivered(t *testing.T) {
	env := newTestEnv(t)
	n := env.dispatch(t)

	w := env.do(t, http.MethodPost, "/api/v1/internal/notifications/"+n.ID+"/delivered", gin.H{"externalId": "msg-1"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var delivered models.Notification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &delivered))
	assert.Equal(t, models.StatusDelivered, delivered.Status)
	assert.Equal(t, "msg-1", delivered.ExternalID)

	w = env.do(t, http.MethodPost, "/api/v1/internal/notifications/missing/delivered", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPreferences(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/preferences/account.password_reset", nil, "u1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p models.Preference
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.True(t, p.EmailEnabled)
	assert.False(t, p.SMSEnabled)

	w = env.do(t, http.MethodPut, "/api/v1/preferences/account.password_reset", gin.H{
		"emailEnabled": false,
		"dndEnabled":   true,
		"dndStart":     "22:00:00",
		"dndEnd":       "08:00:00",
	}, "u1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.False(t, p.EmailEnabled)
	assert.True(t, p.DNDEnabled)
	assert.Equal(t, models.NewTimeOfDay(22, 0, 0), p.DNDStart)
	assert.Equal(t, 1, env.store.PreferenceCount())

	// Disabled email now suppresses without creating a row.
	w = env.do(t, http.MethodPost, "/api/v1/internal/dispatch", dispatch.Request{
		TenantID: "t1", UserID: "u1", TypeCode: "account.password_reset", ChannelCode: "email",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"outcome":"suppressed"`)
	assert.Equal(t, 0, env.store.NotificationCount())

	w = env.do(t, http.MethodGet, "/api/v1/preferences/unknown.type", nil, "u1")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/v1/internal/notifications/abc/history", nil, "")
	assert.Equal(t, http.StatusNotImplemented, w.Code)

	env = newTestEnv(t, WithHistory(stubHistory{events: []audit.Event{{NotificationID: "abc", Action: audit.ActionCreated}}}))
	w = env.do(t, http.MethodGet, "/api/v1/internal/notifications/abc/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"abc"`)
}
