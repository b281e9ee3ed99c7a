package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"doorlamp-backend/config"
	"doorlamp-backend/internal/db"
	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/notification"
	"doorlamp-backend/internal/registry"
	"doorlamp-backend/internal/scheduler"
	"doorlamp-backend/internal/store"
	"doorlamp-backend/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var apiDBSeq atomic.Int64

type testServer struct {
	router *gin.Engine
	store  store.Store
	lamp   *model.Lamp
	branch *model.Branch
}

// Seeded users: 7 has no role, 100 manages the seeded branch, 200 is admin.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dsn := fmt.Sprintf("file:api_test_%d?mode=memory&cache=shared&_busy_timeout=5000", apiDBSeq.Add(1))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(gormDB))

	s := store.NewGormStore(gormDB)
	ctx := context.Background()

	branch := &model.Branch{Name: "HQ", Timezone: "UTC"}
	require.NoError(t, s.CreateBranch(ctx, branch))
	lamp := &model.Lamp{DeviceID: "dev-001", DisplayName: "Front door", BranchID: branch.ID, Active: true}
	require.NoError(t, s.CreateLamp(ctx, lamp))

	branchID := branch.ID
	require.NoError(t, gormDB.Create(&model.UserRole{UserID: 100, Role: model.RoleManager, BranchID: &branchID}).Error)
	require.NoError(t, gormDB.Create(&model.UserRole{UserID: 200, Role: model.RoleAdmin}).Error)

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{
			Enabled: true, GraceBeforeMinutes: 60, GraceAfterMinutes: 60, DefaultTimezone: "UTC",
		},
		Device: config.DeviceConfig{PingIntervalSeconds: 120, PongTimeoutSeconds: 30, WriteTimeoutSeconds: 10},
	}

	webpushOptions := &webpush.Options{VAPIDPublicKey: "test-public-key", VAPIDPrivateKey: "test-private-key"}
	reg := registry.New(s, time.Minute, time.Second)
	schedulerSvc := scheduler.NewService(cfg, s, reg)
	// Workers are never started; queued notifications just sit in the buffer.
	pool := notification.NewWorkerPool(1, s, webpushOptions)
	wf := workflow.New(s, pool, schedulerSvc, 5*time.Minute, time.Hour)

	h := NewHandler(s, wf, schedulerSvc, reg, webpushOptions, cfg.Device)
	router := NewRouter(h, 1000, 1000, time.Second)
	return &testServer{router: router, store: s, lamp: lamp, branch: branch}
}

func (ts *testServer) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		req.Header.Set(userIDHeader, strconv.FormatInt(userID, 10))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodGet, "/api/lamps", 0, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLifecycle_OverHTTP(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/requests", 7, gin.H{"lamp_id": ts.lamp.ID, "reason": "forgot badge"})
	require.Equal(t, http.StatusCreated, w.Code)

	var created model.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, model.RequestPending, created.Status)

	// The branch manager sees it pending.
	w = ts.do(t, http.MethodGet, "/api/requests/pending", 100, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []model.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)

	path := fmt.Sprintf("/api/requests/%d/approve", created.ID)
	w = ts.do(t, http.MethodPost, path, 100, gin.H{"notes": "come in"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Losing a settled request returns conflict.
	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/decline", created.ID), 200, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The approval turned the lamp on via the immediate reconciliation.
	lamp, err := ts.store.GetLamp(context.Background(), ts.lamp.ID)
	require.NoError(t, err)
	assert.True(t, lamp.CurrentState)

	w = ts.do(t, http.MethodGet, fmt.Sprintf("/api/requests/%d", created.ID), 7, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.RequestApproved, got.Status)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	// Unknown lamp: 404.
	w := ts.do(t, http.MethodPost, "/api/requests", 7, gin.H{"lamp_id": 9999})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Responding without approver standing: 403.
	w = ts.do(t, http.MethodPost, "/api/requests", 7, gin.H{"lamp_id": ts.lamp.ID})
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.AccessRequest
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = ts.do(t, http.MethodPost, fmt.Sprintf("/api/requests/%d/approve", created.ID), 7, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Unknown request: 404. Bad id: 400.
	w = ts.do(t, http.MethodPost, "/api/requests/9999/approve", 100, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = ts.do(t, http.MethodPost, "/api/requests/zero/approve", 100, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLampAdmin_RoleAndConflicts(t *testing.T) {
	ts := newTestServer(t)

	body := gin.H{"device_id": "dev-002", "display_name": "Back door", "branch_id": ts.branch.ID}

	// Manager without admin: 403.
	w := ts.do(t, http.MethodPost, "/api/lamps", 100, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/lamps", 200, body)
	assert.Equal(t, http.StatusCreated, w.Code)

	// Duplicate active device id: 409.
	w = ts.do(t, http.MethodPost, "/api/lamps", 200, body)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Unknown branch: 404.
	w = ts.do(t, http.MethodPost, "/api/lamps", 200, gin.H{
		"device_id": "dev-003", "display_name": "X", "branch_id": int64(9999),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetOverride_TakesEffectImmediately(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPatch, fmt.Sprintf("/api/lamps/%d/override", ts.lamp.ID),
		200, gin.H{"enabled": true, "state": true})
	require.Equal(t, http.StatusNoContent, w.Code)

	lamp, err := ts.store.GetLamp(context.Background(), ts.lamp.ID)
	require.NoError(t, err)
	assert.True(t, lamp.OverrideEnabled)
	assert.True(t, lamp.CurrentState, "forced-on override is applied by the reconciliation")

	// Deactivated lamp: 404.
	require.NoError(t, ts.store.DeactivateLamp(context.Background(), ts.lamp.ID))
	w = ts.do(t, http.MethodPatch, fmt.Sprintf("/api/lamps/%d/override", ts.lamp.ID),
		200, gin.H{"enabled": false})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateSchedule_ValidatesClockStrings(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/schedules", 200, gin.H{
		"name": "office", "work_start": "08:00", "work_end": "17:00", "end_enabled": true,
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/schedules", 200, gin.H{
		"name": "broken", "work_start": "25:99", "work_end": "17:00", "end_enabled": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Open-ended schedules skip the end validation.
	w = ts.do(t, http.MethodPost, "/api/schedules", 200, gin.H{
		"name": "open", "work_start": "08:00", "end_enabled": false,
	})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	endpoint := "https://push.example/sub/abc%2Fdef"

	w := ts.do(t, http.MethodPut, "/api/subscriptions", 100, gin.H{
		"endpoint": endpoint, "p256dh": "key", "auth": "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// The endpoint query must survive without URL decoding.
	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, 100, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, endpoint, got["endpoint"])
	assert.Equal(t, float64(100), got["user_id"])

	w = ts.do(t, http.MethodDelete, "/api/subscriptions", 100, gin.H{"endpoint": endpoint})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/subscriptions?endpoint="+endpoint, 100, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetVAPIDPublicKey(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/vapid_public_key", 0, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "test-public-key", got["public_key"])
}
