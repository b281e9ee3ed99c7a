package notification

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"doorlamp-backend/internal/db"
	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/store"
)

type mockSender struct {
	mu        sync.Mutex
	endpoints []string
	payloads  [][]byte
	status    map[string]int // endpoint -> response code, default 201
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endpoints = append(m.endpoints, sub.Endpoint)
	m.payloads = append(m.payloads, payload)

	code := http.StatusCreated
	if c, ok := m.status[sub.Endpoint]; ok {
		code = c
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (m *mockSender) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.endpoints...)
}

var notifDBSeq atomic.Int64

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:notification_test_%d?mode=memory&cache=shared&_busy_timeout=5000", notifDBSeq.Add(1))
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB)
}

func seedSubscription(t *testing.T, s store.Store, userID int64, endpoint string) {
	t.Helper()
	require.NoError(t, s.UpsertSubscription(context.Background(), &model.PushSubscription{
		Endpoint: endpoint,
		UserID:   userID,
		P256DH:   "p256dh-key",
		Auth:     "auth-key",
	}))
}

func TestNotify_DeliversToEveryUserSubscription(t *testing.T) {
	s := newTestStore(t)
	seedSubscription(t, s, 1, "https://push.example/one")
	seedSubscription(t, s, 1, "https://push.example/one-phone")
	seedSubscription(t, s, 2, "https://push.example/two")
	seedSubscription(t, s, 3, "https://push.example/uninvolved")

	wp := NewWorkerPool(2, s, &webpush.Options{})
	sender := &mockSender{}
	wp.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Notify([]int64{1, 2}, []byte(`{"type":"access_request"}`))

	assert.Eventually(t, func() bool {
		return len(sender.sent()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{
		"https://push.example/one",
		"https://push.example/one-phone",
		"https://push.example/two",
	}, sender.sent())
}

func TestNotify_PrunesGoneSubscriptions(t *testing.T) {
	s := newTestStore(t)
	seedSubscription(t, s, 1, "https://push.example/stale")
	seedSubscription(t, s, 1, "https://push.example/live")

	wp := NewWorkerPool(1, s, &webpush.Options{})
	sender := &mockSender{status: map[string]int{
		"https://push.example/stale": http.StatusGone,
	}}
	wp.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Notify([]int64{1}, []byte("{}"))

	assert.Eventually(t, func() bool {
		_, err := s.GetSubscription(context.Background(), "https://push.example/stale")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond, "gone endpoint should be deleted")

	_, err := s.GetSubscription(context.Background(), "https://push.example/live")
	assert.NoError(t, err)
}

func TestNotify_NoSubscribersIsQuiet(t *testing.T) {
	s := newTestStore(t)
	wp := NewWorkerPool(1, s, &webpush.Options{})
	sender := &mockSender{}
	wp.SetSender(sender)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Notify([]int64{42}, []byte("{}"))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sender.sent())
}

func TestNotify_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	s := newTestStore(t)
	wp := NewWorkerPool(1, s, &webpush.Options{})
	// Workers never started: the buffered channel fills, then Notify must
	// return without blocking.
	for i := 0; i < cap(wp.Jobs())+5; i++ {
		done := make(chan struct{})
		go func() {
			wp.Notify([]int64{1}, []byte("{}"))
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Notify blocked on a full queue")
		}
	}
	assert.Equal(t, cap(wp.Jobs()), len(wp.Jobs()))
}
