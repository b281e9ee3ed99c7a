package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"doorlamp-backend/internal/db"
	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/store"
)

var regDBSeq atomic.Int64

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:registry_test_%d?mode=memory&cache=shared&_busy_timeout=5000", regDBSeq.Add(1))
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
	return s
}

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dial sets up a server-side connection registered under deviceID and returns
// the client end of the socket.
func dial(t *testing.T, r *Registry, deviceID string) *websocket.Conn {
	t.Helper()
	connected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := testUpgrader.Upgrade(w, req, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		r.OnConnect(req.Context(), deviceID, conn)
		close(connected)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	<-connected
	return client
}

func TestSend_DeliversCommand(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)
	client := dial(t, r, "dev-001")

	assert.True(t, r.Connected("dev-001"))
	assert.Equal(t, 1, r.Count())

	ok := r.Send(context.Background(), "dev-001", StateCommand(true))
	assert.True(t, ok)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var cmd Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, 1, cmd.State)

	// Connectivity is recorded against the lamp row.
	lamp, err := s.GetLampByDevice(context.Background(), "dev-001")
	require.NoError(t, err)
	assert.True(t, lamp.Connected)
}

func TestSend_OfflineDevice(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)

	assert.False(t, r.Send(context.Background(), "dev-001", StateCommand(true)))
	assert.False(t, r.Connected("dev-001"))
}

func TestOnConnect_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)

	first := dial(t, r, "dev-001")
	second := dial(t, r, "dev-001")
	assert.Equal(t, 1, r.Count())

	// The replaced channel is closed under the new arrival.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	require.True(t, r.Send(context.Background(), "dev-001", StateCommand(false)))
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := second.ReadMessage()
	require.NoError(t, err)

	var cmd Command
	require.NoError(t, json.Unmarshal(data, &cmd))
	assert.Equal(t, 0, cmd.State)
}

func TestOnDisconnect_StaleConnIgnored(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)
	ctx := context.Background()

	dial(t, r, "dev-001")

	r.mu.RLock()
	oldConn := r.conns["dev-001"].conn
	r.mu.RUnlock()

	// Replacement connection takes over the id.
	dial(t, r, "dev-001")

	// The first read pump reporting its dead socket must not evict the
	// replacement.
	r.OnDisconnect(ctx, "dev-001", oldConn)
	assert.True(t, r.Connected("dev-001"))

	// nil conn removes unconditionally; a second call is a no-op.
	r.OnDisconnect(ctx, "dev-001", nil)
	assert.False(t, r.Connected("dev-001"))
	r.OnDisconnect(ctx, "dev-001", nil)

	lamp, err := s.GetLampByDevice(ctx, "dev-001")
	require.NoError(t, err)
	assert.False(t, lamp.Connected)
	assert.NotNil(t, lamp.LastDisconnectAt)
}

func TestSend_WriteFailureEvicts(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)
	ctx := context.Background()

	client := dial(t, r, "dev-001")
	client.Close()

	r.mu.RLock()
	dc := r.conns["dev-001"]
	r.mu.RUnlock()
	dc.conn.Close() // kill the server side so the next write errors

	assert.False(t, r.Send(ctx, "dev-001", StateCommand(true)))
	assert.False(t, r.Connected("dev-001"))
}

func TestBroadcast(t *testing.T) {
	s := newTestStore(t)
	lamp := &model.Lamp{DeviceID: "dev-002", DisplayName: "Back door", BranchID: 1, Active: true}
	require.NoError(t, s.CreateLamp(context.Background(), lamp))

	r := New(s, time.Minute, time.Second)
	a := dial(t, r, "dev-001")
	b := dial(t, r, "dev-002")

	sent := r.Broadcast(context.Background(), StateCommand(true))
	assert.Equal(t, 2, sent)

	for _, client := range []*websocket.Conn{a, b} {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var cmd Command
		require.NoError(t, json.Unmarshal(data, &cmd))
		assert.Equal(t, 1, cmd.State)
	}
}

func TestKeepAlive_PingsClient(t *testing.T) {
	s := newTestStore(t)
	r := New(s, 50*time.Millisecond, time.Second)
	client := dial(t, r, "dev-001")

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})

	// Ping frames are only surfaced while a read is in flight.
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive ping received")
	}
}

func TestCloseAll(t *testing.T) {
	s := newTestStore(t)
	r := New(s, time.Minute, time.Second)
	client := dial(t, r, "dev-001")

	r.CloseAll()
	assert.Equal(t, 0, r.Count())

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			return
		}
	}
}
