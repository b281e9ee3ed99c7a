// Package registry tracks which physical devices are reachable and delivers
// state commands to them. One live websocket per device id, last writer wins;
// writes to a device are serialized so concurrent senders never interleave
// frames.
package registry

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"doorlamp-backend/internal/store"
)

// Command is the wire frame pushed to a device.
type Command struct {
	State int `json:"state"`
}

// StateCommand builds the frame for a desired lit-state.
func StateCommand(on bool) Command {
	if on {
		return Command{State: 1}
	}
	return Command{State: 0}
}

// deviceConn wraps one live websocket. writeMu serializes every outbound
// frame (commands and keep-alive pings) for the device.
type deviceConn struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
}

func (d *deviceConn) write(messageType int, data []byte, timeout time.Duration) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	d.conn.SetWriteDeadline(time.Now().Add(timeout))
	return d.conn.WriteMessage(messageType, data)
}

func (d *deviceConn) close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.Close()
	})
}

// Registry is the shared device-channel map. Safe for concurrent use.
type Registry struct {
	store        store.Store
	pingInterval time.Duration
	writeTimeout time.Duration

	mu    sync.RWMutex
	conns map[string]*deviceConn
}

// New creates an empty registry. pingInterval is the keep-alive cadence for
// idle connections; writeTimeout bounds each frame write.
func New(s store.Store, pingInterval, writeTimeout time.Duration) *Registry {
	return &Registry{
		store:        s,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		conns:        make(map[string]*deviceConn),
	}
}

// OnConnect registers the channel for a device, closing any prior channel for
// the same id, and records connectivity. The caller is expected to follow up
// with an immediate state resync so the device does not wait for the next
// scheduler tick.
func (r *Registry) OnConnect(ctx context.Context, deviceID string, conn *websocket.Conn) {
	dc := &deviceConn{
		conn:        conn,
		connectedAt: time.Now().UTC(),
		done:        make(chan struct{}),
	}

	r.mu.Lock()
	old := r.conns[deviceID]
	r.conns[deviceID] = dc
	r.mu.Unlock()

	if old != nil {
		log.Printf("Device %s reconnected; closing previous channel", deviceID)
		old.close()
	}

	if err := r.store.SetLampConnectivity(ctx, deviceID, true, dc.connectedAt); err != nil {
		log.Printf("Error recording connect for device %s: %v", deviceID, err)
	}

	go r.keepAlive(deviceID, dc)
}

// OnDisconnect removes the channel registered under conn and records the
// disconnect. A nil conn removes whatever is registered. Disconnecting an
// absent device, or a channel already replaced by a newer connection, is a
// no-op.
func (r *Registry) OnDisconnect(ctx context.Context, deviceID string, conn *websocket.Conn) {
	r.mu.Lock()
	dc, ok := r.conns[deviceID]
	if ok && (conn == nil || dc.conn == conn) {
		delete(r.conns, deviceID)
	} else {
		dc = nil
	}
	r.mu.Unlock()

	if dc == nil {
		return
	}
	dc.close()

	if err := r.store.SetLampConnectivity(ctx, deviceID, false, time.Now().UTC()); err != nil {
		log.Printf("Error recording disconnect for device %s: %v", deviceID, err)
	}
}

// Send delivers a command to a device. A false return means the device is
// offline; the caller must not retry, the device resyncs on its next
// connect.
func (r *Registry) Send(ctx context.Context, deviceID string, cmd Command) bool {
	r.mu.RLock()
	dc, ok := r.conns[deviceID]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		log.Printf("Error marshaling command for device %s: %v", deviceID, err)
		return false
	}

	if err := dc.write(websocket.TextMessage, data, r.writeTimeout); err != nil {
		log.Printf("Error writing to device %s: %v", deviceID, err)
		r.OnDisconnect(ctx, deviceID, dc.conn)
		return false
	}
	return true
}

// Broadcast sends a command to every connected device and returns the number
// of deliveries.
func (r *Registry) Broadcast(ctx context.Context, cmd Command) int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if r.Send(ctx, id, cmd) {
			sent++
		}
	}
	return sent
}

// Connected reports whether a device currently has a live channel.
func (r *Registry) Connected(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[deviceID]
	return ok
}

// Count returns the number of connected devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll drops every channel, for shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*deviceConn)
	r.mu.Unlock()

	for _, dc := range conns {
		dc.close()
	}
}

// keepAlive pings the device on the configured interval until the channel is
// closed. A failed ping tears the connection down, which surfaces dead peers
// to the read pump.
func (r *Registry) keepAlive(deviceID string, dc *deviceConn) {
	ticker := time.NewTicker(r.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.done:
			return
		case <-ticker.C:
			if err := dc.write(websocket.PingMessage, nil, r.writeTimeout); err != nil {
				log.Printf("Keep-alive failed for device %s: %v", deviceID, err)
				r.OnDisconnect(context.Background(), deviceID, dc.conn)
				return
			}
		}
	}
}
