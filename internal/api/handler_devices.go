package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

// upgrader configures the websocket upgrade for device connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Devices are embedded clients, not browsers; no origin to check.
		return true
	},
}

// DeviceSocket handles GET /ws/device?device_id=... A device identifies
// itself by its hardware id, gets registered in the connection registry, and
// immediately receives its current desired state. Keep-alive is protocol
// pings from the registry; pongs (or any inbound frame) refresh the read
// deadline.
func (h *Handler) DeviceSocket(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}

	// Unknown hardware is rejected before the upgrade.
	if _, err := h.store.GetLampByDevice(c.Request.Context(), deviceID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active lamp for this device"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up device"})
		}
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Websocket upgrade failed for device %s: %v", deviceID, err)
		return
	}

	h.registry.OnConnect(c.Request.Context(), deviceID, conn)

	// Resync before the first tick so a reconnecting device converges
	// immediately.
	if err := h.scheduler.SyncDevice(c.Request.Context(), deviceID); err != nil {
		log.Printf("Error syncing device %s on connect: %v", deviceID, err)
	}

	go h.readPump(deviceID, conn)
}

// readPump drains inbound frames. Devices only talk to keep the connection
// alive; a read error of any kind means the peer is gone.
func (h *Handler) readPump(deviceID string, conn *websocket.Conn) {
	defer h.registry.OnDisconnect(context.Background(), deviceID, conn)

	pingInterval := time.Duration(h.deviceCfg.PingIntervalSeconds) * time.Second
	pongWait := time.Duration(h.deviceCfg.PongTimeoutSeconds) * time.Second
	deadline := pingInterval + pongWait

	conn.SetReadLimit(1024)
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Device %s read error: %v", deviceID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))
	}
}
