// README: Websocket endpoint. Upgrade first, authenticate on the first
// frame, then hand the connection to the hub.
package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"carpool/internal/auth"
	"carpool/internal/gateway"
	"carpool/internal/logger"
	"carpool/internal/modules/order"
	"carpool/internal/modules/pool"
	"carpool/internal/types"
)

const authWait = 10 * time.Second

type GatewayHandler struct {
	hub      *gateway.Hub
	tokens   *auth.Manager
	orders   *order.Store
	pool     *pool.Store
	upgrader websocket.Upgrader
	log      logger.ILogger
}

func NewGatewayHandler(hub *gateway.Hub, tokens *auth.Manager, orders *order.Store, poolStore *pool.Store, log logger.ILogger) *GatewayHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GatewayHandler{
		hub:    hub,
		tokens: tokens,
		orders: orders,
		pool:   poolStore,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Token auth happens on the first frame; origin is not trusted.
			CheckOrigin: func(*nethttp.Request) bool { return true },
		},
		log: log,
	}
}

type authFrame struct {
	Token string `json:"token"`
}

// Serve upgrades the request and waits for the auth frame. A connection that
// does not authenticate within the window is closed without registration.
func (h *GatewayHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn.SetReadDeadline(time.Now().Add(authWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var frame authFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "auth required"))
		conn.Close()
		return
	}
	id, err := h.tokens.Verify(frame.Token)
	if err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"))
		conn.Close()
		return
	}

	client := gateway.NewClient(h.hub, conn, id.UserID, id.Role)
	h.hub.Register(client)
	switch id.Role {
	case types.RoleDriver:
		h.hub.Join(order.GroupDrivers, client)
	case types.RoleAdmin:
		h.hub.Join(order.GroupAdmins, client)
	}
	h.log.Info("websocket connected",
		logger.String("user_id", string(id.UserID)),
		logger.String("role", string(id.Role)))

	go client.WritePump()
	go client.ReadPump()
	if id.Role == types.RoleDriver {
		go h.catchUp(id.UserID)
	}
}

// catchUp replays the claimable pool to a freshly connected driver, skipping
// orders the driver was already told about on a previous connection.
func (h *GatewayHandler) catchUp(driverID types.ID) {
	if h.orders == nil || h.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tasks, err := h.orders.DriverTasks(ctx, driverID)
	if err != nil {
		h.log.Warning("pool catch-up failed",
			logger.String("driver_id", string(driverID)), logger.Error(err))
		return
	}
	for _, o := range tasks {
		if o.Status != order.StatusPending {
			continue
		}
		seen, err := h.pool.WasNotified(ctx, o.ID, driverID)
		if err != nil || seen {
			continue
		}
		payload, err := json.Marshal(map[string]string{
			"event":   order.EventNewOrder,
			"orderId": string(o.ID),
		})
		if err != nil {
			continue
		}
		if h.hub.Push(driverID, payload) {
			_ = h.pool.RecordBroadcast(ctx, o.ID, []types.ID{driverID})
		}
	}
}
