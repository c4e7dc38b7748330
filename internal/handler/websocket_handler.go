// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"card-service/internal/model"
	"card-service/internal/service"
	"card-service/internal/utils"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// WebSocketHandler bridges POS clients to card sessions
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	eventBus    *EventBus
	cardService *service.CardService
	logger      *utils.ServiceLogger

	wg sync.WaitGroup
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cardService *service.CardService, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// POS front ends are served from the local machine
			return true
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		clients:     NewClientRegistry(),
		eventBus:    NewEventBus(logger.With(zap.String("component", "event-bus"))),
		cardService: cardService,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// HandleCardSession starts a card session and streams it over a WebSocket
// @Summary Run a card operation
// @Description Upgrades to a WebSocket, starts a card session and streams state, notification, result and close messages. The client may send confirm, cancel, retry and ping messages. Closing the socket ends the session.
// @Tags Card Operations
// @Param type query string true "Operation" Enums(read, write, balance, payment)
// @Param data query string false "Data to write (write)"
// @Param amount query int false "Amount to debit (payment)"
// @Param client_id query string false "POS client identifier"
// @Success 101 {object} WebSocketMessage "Switching protocols"
// @Failure 400 {object} utils.APIResponse "Invalid request"
// @Failure 409 {object} utils.APIResponse "A session is already running"
// @Router /ws/card-operations [get]
func (h *WebSocketHandler) HandleCardSession(c *gin.Context) {
	var req service.StartSessionRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request parameters", err)
		return
	}

	req.ClientID = c.Query("client_id")
	if req.ClientID == "" {
		req.ClientID = uuid.New().String()
	}

	session, err := h.cardService.StartSession(c.Request.Context(), &req)
	if err != nil {
		h.writeStartError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		session.Close()
		return
	}

	sessionID := session.ID
	client := &Client{
		ID:          uuid.New().String(),
		PosClientID: req.ClientID,
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientTypeSession,
		SessionID:   &sessionID,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	h.clients.Register(client)
	h.logger.Info("Card session client connected",
		zap.String("client_id", client.ID),
		zap.String("pos_client_id", client.PosClientID),
		zap.String("session_id", sessionID.String()),
		zap.String("operation", string(session.Operation)),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.wg.Add(2)
	go h.sessionReadPump(client, session)
	go h.sessionWritePump(client, session)
}

// HandleEventConnection streams every session event to a monitor client
// @Summary Monitor card sessions
// @Description Upgrades to a WebSocket that receives the events of every card session
// @Tags Card Operations
// @Success 101 {object} WebSocketMessage "Switching protocols"
// @Router /ws/events [get]
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		Type:        clientTypeMonitor,
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	h.clients.Register(client)
	events := h.eventBus.Subscribe(client.ID)
	h.logger.Info("Monitor WebSocket client connected", zap.String("client_id", client.ID))

	h.wg.Add(2)
	go h.monitorReadPump(client)
	go h.monitorWritePump(client, events)
}

// GetConnectionStats returns connection statistics
// @Summary WebSocket connection statistics
// @Tags Card Operations
// @Produce json
// @Success 200 {object} utils.APIResponse{data=ConnectionStats}
// @Router /ws/stats [get]
func (h *WebSocketHandler) GetConnectionStats(c *gin.Context) {
	utils.SuccessResponse(c, http.StatusOK, "WebSocket connection statistics", h.clients.GetStats())
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	return h.clients.Count()
}

// Shutdown closes every client socket and waits for the client goroutines.
// Session clients end their sessions on the way out.
func (h *WebSocketHandler) Shutdown() {
	for _, client := range h.clients.GetStats().Clients {
		client.Connection.Close()
	}
	h.wg.Wait()
}

func (h *WebSocketHandler) writeStartError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		utils.CodedErrorResponse(c, http.StatusBadRequest, utils.CodeInvalidSession, "Invalid card operation request", err)
	case errors.Is(err, service.ErrSessionBusy):
		utils.CodedErrorResponse(c, http.StatusConflict, utils.CodeReaderBusy, "Card reader is busy", err)
	default:
		h.logger.Error("Failed to start card session", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to start card session", err)
	}
}

// sessionReadPump reads client commands until the socket closes, then ends
// the session
func (h *WebSocketHandler) sessionReadPump(client *Client, session *service.CardSession) {
	defer func() {
		session.Close()
		close(client.done)
		h.clients.Unregister(client)
		h.wg.Done()
	}()

	h.readLoop(client, func(message *WebSocketMessage) {
		h.handleSessionMessage(client, session, message)
	})
}

// sessionWritePump forwards session events until the stream ends
func (h *WebSocketHandler) sessionWritePump(client *Client, session *service.CardSession) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
		h.wg.Done()
	}()

	events := session.Events()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				h.writeClose(client, "session finished")
				return
			}
			h.eventBus.Publish(event)
			if err := h.writeMessage(client, newEventMessage(event)); err != nil {
				h.logger.Warn("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			// the client left; monitors still see the tail of the session
			for event := range events {
				h.eventBus.Publish(event)
			}
			return
		}
	}
}

func (h *WebSocketHandler) monitorReadPump(client *Client) {
	defer func() {
		h.eventBus.Unsubscribe(client.ID)
		close(client.done)
		h.clients.Unregister(client)
		h.wg.Done()
	}()

	h.readLoop(client, func(message *WebSocketMessage) {
		if message.Type == "ping" {
			h.sendMessage(client, &WebSocketMessage{Type: "pong", Timestamp: time.Now()})
		}
	})
}

func (h *WebSocketHandler) monitorWritePump(client *Client, events <-chan model.SessionEvent) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
		h.wg.Done()
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := h.writeMessage(client, newEventMessage(event)); err != nil {
				return
			}

		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			return
		}
	}
}

// readLoop parses client messages until the connection fails
func (h *WebSocketHandler) readLoop(client *Client, handle func(*WebSocketMessage)) {
	client.Connection.SetReadLimit(maxMessageSize)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "invalid message")
			continue
		}

		handle(&message)
	}
}

// handleSessionMessage handles commands sent by a session client
func (h *WebSocketHandler) handleSessionMessage(client *Client, session *service.CardSession, message *WebSocketMessage) {
	switch message.Type {
	case "confirm":
		session.Confirm()
	case "cancel":
		session.Cancel()
	case "retry":
		session.Retry()
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			SessionID: session.ID.String(),
			Data:      session.Snapshot(),
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

// writeMessage writes message directly; only the write pump calls it
func (h *WebSocketHandler) writeMessage(client *Client, message *WebSocketMessage) error {
	client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	return client.Connection.WriteJSON(message)
}

func (h *WebSocketHandler) writeClose(client *Client, reason string) {
	client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
	client.Connection.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}

// sendMessage queues a message for the write pump
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: string(model.SessionEventError),
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

func newEventMessage(event model.SessionEvent) *WebSocketMessage {
	return &WebSocketMessage{
		Type:      string(event.Type),
		SessionID: event.SessionID.String(),
		Data:      event.Data,
		Timestamp: event.Timestamp,
	}
}
