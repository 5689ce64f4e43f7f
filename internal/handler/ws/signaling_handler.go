package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signaling-core/internal/domain"
	"signaling-core/internal/middleware"
	"signaling-core/internal/service/call"
	"signaling-core/pkg/constants"
	apperrors "signaling-core/pkg/errors"
	"signaling-core/pkg/logger"
	"signaling-core/pkg/metrics"
	"signaling-core/pkg/response"
)

// Inbound signaling message types
const (
	SignalTypeOffer  = "offer"
	SignalTypeAnswer = "answer"
	SignalTypeICE    = "ice_candidate"
	SignalTypeJoin   = "join"
	SignalTypeLeave  = "leave"
	SignalTypeReject = "reject"
)

// Outbound frame types besides domain.CallStateMessageType
const (
	FrameTypeAck   = "ack"
	FrameTypeError = "error"
)

// SignalingMessage is one inbound frame from a client
type SignalingMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	TargetID  uuid.UUID       `json:"target_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AckFrame confirms an inbound message was applied
type AckFrame struct {
	Type          string `json:"type"`
	RequestID     string `json:"request_id,omitempty"`
	Signal        string `json:"signal"`
	Version       int64  `json:"version"`
	Status        string `json:"status"`
	Side          string `json:"side,omitempty"`
	AnswerPresent *bool  `json:"answer_present,omitempty"`
}

// ErrorFrame reports a failed inbound message to its sender only
type ErrorFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	Signal    string `json:"signal,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Subscriber is the subset of the Redis client the hub listens with
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// SignalingHub tracks the signaling sockets attached to each call and pushes
// call state changes to them, either relayed from Redis pub/sub or, without
// Redis, delivered in process through OnCallStateChanged.
type SignalingHub struct {
	subscriber Subscriber
	metrics    *metrics.Metrics

	// Registered clients per call
	calls map[uuid.UUID]map[*SignalingClient]bool
	// Cancel functions for call subscriptions
	subscriptionCancels map[uuid.UUID]context.CancelFunc
	mu                  sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	deliver    chan *callFrame
	done       chan struct{}
	closeOnce  sync.Once
}

// SignalingHandler upgrades signaling requests and applies inbound frames
// through the call service
type SignalingHandler struct {
	hub         *SignalingHub
	callService *call.Service

	maxConnections int
	semaphore      chan struct{}
	upgrader       websocket.Upgrader
}

// SignalingClient represents a WebSocket client for signaling
type SignalingClient struct {
	hub     *SignalingHub
	handler *SignalingHandler
	conn    *websocket.Conn
	send    chan []byte
	userID  uuid.UUID
	callID  uuid.UUID
	ctx     context.Context
	cancel  context.CancelFunc
}

type callFrame struct {
	callID uuid.UUID
	data   []byte
}

// HubConfig configures a SignalingHub
type HubConfig struct {
	// Subscriber may be nil; the hub then only sees changes made in process
	Subscriber Subscriber
	Metrics    *metrics.Metrics
}

// NewSignalingHub creates a hub and starts its event loop
func NewSignalingHub(cfg HubConfig) *SignalingHub {
	hub := &SignalingHub{
		subscriber:          cfg.Subscriber,
		metrics:             cfg.Metrics,
		calls:               make(map[uuid.UUID]map[*SignalingClient]bool),
		subscriptionCancels: make(map[uuid.UUID]context.CancelFunc),
		register:            make(chan *SignalingClient),
		unregister:          make(chan *SignalingClient),
		deliver:             make(chan *callFrame, 256),
		done:                make(chan struct{}),
	}

	go hub.run()

	return hub
}

// HandlerConfig configures a SignalingHandler
type HandlerConfig struct {
	MaxConnections int
	AllowedOrigins []string
}

// NewSignalingHandler creates the WebSocket entry point for hub
func NewSignalingHandler(hub *SignalingHub, callService *call.Service, cfg HandlerConfig) *SignalingHandler {
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = constants.DefaultMaxSignalingConnections
	}

	return &SignalingHandler{
		hub:            hub,
		callService:    callService,
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
		upgrader:       newUpgrader(cfg.AllowedOrigins),
	}
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			// Non-browser clients send no Origin
			if origin == "" {
				return true
			}
			return allowed[origin]
		},
	}
}

// Close stops the event loop and every call subscription
func (h *SignalingHub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// run owns client registration and fan-out. It never sends on its own
// channels so it cannot block itself.
func (h *SignalingHub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for callID, cancel := range h.subscriptionCancels {
				cancel()
				delete(h.subscriptionCancels, callID)
			}
			for _, clients := range h.calls {
				for client := range clients {
					client.cancel()
					close(client.send)
				}
			}
			h.calls = make(map[uuid.UUID]map[*SignalingClient]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.calls[client.callID] == nil {
				h.calls[client.callID] = make(map[*SignalingClient]bool)

				if h.subscriber != nil {
					ctx, cancel := context.WithCancel(context.Background())
					h.subscriptionCancels[client.callID] = cancel
					go h.subscribeToCall(ctx, client.callID)
				}
			}
			h.calls[client.callID][client] = true
			h.mu.Unlock()
			h.reportConnections()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.calls[client.callID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					client.cancel()
				}
				if len(clients) == 0 {
					if cancel, ok := h.subscriptionCancels[client.callID]; ok {
						cancel()
						delete(h.subscriptionCancels, client.callID)
					}
					delete(h.calls, client.callID)
				}
			}
			h.mu.Unlock()
			h.reportConnections()

		case frame := <-h.deliver:
			h.mu.Lock()
			for client := range h.calls[frame.callID] {
				select {
				case client.send <- frame.data:
				default:
					// Slow consumer; its readPump will see the closed socket
					close(client.send)
					client.cancel()
					delete(h.calls[frame.callID], client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *SignalingHub) reportConnections() {
	if h.metrics == nil {
		return
	}
	h.mu.RLock()
	count := 0
	for _, clients := range h.calls {
		count += len(clients)
	}
	h.mu.RUnlock()
	h.metrics.SetWebSocketConnections(count)
}

// OnCallStateChanged delivers a change to local sockets. Wire the hub as a
// notification sink only when no Redis subscriber is configured, otherwise
// every change would arrive twice.
func (h *SignalingHub) OnCallStateChanged(ctx context.Context, changed *domain.Call, event domain.CallEvent) {
	data, err := json.Marshal(domain.NewCallStateMessage(changed, event))
	if err != nil {
		logger.FromContext(ctx).Error("Failed to encode call state frame",
			zap.String("call_id", changed.CallID.String()),
			zap.Error(err))
		return
	}
	h.enqueue(&callFrame{callID: changed.CallID, data: data})
	metrics.CallNotificationsTotal.WithLabelValues("websocket", "ok").Inc()
}

func (h *SignalingHub) enqueue(frame *callFrame) {
	select {
	case h.deliver <- frame:
	case <-h.done:
	}
}

// subscribeToCall relays Redis messages for a call to its local sockets
func (h *SignalingHub) subscribeToCall(ctx context.Context, callID uuid.UUID) {
	pubsub := h.subscriber.Subscribe(ctx, domain.CallChannel(callID))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() == nil {
			logger.Error("Failed to subscribe to Redis channel",
				zap.String("call_id", callID.String()),
				zap.Error(err))
		}
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if !json.Valid([]byte(msg.Payload)) {
				logger.Warn("Dropping malformed call state message",
					zap.String("call_id", callID.String()))
				continue
			}
			h.enqueue(&callFrame{callID: callID, data: []byte(msg.Payload)})
		}
	}
}

// ServeWS handles WebSocket requests for signaling
// GET /v1/calls/ws/signaling?call_id=
func (h *SignalingHandler) ServeWS(c *gin.Context) {
	callID, err := uuid.Parse(c.Query("call_id"))
	if err != nil {
		response.ValidationError(c, "invalid call_id")
		return
	}

	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	// Only members of the call's chat may listen
	if _, err := h.callService.GetCall(c.Request.Context(), callID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.FromContext(c.Request.Context()).Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.FromError(c, apperrors.ServiceUnavailableError("Server at capacity, please try again later"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.FromContext(c.Request.Context()).Warn("WebSocket upgrade failed",
			zap.String("call_id", callID.String()),
			zap.Error(err))
		return
	}

	clientCtx := logger.WithCallID(logger.WithUserID(context.Background(), userID.String()), callID.String())
	ctx, cancel := context.WithCancel(clientCtx)
	client := &SignalingClient{
		hub:     h.hub,
		handler: h,
		conn:    conn,
		send:    make(chan []byte, 64),
		userID:  userID,
		callID:  callID,
		ctx:     ctx,
		cancel:  cancel,
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.done:
		<-h.semaphore
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads frames and applies them in arrival order
func (c *SignalingClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
		<-c.handler.semaphore
	}()

	c.conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.FromContext(c.ctx).Debug("WebSocket connection closed", zap.Error(err))
			}
			return
		}

		var msg SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(&msg, apperrors.InvalidInputError("invalid message format"))
			continue
		}
		if c.hub.metrics != nil {
			c.hub.metrics.RecordWebSocketMessage(msg.Type, "in")
		}

		c.handle(&msg)
	}
}

func (c *SignalingClient) handle(msg *SignalingMessage) {
	ctx := c.ctx
	svc := c.handler.callService

	signal := &call.SignalInput{
		CallID:   c.callID,
		SenderID: c.userID,
		TargetID: msg.TargetID,
		Payload:  msg.Payload,
	}

	var (
		updated *domain.Call
		ack     = AckFrame{Type: FrameTypeAck, RequestID: msg.RequestID, Signal: msg.Type}
		err     error
	)

	switch msg.Type {
	case SignalTypeOffer:
		updated, err = svc.HandleOffer(ctx, signal)
	case SignalTypeAnswer:
		updated, err = svc.HandleAnswer(ctx, signal)
	case SignalTypeICE:
		var out *call.CandidateOutput
		out, err = svc.HandleCandidate(ctx, signal)
		if err == nil {
			updated = out.Call
			ack.Side = string(out.Side)
			ack.AnswerPresent = &out.AnswerPresent
		}
	case SignalTypeJoin:
		updated, err = svc.AddParticipant(ctx, c.callID, c.userID)
	case SignalTypeLeave:
		updated, err = svc.LeaveCall(ctx, c.callID, c.userID)
	case SignalTypeReject:
		updated, err = svc.RejectCall(ctx, c.callID, c.userID)
	default:
		err = apperrors.InvalidInputError("unknown message type: " + msg.Type)
	}

	if err != nil {
		c.sendError(msg, err)
		return
	}

	ack.Version = updated.Version
	ack.Status = string(updated.Status)
	c.sendJSON(ack)
}

func (c *SignalingClient) sendError(msg *SignalingMessage, err error) {
	appErr := apperrors.GetAppError(err)
	message := appErr.Message
	if !apperrors.IsAppError(err) {
		logger.FromContext(c.ctx).Error("Signaling message failed",
			zap.String("type", msg.Type),
			zap.Error(err))
		message = "internal server error"
	}
	if c.hub.metrics != nil {
		c.hub.metrics.RecordWebSocketError(string(appErr.Code))
	}

	c.sendJSON(ErrorFrame{
		Type:      FrameTypeError,
		RequestID: msg.RequestID,
		Signal:    msg.Type,
		Code:      string(appErr.Code),
		Message:   message,
	})
}

// sendJSON queues a frame for this client only. Called from readPump, so
// it goes through the hub's lock to avoid racing a close of send.
func (c *SignalingClient) sendJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.calls[c.callID][c] {
		return
	}
	select {
	case c.send <- data:
	default:
		logger.FromContext(c.ctx).Warn("Dropping frame for slow signaling client",
			zap.String("call_id", c.callID.String()))
	}
}

// writePump writes queued frames and keeps the connection alive with pings
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordWebSocketMessage("frame", "out")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
