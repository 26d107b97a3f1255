package handler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/trustapp/trust-go-api/internal/dto"
	"github.com/trustapp/trust-go-api/internal/models"
	"github.com/trustapp/trust-go-api/internal/signaling"
	"github.com/trustapp/trust-go-api/internal/utils"
)

const callSendBufferSize = 32

// CallHandler exposes the call signaling channel over a websocket: peers
// send offer/answer/candidate/end events and receive every signaling
// document state in return.
type CallHandler struct {
	channel   *signaling.Channel
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewCallHandler creates a call handler instance.
func NewCallHandler(channel *signaling.Channel, validate *validator.Validate, logger zerolog.Logger) *CallHandler {
	return &CallHandler{
		channel:   channel,
		validator: validate,
		logger:    logger.With().Str("component", "call_handler").Logger(),
	}
}

// Register binds call routes under the provided router group.
func (h *CallHandler) Register(router fiber.Router) {
	router.Use("/ws/:sessionID", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws/:sessionID", websocket.New(h.handleConnection))
	router.Get("/:sessionID", h.snapshot)
}

// snapshot returns the current signaling document, mostly for debugging.
func (h *CallHandler) snapshot(c *fiber.Ctx) error {
	if !h.channel.Available() {
		return utils.SendError(c, fiber.StatusServiceUnavailable, "calling requires the remote backend")
	}

	// The channel has no read path of its own; peers consume snapshots via
	// the websocket subscription.
	return utils.SendSuccess(c, "call signaling is websocket only", nil)
}

func (h *CallHandler) handleConnection(conn *websocket.Conn) {
	sessionID := strings.TrimSpace(conn.Params("sessionID"))
	role := models.CandidateRole(strings.TrimSpace(conn.Query("role")))

	if sessionID == "" || (role != models.RoleCaller && role != models.RoleCallee) {
		_ = conn.WriteJSON(dto.CallServerEvent{Event: dto.CallEventError, Message: "sessionID and role=caller|callee required"})
		_ = conn.Close()
		return
	}

	if !h.channel.Available() {
		_ = conn.WriteJSON(dto.CallServerEvent{Event: dto.CallEventError, Message: "calling requires the remote backend"})
		_ = conn.Close()
		return
	}

	client := &callClient{
		conn:    conn,
		send:    make(chan dto.CallServerEvent, callSendBufferSize),
		closed:  make(chan struct{}),
		handler: h,
		session: sessionID,
		role:    role,
	}

	unsubscribe := h.channel.Subscribe(sessionID, func(signal models.CallSignal) {
		event := dto.CallServerEvent{Event: dto.CallEventSignal, Signal: &signal}
		select {
		case client.send <- event:
		default:
			h.logger.Warn().Str("session_id", sessionID).Msg("dropping signaling snapshot for slow peer")
		}
	})
	defer unsubscribe()

	h.logger.Info().Str("session_id", sessionID).Str("role", string(role)).Msg("signaling peer connected")
	go client.writer()
	client.reader()
	h.logger.Info().Str("session_id", sessionID).Str("role", string(role)).Msg("signaling peer disconnected")
}

type callClient struct {
	conn    *websocket.Conn
	send    chan dto.CallServerEvent
	closed  chan struct{}
	once    sync.Once
	handler *CallHandler
	session string
	role    models.CandidateRole
}

func (c *callClient) reader() {
	defer c.close()

	for {
		var event dto.CallClientEvent
		if err := c.conn.ReadJSON(&event); err != nil {
			c.handler.logger.Debug().Err(err).Msg("signaling read loop ended")
			return
		}

		if err := c.handler.validator.Struct(event); err != nil {
			c.deliver(dto.CallServerEvent{Event: dto.CallEventError, Message: err.Error()})
			continue
		}

		if err := c.apply(event); err != nil {
			c.handler.logger.Warn().Err(err).Str("session_id", c.session).Str("event", event.Event).Msg("signaling operation failed")
			c.deliver(dto.CallServerEvent{Event: dto.CallEventError, Message: "signaling operation failed"})
		}
	}
}

func (c *callClient) apply(event dto.CallClientEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch event.Event {
	case dto.CallEventOffer:
		if event.Description == nil {
			return fiber.NewError(fiber.StatusBadRequest, "offer requires a description")
		}
		return c.handler.channel.InitCall(ctx, c.session, *event.Description)
	case dto.CallEventAnswer:
		if event.Description == nil {
			return fiber.NewError(fiber.StatusBadRequest, "answer requires a description")
		}
		return c.handler.channel.AnswerCall(ctx, c.session, *event.Description)
	case dto.CallEventCandidate:
		if event.Candidate == nil {
			return fiber.NewError(fiber.StatusBadRequest, "candidate event requires a candidate")
		}
		return c.handler.channel.AddIceCandidate(ctx, c.session, *event.Candidate, c.role)
	case dto.CallEventEnd:
		return c.handler.channel.EndCall(ctx, c.session)
	}
	return nil
}

func (c *callClient) deliver(event dto.CallServerEvent) {
	select {
	case c.send <- event:
	case <-c.closed:
	}
}

func (c *callClient) writer() {
	defer c.close()

	for {
		select {
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				c.handler.logger.Debug().Err(err).Msg("signaling write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.handler.logger.Debug().Err(err).Msg("signaling ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *callClient) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
