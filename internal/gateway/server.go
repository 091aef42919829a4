package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-jobboard-chat/internal/auth"
	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/services"
)

// Handshake failure codes returned as the 401 body code.
const (
	CodeMissingAuthData       = "MissingAuthData"
	CodeAuthenticationInvalid = "AuthenticationInvalid"
)

// ConversationLister loads the conversations a principal takes part in.
type ConversationLister interface {
	List(ctx context.Context, p domain.Principal) ([]domain.Conversation, error)
}

// MessageSender persists a message on behalf of a principal.
type MessageSender interface {
	Send(ctx context.Context, p domain.Principal, conversationID, content string) (*domain.Message, error)
}

// Authenticator resolves the principal of a handshake request.
type Authenticator interface {
	FromRequest(r *http.Request) (domain.Principal, error)
}

// Config tunes a Server. Zero values select the defaults.
type Config struct {
	// SendTimeout bounds one send_message round trip to the store.
	SendTimeout time.Duration
	// EventRate and EventBurst limit inbound events per connection;
	// EventRate <= 0 disables the limit.
	EventRate  float64
	EventBurst int
	// AllowedOrigins restricts browser handshakes; empty or "*" allows any.
	AllowedOrigins []string
}

// Server accepts websocket connections and routes events between them. It
// is constructed once per process; all room state lives in its Hub.
type Server struct {
	Hub           *Hub
	Conversations ConversationLister
	Messages      MessageSender
	Auth          Authenticator
	Relay         Relay
	Metrics       *Metrics

	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer wires a Server. The relay defaults to LocalRelay and may be
// replaced before Run.
func NewServer(cfg Config, hub *Hub, convs ConversationLister, msgs MessageSender, authn Authenticator) *Server {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 10
	}
	s := &Server{
		Hub:           hub,
		Conversations: convs,
		Messages:      msgs,
		Auth:          authn,
		Relay:         LocalRelay{},
		Metrics:       hub.metrics,
		cfg:           cfg,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Run applies frames relayed from other nodes until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.Relay.Run(ctx, s.apply)
}

func (s *Server) apply(f Frame) {
	switch f.Op {
	case OpBroadcast:
		s.Hub.Broadcast(f.Room, f.Payload, "")
	case OpJoin:
		if f.Conversation != nil {
			s.Hub.JoinConversation(*f.Conversation)
		}
	case OpClose:
		if f.Conversation != nil {
			s.Hub.CloseRoom(f.Conversation.ID)
		}
	}
}

// JoinConversation joins the live connections of both participants to the
// room of c, on this node and on every other node.
func (s *Server) JoinConversation(c domain.Conversation) {
	s.Hub.JoinConversation(c)
	s.publishControl(Frame{Op: OpJoin, Room: c.Room(), Conversation: &c})
}

// CloseRoom drops the room of conversationID on every node.
func (s *Server) CloseRoom(conversationID string) {
	s.Hub.CloseRoom(conversationID)
	s.publishControl(Frame{
		Op:           OpClose,
		Room:         domain.RoomName(conversationID),
		Conversation: &domain.Conversation{ID: conversationID},
	})
}

// publishControl forwards a membership change. Callers hold no context, so
// the publish is bounded by SendTimeout.
func (s *Server) publishControl(f Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()
	if err := s.Relay.Publish(ctx, f); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("op", f.Op).Str("room", f.Room).Msg("gateway: relay publish failed")
	}
}

// Shutdown closes every live connection.
func (s *Server) Shutdown() { s.Hub.Close() }

// Deliver broadcasts m to its conversation room, skipping the connection
// with id exclude (empty for none), and forwards it to the other nodes.
func (s *Server) Deliver(ctx context.Context, m domain.Message, exclude string) {
	payload, err := Encode(EventReceiveMessage, NewDelivery(m))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("message_id", m.ID).Msg("gateway: encode delivery")
		return
	}
	room := domain.RoomName(m.ConversationID)
	n := s.Hub.Broadcast(room, payload, exclude)
	zerolog.Ctx(ctx).Debug().Str("room", room).Int("delivered", n).Msg("gateway: broadcast")
	if err := s.Relay.Publish(ctx, Frame{Op: OpBroadcast, Room: room, Payload: payload}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("room", room).Msg("gateway: relay publish failed")
	}
}

// Handle authenticates the request, upgrades it and serves the connection
// until the client goes away. Unauthenticated requests are refused with 401
// and never upgraded.
func (s *Server) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := s.Auth.FromRequest(c.Request)
		if err != nil {
			code := CodeAuthenticationInvalid
			if errors.Is(err, auth.ErrMissing) {
				code = CodeMissingAuthData
			}
			s.Metrics.failure("handshake")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.GetString("requestID"),
				"code":       code,
				"message":    err.Error(),
			})
			return
		}

		ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the response.
			return
		}
		s.serve(c.Request.Context(), p, ws)
	}
}

func (s *Server) serve(ctx context.Context, p domain.Principal, ws *websocket.Conn) {
	var limiter *rate.Limiter
	if s.cfg.EventRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.EventRate), s.cfg.EventBurst)
	}
	conn := NewConnection(p, ws, limiter)
	lg := zerolog.Ctx(ctx).With().Str("conn_id", conn.ID).Str("principal", p.Key()).Logger()
	ctx = lg.WithContext(ctx)

	// Attach before listing so that conversations opened meanwhile still
	// reach this connection through JoinConversation. Frames broadcast in
	// between wait in the send buffer until the write loop starts.
	s.Hub.Attach(conn)
	defer func() {
		s.Hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	convs, err := s.Conversations.List(ctx, p)
	if err != nil {
		lg.Error().Err(err).Msg("gateway: list conversations")
		// No write loop yet: write the error directly so it precedes the
		// close frame.
		s.Metrics.failure("store_unavailable")
		if payload, err := Encode(EventError, ErrorEvent{Message: "could not load conversations"}); err == nil {
			_ = conn.write(websocket.TextMessage, payload)
		}
		return
	}
	conn.Start()
	for _, cv := range convs {
		s.Hub.Join(cv.Room(), conn)
	}
	if ack, err := Encode(EventConnected, Connected{ConnectionID: conn.ID, Principal: p, Rooms: s.Hub.Rooms(conn)}); err == nil {
		_ = conn.Send(ack)
	}
	lg.Info().Int("rooms", len(convs)).Msg("gateway: connected")

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				lg.Debug().Err(err).Msg("gateway: read ended")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		s.dispatch(ctx, conn, data)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Connection, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		s.replyError(conn, "bad_request", "invalid payload")
		return
	}
	if !conn.allow() {
		s.replyError(conn, "rate_limited", "too many events, slow down")
		return
	}
	s.Metrics.event(eventLabel(env.Event))

	switch env.Event {
	case EventSendMessage:
		s.handleSend(ctx, conn, env.Data)
	case EventPing:
		if pong, err := Encode(EventPong, struct{}{}); err == nil {
			_ = conn.Send(pong)
		}
	default:
		s.replyError(conn, "unsupported_event", "unsupported event "+env.Event)
	}
}

// eventLabel bounds the metric label set to the events the gateway serves.
func eventLabel(event string) string {
	switch event {
	case EventSendMessage, EventPing:
		return event
	default:
		return "unknown"
	}
}

func (s *Server) handleSend(ctx context.Context, conn *Connection, raw json.RawMessage) {
	var in SendMessage
	if len(raw) == 0 || json.Unmarshal(raw, &in) != nil {
		s.replyError(conn, "bad_request", "invalid send_message payload")
		return
	}
	if strings.TrimSpace(in.ConversationID) == "" {
		s.replyError(conn, "bad_request", "conversationId is required")
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	m, err := s.Messages.Send(sendCtx, conn.Principal, in.ConversationID, in.Content)
	if err != nil {
		reason, msg := describe(err)
		if reason == "store_unavailable" || reason == "internal" {
			zerolog.Ctx(ctx).Error().Err(err).Str("conversation_id", in.ConversationID).Msg("gateway: send_message failed")
		}
		s.replyError(conn, reason, msg)
		return
	}
	s.Deliver(ctx, *m, conn.ID)
}

// describe maps a service error to a metrics reason and a client message.
func describe(err error) (reason, message string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		return "not_found", "conversation not found"
	case errors.Is(err, services.ErrValidation):
		return "validation", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "message could not be saved in time, please retry"
	case errors.Is(err, services.ErrStoreUnavailable):
		return "store_unavailable", "message could not be saved, please retry"
	default:
		return "internal", "internal error"
	}
}

func (s *Server) replyError(conn *Connection, reason, message string) {
	s.Metrics.failure(reason)
	if payload, err := Encode(EventError, ErrorEvent{Message: message}); err == nil {
		_ = conn.Send(payload)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}
