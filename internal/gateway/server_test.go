package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tbourn/go-jobboard-chat/internal/auth"
	"github.com/tbourn/go-jobboard-chat/internal/domain"
	"github.com/tbourn/go-jobboard-chat/internal/services"
)

// ----- fakes -----

type fakeBackend struct {
	mu    sync.Mutex
	convs []domain.Conversation
	seq   int
	fail  error
	// listFail makes List fail.
	listFail error
}

func (f *fakeBackend) List(ctx context.Context, p domain.Principal) ([]domain.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listFail != nil {
		return nil, f.listFail
	}
	var out []domain.Conversation
	for _, c := range f.convs {
		if c.HasParticipant(p) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeBackend) Send(ctx context.Context, p domain.Principal, conversationID, content string) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if strings.TrimSpace(content) == "" {
		return nil, services.ErrEmptyContent
	}
	for _, c := range f.convs {
		if c.ID == conversationID && c.HasParticipant(p) {
			f.seq++
			return &domain.Message{
				ID:             fmt.Sprintf("m%d", f.seq),
				ConversationID: c.ID,
				SenderRole:     p.Kind,
				Content:        content,
				SentAt:         time.Date(2024, 5, 1, 12, 0, f.seq, 0, time.UTC),
			}, nil
		}
	}
	return nil, services.ErrConversationNotFound
}

// ----- harness -----

type harness struct {
	srv     *httptest.Server
	gw      *Server
	backend *fakeBackend
}

func newHarness(t *testing.T, convs ...domain.Conversation) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := &fakeBackend{convs: convs}
	hub := NewHub(NewMetrics(prometheus.NewRegistry()))
	gw := NewServer(Config{}, hub, backend, backend, &auth.Authenticator{DevHeaders: true})

	r := gin.New()
	r.GET("/ws", gw.Handle())
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		gw.Shutdown()
		srv.Close()
	})
	return &harness{srv: srv, gw: gw, backend: backend}
}

func (h *harness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws" + query
}

// connect dials as p and consumes the connected ack.
func (h *harness) connect(t *testing.T, p domain.Principal) (*websocket.Conn, Connected) {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(h.url(fmt.Sprintf("?id=%s&type=%s", p.ID, p.Kind)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v (resp=%v)", p.Key(), err, resp)
	}
	t.Cleanup(func() { _ = ws.Close() })

	env := readEvent(t, ws)
	if env.Event != EventConnected {
		t.Fatalf("first event = %q, want connected", env.Event)
	}
	var ack Connected
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatal(err)
	}
	return ws, ack
}

func readEvent(t *testing.T, ws *websocket.Conn) Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env Envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func emit(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := Encode(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// expectQuiet proves nothing was queued for ws before a ping: frames are
// written in order, so the next event must be the pong.
func expectQuiet(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	emit(t, ws, EventPing, struct{}{})
	if env := readEvent(t, ws); env.Event != EventPong {
		t.Fatalf("unexpected %s event: %s", env.Event, env.Data)
	}
}

var (
	userU1    = domain.Principal{Kind: domain.RoleUser, ID: "u1"}
	userU2    = domain.Principal{Kind: domain.RoleUser, ID: "u2"}
	companyC1 = domain.Principal{Kind: domain.RoleCompany, ID: "co1"}
	companyC2 = domain.Principal{Kind: domain.RoleCompany, ID: "co2"}

	convA = domain.Conversation{ID: "conv-a", UserID: "u1", CompanyID: "co1", Status: "Active"}
	convB = domain.Conversation{ID: "conv-b", UserID: "u2", CompanyID: "co2", Status: "Active"}
)

// ----- tests -----

func TestHandshake_Refused(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		query string
		code  string
	}{
		{"", CodeMissingAuthData},
		{"?id=u1", CodeMissingAuthData},
		{"?id=u1&type=admin", CodeAuthenticationInvalid},
		{"?token=not-a-jwt", CodeAuthenticationInvalid},
	}
	for _, tc := range cases {
		ws, resp, err := websocket.DefaultDialer.Dial(h.url(tc.query), nil)
		if err == nil {
			_ = ws.Close()
			t.Fatalf("%q: handshake must fail", tc.query)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%q: resp = %v", tc.query, resp)
		}
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body["code"] != tc.code {
			t.Fatalf("%q: code = %q, want %q", tc.query, body["code"], tc.code)
		}
	}
	if h.gw.Hub.Len() != 0 {
		t.Fatalf("refused handshakes must not attach")
	}
}

func TestConnect_JoinsOneRoomPerConversation(t *testing.T) {
	h := newHarness(t, convA, domain.Conversation{ID: "conv-c", UserID: "u9", CompanyID: "co1"})
	_, ack := h.connect(t, companyC1)
	if len(ack.Rooms) != 2 {
		t.Fatalf("rooms = %v", ack.Rooms)
	}
	if ack.Principal != companyC1 || ack.ConnectionID == "" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestSendMessage_FansOutExceptSender(t *testing.T) {
	h := newHarness(t, convA, convB)
	sender, _ := h.connect(t, userU1)
	receiver, _ := h.connect(t, companyC1)
	outsider, _ := h.connect(t, userU2)
	outsiderCo, _ := h.connect(t, companyC2)

	emit(t, sender, EventSendMessage, map[string]string{
		"conversationId": convA.ID,
		"content":        "hello",
		"senderRole":     "company", // ignored
	})

	env := readEvent(t, receiver)
	if env.Event != EventReceiveMessage {
		t.Fatalf("event = %q", env.Event)
	}
	var d Delivery
	if err := json.Unmarshal(env.Data, &d); err != nil {
		t.Fatal(err)
	}
	if d.ConversationID != convA.ID || d.Content != "hello" || d.SenderRole != domain.RoleUser || d.MessageID == "" || d.SentAt.IsZero() {
		t.Fatalf("delivery = %+v", d)
	}

	expectQuiet(t, sender)
	expectQuiet(t, outsider)
	expectQuiet(t, outsiderCo)
}

func TestSendMessage_SiblingConnectionsReceive(t *testing.T) {
	h := newHarness(t, convA)
	tab1, _ := h.connect(t, userU1)
	tab2, _ := h.connect(t, userU1)
	company, _ := h.connect(t, companyC1)

	emit(t, tab1, EventSendMessage, SendMessage{ConversationID: convA.ID, Content: "from tab 1"})

	for name, ws := range map[string]*websocket.Conn{"tab2": tab2, "company": company} {
		if env := readEvent(t, ws); env.Event != EventReceiveMessage {
			t.Fatalf("%s got %q", name, env.Event)
		}
	}
	expectQuiet(t, tab1)
}

func TestSendMessage_ErrorsStayWithSender(t *testing.T) {
	h := newHarness(t, convA)
	sender, _ := h.connect(t, userU1)
	peer, _ := h.connect(t, companyC1)

	cases := []struct {
		data any
		want string
	}{
		{SendMessage{ConversationID: "missing", Content: "hi"}, "conversation not found"},
		{SendMessage{ConversationID: convA.ID, Content: "   "}, services.ErrEmptyContent.Error()},
		{SendMessage{Content: "hi"}, "conversationId is required"},
		{"not an object", "invalid send_message payload"},
	}
	for _, tc := range cases {
		emit(t, sender, EventSendMessage, tc.data)
		env := readEvent(t, sender)
		if env.Event != EventError {
			t.Fatalf("event = %q", env.Event)
		}
		var e ErrorEvent
		_ = json.Unmarshal(env.Data, &e)
		if e.Message != tc.want {
			t.Fatalf("message = %q, want %q", e.Message, tc.want)
		}
	}

	h.backend.mu.Lock()
	h.backend.fail = fmt.Errorf("%w: dial tcp", services.ErrStoreUnavailable)
	h.backend.mu.Unlock()
	emit(t, sender, EventSendMessage, SendMessage{ConversationID: convA.ID, Content: "hi"})
	if env := readEvent(t, sender); env.Event != EventError {
		t.Fatalf("store failure: event = %q", env.Event)
	}

	// The connection survives every failure and nobody else heard of them.
	expectQuiet(t, sender)
	expectQuiet(t, peer)
}

func TestUnknownEventAndGarbage(t *testing.T) {
	h := newHarness(t, convA)
	ws, _ := h.connect(t, userU1)

	emit(t, ws, "typing", struct{}{})
	if env := readEvent(t, ws); env.Event != EventError {
		t.Fatalf("event = %q", env.Event)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	if env := readEvent(t, ws); env.Event != EventError {
		t.Fatalf("event = %q", env.Event)
	}
	expectQuiet(t, ws)
}

func TestMetrics_EventLabelsStayBounded(t *testing.T) {
	h := newHarness(t, convA)
	ws, _ := h.connect(t, userU1)

	for i := 0; i < 50; i++ {
		emit(t, ws, fmt.Sprintf("junk-%d", i), struct{}{})
		if env := readEvent(t, ws); env.Event != EventError {
			t.Fatalf("junk-%d: event = %q", i, env.Event)
		}
	}
	emit(t, ws, EventPing, struct{}{})
	if env := readEvent(t, ws); env.Event != EventPong {
		t.Fatalf("ping: event = %q", env.Event)
	}

	if n := testutil.CollectAndCount(h.gw.Metrics.Events); n != 2 {
		t.Fatalf("event series = %d, want 2 (unknown, ping)", n)
	}
	if got := testutil.ToFloat64(h.gw.Metrics.Events.WithLabelValues("unknown")); got != 50 {
		t.Fatalf("unknown = %v", got)
	}
}

func TestConnect_ListFailureSendsErrorBeforeClose(t *testing.T) {
	h := newHarness(t, convA)
	h.backend.listFail = services.ErrStoreUnavailable

	ws, _, err := websocket.DefaultDialer.Dial(h.url("?id=u1&type=user"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	env := readEvent(t, ws)
	var e ErrorEvent
	_ = json.Unmarshal(env.Data, &e)
	if env.Event != EventError || e.Message != "could not load conversations" {
		t.Fatalf("first frame = %s %+v", env.Event, e)
	}
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := ws.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("want normal close after the error, got %v", err)
	}
	if h.gw.Hub.Len() != 0 {
		t.Fatalf("failed connection still attached")
	}
}

func TestDeliver_FromOutsideReachesWholeRoom(t *testing.T) {
	h := newHarness(t, convA)
	user, _ := h.connect(t, userU1)
	company, _ := h.connect(t, companyC1)

	h.gw.Deliver(context.Background(), domain.Message{ID: "m-http", ConversationID: convA.ID, SenderRole: domain.RoleUser, Content: "via REST"}, "")

	for _, ws := range []*websocket.Conn{user, company} {
		env := readEvent(t, ws)
		var d Delivery
		_ = json.Unmarshal(env.Data, &d)
		if env.Event != EventReceiveMessage || d.MessageID != "m-http" {
			t.Fatalf("got %s %+v", env.Event, d)
		}
	}
}

func TestRateLimitPerConnection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := &fakeBackend{convs: []domain.Conversation{convA}}
	hub := NewHub(nil)
	gw := NewServer(Config{EventRate: 0.001, EventBurst: 1}, hub, backend, backend, &auth.Authenticator{DevHeaders: true})
	r := gin.New()
	r.GET("/ws", gw.Handle())
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer gw.Shutdown()

	h := &harness{srv: srv, gw: gw, backend: backend}
	ws, _ := h.connect(t, userU1)

	emit(t, ws, EventPing, struct{}{})
	if env := readEvent(t, ws); env.Event != EventPong {
		t.Fatalf("first event: %q", env.Event)
	}
	emit(t, ws, EventPing, struct{}{})
	env := readEvent(t, ws)
	var e ErrorEvent
	_ = json.Unmarshal(env.Data, &e)
	if env.Event != EventError || !strings.Contains(e.Message, "too many") {
		t.Fatalf("second event: %s %+v", env.Event, e)
	}
}

func TestMetrics_TrackConnections(t *testing.T) {
	h := newHarness(t, convA)
	ws, _ := h.connect(t, userU1)
	if got := testutil.ToFloat64(h.gw.Metrics.Connections); got != 1 {
		t.Fatalf("active = %v", got)
	}
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()

	deadline := time.Now().Add(3 * time.Second)
	for h.gw.Hub.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection not detached")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := testutil.ToFloat64(h.gw.Metrics.Connections); got != 0 {
		t.Fatalf("active after close = %v", got)
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		err    error
		reason string
	}{
		{services.ErrConversationNotFound, "not_found"},
		{services.ErrContentTooLong, "validation"},
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("%w: x", services.ErrStoreUnavailable), "store_unavailable"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if reason, _ := describe(tc.err); reason != tc.reason {
			t.Errorf("describe(%v) = %q, want %q", tc.err, reason, tc.reason)
		}
	}
}
