package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbd888/guardianshield/internal/txlog"
)

func testHub(opts ...HubOption) *Hub {
	return NewHub(slog.Default(), opts...)
}

func assessment(userID, decision string, score int) *txlog.Record {
	return &txlog.Record{
		ID:        "txn_test",
		UserID:    userID,
		Amount:    75000,
		Merchant:  "kyc update services",
		RiskScore: score,
		Decision:  decision,
		Reasons:   []string{},
		CreatedAt: time.Now().UTC(),
	}
}

func assessmentEvent(userID, decision string, score int) *Event {
	return &Event{Type: EventAssessment, Data: assessment(userID, decision, score)}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true, Decisions: []string{"BLOCK"}}}

	if !h.shouldSend(client, assessmentEvent("u1", "SAFE", 0)) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{EventTypes: []EventType{"other"}}}

	if h.shouldSend(client, assessmentEvent("u1", "SAFE", 0)) {
		t.Error("Should NOT receive assessment events")
	}
	if !h.shouldSend(client, &Event{Type: "other"}) {
		t.Error("Should receive subscribed type")
	}
}

func TestShouldSend_UserFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{UserIDs: []string{"user_123"}}}

	if !h.shouldSend(client, assessmentEvent("user_123", "SAFE", 0)) {
		t.Error("Should match watched user")
	}
	if h.shouldSend(client, assessmentEvent("user_999", "SAFE", 0)) {
		t.Error("Should NOT match other users")
	}
}

func TestShouldSend_DecisionFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{Decisions: []string{"BLOCK", "CHALLENGE"}}}

	if !h.shouldSend(client, assessmentEvent("u1", "BLOCK", 98)) {
		t.Error("Should receive BLOCK")
	}
	if !h.shouldSend(client, assessmentEvent("u1", "CHALLENGE", 75)) {
		t.Error("Should receive CHALLENGE")
	}
	if h.shouldSend(client, assessmentEvent("u1", "SAFE", 5)) {
		t.Error("Should NOT receive SAFE")
	}
}

func TestShouldSend_MinRiskScore(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinRiskScore: 41}}

	if !h.shouldSend(client, assessmentEvent("u1", "CAUTION", 41)) {
		t.Error("Bound is inclusive")
	}
	if h.shouldSend(client, assessmentEvent("u1", "SAFE", 40)) {
		t.Error("Should NOT receive lower scores")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, assessmentEvent("u1", "SAFE", 0)) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_NonRecordData(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{UserIDs: []string{"u1"}}}

	event := &Event{Type: EventAssessment, Data: "string data"}
	if !h.shouldSend(client, event) {
		t.Error("Record filters should not apply to other payloads")
	}
}

func TestCheckOrigin(t *testing.T) {
	h := testHub(WithAllowedOrigins("http://localhost:3000"))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://api.example.com", true},
		{"http://localhost:3000", true},
		{"http://evil.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients, got %d", stats.ConnectedClients)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("Expected 0 total events, got %d", stats.TotalEvents)
	}
}

func TestHub_PublishAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.PublishAssessment(assessment("u1", "SAFE", 0))
	time.Sleep(50 * time.Millisecond)

	if got := h.Stats().TotalEvents; got != 1 {
		t.Errorf("Expected 1 total event, got %d", got)
	}
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := testHub()

	// Nobody is draining the broadcast channel.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.PublishAssessment(assessment("u1", "SAFE", 0))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PublishAssessment blocked")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats.ConnectedClients != 1 {
		t.Errorf("Expected 1 connected client, got %d", stats.ConnectedClients)
	}
	if stats.PeakClients != 1 {
		t.Errorf("Expected peak 1, got %d", stats.PeakClients)
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", stats.ConnectedClients)
	}
	if stats.PeakClients != 1 {
		t.Errorf("Expected peak still 1, got %d", stats.PeakClients)
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{Decisions: []string{"BLOCK"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.PublishAssessment(assessment("u1", "SAFE", 0))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive SAFE assessment")
	default:
	}

	h.PublishAssessment(assessment("u1", "BLOCK", 98))

	select {
	case msg := <-client.send:
		var ev struct {
			Type EventType    `json:"type"`
			Data txlog.Record `json:"data"`
		}
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if ev.Type != EventAssessment || ev.Data.RiskScore != 98 {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Client should receive BLOCK assessment")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_RejectsUpgradeAfterStop(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestHub_WebSocketEndToEnd(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(Subscription{UserIDs: []string{"user_123"}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Stats().ConnectedClients == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give the read pump a moment to apply the subscription.
	time.Sleep(50 * time.Millisecond)

	h.PublishAssessment(assessment("someone_else", "BLOCK", 98))
	h.PublishAssessment(assessment("user_123", "CAUTION", 55))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type EventType    `json:"type"`
		Data txlog.Record `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read: %v", err)
	}
	if ev.Data.UserID != "user_123" || ev.Data.Decision != "CAUTION" {
		t.Errorf("expected the subscribed user's assessment, got %+v", ev.Data)
	}
}
