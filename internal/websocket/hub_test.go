package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

// mockClient creates a Client with a send channel but no real connection.
func mockClient(hub *Hub) *Client {
	return mockSessionClient(hub, 0)
}

func mockSessionClient(hub *Hub, sessionID int64) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, sendBufferSize),
		sessionID: sessionID,
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)

	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)

	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	hub.Unregister(c2)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestDoubleUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	hub.Unregister(c)
	// Should not panic
	hub.Unregister(c)

	if got := hub.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

func TestBroadcast(t *testing.T) {
	hub := NewHub(slog.Default())

	c1 := mockClient(hub)
	c2 := mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)

	msg := NewMessage(EntitySubmission, ActionCreated, 42, map[string]any{"year": float64(2026)})
	hub.Broadcast(msg)

	// Check both clients received the message
	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got Message
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "submission_created" {
				t.Errorf("expected type submission_created, got %s", got.Type)
			}
			if got.Entity != EntitySubmission {
				t.Errorf("expected entity submission, got %s", got.Entity)
			}
			if got.ID != 42 {
				t.Errorf("expected id 42, got %d", got.ID)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for message")
		}
	}

	hub.Unregister(c1)
	hub.Unregister(c2)
}

func TestBroadcastEmptyHub(t *testing.T) {
	hub := NewHub(slog.Default())
	// Should not panic
	msg := NewMessage(EntityReport, ActionPublished, 1, nil)
	hub.Broadcast(msg)
}

func TestBroadcastFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())

	c := mockClient(hub)
	hub.Register(c)

	// Fill the send buffer
	for i := 0; i < sendBufferSize; i++ {
		hub.Broadcast(NewMessage(EntitySubmission, ActionCreated, int64(i), nil))
	}

	// This should drop the message, not panic or block
	hub.Broadcast(NewMessage(EntitySubmission, ActionDeleted, 999, nil))

	// Drain to verify buffer was full
	count := 0
	for {
		select {
		case <-c.send:
			count++
		default:
			goto done
		}
	}
done:
	if count != sendBufferSize {
		t.Errorf("expected %d messages, got %d", sendBufferSize, count)
	}

	hub.Unregister(c)
}

func TestNewMessage(t *testing.T) {
	msg := NewMessage(EntitySubmission, ActionArchived, 5, nil)
	if msg.Type != "submission_archived" {
		t.Errorf("expected type submission_archived, got %s", msg.Type)
	}
	if msg.Action != ActionArchived {
		t.Errorf("expected action archived, got %s", msg.Action)
	}
	if msg.ID != 5 {
		t.Errorf("expected id 5, got %d", msg.ID)
	}
}

func TestSubmissionMessage(t *testing.T) {
	s := model.Submission{
		ID: 7, MemberName: "Alice", Year: 2026, Month: 3,
		SubmissionType: model.SubmissionEnd, Status: model.StatusActive, DevotionCount: 4,
	}
	msg := SubmissionMessage(ActionCreated, s)

	if msg.Type != "submission_created" || msg.ID != 7 {
		t.Errorf("msg = %+v", msg)
	}
	if msg.Extra["member_name"] != "Alice" || msg.Extra["devotion_count"] != 4 {
		t.Errorf("extra = %v", msg.Extra)
	}
}

func TestReportMessage(t *testing.T) {
	r := model.ReportUpload{ID: 3, Year: 2026, Month: 2, Filename: "x.csv", ErrorMessage: "boom"}
	msg := ReportMessage(ActionFailed, r)

	if msg.Type != "report_failed" {
		t.Errorf("type = %q, want report_failed", msg.Type)
	}
	if msg.Extra["error"] != "boom" {
		t.Errorf("extra = %v", msg.Extra)
	}

	r.ErrorMessage = ""
	if _, ok := ReportMessage(ActionPublished, r).Extra["error"]; ok {
		t.Error("error key should be omitted when empty")
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	// Spawn goroutines that register, broadcast, and unregister concurrently
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Broadcast(NewMessage(EntityReport, ActionPublished, 0, nil))
			// Drain any messages
			for {
				select {
				case <-c.send:
				default:
					hub.Unregister(c)
					return
				}
			}
		}()
	}

	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after concurrent test, got %d", got)
	}
}

func TestDisconnectSession(t *testing.T) {
	hub := NewHub(slog.Default())

	a1 := mockSessionClient(hub, 1)
	a2 := mockSessionClient(hub, 1)
	b := mockSessionClient(hub, 2)
	hub.Register(a1)
	hub.Register(a2)
	hub.Register(b)

	if n := hub.DisconnectSession(1); n != 2 {
		t.Errorf("disconnected = %d, want 2", n)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("expected 1 client, got %d", got)
	}
	if _, ok := <-a1.send; ok {
		t.Error("send channel should be closed")
	}

	// Run's deferred Unregister must not panic after a disconnect
	hub.Unregister(a1)
	hub.Unregister(b)
}
