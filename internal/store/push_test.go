package store

import (
	"testing"
	"time"

	"github.com/dukerupert/cymtrack/internal/database"
	"github.com/dukerupert/cymtrack/internal/model"
)

func setupPushTestDB(t *testing.T) *PushStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPushStore(db)
}

func TestCreateSubscription(t *testing.T) {
	ps := setupPushTestDB(t)

	sub, err := ps.CreateSubscription("Alice", "https://push.example.com/sub1", "p256dh_key1", "auth_key1", "Chrome Desktop")
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if sub.Endpoint != "https://push.example.com/sub1" {
		t.Errorf("endpoint = %q, want %q", sub.Endpoint, "https://push.example.com/sub1")
	}
	if sub.MemberName != "Alice" {
		t.Errorf("member_name = %q, want %q", sub.MemberName, "Alice")
	}
}

func TestCreateSubscriptionUpsert(t *testing.T) {
	ps := setupPushTestDB(t)

	sub1, _ := ps.CreateSubscription("Alice", "https://push.example.com/sub1", "key1", "auth1", "Device A")
	sub2, err := ps.CreateSubscription("Alice", "https://push.example.com/sub1", "key2", "auth2", "Device B")
	if err != nil {
		t.Fatalf("upsert subscription: %v", err)
	}

	if sub2.ID != sub1.ID {
		t.Errorf("expected same ID on upsert, got %d != %d", sub2.ID, sub1.ID)
	}
	if sub2.P256dhKey != "key2" {
		t.Errorf("p256dh = %q, want %q", sub2.P256dhKey, "key2")
	}
}

func TestListAndDeleteSubscriptions(t *testing.T) {
	ps := setupPushTestDB(t)

	ps.CreateSubscription("Alice", "https://push.example.com/a1", "k", "a", "")
	ps.CreateSubscription("alice", "https://push.example.com/a2", "k", "a", "")
	ps.CreateSubscription("Bob", "https://push.example.com/b1", "k", "a", "")

	subs, err := ps.ListByMember("ALICE")
	if err != nil {
		t.Fatalf("list by member: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("len = %d, want 2", len(subs))
	}

	// Bob cannot remove Alice's subscription
	if err := ps.DeleteForMember("Bob", "https://push.example.com/a1"); err != nil {
		t.Fatalf("delete for member: %v", err)
	}
	if sub, _ := ps.GetByEndpoint("https://push.example.com/a1"); sub == nil {
		t.Error("subscription should survive a delete by another member")
	}

	if err := ps.DeleteForMember("Alice", "https://push.example.com/a1"); err != nil {
		t.Fatalf("delete for member: %v", err)
	}
	if err := ps.DeleteByEndpoint("https://push.example.com/b1"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}

	all, err := ps.ListAll()
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 || all[0].Endpoint != "https://push.example.com/a2" {
		t.Errorf("remaining = %+v, want only a2", all)
	}
}

func TestReminderDedup(t *testing.T) {
	ps := setupPushTestDB(t)
	p := model.Period{Year: 2026, Month: 3}

	sent, err := ps.WasSent("Alice", p, model.SubmissionMid)
	if err != nil {
		t.Fatalf("was sent: %v", err)
	}
	if sent {
		t.Error("expected not sent")
	}

	if err := ps.RecordSent("Alice", p, model.SubmissionMid); err != nil {
		t.Fatalf("record sent: %v", err)
	}
	if err := ps.RecordSent("ALICE", p, model.SubmissionMid); err != nil {
		t.Fatalf("record sent twice: %v", err)
	}

	sent, _ = ps.WasSent("alice", p, model.SubmissionMid)
	if !sent {
		t.Error("expected sent")
	}
	sent, _ = ps.WasSent("alice", p, model.SubmissionEnd)
	if sent {
		t.Error("end reminder should be tracked separately")
	}

	if err := ps.CleanupSent(time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	sent, _ = ps.WasSent("alice", p, model.SubmissionMid)
	if sent {
		t.Error("expected cleanup to remove record")
	}
}
