package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

const pushCols = `id, member_name, endpoint, p256dh_key, auth_key, device_name, created_at`

func (s *PushStore) CreateSubscription(member, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	result, err := s.db.Exec(
		`INSERT INTO push_subscriptions (member_name, member_key, endpoint, p256dh_key, auth_key, device_name)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET member_name = excluded.member_name, member_key = excluded.member_key,
		 p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, device_name = excluded.device_name`,
		member, model.MemberKey(member), endpoint, p256dh, auth, deviceName,
	)
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	id, _ := result.LastInsertId()

	// LastInsertId may be 0 on conflict update; re-query by endpoint
	if id == 0 {
		return s.GetByEndpoint(endpoint)
	}
	return s.GetByID(id)
}

func (s *PushStore) GetByID(id int64) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.QueryRow(
		`SELECT `+pushCols+` FROM push_subscriptions WHERE id = ?`, id,
	).Scan(&sub.ID, &sub.MemberName, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return &sub, nil
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.QueryRow(
		`SELECT `+pushCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint,
	).Scan(&sub.ID, &sub.MemberName, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return &sub, nil
}

func (s *PushStore) ListByMember(member string) ([]model.PushSubscription, error) {
	rows, err := s.db.Query(
		`SELECT `+pushCols+` FROM push_subscriptions WHERE member_key = ? ORDER BY created_at DESC`,
		model.MemberKey(member),
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by member: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *PushStore) ListAll() ([]model.PushSubscription, error) {
	rows, err := s.db.Query(`SELECT ` + pushCols + ` FROM push_subscriptions ORDER BY member_key, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// DeleteForMember removes a subscription only if it belongs to member.
func (s *PushStore) DeleteForMember(member, endpoint string) error {
	_, err := s.db.Exec(
		`DELETE FROM push_subscriptions WHERE endpoint = ? AND member_key = ?`,
		endpoint, model.MemberKey(member),
	)
	if err != nil {
		return fmt.Errorf("delete push subscription: %w", err)
	}
	return nil
}

func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// RecordSent records that a checkpoint reminder went out (for dedup).
func (s *PushStore) RecordSent(member string, p model.Period, t model.SubmissionType) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO reminders_sent (member_key, year, month, submission_type) VALUES (?, ?, ?, ?)`,
		model.MemberKey(member), p.Year, p.Month, t,
	)
	if err != nil {
		return fmt.Errorf("record sent reminder: %w", err)
	}
	return nil
}

// WasSent checks if a checkpoint reminder was already sent.
func (s *PushStore) WasSent(member string, p model.Period, t model.SubmissionType) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM reminders_sent WHERE member_key = ? AND year = ? AND month = ? AND submission_type = ?`,
		model.MemberKey(member), p.Year, p.Month, t,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check sent reminder: %w", err)
	}
	return count > 0, nil
}

// CleanupSent deletes reminder records older than the given time.
func (s *PushStore) CleanupSent(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM reminders_sent WHERE sent_at < ?`, before.UTC())
	if err != nil {
		return fmt.Errorf("cleanup sent reminders: %w", err)
	}
	return nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	for rows.Next() {
		var sub model.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.MemberName, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.DeviceName, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
