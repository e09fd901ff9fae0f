package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/submission"
)

// ErrStaleVersion is returned when a record changed between read and write.
var ErrStaleVersion = errors.New("submission was modified concurrently")

// upsertAttempts bounds the read-then-write retries in UpsertByKey.
const upsertAttempts = 3

type SubmissionStore struct {
	db *sql.DB
}

func NewSubmissionStore(db *sql.DB) *SubmissionStore {
	return &SubmissionStore{db: db}
}

func scanSubmission(scanner interface{ Scan(...any) error }) (*model.Submission, error) {
	var s model.Submission
	var status string
	err := scanner.Scan(
		&s.ID, &s.MemberName, &s.Year, &s.Month, &s.SubmissionType,
		&s.DevotionCount, &s.DataJSON, &s.SubmittedAt, &status, &s.Version,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SubmissionStatus(status)
	if s.Status == "" {
		s.Status = model.StatusActive
	}
	return &s, nil
}

const submissionCols = `id, member_name, year, month, submission_type, devotion_count, data_json, submitted_at, status, version, created_at, updated_at`

// recent-first, with id breaking ties between equal timestamps
const submissionOrder = ` ORDER BY submitted_at DESC, id DESC`

func (s *SubmissionStore) querySubmissions(query string, args ...any) ([]model.Submission, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// validate checks a submission before it is written and re-derives its
// devotion count from the payload.
func validate(sub *model.Submission) error {
	if sub.MemberName == "" {
		return errors.New("member name is required")
	}
	if !sub.SubmissionType.Valid() {
		return fmt.Errorf("invalid submission type %q", sub.SubmissionType)
	}
	if !sub.Period().Valid() {
		return fmt.Errorf("invalid period %d-%02d", sub.Year, sub.Month)
	}
	count, err := submission.Recount(*sub)
	if err != nil {
		return err
	}
	sub.DevotionCount = count
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = time.Now().UTC()
	}
	if sub.Status == "" {
		sub.Status = model.StatusActive
	}
	return nil
}

// Create inserts a new record without checking the composite key.
func (s *SubmissionStore) Create(sub model.Submission) (*model.Submission, error) {
	if err := validate(&sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	result, err := s.db.Exec(
		`INSERT INTO submissions (member_name, member_key, year, month, submission_type, devotion_count, data_json, submitted_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.MemberName, model.MemberKey(sub.MemberName), sub.Year, sub.Month, sub.SubmissionType,
		sub.DevotionCount, sub.DataJSON, sub.SubmittedAt.UTC(), sub.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("insert submission: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

// Save overwrites the payload of an existing record. sub.Version must match
// the stored version or ErrStaleVersion is returned.
func (s *SubmissionStore) Save(sub model.Submission) (*model.Submission, error) {
	if err := validate(&sub); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}
	result, err := s.db.Exec(
		`UPDATE submissions SET member_name = ?, member_key = ?, devotion_count = ?, data_json = ?,
		 submitted_at = ?, status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		sub.MemberName, model.MemberKey(sub.MemberName), sub.DevotionCount, sub.DataJSON,
		sub.SubmittedAt.UTC(), sub.Status, sub.ID, sub.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update submission: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrStaleVersion
	}
	return s.GetByID(sub.ID)
}

// UpsertByKey writes sub under its composite key (member case-insensitive,
// year, month, type), updating the most recent existing record or inserting
// a new one. The written record is always active, so resubmitting restores
// an archived record.
func (s *SubmissionStore) UpsertByKey(sub model.Submission) (*model.Submission, error) {
	sub.Status = model.StatusActive

	for attempt := 0; attempt < upsertAttempts; attempt++ {
		existing, err := s.GetByKey(sub.Key())
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return s.Create(sub)
		}

		next := sub
		next.ID = existing.ID
		next.Version = existing.Version
		saved, err := s.Save(next)
		if errors.Is(err, ErrStaleVersion) {
			continue
		}
		return saved, err
	}
	return nil, fmt.Errorf("upsert submission: %w", ErrStaleVersion)
}

// GetByKey returns the most recent record for the composite key, or nil.
func (s *SubmissionStore) GetByKey(key model.SubmissionKey) (*model.Submission, error) {
	row := s.db.QueryRow(
		`SELECT `+submissionCols+` FROM submissions
		 WHERE member_key = ? AND year = ? AND month = ? AND submission_type = ?`+submissionOrder+` LIMIT 1`,
		model.MemberKey(key.MemberName), key.Year, key.Month, key.Type,
	)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission by key: %w", err)
	}
	return sub, nil
}

func (s *SubmissionStore) GetByID(id int64) (*model.Submission, error) {
	row := s.db.QueryRow(`SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

// List returns up to limit records, most recent first. limit <= 0 means no limit.
func (s *SubmissionStore) List(limit int) ([]model.Submission, error) {
	query := `SELECT ` + submissionCols + ` FROM submissions` + submissionOrder
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	subs, err := s.querySubmissions(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

// ListByPeriod returns every record of a period regardless of status.
func (s *SubmissionStore) ListByPeriod(p model.Period) ([]model.Submission, error) {
	subs, err := s.querySubmissions(
		`SELECT `+submissionCols+` FROM submissions WHERE year = ? AND month = ?`+submissionOrder,
		p.Year, p.Month,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions by period: %w", err)
	}
	return subs, nil
}

// ListForMember returns the member's records for a period.
func (s *SubmissionStore) ListForMember(member string, p model.Period) ([]model.Submission, error) {
	subs, err := s.querySubmissions(
		`SELECT `+submissionCols+` FROM submissions WHERE member_key = ? AND year = ? AND month = ?`+submissionOrder,
		model.MemberKey(member), p.Year, p.Month,
	)
	if err != nil {
		return nil, fmt.Errorf("list submissions for member: %w", err)
	}
	return subs, nil
}

// ListMembers returns the distinct member names seen in a period.
func (s *SubmissionStore) ListMembers(p model.Period) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT member_name FROM submissions WHERE year = ? AND month = ?
		 GROUP BY member_key ORDER BY member_key`,
		p.Year, p.Month,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan member name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SetStatus archives or restores a record. Returns nil if it does not exist.
func (s *SubmissionStore) SetStatus(id int64, status model.SubmissionStatus) (*model.Submission, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	result, err := s.db.Exec(
		`UPDATE submissions SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, id,
	)
	if err != nil {
		return nil, fmt.Errorf("set submission status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

func (s *SubmissionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM submissions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	return nil
}
