package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

type ReportStore struct {
	db *sql.DB
}

func NewReportStore(db *sql.DB) *ReportStore {
	return &ReportStore{db: db}
}

func scanReport(scanner interface{ Scan(...any) error }) (*model.ReportUpload, error) {
	var r model.ReportUpload
	var archived, encrypted int
	var completedAt sql.NullTime
	err := scanner.Scan(
		&r.ID, &r.Year, &r.Month, &archived, &r.Filename, &r.S3Key, &encrypted,
		&r.RowCount, &r.SizeBytes, &r.Status, &r.ErrorMessage, &completedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Archived = archived != 0
	r.Encrypted = encrypted != 0
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return &r, nil
}

const reportCols = `id, year, month, archived, filename, s3_key, encrypted, row_count, size_bytes, status, error_message, completed_at, created_at, updated_at`

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *ReportStore) Create(p model.Period, archived bool, filename, s3Key string, encrypted bool) (*model.ReportUpload, error) {
	result, err := s.db.Exec(
		`INSERT INTO report_uploads (year, month, archived, filename, s3_key, encrypted, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Year, p.Month, boolInt(archived), filename, s3Key, boolInt(encrypted), model.ReportStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("create report upload: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ReportStore) GetByID(id int64) (*model.ReportUpload, error) {
	row := s.db.QueryRow(`SELECT `+reportCols+` FROM report_uploads WHERE id = ?`, id)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report upload %d: %w", id, err)
	}
	return r, nil
}

// List returns the most recent uploads first.
func (s *ReportStore) List(limit int) ([]model.ReportUpload, error) {
	rows, err := s.db.Query(
		`SELECT `+reportCols+` FROM report_uploads ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list report uploads: %w", err)
	}
	defer rows.Close()

	var reports []model.ReportUpload
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report upload: %w", err)
		}
		reports = append(reports, *r)
	}
	return reports, rows.Err()
}

// LatestCompleted returns the newest completed upload for a period and view, or nil.
func (s *ReportStore) LatestCompleted(p model.Period, archived bool) (*model.ReportUpload, error) {
	row := s.db.QueryRow(
		`SELECT `+reportCols+` FROM report_uploads
		 WHERE year = ? AND month = ? AND archived = ? AND status = ?
		 ORDER BY completed_at DESC, id DESC LIMIT 1`,
		p.Year, p.Month, boolInt(archived), model.ReportStatusCompleted,
	)
	r, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed report: %w", err)
	}
	return r, nil
}

func (s *ReportStore) UpdateStatus(id int64, status model.ReportStatus, errorMsg string) error {
	_, err := s.db.Exec(
		`UPDATE report_uploads SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, errorMsg, id,
	)
	if err != nil {
		return fmt.Errorf("update report status: %w", err)
	}
	return nil
}

func (s *ReportStore) UpdateCompleted(id int64, rowCount int, sizeBytes int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE report_uploads SET status = ?, row_count = ?, size_bytes = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		model.ReportStatusCompleted, rowCount, sizeBytes, now, id,
	)
	if err != nil {
		return fmt.Errorf("update report completed: %w", err)
	}
	return nil
}
