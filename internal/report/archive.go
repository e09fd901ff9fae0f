// Package report publishes period CSV exports to S3-compatible storage.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/store"
	"github.com/dukerupert/cymtrack/internal/submission"
)

var (
	// ErrNotConfigured is returned when no bucket credentials are set.
	ErrNotConfigured = errors.New("report archive not configured: S3 credentials missing")
	// ErrNotFound is returned when a report upload id does not exist.
	ErrNotFound = errors.New("report not found")
	// ErrPassphraseRequired is returned when an encrypted report is
	// downloaded without a configured passphrase.
	ErrPassphraseRequired = errors.New("report is encrypted and no passphrase is configured")
)

const encryptedSuffix = ".enc"

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds archive configuration.
type Config struct {
	S3 S3Config
	// Passphrase enables encryption when set.
	Passphrase  string
	AutoPublish bool
	// Location renders export dates and decides the first day of a month.
	Location *time.Location
}

// EventCallback is called after every publish attempt.
type EventCallback func(action string, r model.ReportUpload)

const (
	EventPublished = "published"
	EventFailed    = "failed"
)

// Archiver renders period reports and keeps them in a bucket.
type Archiver struct {
	mu       sync.RWMutex
	cfg      Config
	client   s3Client
	subs     *store.SubmissionStore
	reports  *store.ReportStore
	callback EventCallback
	logger   *slog.Logger
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewArchiver creates an archiver. Without bucket credentials every
// operation that touches storage returns ErrNotConfigured.
func NewArchiver(cfg Config, subs *store.SubmissionStore, reports *store.ReportStore, callback EventCallback, logger *slog.Logger) *Archiver {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	a := &Archiver{
		cfg:      cfg,
		subs:     subs,
		reports:  reports,
		callback: callback,
		logger:   logger,
		now:      time.Now,
	}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		a.client = newS3Client(cfg.S3)
	}
	return a
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Configured reports whether a bucket is available.
func (a *Archiver) Configured() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.client != nil
}

// Render builds the CSV export for a period view and returns it with the
// number of data rows.
func (a *Archiver) Render(p model.Period, archived bool) ([]byte, int, error) {
	records, err := a.subs.ListByPeriod(p)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	rows := submission.Filter{Type: submission.TypeAll, Archived: archived}.Apply(records)

	var buf bytes.Buffer
	if err := submission.WriteCSV(&buf, rows, a.cfg.Location); err != nil {
		return nil, 0, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), len(rows), nil
}

// Publish renders the period report, encrypts it when a passphrase is
// configured and uploads it. The upload is tracked in report_uploads.
func (a *Archiver) Publish(ctx context.Context, p model.Period, archived bool) (*model.ReportUpload, error) {
	a.mu.RLock()
	client := a.client
	bucket := a.cfg.S3.Bucket
	passphrase := a.cfg.Passphrase
	a.mu.RUnlock()

	if client == nil {
		return nil, ErrNotConfigured
	}

	filename := submission.ExportFilename(p, archived)
	encrypted := passphrase != ""
	if encrypted {
		filename += encryptedSuffix
	}
	timestamp := a.now().UTC().Format("20060102T150405Z")
	s3Key := fmt.Sprintf("reports/%04d/%02d/%s-%s", p.Year, p.Month, timestamp, filename)

	record, err := a.reports.Create(p, archived, filename, s3Key, encrypted)
	if err != nil {
		return nil, fmt.Errorf("create report record: %w", err)
	}

	data, rows, err := a.Render(p, archived)
	if err != nil {
		return nil, a.fail(record, err)
	}

	if encrypted {
		data, err = Encrypt(data, passphrase)
		if err != nil {
			return nil, a.fail(record, fmt.Errorf("encrypt: %w", err))
		}
	}

	if err := a.reports.UpdateStatus(record.ID, model.ReportStatusUploading, ""); err != nil {
		return nil, a.fail(record, err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(s3Key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType(encrypted)),
	})
	if err != nil {
		return nil, a.fail(record, fmt.Errorf("upload to s3: %w", err))
	}

	if err := a.reports.UpdateCompleted(record.ID, rows, int64(len(data))); err != nil {
		return nil, fmt.Errorf("mark report completed: %w", err)
	}

	done, err := a.reports.GetByID(record.ID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("report published", "id", done.ID, "year", p.Year, "month", p.Month,
		"archived", archived, "rows", rows, "bytes", done.SizeBytes, "encrypted", encrypted)
	a.emit(EventPublished, *done)
	return done, nil
}

func (a *Archiver) fail(record *model.ReportUpload, cause error) error {
	if err := a.reports.UpdateStatus(record.ID, model.ReportStatusFailed, cause.Error()); err != nil {
		a.logger.Error("mark report failed", "id", record.ID, "error", err)
	}
	failed := *record
	failed.Status = model.ReportStatusFailed
	failed.ErrorMessage = cause.Error()
	a.logger.Error("report publish failed", "id", record.ID, "year", record.Year, "month", record.Month, "error", cause)
	a.emit(EventFailed, failed)
	return cause
}

func (a *Archiver) emit(action string, r model.ReportUpload) {
	if a.callback != nil {
		a.callback(action, r)
	}
}

func contentType(encrypted bool) string {
	if encrypted {
		return "application/octet-stream"
	}
	return "text/csv; charset=utf-8"
}

// List returns recent uploads, newest first.
func (a *Archiver) List(limit int) ([]model.ReportUpload, error) {
	return a.reports.List(limit)
}

// Download fetches a published report and returns the plain CSV together
// with its filename.
func (a *Archiver) Download(ctx context.Context, id int64) (string, []byte, error) {
	a.mu.RLock()
	client := a.client
	bucket := a.cfg.S3.Bucket
	passphrase := a.cfg.Passphrase
	a.mu.RUnlock()

	if client == nil {
		return "", nil, ErrNotConfigured
	}

	record, err := a.reports.GetByID(id)
	if err != nil {
		return "", nil, fmt.Errorf("get report: %w", err)
	}
	if record == nil || record.Status != model.ReportStatusCompleted {
		return "", nil, ErrNotFound
	}
	if record.Encrypted && passphrase == "" {
		return "", nil, ErrPassphraseRequired
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.S3Key),
	})
	if err != nil {
		return "", nil, fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return "", nil, fmt.Errorf("read report body: %w", err)
	}

	filename := record.Filename
	if record.Encrypted {
		data, err = Decrypt(data, passphrase)
		if err != nil {
			return "", nil, err
		}
		filename = strings.TrimSuffix(filename, encryptedSuffix)
	}
	return filename, data, nil
}

// Start begins the auto-publish loop when enabled and configured.
func (a *Archiver) Start(ctx context.Context, interval time.Duration) {
	a.mu.Lock()
	if a.client == nil || !a.cfg.AutoPublish {
		a.mu.Unlock()
		return
	}
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	a.mu.Unlock()

	go func() {
		defer close(a.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		a.checkSchedule(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the auto-publish loop.
func (a *Archiver) Stop() {
	a.mu.RLock()
	cancel := a.cancel
	done := a.done
	a.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// checkSchedule publishes the previous period's active report on the first
// day of a month, once.
func (a *Archiver) checkSchedule(ctx context.Context) {
	now := a.now().In(a.cfg.Location)
	if now.Day() != 1 {
		return
	}
	prev := model.PeriodOf(now).Previous()

	existing, err := a.reports.LatestCompleted(prev, false)
	if err != nil {
		a.logger.Error("auto-publish: look up previous report", "error", err)
		return
	}
	if existing != nil {
		return
	}

	if _, err := a.Publish(ctx, prev, false); err != nil {
		a.logger.Error("auto-publish failed", "year", prev.Year, "month", prev.Month, "error", err)
	}
}
