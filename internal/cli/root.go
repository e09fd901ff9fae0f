package cli

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dukerupert/cymtrack/internal/config"
	"github.com/dukerupert/cymtrack/internal/database"
	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/report"
	"github.com/dukerupert/cymtrack/internal/store"
)

// Context carries what every command needs. Storage is opened lazily so that
// commands such as hash-password work without a configured environment.
type Context struct {
	Out    io.Writer
	Logger *slog.Logger

	// LoadConfig is replaced in tests.
	LoadConfig func() (*config.Config, error)
	Now        func() time.Time

	cfg         *config.Config
	db          *sql.DB
	submissions *store.SubmissionStore
	reports     *store.ReportStore
}

// Open loads configuration and the database on first use.
func (c *Context) Open() error {
	if c.db != nil {
		return nil
	}
	cfg, err := c.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	c.cfg = cfg
	c.db = db
	c.submissions = store.NewSubmissionStore(db)
	c.reports = store.NewReportStore(db)
	return nil
}

func (c *Context) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Context) location() *time.Location {
	if c.cfg != nil && c.cfg.Location != nil {
		return c.cfg.Location
	}
	return time.UTC
}

func (c *Context) archiver() *report.Archiver {
	return report.NewArchiver(report.Config{
		S3: report.S3Config{
			Endpoint:  c.cfg.S3.Endpoint,
			Bucket:    c.cfg.S3.Bucket,
			Region:    c.cfg.S3.Region,
			AccessKey: c.cfg.S3.AccessKey,
			SecretKey: c.cfg.S3.SecretKey,
		},
		Passphrase: c.cfg.ReportPassphrase,
		Location:   c.location(),
	}, c.submissions, c.reports, nil, c.Logger)
}

// PeriodFlags selects a reporting period. Zero values mean the current month.
type PeriodFlags struct {
	Year  int `help:"Report year (defaults to the current year)."`
	Month int `help:"Report month 1-12 (defaults to the current month)."`
}

func (f PeriodFlags) resolve(now time.Time) (model.Period, error) {
	p := model.PeriodOf(now)
	if f.Year != 0 {
		p.Year = f.Year
	}
	if f.Month != 0 {
		p.Month = f.Month
	}
	if !p.Valid() {
		return model.Period{}, fmt.Errorf("invalid period %d-%02d", p.Year, p.Month)
	}
	return p, nil
}

func (c *Context) period(f PeriodFlags) (model.Period, error) {
	return f.resolve(c.Now().In(c.location()))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerCell = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	bodyCell   = lipgloss.NewStyle().Padding(0, 1)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return bodyCell
		})
}

func periodLabel(p model.Period) string {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).Format("January 2006")
}
