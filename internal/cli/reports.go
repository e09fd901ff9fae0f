package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/cymtrack/internal/reminder"
	"github.com/dukerupert/cymtrack/internal/report"
)

type PublishCmd struct {
	PeriodFlags
	Archived bool `help:"Publish the archived view instead of the active one."`
}

func (c *PublishCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	p, err := ctx.period(c.PeriodFlags)
	if err != nil {
		return err
	}
	a := ctx.archiver()
	if !a.Configured() {
		return report.ErrNotConfigured
	}
	r, err := a.Publish(context.Background(), p, c.Archived)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Published %s (%d rows, %d bytes) to %s\n", r.Filename, r.RowCount, r.SizeBytes, r.S3Key)
	return nil
}

type ReportsCmd struct {
	Limit int `help:"Maximum number of uploads to show." default:"20"`
}

func (c *ReportsCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	uploads, err := ctx.reports.List(c.Limit)
	if err != nil {
		return fmt.Errorf("list reports: %w", err)
	}
	if len(uploads) == 0 {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("No reports published"))
		return nil
	}
	t := newTable("ID", "File", "Status", "Rows", "Encrypted", "Created")
	for _, u := range uploads {
		t.Row(
			strconv.FormatInt(u.ID, 10),
			u.Filename,
			string(u.Status),
			strconv.Itoa(u.RowCount),
			strconv.FormatBool(u.Encrypted),
			u.CreatedAt.In(ctx.location()).Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintln(ctx.Out, t.Render())
	return nil
}

type DownloadCmd struct {
	ID     int64  `arg:"" help:"Report upload ID."`
	Output string `short:"o" help:"Output file. Defaults to the report filename."`
}

func (c *DownloadCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	filename, data, err := ctx.archiver().Download(context.Background(), c.ID)
	if err != nil {
		return err
	}
	path := c.Output
	if path == "" {
		path = filename
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(ctx.Out, "Wrote %s\n", path)
	return nil
}

type HashPasswordCmd struct {
	Password string `arg:"" help:"Admin password to hash."`
}

func (c *HashPasswordCmd) Run(ctx *Context) error {
	if len(c.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	fmt.Fprintf(ctx.Out, "CYM_ADMIN_PASSWORD_HASH=%s\n", hash)
	return nil
}

type VAPIDKeysCmd struct{}

func (c *VAPIDKeysCmd) Run(ctx *Context) error {
	pub, priv, err := reminder.GenerateVAPIDKeys()
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "CYM_VAPID_PUBLIC_KEY=%s\n", pub)
	fmt.Fprintf(ctx.Out, "CYM_VAPID_PRIVATE_KEY=%s\n", priv)
	return nil
}
