package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/submission"
)

type ListCmd struct {
	PeriodFlags
	Type     string `help:"Submission type filter." enum:"all,mid,end" default:"all"`
	Archived bool   `help:"List archived records instead of active ones."`
}

func (c *ListCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	p, err := ctx.period(c.PeriodFlags)
	if err != nil {
		return err
	}
	typ, err := submission.ParseTypeFilter(c.Type)
	if err != nil {
		return err
	}

	records, err := ctx.submissions.ListByPeriod(p)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	rows := submission.Filter{Type: typ, Archived: c.Archived}.Apply(records)

	fmt.Fprintln(ctx.Out, titleStyle.Render(periodLabel(p)))
	if len(rows) == 0 {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("No submissions found"))
		return nil
	}

	t := newTable("ID", "Name", "Type", "Status", "Devotions", "Submitted")
	for _, r := range rows {
		t.Row(
			strconv.FormatInt(r.ID, 10),
			r.MemberName,
			string(r.SubmissionType),
			string(r.Status),
			strconv.Itoa(r.DevotionCount),
			r.SubmittedAt.In(ctx.location()).Format("2006-01-02 15:04"),
		)
	}
	fmt.Fprintln(ctx.Out, t.Render())
	return nil
}

type StatsCmd struct {
	PeriodFlags
}

func (c *StatsCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	p, err := ctx.period(c.PeriodFlags)
	if err != nil {
		return err
	}
	records, err := ctx.submissions.ListByPeriod(p)
	if err != nil {
		return fmt.Errorf("list submissions: %w", err)
	}
	st := submission.ComputeStats(records)

	fmt.Fprintln(ctx.Out, titleStyle.Render(periodLabel(p)))
	t := newTable("Submissions", "Average devotions", "Highest devotions")
	t.Row(strconv.Itoa(st.Total), strconv.Itoa(st.AvgDevotion), strconv.Itoa(st.HighestDevotion))
	fmt.Fprintln(ctx.Out, t.Render())
	return nil
}

type ExportCmd struct {
	PeriodFlags
	Archived bool   `help:"Export archived records instead of active ones."`
	Output   string `short:"o" help:"Output file. Defaults to the standard report filename; '-' writes to stdout."`
}

func (c *ExportCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	p, err := ctx.period(c.PeriodFlags)
	if err != nil {
		return err
	}
	data, rows, err := ctx.archiver().Render(p, c.Archived)
	if err != nil {
		return err
	}

	if c.Output == "-" {
		_, err := ctx.Out.Write(data)
		return err
	}
	path := c.Output
	if path == "" {
		path = submission.ExportFilename(p, c.Archived)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(ctx.Out, "Wrote %d rows to %s\n", rows, path)
	return nil
}

type ViewCmd struct {
	ID int64 `arg:"" help:"Submission ID."`
}

func (c *ViewCmd) Run(ctx *Context) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	s, err := ctx.submissions.GetByID(c.ID)
	if err != nil {
		return fmt.Errorf("get submission: %w", err)
	}
	if s == nil {
		return fmt.Errorf("submission %d not found", c.ID)
	}

	fmt.Fprintln(ctx.Out, titleStyle.Render(fmt.Sprintf("%s - %s (%s)", s.MemberName, periodLabel(s.Period()), s.SubmissionType)))
	fmt.Fprintf(ctx.Out, "Status:    %s\n", s.Status)
	fmt.Fprintf(ctx.Out, "Devotions: %d\n", s.DevotionCount)
	fmt.Fprintf(ctx.Out, "Submitted: %s\n", s.SubmittedAt.In(ctx.location()).Format("2006-01-02 15:04 MST"))

	payload, err := submission.ParsePayload(s.SubmissionType, s.DataJSON)
	if err != nil {
		fmt.Fprintln(ctx.Out, mutedStyle.Render("Payload could not be read"))
		return nil
	}
	end, ok := payload.(submission.EndPayload)
	if !ok {
		return nil
	}

	t := newTable("Meeting", "Present", "Absent", "Note")
	for _, k := range model.MeetingKeys {
		rec := end.Meetings[k]
		t.Row(k.Label(), strconv.Itoa(rec.Present()), strconv.Itoa(rec.Absent()), end.Notes[k])
	}
	fmt.Fprintln(ctx.Out, t.Render())
	return nil
}

type ArchiveCmd struct {
	ID int64 `arg:"" help:"Submission ID."`
}

func (c *ArchiveCmd) Run(ctx *Context) error {
	return setStatus(ctx, c.ID, model.StatusArchived)
}

type RestoreCmd struct {
	ID int64 `arg:"" help:"Submission ID."`
}

func (c *RestoreCmd) Run(ctx *Context) error {
	return setStatus(ctx, c.ID, model.StatusActive)
}

func setStatus(ctx *Context, id int64, status model.SubmissionStatus) error {
	if err := ctx.Open(); err != nil {
		return err
	}
	s, err := ctx.submissions.SetStatus(id, status)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("submission %d not found", id)
	}
	fmt.Fprintf(ctx.Out, "Submission %d (%s, %s) is now %s\n", s.ID, s.MemberName, s.SubmissionType, s.Status)
	return nil
}

var errConfirmRequired = errors.New("refusing to delete without --yes")

type DeleteCmd struct {
	ID  int64 `arg:"" help:"Submission ID."`
	Yes bool  `short:"y" help:"Confirm permanent deletion."`
}

func (c *DeleteCmd) Run(ctx *Context) error {
	if !c.Yes {
		return errConfirmRequired
	}
	if err := ctx.Open(); err != nil {
		return err
	}
	s, err := ctx.submissions.GetByID(c.ID)
	if err != nil {
		return fmt.Errorf("get submission: %w", err)
	}
	if s == nil {
		return fmt.Errorf("submission %d not found", c.ID)
	}
	if err := ctx.submissions.Delete(c.ID); err != nil {
		return err
	}
	fmt.Fprintf(ctx.Out, "Deleted submission %d (%s, %s)\n", s.ID, s.MemberName, s.SubmissionType)
	return nil
}
