package submission

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

const exportDateLayout = "2006-01-02"

var noteReplacer = strings.NewReplacer(",", ";", "\r\n", " ", "\n", " ", "\r", " ")

// SanitizeNote makes a note safe for the unquoted CSV format.
func SanitizeNote(s string) string {
	return noteReplacer.Replace(s)
}

// ExportFilename names the CSV for a period and archive view.
func ExportFilename(p model.Period, archived bool) string {
	view := "active"
	if archived {
		view = "archived"
	}
	return fmt.Sprintf("cym_report_%d_%d_%s.csv", p.Year, p.Month, view)
}

// ExportHeader returns the CSV column names in order.
func ExportHeader() []string {
	cols := []string{"Name", "Status", "Type", "Devotion Count"}
	for _, k := range model.MeetingKeys {
		cols = append(cols, string(k)+" Count", string(k)+" Notes")
	}
	return append(cols, "Submitted At", "Year", "Month")
}

// ExportRow renders one record. Submission dates are shown in loc.
func ExportRow(sum Summary, loc *time.Location) []string {
	if loc == nil {
		loc = time.UTC
	}
	status := string(sum.Status)
	if status == "" {
		status = string(model.StatusActive)
	}
	row := []string{
		sum.MemberName,
		status,
		string(sum.SubmissionType),
		strconv.Itoa(sum.DevotionCount),
	}
	for _, k := range model.MeetingKeys {
		count := "-"
		if c := sum.MeetingCounts[k]; c != nil {
			count = strconv.Itoa(*c)
		}
		row = append(row, count, SanitizeNote(sum.MeetingNotes[k]))
	}
	return append(row,
		sum.SubmittedAt.In(loc).Format(exportDateLayout),
		strconv.Itoa(sum.Year),
		strconv.Itoa(sum.Month),
	)
}

// WriteCSV writes the header and one line per record. Fields are joined with
// commas without quoting and lines end without a trailing newline.
func WriteCSV(w io.Writer, records []model.Submission, loc *time.Location) error {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, strings.Join(ExportHeader(), ","))
	for _, sum := range Summarize(records) {
		lines = append(lines, strings.Join(ExportRow(sum, loc), ","))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
