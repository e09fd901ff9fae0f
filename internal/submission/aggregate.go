package submission

import (
	"fmt"

	"github.com/dukerupert/cymtrack/internal/model"
)

type TypeFilter string

const (
	TypeAll TypeFilter = "all"
	TypeMid TypeFilter = "mid"
	TypeEnd TypeFilter = "end"
)

// ParseTypeFilter accepts "", "all", "mid" or "end".
func ParseTypeFilter(s string) (TypeFilter, error) {
	switch TypeFilter(s) {
	case "", TypeAll:
		return TypeAll, nil
	case TypeMid, TypeEnd:
		return TypeFilter(s), nil
	default:
		return "", fmt.Errorf("invalid type filter %q", s)
	}
}

// Filter selects records for the admin listing and CSV export.
type Filter struct {
	Type     TypeFilter
	Archived bool
}

func (f Filter) Match(s model.Submission) bool {
	if s.Archived() != f.Archived {
		return false
	}
	switch f.Type {
	case TypeMid:
		return s.SubmissionType == model.SubmissionMid
	case TypeEnd:
		return s.SubmissionType == model.SubmissionEnd
	default:
		return true
	}
}

// Apply returns the records matching f, preserving order.
func (f Filter) Apply(records []model.Submission) []model.Submission {
	out := make([]model.Submission, 0, len(records))
	for _, r := range records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

type Stats struct {
	Total           int `json:"total"`
	AvgDevotion     int `json:"avg_devotion"`
	HighestDevotion int `json:"highest_devotion"`
}

// ComputeStats summarises the active records of a period. Archived records
// never contribute and the type filter of the listing is not applied.
func ComputeStats(records []model.Submission) Stats {
	var st Stats
	sum := 0
	for _, r := range records {
		if r.Archived() {
			continue
		}
		st.Total++
		sum += r.DevotionCount
		if r.DevotionCount > st.HighestDevotion {
			st.HighestDevotion = r.DevotionCount
		}
	}
	if st.Total > 0 {
		st.AvgDevotion = (2*sum + st.Total) / (2 * st.Total)
	}
	return st
}

// Summary is one record with its per-meeting figures resolved for display.
// MeetingCounts has nil entries for mid records and unreadable payloads.
type Summary struct {
	model.Submission
	MeetingCounts map[model.MeetingKey]*int  `json:"meeting_counts"`
	MeetingNotes  map[model.MeetingKey]string `json:"meeting_notes"`
}

// Summarize decodes each record once and resolves its meeting figures.
func Summarize(records []model.Submission) []Summary {
	out := make([]Summary, 0, len(records))
	for _, r := range records {
		out = append(out, summarize(r))
	}
	return out
}

func summarize(r model.Submission) Summary {
	sum := Summary{
		Submission:    r,
		MeetingCounts: make(map[model.MeetingKey]*int, len(model.MeetingKeys)),
		MeetingNotes:  make(map[model.MeetingKey]string, len(model.MeetingKeys)),
	}
	for _, k := range model.MeetingKeys {
		sum.MeetingCounts[k] = nil
		sum.MeetingNotes[k] = ""
	}
	if r.SubmissionType != model.SubmissionEnd {
		return sum
	}
	p, err := ParsePayload(r.SubmissionType, r.DataJSON)
	if err != nil {
		return sum
	}
	end := p.(EndPayload)
	for _, k := range model.MeetingKeys {
		n := end.Meetings[k].Present()
		sum.MeetingCounts[k] = &n
		sum.MeetingNotes[k] = end.Notes[k]
	}
	return sum
}

// MeetingCount returns the number of present slots for k. ok is false for
// mid records and records whose payload cannot be read.
func MeetingCount(s model.Submission, k model.MeetingKey) (n int, ok bool) {
	c := summarize(s).MeetingCounts[k]
	if c == nil {
		return 0, false
	}
	return *c, true
}

// MeetingNote returns the note for k, or "" when none applies.
func MeetingNote(s model.Submission, k model.MeetingKey) string {
	return summarize(s).MeetingNotes[k]
}
