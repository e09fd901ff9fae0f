package submission

import (
	"log/slog"

	"github.com/dukerupert/cymtrack/internal/model"
)

// LockState records which checkpoints have been submitted for a member's period.
type LockState struct {
	MidLocked bool `json:"mid_locked"`
	EndLocked bool `json:"end_locked"`
}

// WorkingView is the editable representation of a member's period, derived
// fresh from the 0-2 stored submissions.
type WorkingView struct {
	MemberName  string             `json:"member_name"`
	Period      model.Period       `json:"period"`
	DaysInMonth int                `json:"days_in_month"`
	Devotions   model.DevotionMap  `json:"devotions"`
	Meetings    model.MeetingGrid  `json:"meetings"`
	Notes       model.MeetingNotes `json:"meeting_notes"`
	Lock        LockState          `json:"lock"`
}

// Merge reduces the member's records for period into a working view. records
// may contain other members and periods; they are ignored. Running Merge
// twice over the same records yields the same view.
func Merge(member string, period model.Period, records []model.Submission) WorkingView {
	days := period.DaysInMonth()
	view := WorkingView{
		MemberName:  member,
		Period:      period,
		DaysInMonth: days,
		Devotions:   make(model.DevotionMap),
		Meetings:    model.NewMeetingGrid(),
		Notes:       make(model.MeetingNotes),
	}

	mid, hasMid := latestOfType(member, period, model.SubmissionMid, records)
	end, hasEnd := latestOfType(member, period, model.SubmissionEnd, records)

	view.Lock = LockState{MidLocked: hasMid, EndLocked: hasEnd}

	if hasMid {
		if p, ok := parseForMerge(mid); ok {
			for day, v := range p.DevotionDays() {
				if day <= model.MidCutoffDay && day <= days {
					view.Devotions[day] = v
				}
			}
		}
	}

	if hasEnd {
		if p, ok := parseForMerge(end); ok {
			endPayload := p.(EndPayload)
			for day, v := range endPayload.Devotions {
				if day <= days {
					view.Devotions[day] = v
				}
			}
			for k, rec := range endPayload.Meetings {
				view.Meetings[k] = rec
			}
			for k, note := range endPayload.Notes {
				view.Notes[k] = note
			}
		}
	}

	return view
}

// LockStateFor derives the lock state without decoding payloads.
func LockStateFor(member string, period model.Period, records []model.Submission) LockState {
	_, hasMid := latestOfType(member, period, model.SubmissionMid, records)
	_, hasEnd := latestOfType(member, period, model.SubmissionEnd, records)
	return LockState{MidLocked: hasMid, EndLocked: hasEnd}
}

// latestOfType picks the most recently submitted record of type t. More than
// one match breaks the composite-key invariant; the anomaly is logged and the
// older records are ignored.
func latestOfType(member string, period model.Period, t model.SubmissionType, records []model.Submission) (model.Submission, bool) {
	var (
		best  model.Submission
		found int
	)
	for _, r := range records {
		if r.SubmissionType != t || r.Period() != period || !model.SameMember(r.MemberName, member) {
			continue
		}
		found++
		if found == 1 || newer(r, best) {
			best = r
		}
	}
	if found > 1 {
		slog.Warn("duplicate submissions for composite key",
			"member", member, "year", period.Year, "month", period.Month,
			"type", t, "count", found, "kept_id", best.ID)
	}
	return best, found > 0
}

func newer(a, b model.Submission) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.ID > b.ID
}

func parseForMerge(s model.Submission) (Payload, bool) {
	p, err := ParsePayload(s.SubmissionType, s.DataJSON)
	if err != nil {
		slog.Warn("ignoring unreadable submission payload", "id", s.ID, "type", s.SubmissionType, "error", err)
		return nil, false
	}
	return p, true
}
