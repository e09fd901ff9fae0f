package submission

import "github.com/dukerupert/cymtrack/internal/model"

// Covers reports whether day falls in the range a submission of type t reports on.
func Covers(t model.SubmissionType, day int, period model.Period) bool {
	if day < 1 {
		return false
	}
	switch t {
	case model.SubmissionMid:
		return day <= model.MidCutoffDay
	case model.SubmissionEnd:
		return day <= period.DaysInMonth()
	default:
		return false
	}
}

// DevotionCount counts practiced days inside the range covered by t.
func DevotionCount(devotions model.DevotionMap, t model.SubmissionType, period model.Period) int {
	n := 0
	for day, v := range devotions {
		if v && Covers(t, day, period) {
			n++
		}
	}
	return n
}

// Recount re-derives the devotion count of a stored submission from its payload.
func Recount(s model.Submission) (int, error) {
	p, err := ParsePayload(s.SubmissionType, s.DataJSON)
	if err != nil {
		return 0, err
	}
	return DevotionCount(p.DevotionDays(), s.SubmissionType, s.Period()), nil
}
