package model

import (
	"strings"
	"time"
)

type SubmissionType string

const (
	SubmissionMid SubmissionType = "mid"
	SubmissionEnd SubmissionType = "end"
)

func (t SubmissionType) Valid() bool {
	return t == SubmissionMid || t == SubmissionEnd
}

type SubmissionStatus string

const (
	StatusActive   SubmissionStatus = "active"
	StatusArchived SubmissionStatus = "archived"
)

func (s SubmissionStatus) Valid() bool {
	return s == StatusActive || s == StatusArchived
}

// MidCutoffDay is the last devotion day covered by a mid-month checkpoint.
const MidCutoffDay = 15

// WeeksPerMonth is the fixed number of attendance slots per meeting.
const WeeksPerMonth = 5

// Period identifies a reporting cycle.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// DaysInMonth is derived from the calendar, never stored.
func (p Period) DaysInMonth() int {
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (p Period) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 2000 && p.Year <= 2100
}

// Previous returns the period immediately before p.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Year: p.Year - 1, Month: 12}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

type MeetingKey string

const (
	MeetingW12Discipleship  MeetingKey = "w12_discipleship"
	MeetingCellGroup        MeetingKey = "cell_group"
	MeetingW12Meeting       MeetingKey = "w12_meeting"
	MeetingSundayServices   MeetingKey = "sunday_services"
	MeetingCYMNight         MeetingKey = "cym_night"
	MeetingThursdayTraining MeetingKey = "thursday_training"
	MeetingPrayerMeeting    MeetingKey = "prayer_meeting"
)

// MeetingKeys lists every meeting in canonical display and export order.
var MeetingKeys = []MeetingKey{
	MeetingW12Discipleship,
	MeetingCellGroup,
	MeetingW12Meeting,
	MeetingSundayServices,
	MeetingCYMNight,
	MeetingThursdayTraining,
	MeetingPrayerMeeting,
}

var meetingLabels = map[MeetingKey]string{
	MeetingW12Discipleship:  "W12 Discipleship",
	MeetingCellGroup:        "Cell Group",
	MeetingW12Meeting:       "W12 Meeting",
	MeetingSundayServices:   "Sunday Services",
	MeetingCYMNight:         "CYM Night",
	MeetingThursdayTraining: "Thursday Training",
	MeetingPrayerMeeting:    "Prayer Meeting",
}

func (k MeetingKey) Label() string {
	if l, ok := meetingLabels[k]; ok {
		return l
	}
	return string(k)
}

func (k MeetingKey) Valid() bool {
	_, ok := meetingLabels[k]
	return ok
}

type Slot int

const (
	SlotUnset   Slot = 0
	SlotPresent Slot = 1
	SlotAbsent  Slot = 2
)

// AttendanceRecord holds one slot per week-of-month, independent of how many
// weeks the month actually has.
type AttendanceRecord [WeeksPerMonth]Slot

// Present counts slots marked present.
func (a AttendanceRecord) Present() int {
	n := 0
	for _, s := range a {
		if s == SlotPresent {
			n++
		}
	}
	return n
}

// Absent counts slots marked absent.
func (a AttendanceRecord) Absent() int {
	n := 0
	for _, s := range a {
		if s == SlotAbsent {
			n++
		}
	}
	return n
}

// DevotionMap maps day-of-month to "practiced". A missing day means not marked.
type DevotionMap map[int]bool

// Count returns the number of days marked as practiced.
func (m DevotionMap) Count() int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

type MeetingGrid map[MeetingKey]AttendanceRecord

// NewMeetingGrid returns a grid with every meeting key present and unset.
func NewMeetingGrid() MeetingGrid {
	g := make(MeetingGrid, len(MeetingKeys))
	for _, k := range MeetingKeys {
		g[k] = AttendanceRecord{}
	}
	return g
}

type MeetingNotes map[MeetingKey]string

// SubmissionKey is the composite business identity of a submission.
type SubmissionKey struct {
	MemberName string
	Period
	Type SubmissionType
}

// MemberKey normalizes a member name for case-insensitive comparison.
func MemberKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// SameMember reports whether two member names identify the same person.
func SameMember(a, b string) bool {
	return MemberKey(a) == MemberKey(b)
}

type Submission struct {
	ID             int64            `json:"id"`
	MemberName     string           `json:"member_name"`
	Year           int              `json:"year"`
	Month          int              `json:"month"`
	SubmissionType SubmissionType   `json:"submission_type"`
	DevotionCount  int              `json:"devotion_count"`
	DataJSON       string           `json:"data_json"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	Status         SubmissionStatus `json:"status"`
	Version        int64            `json:"version"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (s Submission) Period() Period {
	return Period{Year: s.Year, Month: s.Month}
}

func (s Submission) Key() SubmissionKey {
	return SubmissionKey{MemberName: s.MemberName, Period: s.Period(), Type: s.SubmissionType}
}

// Archived treats an empty status as active.
func (s Submission) Archived() bool {
	return s.Status == StatusArchived
}
