package submission

import (
	"errors"

	"github.com/dukerupert/cymtrack/internal/model"
)

// ErrCheckpointLocked is returned when a checkpoint that is already frozen is
// submitted again.
var ErrCheckpointLocked = errors.New("checkpoint already submitted")

type Field int

const (
	FieldDevotion Field = iota
	FieldMeeting
	FieldMeetingNote
)

// IsEditable reports whether a field may still change. day is only consulted
// for devotion fields.
//
//	days 1..15          editable until mid or end is submitted
//	days 16..end        editable until end is submitted
//	meetings and notes  editable until end is submitted
func IsEditable(f Field, day int, lock LockState) bool {
	if lock.EndLocked {
		return false
	}
	switch f {
	case FieldDevotion:
		if day <= model.MidCutoffDay {
			return !lock.MidLocked
		}
		return true
	case FieldMeeting, FieldMeetingNote:
		return true
	default:
		return false
	}
}

// CanSubmit reports whether checkpoint t may still be submitted. A mid
// checkpoint cannot follow an end checkpoint; end without mid is allowed.
func (l LockState) CanSubmit(t model.SubmissionType) error {
	switch t {
	case model.SubmissionMid:
		if l.MidLocked || l.EndLocked {
			return ErrCheckpointLocked
		}
	case model.SubmissionEnd:
		if l.EndLocked {
			return ErrCheckpointLocked
		}
	}
	return nil
}

// Editability summarises the lock policy for clients rendering the calendar.
type Editability struct {
	FirstHalf bool `json:"first_half"`
	BackHalf  bool `json:"back_half"`
	Meetings  bool `json:"meetings"`
}

func (l LockState) Editability() Editability {
	return Editability{
		FirstHalf: IsEditable(FieldDevotion, 1, l),
		BackHalf:  IsEditable(FieldDevotion, model.MidCutoffDay+1, l),
		Meetings:  IsEditable(FieldMeeting, 0, l),
	}
}
