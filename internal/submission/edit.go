package submission

import (
	"maps"

	"github.com/dukerupert/cymtrack/internal/model"
)

// Edits is a member's pending changes to a working view.
type Edits struct {
	Devotions map[int]bool       `json:"devotions"`
	Meetings  model.MeetingGrid  `json:"meetings"`
	Notes     model.MeetingNotes `json:"meeting_notes"`
}

// ApplyEdits returns a copy of view with e applied. Changes to locked fields,
// days outside the month and unknown meeting keys are dropped silently.
func ApplyEdits(view WorkingView, e Edits) WorkingView {
	out := view
	out.Devotions = maps.Clone(view.Devotions)
	out.Meetings = maps.Clone(view.Meetings)
	out.Notes = maps.Clone(view.Notes)
	if out.Devotions == nil {
		out.Devotions = make(model.DevotionMap)
	}
	if out.Meetings == nil {
		out.Meetings = model.NewMeetingGrid()
	}
	if out.Notes == nil {
		out.Notes = make(model.MeetingNotes)
	}

	for day, v := range e.Devotions {
		if day < 1 || day > view.DaysInMonth || !IsEditable(FieldDevotion, day, view.Lock) {
			continue
		}
		out.Devotions[day] = v
	}

	if IsEditable(FieldMeeting, 0, view.Lock) {
		for k, rec := range e.Meetings {
			if !k.Valid() {
				continue
			}
			for i := range rec {
				rec[i] = normalizeSlot(rec[i])
			}
			out.Meetings[k] = rec
		}
	}

	if IsEditable(FieldMeetingNote, 0, view.Lock) {
		for k, note := range e.Notes {
			if k.Valid() {
				out.Notes[k] = note
			}
		}
	}

	return out
}

// CycleSlot advances a slot unset -> present -> absent -> unset.
func CycleSlot(s model.Slot) model.Slot {
	switch s {
	case model.SlotUnset:
		return model.SlotPresent
	case model.SlotPresent:
		return model.SlotAbsent
	default:
		return model.SlotUnset
	}
}
