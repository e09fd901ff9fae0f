package submission

import (
	"fmt"
	"maps"
	"time"

	"github.com/dukerupert/cymtrack/internal/model"
)

// Build turns a working view into the submission for checkpoint t. It fails
// with ErrCheckpointLocked if t has already been frozen for the view's period.
func Build(view WorkingView, t model.SubmissionType, now time.Time) (model.Submission, error) {
	if !t.Valid() {
		return model.Submission{}, fmt.Errorf("unknown submission type %q", t)
	}
	if err := view.Lock.CanSubmit(t); err != nil {
		return model.Submission{}, err
	}

	p := payloadFor(view, t)
	data, err := EncodePayload(p)
	if err != nil {
		return model.Submission{}, err
	}

	return model.Submission{
		MemberName:     view.MemberName,
		Year:           view.Period.Year,
		Month:          view.Period.Month,
		SubmissionType: t,
		DevotionCount:  DevotionCount(p.DevotionDays(), t, view.Period),
		DataJSON:       data,
		SubmittedAt:    now.UTC(),
		Status:         model.StatusActive,
	}, nil
}

func payloadFor(view WorkingView, t model.SubmissionType) Payload {
	devotions := make(model.DevotionMap)
	for day, v := range view.Devotions {
		if Covers(t, day, view.Period) {
			devotions[day] = v
		}
	}

	if t == model.SubmissionMid {
		return MidPayload{Devotions: devotions}
	}

	meetings := model.NewMeetingGrid()
	for k, rec := range view.Meetings {
		if k.Valid() {
			meetings[k] = rec
		}
	}
	return EndPayload{
		Devotions: devotions,
		Meetings:  meetings,
		Notes:     maps.Clone(view.Notes),
	}
}
