package submission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dukerupert/cymtrack/internal/model"
)

// ErrMalformedPayload is returned when a stored data_json cannot be decoded.
var ErrMalformedPayload = errors.New("malformed submission payload")

// Payload is the decoded data_json of a submission. Each submission type has
// its own variant so that mid records can never carry meeting data.
type Payload interface {
	Type() model.SubmissionType
	DevotionDays() model.DevotionMap
}

// MidPayload covers devotion days 1..15 only.
type MidPayload struct {
	Devotions model.DevotionMap
}

func (MidPayload) Type() model.SubmissionType        { return model.SubmissionMid }
func (p MidPayload) DevotionDays() model.DevotionMap { return p.Devotions }

// EndPayload covers the whole month plus the meeting grid and notes.
type EndPayload struct {
	Devotions model.DevotionMap
	Meetings  model.MeetingGrid
	Notes     model.MeetingNotes
}

func (EndPayload) Type() model.SubmissionType        { return model.SubmissionEnd }
func (p EndPayload) DevotionDays() model.DevotionMap { return p.Devotions }

type wirePayload struct {
	Devotions    json.RawMessage `json:"devotions"`
	Meetings     json.RawMessage `json:"meetings"`
	MeetingNotes json.RawMessage `json:"meeting_notes"`
}

type encodedPayload struct {
	Devotions    map[string]bool   `json:"devotions"`
	Meetings     map[string][]int  `json:"meetings"`
	MeetingNotes map[string]string `json:"meeting_notes"`
}

// ParsePayload decodes data_json into the variant for t. Only a payload that
// is not a JSON object fails; individual fields that have the wrong shape are
// dropped so one bad field does not hide the rest of the record.
func ParsePayload(t model.SubmissionType, data string) (Payload, error) {
	if strings.TrimSpace(data) == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	var w wirePayload
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	devotions := parseDevotions(w.Devotions)

	switch t {
	case model.SubmissionMid:
		for day := range devotions {
			if day > model.MidCutoffDay {
				delete(devotions, day)
			}
		}
		return MidPayload{Devotions: devotions}, nil
	case model.SubmissionEnd:
		return EndPayload{
			Devotions: devotions,
			Meetings:  parseMeetings(w.Meetings),
			Notes:     parseNotes(w.MeetingNotes),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown submission type %q", ErrMalformedPayload, t)
	}
}

// EncodePayload renders p in the persisted data_json shape. Meetings and notes
// are null for mid payloads.
func EncodePayload(p Payload) (string, error) {
	out := encodedPayload{Devotions: make(map[string]bool)}
	for day, v := range p.DevotionDays() {
		out.Devotions[strconv.Itoa(day)] = v
	}

	if end, ok := p.(EndPayload); ok {
		out.Meetings = make(map[string][]int, len(model.MeetingKeys))
		for _, k := range model.MeetingKeys {
			rec := end.Meetings[k]
			slots := make([]int, len(rec))
			for i, s := range rec {
				slots[i] = int(s)
			}
			out.Meetings[string(k)] = slots
		}
		out.MeetingNotes = make(map[string]string)
		for k, note := range end.Notes {
			if k.Valid() {
				out.MeetingNotes[string(k)] = note
			}
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func parseDevotions(raw json.RawMessage) model.DevotionMap {
	devotions := make(model.DevotionMap)
	if len(raw) == 0 {
		return devotions
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return devotions
	}
	for k, v := range m {
		day, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || day < 1 {
			continue
		}
		devotions[day] = truthy(v)
	}
	return devotions
}

func parseMeetings(raw json.RawMessage) model.MeetingGrid {
	grid := model.NewMeetingGrid()
	if len(raw) == 0 {
		return grid
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return grid
	}
	for k, v := range m {
		key := model.MeetingKey(k)
		if !key.Valid() {
			continue
		}
		var slots []any
		if err := json.Unmarshal(v, &slots); err != nil {
			continue
		}
		var rec model.AttendanceRecord
		for i := 0; i < len(rec) && i < len(slots); i++ {
			rec[i] = slotOf(slots[i])
		}
		grid[key] = rec
	}
	return grid
}

func parseNotes(raw json.RawMessage) model.MeetingNotes {
	notes := make(model.MeetingNotes)
	if len(raw) == 0 {
		return notes
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return notes
	}
	for k, v := range m {
		key := model.MeetingKey(k)
		s, ok := v.(string)
		if !key.Valid() || !ok {
			continue
		}
		notes[key] = s
	}
	return notes
}

func slotOf(v any) model.Slot {
	f, ok := v.(float64)
	if !ok {
		return model.SlotUnset
	}
	switch model.Slot(f) {
	case model.SlotPresent:
		return model.SlotPresent
	case model.SlotAbsent:
		return model.SlotAbsent
	default:
		return model.SlotUnset
	}
}

// truthy mirrors loose boolean semantics of the stored values: false, null,
// 0 and "" are not counted.
func truthy(raw json.RawMessage) bool {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func normalizeSlot(s model.Slot) model.Slot {
	if s == model.SlotPresent || s == model.SlotAbsent {
		return s
	}
	return model.SlotUnset
}
