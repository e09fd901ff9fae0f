package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukerupert/cymtrack/internal/auth"
	"github.com/dukerupert/cymtrack/internal/middleware"
	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/store"
	"github.com/dukerupert/cymtrack/internal/submission"
	"github.com/dukerupert/cymtrack/internal/websocket"
)

const (
	maxNameLength   = 100
	memberCookieAge = 365 * 24 * 60 * 60
)

type MemberHandler struct {
	submissions *store.SubmissionStore
	hub         *websocket.Hub
	logger      *slog.Logger
	now         func() time.Time
}

func NewMemberHandler(ss *store.SubmissionStore, hub *websocket.Hub, logger *slog.Logger) *MemberHandler {
	return &MemberHandler{submissions: ss, hub: hub, logger: logger, now: time.Now}
}

func (h *MemberHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type joinRequest struct {
	Name string `json:"name"`
}

// Join handles POST /api/join
func (h *MemberHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(name) > maxNameLength {
		writeError(w, http.StatusBadRequest, "name is too long")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.MemberCookieName,
		Value:    url.QueryEscape(name),
		Path:     "/",
		MaxAge:   memberCookieAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	writeJSON(w, http.StatusOK, map[string]string{"member_name": name})
}

// Leave handles POST /api/leave
func (h *MemberHandler) Leave(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.MemberCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/me
func (h *MemberHandler) Me(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"member_name":    auth.MemberName(r.Context()),
		"current_period": model.PeriodOf(now),
	})
}

type periodResponse struct {
	submission.WorkingView
	Editable     submission.Editability        `json:"editable"`
	EditableDays []int                         `json:"editable_days"`
	CanSubmit    map[model.SubmissionType]bool `json:"can_submit"`
}

func newPeriodResponse(view submission.WorkingView) periodResponse {
	resp := periodResponse{
		WorkingView:  view,
		Editable:     view.Lock.Editability(),
		EditableDays: []int{},
		CanSubmit: map[model.SubmissionType]bool{
			model.SubmissionMid: view.Lock.CanSubmit(model.SubmissionMid) == nil,
			model.SubmissionEnd: view.Lock.CanSubmit(model.SubmissionEnd) == nil,
		},
	}
	for day := 1; day <= view.DaysInMonth; day++ {
		if submission.IsEditable(submission.FieldDevotion, day, view.Lock) {
			resp.EditableDays = append(resp.EditableDays, day)
		}
	}
	return resp
}

func (h *MemberHandler) loadView(member string, p model.Period) (submission.WorkingView, error) {
	records, err := h.submissions.ListForMember(member, p)
	if err != nil {
		return submission.WorkingView{}, err
	}
	return submission.Merge(member, p, records), nil
}

// GetPeriod handles GET /api/me/periods/{year}/{month}
func (h *MemberHandler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	member := auth.MemberName(r.Context())
	view, err := h.loadView(member, p)
	if err != nil {
		h.logger.Error("load working view", "member", member, "error", err)
		writeUnavailable(w, "failed to load submissions")
		return
	}

	writeJSON(w, http.StatusOK, newPeriodResponse(view))
}

type submitRequest struct {
	Type         model.SubmissionType `json:"type"`
	Devotions    map[string]bool      `json:"devotions"`
	Meetings     map[string][]int     `json:"meetings"`
	MeetingNotes map[string]string    `json:"meeting_notes"`
}

func (req submitRequest) edits() submission.Edits {
	e := submission.Edits{
		Devotions: make(map[int]bool, len(req.Devotions)),
		Meetings:  make(model.MeetingGrid, len(req.Meetings)),
		Notes:     make(model.MeetingNotes, len(req.MeetingNotes)),
	}
	for k, v := range req.Devotions {
		day, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		e.Devotions[day] = v
	}
	for k, slots := range req.Meetings {
		var rec model.AttendanceRecord
		for i := 0; i < len(rec) && i < len(slots); i++ {
			rec[i] = model.Slot(slots[i])
		}
		e.Meetings[model.MeetingKey(k)] = rec
	}
	for k, note := range req.MeetingNotes {
		e.Notes[model.MeetingKey(k)] = note
	}
	return e
}

// Submit handles POST /api/me/periods/{year}/{month}/submit
func (h *MemberHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p, err := pathPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "type must be mid or end")
		return
	}

	member := auth.MemberName(r.Context())
	view, err := h.loadView(member, p)
	if err != nil {
		h.logger.Error("load working view", "member", member, "error", err)
		writeUnavailable(w, "failed to load submissions")
		return
	}

	if err := view.Lock.CanSubmit(req.Type); err != nil {
		writeError(w, http.StatusConflict, "this checkpoint has already been submitted")
		return
	}

	edited := submission.ApplyEdits(view, req.edits())
	rec, err := submission.Build(edited, req.Type, h.now())
	if errors.Is(err, submission.ErrCheckpointLocked) {
		writeError(w, http.StatusConflict, "this checkpoint has already been submitted")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.submissions.UpsertByKey(rec)
	if err != nil {
		h.logger.Error("save submission", "member", member, "year", p.Year, "month", p.Month, "type", req.Type, "error", err)
		writeUnavailable(w, "failed to save submission, please try again")
		return
	}

	action := websocket.ActionUpdated
	if saved.Version == 1 {
		action = websocket.ActionCreated
	}
	h.broadcast(websocket.SubmissionMessage(action, *saved))
	h.logger.Info("submission saved", "id", saved.ID, "member", member, "year", p.Year, "month", p.Month,
		"type", saved.SubmissionType, "devotion_count", saved.DevotionCount)

	fresh, err := h.loadView(member, p)
	if err != nil {
		h.logger.Error("reload working view", "member", member, "error", err)
		writeUnavailable(w, "submission saved but failed to reload")
		return
	}
	writeJSON(w, http.StatusOK, newPeriodResponse(fresh))
}
