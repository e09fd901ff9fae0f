package handler

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/cymtrack/internal/auth"
	"github.com/dukerupert/cymtrack/internal/middleware"
	"github.com/dukerupert/cymtrack/internal/model"
	"github.com/dukerupert/cymtrack/internal/report"
	"github.com/dukerupert/cymtrack/internal/store"
	"github.com/dukerupert/cymtrack/internal/submission"
	"github.com/dukerupert/cymtrack/internal/websocket"
)

const reportListLimit = 50

type AdminHandler struct {
	submissions  *store.SubmissionStore
	sessions     *store.AdminSessionStore
	hub          *websocket.Hub
	archiver     *report.Archiver
	passwordHash []byte
	loc          *time.Location
	logger       *slog.Logger
}

// NewAdminHandler builds the admin API. passwordHash is a bcrypt hash; when
// empty, password is hashed once here.
func NewAdminHandler(
	ss *store.SubmissionStore,
	as *store.AdminSessionStore,
	hub *websocket.Hub,
	archiver *report.Archiver,
	password, passwordHash string,
	loc *time.Location,
	logger *slog.Logger,
) (*AdminHandler, error) {
	hash := []byte(passwordHash)
	if len(hash) == 0 {
		if password == "" {
			return nil, errors.New("admin password not configured")
		}
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
	} else if _, err := bcrypt.Cost(hash); err != nil {
		return nil, fmt.Errorf("admin password hash: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AdminHandler{
		submissions:  ss,
		sessions:     as,
		hub:          hub,
		archiver:     archiver,
		passwordHash: hash,
		loc:          loc,
		logger:       logger,
	}, nil
}

func (h *AdminHandler) broadcast(msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(msg)
	}
}

type loginRequest struct {
	Password string `json:"password"`
}

// Login handles POST /api/admin/login
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if bcrypt.CompareHashAndPassword(h.passwordHash, []byte(req.Password)) != nil {
		h.logger.Warn("admin login failed", "remote", middleware.RealIP(r))
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}

	sess, err := h.sessions.Create()
	if err != nil {
		h.logger.Error("create admin session", "error", err)
		writeUnavailable(w, "failed to create session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   int(store.AdminSessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})

	writeJSON(w, http.StatusOK, map[string]any{"admin": true, "expires_at": sess.ExpiresAt})
}

// Logout handles POST /api/admin/logout
func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id := auth.AdminSessionID(r.Context())
	if id != 0 {
		if err := h.sessions.Delete(id); err != nil {
			h.logger.Error("delete admin session", "error", err)
		}
		if h.hub != nil {
			h.hub.DisconnectSession(id)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AdminCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Session handles GET /api/admin/session
func (h *AdminHandler) Session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"admin": auth.IsAdmin(r.Context())})
}

type listFilter struct {
	period model.Period
	filter submission.Filter
}

func parseListFilter(r *http.Request) (listFilter, error) {
	p, err := queryPeriod(r)
	if err != nil {
		return listFilter{}, err
	}
	q := r.URL.Query()
	tf, err := submission.ParseTypeFilter(q.Get("type"))
	if err != nil {
		return listFilter{}, err
	}
	archived := false
	if v := q.Get("archived"); v != "" {
		archived, err = strconv.ParseBool(v)
		if err != nil {
			return listFilter{}, fmt.Errorf("invalid archived flag %q", v)
		}
	}
	return listFilter{period: p, filter: submission.Filter{Type: tf, Archived: archived}}, nil
}

type listResponse struct {
	Period      model.Period          `json:"period"`
	Type        submission.TypeFilter `json:"type"`
	Archived    bool                  `json:"archived"`
	Stats       submission.Stats      `json:"stats"`
	Submissions []submission.Summary  `json:"submissions"`
}

// ListSubmissions handles GET /api/admin/submissions
func (h *AdminHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	lf, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.submissions.ListByPeriod(lf.period)
	if err != nil {
		h.logger.Error("list submissions", "error", err)
		writeUnavailable(w, "failed to list submissions")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Period:      lf.period,
		Type:        lf.filter.Type,
		Archived:    lf.filter.Archived,
		Stats:       submission.ComputeStats(records),
		Submissions: submission.Summarize(lf.filter.Apply(records)),
	})
}

type meetingRow struct {
	Key     model.MeetingKey       `json:"key"`
	Label   string                 `json:"label"`
	Slots   model.AttendanceRecord `json:"slots"`
	Present int                    `json:"present"`
	Absent  int                    `json:"absent"`
	Note    string                 `json:"note"`
}

type detailResponse struct {
	Submission  model.Submission  `json:"submission"`
	DaysInMonth int               `json:"days_in_month"`
	Devotions   model.DevotionMap `json:"devotions"`
	Meetings    []meetingRow      `json:"meetings,omitempty"`
	Unreadable  bool              `json:"unreadable,omitempty"`
}

// GetSubmission handles GET /api/admin/submissions/{id}
func (h *AdminHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	s, err := h.submissions.GetByID(id)
	if err != nil {
		h.logger.Error("get submission", "id", id, "error", err)
		writeUnavailable(w, "failed to get submission")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	resp := detailResponse{
		Submission:  *s,
		DaysInMonth: s.Period().DaysInMonth(),
		Devotions:   model.DevotionMap{},
	}

	p, err := submission.ParsePayload(s.SubmissionType, s.DataJSON)
	if err != nil {
		h.logger.Warn("unreadable submission payload", "id", s.ID, "error", err)
		resp.Unreadable = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Devotions = p.DevotionDays()

	if end, ok := p.(submission.EndPayload); ok {
		for _, k := range model.MeetingKeys {
			rec := end.Meetings[k]
			resp.Meetings = append(resp.Meetings, meetingRow{
				Key:     k,
				Label:   k.Label(),
				Slots:   rec,
				Present: rec.Present(),
				Absent:  rec.Absent(),
				Note:    end.Notes[k],
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Archive handles POST /api/admin/submissions/{id}/archive
func (h *AdminHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, model.StatusArchived, websocket.ActionArchived)
}

// Restore handles POST /api/admin/submissions/{id}/restore
func (h *AdminHandler) Restore(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, model.StatusActive, websocket.ActionRestored)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request, status model.SubmissionStatus, action string) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	s, err := h.submissions.SetStatus(id, status)
	if err != nil {
		h.logger.Error("set submission status", "id", id, "status", status, "error", err)
		writeUnavailable(w, "failed to update submission")
		return
	}
	if s == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	h.broadcast(websocket.SubmissionMessage(action, *s))
	writeJSON(w, http.StatusOK, s)
}

// Delete handles DELETE /api/admin/submissions/{id}
func (h *AdminHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.submissions.GetByID(id)
	if err != nil {
		writeUnavailable(w, "failed to get submission")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}

	if err := h.submissions.Delete(id); err != nil {
		h.logger.Error("delete submission", "id", id, "error", err)
		writeUnavailable(w, "failed to delete submission")
		return
	}

	h.logger.Info("submission deleted", "id", id, "member", existing.MemberName,
		"year", existing.Year, "month", existing.Month, "type", existing.SubmissionType)
	h.broadcast(websocket.SubmissionMessage(websocket.ActionDeleted, *existing))
	w.WriteHeader(http.StatusNoContent)
}

// Export handles GET /api/admin/export.csv
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	lf, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.submissions.ListByPeriod(lf.period)
	if err != nil {
		h.logger.Error("list submissions for export", "error", err)
		writeUnavailable(w, "failed to list submissions")
		return
	}

	var buf bytes.Buffer
	if err := submission.WriteCSV(&buf, lf.filter.Apply(records), h.loc); err != nil {
		h.logger.Error("render export", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to render export")
		return
	}

	filename := submission.ExportFilename(lf.period, lf.filter.Archived)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type publishRequest struct {
	Year     int  `json:"year"`
	Month    int  `json:"month"`
	Archived bool `json:"archived"`
}

// PublishReport handles POST /api/admin/reports
func (h *AdminHandler) PublishReport(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	p := model.Period{Year: req.Year, Month: req.Month}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, errInvalidPeriod.Error())
		return
	}

	rep, err := h.archiver.Publish(r.Context(), p, req.Archived)
	if errors.Is(err, report.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		writeUnavailable(w, "failed to publish report")
		return
	}
	writeJSON(w, http.StatusCreated, rep)
}

// ListReports handles GET /api/admin/reports
func (h *AdminHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.archiver.List(reportListLimit)
	if err != nil {
		h.logger.Error("list reports", "error", err)
		writeUnavailable(w, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []model.ReportUpload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"configured": h.archiver.Configured(),
		"reports":    reports,
	})
}

// DownloadReport handles GET /api/admin/reports/{id}/download
func (h *AdminHandler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	filename, data, err := h.archiver.Download(r.Context(), id)
	switch {
	case errors.Is(err, report.ErrNotFound):
		writeError(w, http.StatusNotFound, "report not found")
		return
	case errors.Is(err, report.ErrNotConfigured), errors.Is(err, report.ErrPassphraseRequired):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Error("download report", "id", id, "error", err)
		writeUnavailable(w, "failed to download report")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
