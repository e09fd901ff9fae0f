package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dukerupert/cymtrack/internal/model"
)

const maxBodyBytes = 64 << 10

var errInvalidPeriod = errors.New("year must be 2000-2100 and month 1-12")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeUnavailable reports a store failure the client may retry.
func writeUnavailable(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": msg, "retryable": true})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func parsePeriod(yearStr, monthStr string) (model.Period, error) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return model.Period{}, errInvalidPeriod
	}
	month, err := strconv.Atoi(monthStr)
	if err != nil {
		return model.Period{}, errInvalidPeriod
	}
	p := model.Period{Year: year, Month: month}
	if !p.Valid() {
		return model.Period{}, errInvalidPeriod
	}
	return p, nil
}

// pathPeriod reads {year} and {month} path values.
func pathPeriod(r *http.Request) (model.Period, error) {
	return parsePeriod(r.PathValue("year"), r.PathValue("month"))
}

// queryPeriod reads ?year=&month= query parameters.
func queryPeriod(r *http.Request) (model.Period, error) {
	q := r.URL.Query()
	return parsePeriod(q.Get("year"), q.Get("month"))
}
