package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mchmarny/mathscore/pkg/data"
	"github.com/mchmarny/mathscore/pkg/predict"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryParamInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func statusAPIHandler(p *predict.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ready":   p.Ready(),
			"version": version,
		})
	}
}

// predictStatus maps a prediction error onto an HTTP status.
func predictStatus(err error) int {
	switch {
	case errors.Is(err, stage.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, stage.ErrArtifactNotFound):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func predictAPIHandler(p *predict.Predictor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var rec record.Record
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, serverMaxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := rec.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, validationMessage(err))
			return
		}

		res, err := p.PredictResult(r.Context(), rec)
		if err != nil {
			slog.Error("prediction failed", "error", err)
			status := predictStatus(err)
			msg := http.StatusText(status)
			if status == http.StatusBadRequest {
				msg = validationMessage(err)
			}
			writeError(w, status, msg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func runsAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := data.ListRuns(db, queryParamInt(r, "limit", data.DefaultRunLimit))
		if err != nil {
			slog.Error("failed to list runs", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func runAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := data.GetRun(db, r.PathValue("id"))
		if errors.Is(err, data.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			slog.Error("failed to get run", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get run")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}
