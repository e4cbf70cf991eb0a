// Package handler exposes the calendar over JSON HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/homebase/internal/calendar"
	"github.com/dukerupert/homebase/internal/icssync"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps service errors to statuses. Unrecognised errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	switch {
	case errors.Is(err, calendar.ErrInvalidRecurrenceRule),
		errors.Is(err, calendar.ErrInvalidEdit),
		errors.Is(err, calendar.ErrInvalidRange),
		errors.Is(err, icssync.ErrInvalidSubscription):
		writeMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrRangeTooLarge):
		writeMessage(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, calendar.ErrSeriesNotFound),
		errors.Is(err, calendar.ErrOccurrenceNotFound),
		errors.Is(err, calendar.ErrMemberNotFound),
		errors.Is(err, icssync.ErrSubscriptionNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrTokenInvalid):
		writeMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, calendar.ErrForbidden), errors.Is(err, icssync.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "forbidden")
	default:
		logger.Error("request failed", "method", r.Method, "pattern", r.Pattern, "error", err)
		writeMessage(w, http.StatusInternalServerError, "internal error")
	}
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. On failure it writes a
// 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

// parseFlexibleTime accepts RFC3339 or a bare date (midnight UTC).
func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// parseWindow reads the required from/to query parameters.
func parseWindow(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		return from, to, errors.New("from and to query parameters are required")
	}
	if from, err = parseFlexibleTime(q.Get("from")); err != nil {
		return from, to, errors.New("from must be RFC3339 or YYYY-MM-DD")
	}
	if to, err = parseFlexibleTime(q.Get("to")); err != nil {
		return from, to, errors.New("to must be RFC3339 or YYYY-MM-DD")
	}
	return from, to, nil
}

// parseIDList reads a comma-separated list of IDs, e.g. users=1,2,3.
func parseIDList(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
