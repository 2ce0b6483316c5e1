package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/storefront/apiserver/internal/services"
)

// MaxBodyBytes bounds JSON request bodies.
const MaxBodyBytes = 1 << 20

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    services.Code  `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[services.Code]int{
	services.CodeValidation:   http.StatusBadRequest,
	services.CodeUnauthorized: http.StatusUnauthorized,
	services.CodeForbidden:    http.StatusForbidden,
	services.CodeNotFound:     http.StatusNotFound,
	services.CodeConflict:     http.StatusConflict,
	services.CodeInternal:     http.StatusInternalServerError,
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code services.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Envelope{Success: true, Data: data})
}

// responder writes error envelopes and logs internal failures.
type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (rs responder) fail(w http.ResponseWriter, r *http.Request, err error) {
	svcErr := services.AsError(err)
	if svcErr.Code == services.CodeInternal {
		rs.logger.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	writeError(w, svcErr)
}

func writeError(w http.ResponseWriter, err *services.Error) {
	body := &ErrorBody{Code: err.Code, Message: err.Message, Details: err.Details}
	if err.Code == services.CodeInternal {
		body.Message = "internal server error"
		body.Details = nil
	}
	writeJSON(w, StatusFor(err.Code), Envelope{Success: false, Error: body})
}

func badRequest(message string, details map[string]any) *services.Error {
	return &services.Error{Code: services.CodeValidation, Message: message, Details: details}
}

// decodeJSON reads a JSON body of at most MaxBodyBytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return badRequest("request body too large", map[string]any{"body": "max=" + strconv.Itoa(MaxBodyBytes)})
		case errors.Is(err, io.EOF):
			return badRequest("request body is required", nil)
		default:
			return badRequest("invalid request body", nil)
		}
	}
	return nil
}

func parseIDParam(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("invalid "+name, map[string]any{name: "invalid"})
	}
	return id, nil
}

func parsePagination(r *http.Request) (services.PageRequest, error) {
	var req services.PageRequest
	query := r.URL.Query()

	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 || page > services.MaxPage {
			return services.PageRequest{}, badRequest("invalid page", map[string]any{"page": "gte=1,lte=" + strconv.Itoa(services.MaxPage)})
		}
		req.Page = page
	}

	rawLimit := strings.TrimSpace(query.Get("limit"))
	if rawLimit == "" {
		rawLimit = strings.TrimSpace(query.Get("per_page"))
	}
	if rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return services.PageRequest{}, badRequest("invalid limit", map[string]any{"limit": "gte=1"})
		}
		req.Limit = limit
	}
	return req, nil
}
