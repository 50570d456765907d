// Package router holds the HTTP handlers of the run API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mohammed-shakir/manning-roughness/internal/aoi"
	"github.com/mohammed-shakir/manning-roughness/internal/app/runner"
	"github.com/mohammed-shakir/manning-roughness/internal/core/errs"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/pipeline"
	"github.com/mohammed-shakir/manning-roughness/internal/runstore"
)

const maxBodyBytes = 8 << 20

// RunService executes validated run requests.
type RunService interface {
	Run(ctx context.Context, req pipeline.Request, fb pipeline.Feedback) (runner.Response, error)
}

type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]runstore.Run, error)
}

// RunRequest is the body of POST /runs.
type RunRequest struct {
	AOI           json.RawMessage `json:"aoi" validate:"required"`
	CRS           string          `json:"crs" validate:"omitempty,max=64"`
	Class         string          `json:"class" validate:"omitempty,roughness_class"`
	Vector        bool            `json:"vector"`
	KeepLandCover bool            `json:"keep_landcover"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Stage string `json:"stage,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("roughness_class", func(fl validator.FieldLevel) bool {
		_, err := model.ParseRoughnessClass(fl.Field().String())
		return err == nil
	})
	return v
}

// HandleRun validates a run request, executes it and maps failures to
// status codes by error kind.
func HandleRun(logger *slog.Logger, svc RunService) http.HandlerFunc {
	v := newValidator()
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseRunRequest(w, r, v)
		if err != nil {
			writeError(w, errs.Wrap(errs.KindInvalidInput, "", "", err))
			return
		}

		resp, err := svc.Run(r.Context(), req, nil)
		if err != nil {
			logger.WarnContext(r.Context(), "run failed", "err", err, "kind", errs.KindOf(err).String())
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleHistory lists recent runs, newest first.
func HandleHistory(logger *slog.Logger, h HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := runstore.DefaultLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, errs.Newf(errs.KindInvalidInput, "", "", "limit must be a positive integer (got %q)", raw))
				return
			}
			limit = n
		}
		runs, err := h.Recent(r.Context(), limit)
		if err != nil {
			logger.ErrorContext(r.Context(), "run history query failed", "err", err)
			http.Error(w, "run history unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func parseRunRequest(w http.ResponseWriter, r *http.Request, v *validator.Validate) (pipeline.Request, error) {
	var body RunRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return pipeline.Request{}, fmt.Errorf("decode body: %w", err)
	}
	if err := v.Struct(body); err != nil {
		return pipeline.Request{}, validationError(err)
	}

	class := model.DefaultClass
	if body.Class != "" {
		c, err := model.ParseRoughnessClass(body.Class)
		if err != nil {
			return pipeline.Request{}, err
		}
		class = c
	}
	a, err := aoi.Decode(body.AOI, body.CRS)
	if err != nil {
		return pipeline.Request{}, err
	}
	a.Source = "request"
	return pipeline.Request{
		AOI:           a,
		Class:         class,
		Vector:        body.Vector,
		KeepLandCover: body.KeepLandCover,
	}, nil
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, 0, len(ve))
	for _, fe := range ve {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(k errs.Kind) int {
	switch k {
	case errs.KindInvalidInput:
		return http.StatusBadRequest
	case errs.KindReprojection, errs.KindExternalTool:
		return http.StatusBadGateway
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Kind: errs.KindOf(err).String()}
	var e *errs.Error
	if errors.As(err, &e) {
		body.Stage = e.Stage
	}
	writeJSON(w, StatusFor(errs.KindOf(err)), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
