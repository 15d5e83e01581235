package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"nlcal/internal/config"
	"nlcal/internal/ics"
	appLog "nlcal/internal/log"
	"nlcal/internal/metrics"
	"nlcal/internal/model"
	"nlcal/internal/pipeline"
)

const (
	maxBodyBytes       = 1 << 20
	shutdownTimeout    = 5 * time.Second
	referenceDateField = "2006-01-02"

	// maxDescriptions mirrors the max= rule on convertRequest.Descriptions.
	maxDescriptions = 50
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Converter runs a batch of descriptions against a reference time.
type Converter interface {
	RunAt(ctx context.Context, descriptions []string, ref time.Time) pipeline.Report
}

// Server exposes the conversion pipeline over HTTP.
type Server struct {
	cfg       *config.Config
	converter Converter
	builder   pipeline.Builder
	metrics   *metrics.Metrics
	now       func() time.Time
	mux       *http.ServeMux
}

// NewServer constructs a new Server. m may be nil.
func NewServer(cfg *config.Config, conv Converter, b pipeline.Builder, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		converter: conv,
		builder:   b,
		metrics:   m,
		now:       time.Now,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="nlcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/convert", s.handleConvert)
	s.mux.HandleFunc("/api/build", s.handleBuild)
	s.mux.Handle("/metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// convertRequest is the JSON body of POST /api/convert.
type convertRequest struct {
	Descriptions []string `json:"descriptions" validate:"required,min=1,max=50,dive,required"`
	// ReferenceDate ("YYYY-MM-DD") replaces today's date; the current time
	// of day is kept.
	ReferenceDate string `json:"reference_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type convertResponse struct {
	Items  []itemDTO     `json:"items"`
	Events []model.Event `json:"events"`
}

type itemDTO struct {
	Description string       `json:"description"`
	Error       string       `json:"error,omitempty"`
	Rejected    int          `json:"rejected"`
	Events      []outcomeDTO `json:"events"`
}

type outcomeDTO struct {
	Event    model.Event `json:"event"`
	Filename string      `json:"filename,omitempty"`
	Path     string      `json:"path,omitempty"`
	ICS      string      `json:"ics,omitempty"`
	Error    string      `json:"error,omitempty"`
	Warning  string      `json:"warning,omitempty"`
}

// handleConvert runs the full pipeline on a batch of descriptions.
//
// POST /api/convert
//
//	{"descriptions": ["..."], "reference_date": "2024-10-30"}
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req convertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ref, err := s.referenceTime(req.ReferenceDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	appLog.Info("api convert request", "descriptions", len(req.Descriptions), "reference", ref.Format(time.RFC3339))
	rep := s.converter.RunAt(r.Context(), req.Descriptions, ref)

	resp := convertResponse{
		Items:  make([]itemDTO, 0, len(rep.Items)),
		Events: rep.Events(),
	}
	if resp.Events == nil {
		resp.Events = []model.Event{}
	}
	for _, it := range rep.Items {
		dto := itemDTO{
			Description: it.Description,
			Rejected:    it.Rejected,
			Events:      make([]outcomeDTO, 0, len(it.Events)),
			Error:       errString(it.Err),
		}
		for _, o := range it.Events {
			od := outcomeDTO{
				Event:   o.Event,
				Path:    o.Path,
				Error:   errString(o.Err),
				Warning: errString(o.Warning),
			}
			if o.OK() {
				od.Filename = o.Payload.Filename
				od.ICS = string(o.Payload.Data)
			}
			dto.Events = append(dto.Events, od)
		}
		resp.Items = append(resp.Items, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBuild serializes one event without calling the extractor.
//
// POST /api/build with a JSON event returns text/calendar. Unparseable
// dates are reported as 422.
func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var ev model.Event
	if err := decodeJSON(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(ev.Name) == "" {
		ev.Name = model.DefaultEventName
	}

	p, err := s.builder.Build(ev)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ics.ErrDateFormat) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": p.Filename}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(p.Data)
}

// referenceTime returns now in the configured zone, with the date replaced
// by date when given.
func (s *Server) referenceTime(date string) (time.Time, error) {
	loc := s.cfg.Location()
	now := s.now().In(loc)
	date = strings.TrimSpace(date)
	if date == "" {
		return now, nil
	}
	d, err := time.ParseInLocation(referenceDateField, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("reference_date must be YYYY-MM-DD: %q", date)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), now.Hour(), now.Minute(), now.Second(), 0, loc), nil
}

// validationMessage turns validator errors into "field: rule" pairs.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", strings.TrimPrefix(fe.Namespace(), "convertRequest."), rule))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
