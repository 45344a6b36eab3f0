// Package httpapi implements the HTTP surface (spec 4.F): REST endpoints
// for running and inspecting flows plus a named-webhook dispatcher, built
// on stdlib net/http.ServeMux with Go 1.22+ method-prefixed routing, no
// third-party router.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skitsanos/ironflow/internal/engine"
	"github.com/skitsanos/ironflow/internal/flow"
	"github.com/skitsanos/ironflow/internal/registry"
	"github.com/skitsanos/ironflow/internal/store"
	ironerrors "github.com/skitsanos/ironflow/pkg/errors"
)

// Version is the reported server version string for GET /health.
const Version = "0.1.0"

// Server bundles the shared state of the HTTP surface: the registry, the
// store, an optional flows directory base path, a max body size, and a
// webhook-name -> flow-file map (spec 4.F).
type Server struct {
	Engine   *engine.Engine
	Registry *registry.Registry
	Store    store.Store
	FlowsDir string
	MaxBody  int64
	Webhooks map[string]string
	Logger   *slog.Logger
	Metrics  *Metrics
	promReg  *prometheus.Registry
}

// New builds a Server and its mux. webhooks maps a public name to a flow
// file path (absolute, or relative to flowsDir).
func New(eng *engine.Engine, reg *registry.Registry, st store.Store, flowsDir string, maxBody int64, webhooks map[string]string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if webhooks == nil {
		webhooks = map[string]string{}
	}
	promReg := prometheus.NewRegistry()
	return &Server{
		Engine:   eng,
		Registry: reg,
		Store:    st,
		FlowsDir: flowsDir,
		MaxBody:  maxBody,
		Webhooks: webhooks,
		Logger:   logger,
		Metrics:  NewMetrics(promReg),
		promReg:  promReg,
	}
}

// Handler returns the complete routed mux, wrapped in CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /flows/run", s.handleFlowsRun)
	mux.HandleFunc("POST /flows/validate", s.handleFlowsValidate)
	mux.HandleFunc("POST /webhooks/{name}", s.handleWebhook)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /nodes", s.handleNodes)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			reqMethod := r.Header.Get("Access-Control-Request-Method")
			if reqMethod == "" {
				reqMethod = "GET, POST, DELETE, OPTIONS"
			}
			w.Header().Set("Access-Control-Allow-Methods", reqMethod)
			reqHeaders := r.Header.Get("Access-Control-Request-Headers")
			if reqHeaders == "" {
				reqHeaders = "Content-Type"
			}
			w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// errorEnvelope is the {error, details?} JSON shape for all error
// responses (spec 7).
type errorEnvelope struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var validationErr *ironerrors.ValidationError
	var notFoundErr *ironerrors.NotFoundError
	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: validationErr.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorEnvelope{Error: notFoundErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: "internal error", Details: err.Error()})
	}
}

// resolveFlow loads a flow.Definition from either an inline source string
// or a file path (resolved relative to FlowsDir unless absolute). A missing
// flow file is a NotFoundError; a flow that cannot be parsed is a
// ValidationError.
func (s *Server) resolveFlow(source, file string) (*flow.Definition, error) {
	var def *flow.Definition
	var err error
	switch {
	case source != "":
		def, err = flow.Parse([]byte(source))
	case file != "":
		path := file
		if !filepath.IsAbs(path) && s.FlowsDir != "" {
			path = filepath.Join(s.FlowsDir, path)
		}
		def, err = flow.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ironerrors.NotFoundError{Resource: "flow file", ID: file}
		}
	default:
		return nil, &ironerrors.ValidationError{Field: "source/file", Message: "either source or file must be provided"}
	}
	if err != nil {
		return nil, &ironerrors.ValidationError{Field: "flow", Message: err.Error()}
	}
	return def, nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if s.MaxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxBody)
	}
	return io.ReadAll(r.Body)
}

type flowsRunRequest struct {
	Source  string         `json:"source"`
	File    string         `json:"file"`
	Context map[string]any `json:"context"`
}

type flowsRunResponse struct {
	RunID    string `json:"run_id"`
	FlowName string `json:"flow_name"`
	Status   string `json:"status"`
}

func (s *Server) handleFlowsRun(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, &ironerrors.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	var req flowsRunRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, &ironerrors.ValidationError{Field: "body", Message: "invalid JSON"})
			return
		}
	}

	def, err := s.resolveFlow(req.Source, req.File)
	if err != nil {
		writeError(w, err)
		return
	}
	if errs := flow.Validate(def); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "flow validation failed", Details: errs})
		return
	}

	runID, status, err := s.runAndRecordMetrics(r.Context(), def, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowsRunResponse{RunID: runID, FlowName: def.Name, Status: status})
}

func (s *Server) runAndRecordMetrics(ctx context.Context, def *flow.Definition, initialCtx map[string]any) (string, string, error) {
	runID, err := s.Engine.Execute(ctx, def, initialCtx)
	if err != nil {
		return "", "", err
	}
	info, err := s.Store.GetRunInfo(ctx, runID)
	if err != nil {
		return runID, "", err
	}
	s.Metrics.RunsTotal.WithLabelValues(string(info.Status)).Inc()
	for _, task := range info.Tasks {
		if task.Started != nil && task.Finished != nil {
			s.Metrics.TaskDuration.WithLabelValues(task.NodeType).Observe(task.Finished.Sub(*task.Started).Seconds())
		}
	}
	return runID, string(info.Status), nil
}

type flowsValidateRequest struct {
	Source string `json:"source"`
	File   string `json:"file"`
}

type flowsValidateResponse struct {
	Valid    bool     `json:"valid"`
	FlowName string   `json:"flow_name,omitempty"`
	Steps    int      `json:"steps,omitempty"`
	Errors   []string `json:"errors"`
}

func (s *Server) handleFlowsValidate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, &ironerrors.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	var req flowsValidateRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, &ironerrors.ValidationError{Field: "body", Message: "invalid JSON"})
			return
		}
	}

	def, err := s.resolveFlow(req.Source, req.File)
	if err != nil {
		writeError(w, err)
		return
	}

	errs := flow.Validate(def)
	if errs == nil {
		errs = []string{}
	}
	for _, step := range def.Steps {
		if !s.Registry.Has(step.NodeType) {
			errs = append(errs, fmt.Sprintf("step %q references unknown node type %q", step.Name, step.NodeType))
		}
	}

	writeJSON(w, http.StatusOK, flowsValidateResponse{
		Valid:    len(errs) == 0,
		FlowName: def.Name,
		Steps:    len(def.Steps),
		Errors:   errs,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	file, ok := s.Webhooks[name]
	if !ok {
		writeError(w, &ironerrors.NotFoundError{Resource: "webhook", ID: name})
		return
	}

	def, err := s.resolveFlow("", file)
	if err != nil {
		writeError(w, err)
		return
	}
	if errs := flow.Validate(def); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, errorEnvelope{Error: "flow validation failed", Details: errs})
		return
	}

	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, &ironerrors.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	initial := map[string]any{}
	if len(body) > 0 && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "json") {
		if err := json.Unmarshal(body, &initial); err != nil {
			writeError(w, &ironerrors.ValidationError{Field: "body", Message: "invalid JSON"})
			return
		}
	}
	initial["_webhook"] = name
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[strings.ToLower(k)] = r.Header.Get(k)
	}
	initial["_headers"] = headers

	runID, status, err := s.runAndRecordMetrics(r.Context(), def, initial)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowsRunResponse{RunID: runID, FlowName: def.Name, Status: status})
}

type runSummary struct {
	ID       string    `json:"id"`
	FlowName string    `json:"flow_name"`
	Status   string    `json:"status"`
	Started  time.Time `json:"started"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter *store.RunStatus
	if v := r.URL.Query().Get("status"); v != "" {
		status := store.RunStatus(v)
		filter = &status
	}

	runs, err := s.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	summaries := make([]runSummary, 0, len(runs))
	for _, info := range runs {
		summaries = append(summaries, runSummary{ID: info.ID, FlowName: info.FlowName, Status: string(info.Status), Started: info.Started})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": summaries, "total": len(summaries)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := s.Store.GetRunInfo(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Store.DeleteRun(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	nodes := s.Registry.List()
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "total": len(nodes)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}
