package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"gridsim/engine"
	"gridsim/logging"
	"gridsim/models"
	"gridsim/preset"
	"gridsim/server/cell_views"
	"gridsim/server/fastview"
	"gridsim/session"
	"gridsim/store"

	"github.com/gorilla/mux"
)

const maxBodySize = 1 << 20

const valuesView = "values"

// kindInternal reports failures of the server itself, outside the engine error taxonomy.
const kindInternal engine.Kind = "internal"

// errorBody is the JSON form of every failed request.
type errorBody struct {
	Error session.ErrorInfo `json:"error"`
}

// configRequest configures a session from a preset, explicit configs, or a preset with
// explicit overrides. Without a preset the grid is required.
type configRequest struct {
	Preset     string                   `json:"preset,omitempty"`
	Grid       *models.GridConfig       `json:"grid,omitempty"`
	Agent      *models.AgentConfig      `json:"agent_config,omitempty"`
	Experiment *models.ExperimentConfig `json:"experiment_config,omitempty"`
}

type historyResponse struct {
	Steps    []store.StepRecord     `json:"steps"`
	Analysis *models.AnalysisResult `json:"analysis,omitempty"`
}

// statusOf maps an error onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}

	switch engine.Classify(err) {
	case engine.KindConfigInvalid:
		return http.StatusBadRequest
	case engine.KindSessionNotFound:
		return http.StatusNotFound
	case engine.KindSessionBusy:
		return http.StatusConflict
	case engine.KindEngineRuntime:
		return http.StatusBadGateway
	case engine.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(r.Context()).Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeErrorStatus(w, r, statusOf(err), err)
}

func writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, err error) {
	info := session.ErrorInfo{Kind: engine.Classify(err), Message: err.Error()}
	switch {
	case errors.Is(err, store.ErrNotFound):
		info.Kind = engine.KindSessionNotFound
	case errors.Is(err, session.ErrSuperseded):
		info.Kind = engine.KindSessionBusy
	case status == http.StatusInternalServerError:
		info.Kind = kindInternal
	}
	var engineErr *engine.Error
	if errors.As(err, &engineErr) && engineErr.Message != "" {
		info.Message = engineErr.Message
	}
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Warn("request failed", "status", status, "error", err)
	}
	writeJSON(w, r, status, errorBody{Error: info})
}

func (server *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := server.mgr.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func (server *Server) listPresets(w http.ResponseWriter, r *http.Request) {
	presets := make([]preset.Preset, 0)
	for _, name := range server.catalog.Names() {
		if p, err := server.catalog.Get(name); err == nil {
			presets = append(presets, p)
		}
	}
	writeJSON(w, r, http.StatusOK, presets)
}

// createSession opens a session, with the id given as {"id": ...} or a fresh one.
func (server *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var s *session.Session
	if req.ID == "" {
		s = server.mgr.NewSession()
	} else {
		s = server.mgr.Open(req.ID)
	}
	writeJSON(w, r, http.StatusCreated, s.Snapshot())
}

func (server *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snaps := make([]session.Snapshot, 0)
	for _, id := range server.mgr.IDs() {
		if s, err := server.mgr.Get(id); err == nil {
			snaps = append(snaps, s.Snapshot())
		}
	}
	writeJSON(w, r, http.StatusOK, snaps)
}

func (server *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := server.lookup(w, r); ok {
		writeJSON(w, r, http.StatusOK, s.Snapshot())
	}
}

func (server *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := server.mgr.Close(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (server *Server) configure(w http.ResponseWriter, r *http.Request) {
	s, ok := server.lookup(w, r)
	if !ok {
		return
	}

	var req configRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := server.resolve(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.Initialize(r.Context(), p.Grid, p.Agent, p.Experiment); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Snapshot())
}

// resolve merges the request over its preset, if any.
func (server *Server) resolve(req configRequest) (p preset.Preset, err error) {
	if req.Preset != "" {
		if p, err = server.catalog.Get(req.Preset); err != nil {
			return
		}
	} else {
		if req.Grid == nil {
			return p, fmt.Errorf("%w: either preset or grid is required", models.ErrConfigInvalid)
		}
		p.Agent = models.DefaultAgentConfig()
		p.Experiment = models.DefaultExperimentConfig()
	}

	if req.Grid != nil {
		p.Grid = *req.Grid
	}
	if req.Agent != nil {
		p.Agent = *req.Agent
	}
	if req.Experiment != nil {
		p.Experiment = *req.Experiment
	}
	return p, nil
}

func (server *Server) step(w http.ResponseWriter, r *http.Request) {
	s, ok := server.lookup(w, r)
	if !ok {
		return
	}
	if _, err := s.Step(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Snapshot())
}

// run starts auto-stepping; the interval is the optional delay query parameter, as a Go
// duration ("250ms") or in milliseconds.
func (server *Server) run(w http.ResponseWriter, r *http.Request) {
	s, ok := server.lookup(w, r)
	if !ok {
		return
	}

	delay := server.opts.RunDelay
	if raw := r.URL.Query().Get("delay"); raw != "" {
		var err error
		if delay, err = parseDelay(raw); err != nil {
			writeError(w, r, err)
			return
		}
	}

	if _, err := s.Run(delay); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, s.Snapshot())
}

func parseDelay(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		raw = fmt.Sprintf("%dms", ms)
	}
	delay, err := time.ParseDuration(raw)
	if err != nil || delay <= 0 {
		return 0, fmt.Errorf("%w: invalid delay %q", models.ErrConfigInvalid, raw)
	}
	return delay, nil
}

func (server *Server) pause(w http.ResponseWriter, r *http.Request) {
	if s, ok := server.lookup(w, r); ok {
		s.Pause()
		writeJSON(w, r, http.StatusOK, s.Snapshot())
	}
}

func (server *Server) reset(w http.ResponseWriter, r *http.Request) {
	if s, ok := server.lookup(w, r); ok {
		s.Reset(r.Context())
		writeJSON(w, r, http.StatusOK, s.Snapshot())
	}
}

func (server *Server) analyze(w http.ResponseWriter, r *http.Request) {
	s, ok := server.lookup(w, r)
	if !ok {
		return
	}
	if _, err := s.RunFullAnalysis(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.Snapshot())
}

// history returns persisted steps, the most recent limit of them if given, and the latest
// analysis if there is one. It works for closed sessions too.
func (server *Server) history(w http.ResponseWriter, r *http.Request) {
	if server.opts.History == nil {
		writeErrorStatus(w, r, http.StatusNotFound, fmt.Errorf("history is disabled: %w", store.ErrNotFound))
		return
	}
	id := mux.Vars(r)["id"]

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid limit %q", models.ErrConfigInvalid, raw))
			return
		}
	}

	steps, err := server.opts.History.Steps(r.Context(), id, limit)
	if err != nil {
		writeErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	resp := historyResponse{Steps: steps}
	if resp.Steps == nil {
		resp.Steps = []store.StepRecord{}
	}

	analysis, err := server.opts.History.LatestAnalysis(r.Context(), id)
	switch {
	case err == nil:
		resp.Analysis = &analysis
	case !errors.Is(err, store.ErrNotFound):
		writeErrorStatus(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// serveWebsocket streams the session until either side goes away: whole snapshots by
// default, or with view=values the element updates of a values grid.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	s, ok := server.lookup(w, r)
	if !ok {
		return
	}

	switch view := r.URL.Query().Get("view"); view {
	case "", "snapshot":
		cli, err := fastview.NewClient(s.Subscribe(r.Context()), w, r, server.opts.PublishInterval)
		server.sync(r, cli, err)
	case valuesView:
		updates, err := fastview.NewViewBuilder[session.Snapshot, [][]cell_views.Cell](s.Subscribe(r.Context())).
			WithContext(r.Context()).
			WithModel(cell_views.FromSnapshot).
			WithView(cell_views.NewValuesGrid(valuesView).View).
			Build()
		if err != nil {
			writeErrorStatus(w, r, http.StatusInternalServerError, err)
			return
		}
		cli, err := fastview.NewClient(updates[0], w, r, server.opts.PublishInterval)
		server.sync(r, cli, err)
	default:
		writeError(w, r, fmt.Errorf("%w: unknown view %q", models.ErrConfigInvalid, view))
	}
}

func (server *Server) sync(r *http.Request, cli interface{ Sync() error }, err error) {
	if err != nil {
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	if err := cli.Sync(); err != nil {
		logging.FromContext(r.Context()).Warn("websocket closed", "error", err)
	}
}

// decodeOptional decodes a JSON body into dst; an empty body leaves dst untouched.
func decodeOptional(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, models.ErrConfigInvalid) {
			return err
		}
		return fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}
	return nil
}
