package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/queue"
	"github.com/local/pdfsplitter/internal/splitplan"
	"github.com/local/pdfsplitter/internal/store"
)

type Queue interface {
	EnqueueSplit(ctx context.Context, t queue.SplitTask) error
	CancelJob(ctx context.Context, id string) error
}

type StatusStore interface {
	Set(ctx context.Context, id string, st store.Status) error
	Get(ctx context.Context, id string) (store.Status, bool, error)
}

type OutputLister interface {
	ListOutputs(ctx context.Context, id string) ([]store.Output, error)
}

type Dependencies struct {
	Queue   Queue
	Status  StatusStore
	Outputs OutputLister
	// Counter reads page counts of referenced documents. Defaults to
	// opening the document with pdfdoc.
	Counter PageCounter
}

type Orchestrator struct {
	deps     Dependencies
	defaults config.SplitConfig
	http     config.HTTPConfig
}

func New(deps Dependencies, split config.SplitConfig, httpCfg config.HTTPConfig) *Orchestrator {
	if deps.Counter == nil {
		deps.Counter = pdfPageCounter{}
	}
	if httpCfg.UploadDir == "" {
		httpCfg.UploadDir = "uploads"
	}
	if httpCfg.MaxUploadMB <= 0 {
		httpCfg.MaxUploadMB = 64
	}
	return &Orchestrator{deps: deps, defaults: split, http: httpCfg}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); _, _ = w.Write([]byte("ok")) })
	mux.HandleFunc("/api/plan", o.handlePlan)
	mux.HandleFunc("/api/split", o.handleSplit)
	mux.HandleFunc("/api/split_upload", o.handleSplitUpload)
	mux.HandleFunc("/api/progress/", o.handleProgress)
	mux.HandleFunc("/api/cancel", o.handleCancel)
	mux.HandleFunc("/api/examples", o.handleExamples)
}

type planReq struct {
	Input        string `json:"input"`
	Mode         string `json:"mode"`
	PageCount    int    `json:"page_count"`
	FilePath     string `json:"file_path"`
	Template     string `json:"template"`
	BaseFilename string `json:"base_filename"`
	WholeOnEmpty *bool  `json:"whole_on_empty"`
	Merge        *bool  `json:"merge"`
	Output       string `json:"output"`
}

type problemResp struct {
	Status   string               `json:"status"`
	Message  string               `json:"message"`
	Problems []*splitplan.Problem `json:"problems"`
	Warnings []splitplan.Warning  `json:"warnings,omitempty"`
}

type splitResp struct {
	Status  string          `json:"status"`
	ID      string          `json:"id"`
	Message string          `json:"message"`
	Plan    *splitplan.Plan `json:"plan,omitempty"`
}

// request fills config defaults into r and builds the planning request.
// pageCount and name come from the document when r references one.
func (o *Orchestrator) request(r planReq, pageCount int, name string) (splitplan.Request, error) {
	modeStr := r.Mode
	if modeStr == "" {
		modeStr = o.defaults.Mode
	}
	mode, err := splitplan.ParseMode(modeStr)
	if err != nil {
		return splitplan.Request{}, err
	}
	tmpl := r.Template
	if tmpl == "" {
		tmpl = o.defaults.Template
	}
	whole := o.defaults.WholeOnEmpty
	if r.WholeOnEmpty != nil {
		whole = *r.WholeOnEmpty
	}
	merge := o.defaults.Merge
	if r.Merge != nil {
		merge = *r.Merge
	}
	if r.BaseFilename != "" {
		name = r.BaseFilename
	}
	return splitplan.Request{
		Input:                r.Input,
		Mode:                 mode,
		PageCount:            pageCount,
		Template:             tmpl,
		BaseFilename:         name,
		WholeDocumentOnEmpty: whole,
		Merge:                merge,
	}, nil
}

func (o *Orchestrator) handlePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req planReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	pages, name := req.PageCount, ""
	if req.FilePath != "" {
		n, docName, err := o.deps.Counter.PageCount(r.Context(), req.FilePath)
		if err != nil {
			log.Warn().Err(err).Str("file", req.FilePath).Msg("page count failed")
			http.Error(w, fmt.Sprintf("cannot read document: %v", err), http.StatusBadRequest)
			return
		}
		pages, name = n, docName
	}
	plan, ok := o.plan(w, req, pages, name)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// plan validates req and writes the error response itself when it fails.
func (o *Orchestrator) plan(w http.ResponseWriter, req planReq, pages int, name string) (*splitplan.Plan, bool) {
	preq, err := o.request(req, pages, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	plan, err := planSplit(preq)
	if err == nil {
		return plan, true
	}
	var ie *splitplan.InputError
	if errors.As(err, &ie) {
		writeJSON(w, http.StatusUnprocessableEntity, problemResp{
			Status:   "rejected",
			Message:  ie.Error(),
			Problems: ie.Problems,
			Warnings: ie.Warnings,
		})
		return nil, false
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
	return nil, false
}

func (o *Orchestrator) handleSplit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req planReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.FilePath == "" {
		http.Error(w, "missing file_path", http.StatusBadRequest)
		return
	}
	pages, name, err := o.deps.Counter.PageCount(r.Context(), req.FilePath)
	if err != nil {
		log.Warn().Err(err).Str("file", req.FilePath).Msg("page count failed")
		http.Error(w, fmt.Sprintf("cannot read document: %v", err), http.StatusBadRequest)
		return
	}
	// the whole selection is validated before anything is queued
	plan, ok := o.plan(w, req, pages, name)
	if !ok {
		return
	}

	id := uuid.NewString()
	task := o.task(id, req, req.FilePath, name)
	if err := o.enqueue(r.Context(), task, plan); err != nil {
		log.Error().Err(err).Str("split_id", id).Msg("enqueue failed")
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusCreated, splitResp{Status: "ok", ID: id, Message: "split job created", Plan: plan})
}

func (o *Orchestrator) task(id string, req planReq, source, filename string) queue.SplitTask {
	preq, _ := o.request(req, 1, filename)
	output := req.Output
	if output == "" {
		output = id
	}
	return queue.SplitTask{
		ID:           id,
		Source:       source,
		Filename:     preq.BaseFilename,
		Input:        req.Input,
		Mode:         preq.Mode.String(),
		Template:     preq.Template,
		WholeOnEmpty: preq.WholeDocumentOnEmpty,
		Merge:        preq.Merge,
		Output:       output,
		Attempt:      1,
	}
}

func (o *Orchestrator) enqueue(ctx context.Context, t queue.SplitTask, plan *splitplan.Plan) error {
	start := time.Now()
	_ = o.deps.Status.Set(ctx, t.ID, store.Status{
		Status:   store.StatusQueued,
		Progress: 0,
		Message:  "queued",
		Start:    &start,
		Metadata: map[string]any{"source": t.Source, "jobs": len(plan.Jobs), "page_count": plan.PageCount},
	})
	if err := o.deps.Queue.EnqueueSplit(ctx, t); err != nil {
		now := time.Now()
		_ = o.deps.Status.Set(ctx, t.ID, store.Status{Status: store.StatusFailed, Message: "queue unavailable", End: &now})
		return err
	}
	log.Info().Str("split_id", t.ID).Str("source", t.Source).Int("jobs", len(plan.Jobs)).Msg("split job created")
	return nil
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/api/progress/"):]
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	st, ok, err := o.deps.Status.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var outputs []store.Output
	if o.deps.Outputs != nil {
		outputs, err = o.deps.Outputs.ListOutputs(r.Context(), id)
		if err != nil {
			log.Warn().Err(err).Str("split_id", id).Msg("list outputs failed")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    st.Status == store.StatusSuccess,
		"id":         id,
		"status":     st.Status,
		"progress":   st.Progress,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
		"outputs":    outputs,
	})
}

type cancelReq struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req cancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	st, ok, _ := o.deps.Status.Get(r.Context(), req.ID)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if store.Final(st.Status) {
		http.Error(w, fmt.Sprintf("split already %s", st.Status), http.StatusConflict)
		return
	}
	if err := o.deps.Queue.CancelJob(r.Context(), req.ID); err != nil {
		http.Error(w, "cancel failed", http.StatusInternalServerError)
		return
	}
	st.Status = store.StatusCancelled
	if req.Reason != "" {
		st.Message = fmt.Sprintf("Cancelled: %s", req.Reason)
	} else {
		st.Message = "Cancelled"
	}
	now := time.Now()
	st.End = &now
	_ = o.deps.Status.Set(r.Context(), req.ID, st)
	log.Info().Str("split_id", req.ID).Str("reason", req.Reason).Msg("split cancelled")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": req.ID, "status": store.StatusCancelled})
}

func (o *Orchestrator) handleExamples(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{}
	for _, m := range []splitplan.Mode{splitplan.Smart, splitplan.Ranges, splitplan.CutPoints} {
		out[m.String()] = splitplan.Example(m)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
