package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/splitplan"
)

type uploadedFile struct {
	id    string
	name  string
	path  string
	pages int
	plan  *splitplan.Plan
}

type fileProblems struct {
	File     string               `json:"file"`
	Message  string               `json:"message"`
	Problems []*splitplan.Problem `json:"problems,omitempty"`
}

// handleSplitUpload accepts one or more PDFs as multipart "file" parts plus
// the planning form fields. Every file is planned before any is queued.
func (o *Orchestrator) handleSplitUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, o.http.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	req := planReq{
		Input:    r.FormValue("input"),
		Mode:     r.FormValue("mode"),
		Template: r.FormValue("template"),
		Output:   r.FormValue("output"),
	}
	if v := r.FormValue("merge"); v != "" {
		b := formBool(v)
		req.Merge = &b
	}
	if v := r.FormValue("whole_on_empty"); v != "" {
		b := formBool(v)
		req.WholeOnEmpty = &b
	}

	if err := os.MkdirAll(o.http.UploadDir, 0o755); err != nil {
		http.Error(w, "cannot create upload dir", http.StatusInternalServerError)
		return
	}

	var (
		files    []uploadedFile
		rejected []fileProblems
	)
	cleanup := func() {
		for _, f := range files {
			_ = os.Remove(f.path)
		}
	}
	for _, hdr := range headers {
		f, err := o.saveUpload(hdr)
		if err != nil {
			cleanup()
			log.Error().Err(err).Str("file", hdr.Filename).Msg("saving upload failed")
			http.Error(w, "cannot save upload", http.StatusInternalServerError)
			return
		}
		files = append(files, f)
	}

	for i := range files {
		f := &files[i]
		doc, err := pdfdoc.Open(r.Context(), f.path)
		if err != nil {
			rejected = append(rejected, fileProblems{File: f.name, Message: err.Error()})
			continue
		}
		f.pages = doc.PageCount()
		_ = doc.Close()

		preq, err := o.request(req, f.pages, f.name)
		if err != nil {
			cleanup()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		plan, err := planSplit(preq)
		if err != nil {
			fp := fileProblems{File: f.name, Message: err.Error()}
			var ie *splitplan.InputError
			if errors.As(err, &ie) {
				fp.Problems = ie.Problems
			}
			rejected = append(rejected, fp)
			continue
		}
		f.plan = plan
	}
	if len(rejected) > 0 {
		cleanup()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"status":  "rejected",
			"message": fmt.Sprintf("%d of %d files rejected", len(rejected), len(files)),
			"files":   rejected,
		})
		return
	}

	outputs := batchOutputs(req.Output, files)
	resp := make([]splitResp, 0, len(files))
	for i, f := range files {
		fileReq := req
		fileReq.Output = outputs[i]
		task := o.task(f.id, fileReq, "file://"+f.path, f.name)
		task.RemoveSource = true
		if err := o.enqueue(r.Context(), task, f.plan); err != nil {
			http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
			return
		}
		resp = append(resp, splitResp{Status: "ok", ID: f.id, Message: f.name, Plan: f.plan})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "ok", "jobs": resp})
}

// batchOutputs returns the output folder of each file. Files share output
// unless their planned names collide, in which case each gets its own
// subfolder named after the file.
func batchOutputs(output string, files []uploadedFile) []string {
	dirs := make([]string, len(files))
	if output == "" {
		return dirs
	}
	seen := map[string]bool{}
	clash := false
	for _, f := range files {
		for _, n := range plannedNames(f.plan) {
			k := strings.ToLower(n)
			clash = clash || seen[k]
			seen[k] = true
		}
	}
	if !clash {
		for i := range dirs {
			dirs[i] = output
		}
		return dirs
	}
	stems := make([]string, len(files))
	for i, f := range files {
		stems[i] = splitplan.BaseName(f.name)
		if stems[i] == "" || stems[i] == "." || stems[i] == ".." {
			stems[i] = f.id
		}
	}
	for i, stem := range splitplan.Disambiguate(stems) {
		dirs[i] = path.Join(output, stem)
	}
	return dirs
}

func plannedNames(plan *splitplan.Plan) []string {
	if plan.Merged != nil {
		return []string{plan.Merged.Name}
	}
	names := make([]string, 0, len(plan.Jobs))
	for _, j := range plan.Jobs {
		names = append(names, j.OutputName)
	}
	return names
}

// saveUpload stores the part under a generated name so that concurrent
// uploads never collide; the original name is kept for output naming.
func (o *Orchestrator) saveUpload(hdr *multipart.FileHeader) (uploadedFile, error) {
	src, err := hdr.Open()
	if err != nil {
		return uploadedFile{}, err
	}
	defer src.Close()

	name := filepath.Base(strings.ReplaceAll(hdr.Filename, `\`, "/"))
	if name == "" || name == "." || name == "/" {
		name = "upload.pdf"
	}
	id := uuid.NewString()
	p := filepath.Join(o.http.UploadDir, id+".pdf")
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	out, err := os.Create(p)
	if err != nil {
		return uploadedFile{}, err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(p)
		return uploadedFile{}, err
	}
	if err := out.Close(); err != nil {
		os.Remove(p)
		return uploadedFile{}, err
	}
	return uploadedFile{id: id, name: name, path: p}, nil
}

func formBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}
