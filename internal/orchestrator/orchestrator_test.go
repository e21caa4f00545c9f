package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/pdftest"
	"github.com/local/pdfsplitter/internal/queue"
	"github.com/local/pdfsplitter/internal/store"
)

type fakeQueue struct {
	mu        sync.Mutex
	tasks     []queue.SplitTask
	cancelled []string
	err       error
}

func (q *fakeQueue) EnqueueSplit(_ context.Context, t queue.SplitTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *fakeQueue) CancelJob(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, id)
	return nil
}

type memStatus struct {
	mu sync.Mutex
	m  map[string]store.Status
}

func (s *memStatus) Set(_ context.Context, id string, st store.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = map[string]store.Status{}
	}
	s.m[id] = st
	return nil
}

func (s *memStatus) Get(_ context.Context, id string) (store.Status, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[id]
	return st, ok, nil
}

type memOutputs map[string][]store.Output

func (m memOutputs) ListOutputs(_ context.Context, id string) ([]store.Output, error) {
	return m[id], nil
}

type fixedCounter struct {
	pages int
	name  string
	err   error
}

func (c fixedCounter) PageCount(context.Context, string) (int, string, error) {
	return c.pages, c.name, c.err
}

type env struct {
	srv    *httptest.Server
	q      *fakeQueue
	status *memStatus
	upload string
}

func newEnv(t *testing.T, counter PageCounter) *env {
	t.Helper()
	e := &env{q: &fakeQueue{}, status: &memStatus{}, upload: t.TempDir()}
	o := New(Dependencies{
		Queue:   e.q,
		Status:  e.status,
		Outputs: memOutputs{"done": {{Seq: 1, Name: "a.pdf", Range: "1-2", Location: "/out/a.pdf"}}},
		Counter: counter,
	}, config.SplitConfig{Mode: "ranges"}, config.HTTPConfig{UploadDir: e.upload, MaxUploadMB: 4})
	mux := http.NewServeMux()
	o.RegisterRoutes(mux)
	e.srv = httptest.NewServer(mux)
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(e.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPlanWithPageCount(t *testing.T) {
	e := newEnv(t, nil)
	resp, out := e.post(t, "/api/plan", map[string]any{"input": "1-2, 5", "page_count": 6, "base_filename": "memo.pdf"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}
	jobs := out["jobs"].([]any)
	if len(jobs) != 2 || out["mode"] != "ranges" {
		t.Fatalf("unexpected plan %v", out)
	}
	first := jobs[0].(map[string]any)
	if first["output_name"] != "memo_part01_p1-2.pdf" {
		t.Fatalf("name %v", first["output_name"])
	}
}

func TestPlanRejectionListsEveryProblem(t *testing.T) {
	e := newEnv(t, nil)
	resp, out := e.post(t, "/api/plan", map[string]any{"input": "0, 3-1, 9", "page_count": 5})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var kinds []string
	for _, p := range out["problems"].([]any) {
		kinds = append(kinds, p.(map[string]any)["kind"].(string))
	}
	want := []string{"invalid_page_number", "reversed_range", "page_out_of_range"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Fatalf("kinds (-want +got):\n%s", diff)
	}
}

func TestPlanBadRequests(t *testing.T) {
	e := newEnv(t, nil)
	if resp, _ := e.post(t, "/api/plan", map[string]any{"input": "1", "page_count": 0}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("page_count 0: status %d", resp.StatusCode)
	}
	if resp, _ := e.post(t, "/api/plan", map[string]any{"input": "1", "page_count": 3, "mode": "odd"}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown mode: status %d", resp.StatusCode)
	}
	resp, err := http.Get(e.srv.URL + "/api/plan")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status %d", resp.StatusCode)
	}
}

func TestSplitEnqueuesAfterPlanning(t *testing.T) {
	e := newEnv(t, fixedCounter{pages: 10, name: "book.pdf"})
	resp, out := e.post(t, "/api/split", map[string]any{"file_path": "s3://b/k/book.pdf", "input": "4 8", "mode": "cutpoints", "merge": true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}
	id, _ := out["id"].(string)
	if id == "" || len(e.q.tasks) != 1 {
		t.Fatalf("expected one task, got %v", e.q.tasks)
	}
	task := e.q.tasks[0]
	want := queue.SplitTask{
		ID: id, Source: "s3://b/k/book.pdf", Filename: "book.pdf", Input: "4 8", Mode: "cutpoints",
		Merge: true, Output: id, Attempt: 1,
	}
	if diff := cmp.Diff(want, task); diff != "" {
		t.Fatalf("task (-want +got):\n%s", diff)
	}
	st, ok, _ := e.status.Get(context.Background(), id)
	if !ok || st.Status != store.StatusQueued {
		t.Fatalf("status %+v", st)
	}
}

func TestSplitRejectedSelectionIsNotQueued(t *testing.T) {
	e := newEnv(t, fixedCounter{pages: 3, name: "x.pdf"})
	resp, _ := e.post(t, "/api/split", map[string]any{"file_path": "/x.pdf", "input": "2-7"})
	if resp.StatusCode != http.StatusUnprocessableEntity || len(e.q.tasks) != 0 {
		t.Fatalf("status %d, tasks %d", resp.StatusCode, len(e.q.tasks))
	}
	resp, _ = e.post(t, "/api/split", map[string]any{"input": "1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing file_path: status %d", resp.StatusCode)
	}
}

func TestSplitUnreadableDocument(t *testing.T) {
	e := newEnv(t, fixedCounter{err: errors.New("boom")})
	resp, _ := e.post(t, "/api/split", map[string]any{"file_path": "/x.pdf", "input": "1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestSplitQueueUnavailable(t *testing.T) {
	e := newEnv(t, fixedCounter{pages: 3, name: "x.pdf"})
	e.q.err = errors.New("redis down")
	resp, _ := e.post(t, "/api/split", map[string]any{"file_path": "/x.pdf", "input": "1"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestProgressAndCancel(t *testing.T) {
	e := newEnv(t, nil)
	_ = e.status.Set(context.Background(), "done", store.Status{Status: store.StatusSuccess, Progress: 100})
	_ = e.status.Set(context.Background(), "running", store.Status{Status: store.StatusProcessing, Progress: 40})

	resp, err := http.Get(e.srv.URL + "/api/progress/done")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if out["success"] != true || len(out["outputs"].([]any)) != 1 {
		t.Fatalf("progress %v", out)
	}

	resp, err = http.Get(e.srv.URL + "/api/progress/missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing: status %d", resp.StatusCode)
	}

	if resp, _ := e.post(t, "/api/cancel", map[string]any{"id": "done"}); resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel finished: status %d", resp.StatusCode)
	}
	resp, out = e.post(t, "/api/cancel", map[string]any{"id": "running", "reason": "user"})
	if resp.StatusCode != http.StatusOK || out["status"] != "cancelled" {
		t.Fatalf("cancel: %d %v", resp.StatusCode, out)
	}
	st, _, _ := e.status.Get(context.Background(), "running")
	if st.Status != store.StatusCancelled || st.Message != "Cancelled: user" || st.End == nil {
		t.Fatalf("status %+v", st)
	}
	if diff := cmp.Diff([]string{"running"}, e.q.cancelled); diff != "" {
		t.Fatalf("cancelled (-want +got):\n%s", diff)
	}
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(data)
	}
	_ = mw.Close()
	return &b, mw.FormDataContentType()
}

func TestSplitUploadPlansEveryFileFirst(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t,
		map[string]string{"input": "2-3", "mode": "ranges"},
		map[string][]byte{"long.pdf": pdftest.Build(4, 100, 100), "short.pdf": pdftest.Build(2, 100, 100)})

	resp, err := http.Post(e.srv.URL+"/api/split_upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %v", resp.StatusCode, out)
	}
	files := out["files"].([]any)
	if len(files) != 1 || files[0].(map[string]any)["file"] != "short.pdf" {
		t.Fatalf("rejected files %v", files)
	}
	if len(e.q.tasks) != 0 {
		t.Fatal("nothing may be queued when a file is rejected")
	}
	if left, _ := os.ReadDir(e.upload); len(left) != 0 {
		t.Fatalf("uploads not cleaned up: %d files", len(left))
	}
}

func TestSplitUploadQueuesEachFile(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t,
		map[string]string{"input": "", "whole_on_empty": "on"},
		map[string][]byte{`C:\scans\a.pdf`: pdftest.Build(3, 100, 100), "b.pdf": pdftest.Build(1, 100, 100)})

	resp, err := http.Post(e.srv.URL+"/api/split_upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if len(e.q.tasks) != 2 {
		t.Fatalf("tasks %d", len(e.q.tasks))
	}
	var names []string
	for _, task := range e.q.tasks {
		if !strings.HasPrefix(task.Source, "file://"+e.upload) || !task.WholeOnEmpty {
			t.Fatalf("unexpected task %+v", task)
		}
		if _, err := os.Stat(strings.TrimPrefix(task.Source, "file://")); err != nil {
			t.Fatalf("upload missing: %v", err)
		}
		names = append(names, task.Filename)
	}
	if diff := cmp.Diff([]string{"a.pdf", "b.pdf"}, names, sortStrings); diff != "" {
		t.Fatalf("filenames (-want +got):\n%s", diff)
	}
}

func TestSplitUploadSharedOutputKeepsNamesApart(t *testing.T) {
	cases := []struct {
		name  string
		files map[string][]byte
		want  []string
	}{
		{
			name:  "distinct names share the folder",
			files: map[string][]byte{"a.pdf": pdftest.Build(3, 100, 100), "b.pdf": pdftest.Build(3, 100, 100)},
			want:  []string{"batch", "batch"},
		},
		{
			name:  "same name gets a folder per file",
			files: map[string][]byte{`scans\report.pdf`: pdftest.Build(3, 100, 100), "old/report.pdf": pdftest.Build(2, 100, 100)},
			want:  []string{"batch/report", "batch/report_2"},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e := newEnv(t, nil)
			body, ct := multipartBody(t, map[string]string{"input": "1-2", "mode": "ranges", "output": "batch"}, c.files)
			resp, err := http.Post(e.srv.URL+"/api/split_upload", ct, body)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				t.Fatalf("status %d", resp.StatusCode)
			}
			var outputs []string
			for _, task := range e.q.tasks {
				if !task.RemoveSource {
					t.Fatalf("upload task %s does not own its source", task.ID)
				}
				outputs = append(outputs, task.Output)
			}
			if diff := cmp.Diff(c.want, outputs, sortStrings); diff != "" {
				t.Fatalf("outputs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSplitUploadRejectsNonPDF(t *testing.T) {
	e := newEnv(t, nil)
	body, ct := multipartBody(t, map[string]string{"input": "1"}, map[string][]byte{"notes.pdf": []byte("hello")})
	resp, err := http.Post(e.srv.URL+"/api/split_upload", ct, body)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

var sortStrings = cmpopts.SortSlices(func(a, b string) bool { return a < b })

func TestHealthAndExamples(t *testing.T) {
	e := newEnv(t, nil)
	resp, err := http.Get(e.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}

	resp, err = http.Get(e.srv.URL + "/api/examples")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	for _, mode := range []string{"smart", "ranges", "cutpoints"} {
		if out[mode] == "" {
			t.Errorf("no example for %s", mode)
		}
	}
}
