package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	cfgpkg "github.com/local/pdfsplitter/internal/config"
	"github.com/local/pdfsplitter/internal/pdfdoc"
	"github.com/local/pdfsplitter/internal/pdftest"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	return cfgpkg.Config{Split: cfgpkg.SplitConfig{Mode: "smart", Workers: 2, OutputDir: t.TempDir()}}
}

func run(t *testing.T, cfg cfgpkg.Config, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(cfg)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanWithPageCount(t *testing.T) {
	out, err := run(t, testConfig(t), "plan", "--pages", "10", "--mode", "ranges", "--rules", "1-3, 7")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"document.pdf: 10 pages, 2 outputs (ranges)",
		"document_part01_p1-3.pdf",
		"document_part02_p7-7.pdf",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestPlanRejectionListsProblems(t *testing.T) {
	out, err := run(t, testConfig(t), "plan", "--pages", "3", "--mode", "ranges", "--rules", "2-1, 5")
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(out, "selection rejected") || !strings.Contains(out, "ends before it starts") || !strings.Contains(out, "outside 1..3") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestPlanJSON(t *testing.T) {
	out, err := run(t, testConfig(t), "plan", "--pages", "6", "--mode", "cutpoints", "--rules", "2 4", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var plan struct {
		Mode string `json:"mode"`
		Jobs []struct {
			OutputName string `json:"output_name"`
		} `json:"jobs"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	var names []string
	for _, j := range plan.Jobs {
		names = append(names, j.OutputName)
	}
	want := []string{"document_part01_p1-2.pdf", "document_part02_p3-4.pdf", "document_part03_p5-6.pdf"}
	if diff := cmp.Diff(want, names); diff != "" || plan.Mode != "cutpoints" {
		t.Fatalf("mode %q, names (-want +got):\n%s", plan.Mode, diff)
	}
}

func TestPlanNeedsInput(t *testing.T) {
	if _, err := run(t, testConfig(t), "plan", "--rules", "1"); err == nil {
		t.Fatal("expected an error without files or --pages")
	}
	if _, err := run(t, testConfig(t), "plan", "--pages", "3", "--mode", "odd", "--rules", "1"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestSplitWritesEveryFile(t *testing.T) {
	in := t.TempDir()
	a, b := filepath.Join(in, "a.pdf"), filepath.Join(in, "b.pdf")
	pdftest.WriteFile(t, a, 5)
	pdftest.WriteFile(t, b, 3)
	outDir := filepath.Join(t.TempDir(), "parts")

	out, err := run(t, testConfig(t), "split", a, b, "--mode", "cutpoints", "--rules", "2", "--out", outDir)
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	wantPages := map[string]int{
		"a_part01_p1-2.pdf": 2,
		"a_part02_p3-5.pdf": 3,
		"b_part01_p1-2.pdf": 2,
		"b_part02_p3-3.pdf": 1,
	}
	got := map[string]int{}
	entries, _ := os.ReadDir(outDir)
	for _, e := range entries {
		doc, err := pdfdoc.Open(context.Background(), filepath.Join(outDir, e.Name()))
		if err != nil {
			t.Fatalf("%s: %v", e.Name(), err)
		}
		got[e.Name()] = doc.PageCount()
		_ = doc.Close()
	}
	if diff := cmp.Diff(wantPages, got); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}
	if strings.Count(out, "  ok ") != 4 {
		t.Fatalf("expected four ok lines:\n%s", out)
	}
}

func TestSplitSameNamedFilesKeepEveryOutput(t *testing.T) {
	in := t.TempDir()
	a, b := filepath.Join(in, "a", "report.pdf"), filepath.Join(in, "b", "report.pdf")
	for _, p := range []string{a, b} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	pdftest.WriteFile(t, a, 4)
	pdftest.WriteFile(t, b, 3)
	outDir := t.TempDir()

	out, err := run(t, testConfig(t), "split", a, b, "--mode", "cutpoints", "--rules", "2", "--out", outDir)
	if err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	wantPages := map[string]int{
		"report_part01_p1-2.pdf":   2,
		"report_part02_p3-4.pdf":   2,
		"report_part01_p1-2_3.pdf": 2,
		"report_part02_p3-3.pdf":   1,
	}
	got := map[string]int{}
	entries, _ := os.ReadDir(outDir)
	for _, e := range entries {
		doc, err := pdfdoc.Open(context.Background(), filepath.Join(outDir, e.Name()))
		if err != nil {
			t.Fatalf("%s: %v", e.Name(), err)
		}
		got[e.Name()] = doc.PageCount()
		_ = doc.Close()
	}
	if diff := cmp.Diff(wantPages, got); diff != "" {
		t.Fatalf("outputs (-want +got):\n%s", diff)
	}
}

func TestSplitMerged(t *testing.T) {
	src := filepath.Join(t.TempDir(), "scan.pdf")
	pdftest.WriteFile(t, src, 6)
	outDir := t.TempDir()

	if _, err := run(t, testConfig(t), "split", src, "--mode", "ranges", "--rules", "5-6, 1", "--merge", "--out", outDir); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 1 {
		t.Fatalf("expected one merged file, got %d", len(entries))
	}
	doc, err := pdfdoc.Open(context.Background(), filepath.Join(outDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	defer doc.Close()
	if doc.PageCount() != 3 {
		t.Fatalf("merged pages = %d", doc.PageCount())
	}
}

func TestSplitRejectsBeforeWriting(t *testing.T) {
	in := t.TempDir()
	long, short := filepath.Join(in, "long.pdf"), filepath.Join(in, "short.pdf")
	pdftest.WriteFile(t, long, 8)
	pdftest.WriteFile(t, short, 2)
	outDir := filepath.Join(t.TempDir(), "parts")

	out, err := run(t, testConfig(t), "split", long, short, "--mode", "ranges", "--rules", "4-6", "--out", outDir)
	if err == nil || !strings.Contains(err.Error(), "nothing written") {
		t.Fatalf("expected rejection, got %v", err)
	}
	if !strings.Contains(out, short) {
		t.Fatalf("rejected file not named:\n%s", out)
	}
	if _, err := os.Stat(outDir); !os.IsNotExist(err) {
		t.Fatal("output directory should not exist")
	}
}

func TestExamples(t *testing.T) {
	out, err := run(t, testConfig(t), "examples")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"smart", "2 4", "ranges", "3-5 8..9", "cutpoints", "2 4 6"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
