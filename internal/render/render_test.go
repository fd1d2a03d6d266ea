package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/source"
)

func logPanel() opsdeck.Panel {
	return opsdeck.Panel{Name: "log-analysis", Resource: "log-recent-analysis", Kind: opsdeck.KindLogAnalysis}
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"total_logs": 120,
		"cleaned_logs_count": 12,
		"business_modules": {
			"billing": {"count": 7, "instances": ["app-1", "app-2"]},
			"auth":    {"count": 5, "instances": ["app-1"]}
		},
		"severity_distribution": {"high": 3, "low": 9},
		"error_categories": {"timeout": 4, "db": 8}
	}`)
	payload, err := source.Normalize(opsdeck.KindLogAnalysis, raw)
	if err != nil {
		t.Fatal(err)
	}
	res := opsdeck.Result{
		Outcome:   opsdeck.ServedFresh,
		Payload:   payload,
		FetchedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	var out [2][]byte
	for i := range out {
		v, err := Build(logPanel(), res)
		if err != nil {
			t.Fatal(err)
		}
		var buf bytes.Buffer
		if err := WriteHTML(&buf, Page{Title: "opsdeck", Panels: []View{v}}); err != nil {
			t.Fatal(err)
		}
		out[i] = buf.Bytes()
	}
	if !bytes.Equal(out[0], out[1]) {
		t.Error("rendering the same snapshot twice must produce identical bytes")
	}
}

func TestBuild_SparseSnapshotDefaults(t *testing.T) {
	t.Parallel()
	payload, err := source.Normalize(opsdeck.KindLogAnalysis, []byte(`{"total_logs": 5}`))
	if err != nil {
		t.Fatal(err)
	}
	v, err := Build(logPanel(), opsdeck.Result{Outcome: opsdeck.ServedFresh, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}

	summary := v.Sections[0]
	if got := summary.Rows[0][1]; got != "5" {
		t.Errorf("total logs = %q, want 5", got)
	}
	if got := summary.Rows[1][1]; got != "0" {
		t.Errorf("cleaned logs = %q, want defaulted 0", got)
	}
	for _, s := range v.Sections[1:] {
		if len(s.Rows) != 0 {
			t.Errorf("section %q should be empty for a sparse snapshot", s.Title)
		}
		if s.Empty == "" {
			t.Errorf("section %q has no empty-state message", s.Title)
		}
	}
}

func TestBuild_EmptySnapshotsRenderForEveryKind(t *testing.T) {
	t.Parallel()
	kinds := []opsdeck.Kind{
		opsdeck.KindLogAnalysis, opsdeck.KindInspections,
		opsdeck.KindResources, opsdeck.KindStatus,
	}
	for _, k := range kinds {
		p := opsdeck.Panel{Name: string(k), Resource: string(k), Kind: k}
		v, err := Build(p, opsdeck.Result{Outcome: opsdeck.Failed, Err: errors.New("backend down")})
		if err != nil {
			t.Fatalf("%s: %v", k, err)
		}
		if v.Banner == "" {
			t.Errorf("%s: failed result must surface a banner", k)
		}
		var buf bytes.Buffer
		if err := WriteHTML(&buf, Page{Title: "opsdeck", Panels: []View{v}}); err != nil {
			t.Errorf("%s: render: %v", k, err)
		}
		if !strings.Contains(buf.String(), "backend down") {
			t.Errorf("%s: banner missing from output", k)
		}
	}
}

func TestBuild_StaleBanner(t *testing.T) {
	t.Parallel()
	payload, _ := source.Normalize(opsdeck.KindStatus, []byte(`{"health_score": 91.5}`))
	v, err := Build(
		opsdeck.Panel{Name: "status", Kind: opsdeck.KindStatus},
		opsdeck.Result{Outcome: opsdeck.ServedStale, Stale: true, Payload: payload, Err: errors.New("dial tcp: refused")},
	)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Stale {
		t.Error("view must carry the stale flag")
	}
	if v.Banner == "" {
		t.Error("stale view must carry a banner")
	}
	if got := v.Sections[0].Rows[1][1]; got != "91.5" {
		t.Errorf("health score = %q", got)
	}
}

func TestBuildInspectionView_MalformedRowsGetPlaceholders(t *testing.T) {
	t.Parallel()
	page := source.InspectionPage{
		Items: []source.InspectionItem{
			{TS: "2026-03-01T10:00:00Z", CheckName: "disk_usage", Status: "ok", Score: 0.9},
			{}, // arrived with no fields at all
		},
		Page: 1, PageSize: 20, Total: 2,
	}
	v := BuildInspectionView(page)
	rows := v.Sections[0].Rows
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (malformed rows must not be dropped)", len(rows))
	}
	for _, cell := range []string{rows[1][0], rows[1][1], rows[1][2]} {
		if cell != "-" {
			t.Errorf("malformed row cell = %q, want placeholder", cell)
		}
	}
}

func TestBuildLogView_DeterministicModuleOrder(t *testing.T) {
	t.Parallel()
	la := source.LogAnalysis{
		BusinessModules: map[string]source.ModuleStats{
			"zeta": {Count: 1}, "alpha": {Count: 2}, "mid": {Count: 3},
		},
	}
	v := BuildLogView(la)
	var names []string
	for _, row := range v.Sections[1].Rows {
		names = append(names, row[0])
	}
	want := []string{"alpha", "mid", "zeta"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("module order = %v, want %v", names, want)
		}
	}
}

func TestWriteCSV_Inspections(t *testing.T) {
	t.Parallel()
	v := BuildInspectionView(source.InspectionPage{
		Items: []source.InspectionItem{
			{TS: "2026-03-01T10:00:00Z", CheckName: "cpu_load", Status: "alert", Severity: "high",
				Category: "resource", Score: 0.4, Instance: "app-1", Detail: "load 7.2"},
		},
		Page: 1, PageSize: 20, Total: 1,
	})

	var buf bytes.Buffer
	if err := WriteCSV(&buf, v); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + row:\n%s", len(lines), buf.String())
	}
	if lines[0] != "time,check,status,severity,category,score,instance,detail" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "cpu_load") || !strings.Contains(lines[1], "app-1") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestWriteHTML_EscapesSnapshotText(t *testing.T) {
	t.Parallel()
	v := BuildLogView(source.LogAnalysis{
		RecentErrors: []source.LogRecord{{Message: `<script>alert(1)</script>`}},
	})
	var buf bytes.Buffer
	if err := WriteHTML(&buf, Page{Title: "opsdeck", Panels: []View{v}}); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Error("snapshot text must be escaped")
	}
}
