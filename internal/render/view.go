// Package render turns normalized panel snapshots into view models and
// serializes them as HTML or CSV. Builders are pure: no clock, cache or
// network access, and the same snapshot always produces identical output.
package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	opsdeck "github.com/veslov/opsdeck/internal"
	"github.com/veslov/opsdeck/internal/source"
)

// placeholder fills cells of records that arrived without their key fields.
// A malformed record degrades to a placeholder row; it never blanks the view.
const placeholder = "-"

// View is the renderable model for one panel.
type View struct {
	Panel     string    `json:"panel"`
	Title     string    `json:"title"`
	Stale     bool      `json:"stale"`
	FetchedAt string    `json:"fetched_at,omitempty"`
	Banner    string    `json:"banner,omitempty"`
	Sections  []Section `json:"sections"`
}

// Section is one table within a panel. Empty is shown when Rows is empty.
type Section struct {
	Title   string     `json:"title"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
	Empty   string     `json:"empty,omitempty"`
}

var titles = map[opsdeck.Kind]string{
	opsdeck.KindLogAnalysis: "Recent Log Analysis",
	opsdeck.KindInspections: "Inspection Results",
	opsdeck.KindResources:   "Server Resources",
	opsdeck.KindStatus:      "System Status",
}

// Build decodes the snapshot carried by res and produces the panel view.
// Failed results render an empty snapshot with the error as a banner.
func Build(p opsdeck.Panel, res opsdeck.Result) (View, error) {
	payload := res.Payload
	if len(payload) == 0 {
		payload = source.EmptySnapshot(p.Kind)
	}

	var v View
	var err error
	switch p.Kind {
	case opsdeck.KindLogAnalysis:
		var la source.LogAnalysis
		if err = json.Unmarshal(payload, &la); err == nil {
			v = BuildLogView(la)
		}
	case opsdeck.KindInspections:
		var page source.InspectionPage
		if err = json.Unmarshal(payload, &page); err == nil {
			v = BuildInspectionView(page)
		}
	case opsdeck.KindResources:
		var rep source.ResourceReport
		if err = json.Unmarshal(payload, &rep); err == nil {
			v = BuildResourceView(rep)
		}
	case opsdeck.KindStatus:
		var st source.StatusSummary
		if err = json.Unmarshal(payload, &st); err == nil {
			v = BuildStatusView(st)
		}
	default:
		err = fmt.Errorf("%s: unknown panel kind %q", p.Name, p.Kind)
	}
	if err != nil {
		return View{}, err
	}

	v.Panel = p.Name
	v.Title = titles[p.Kind]
	v.Stale = res.Stale
	if !res.FetchedAt.IsZero() {
		v.FetchedAt = res.FetchedAt.UTC().Format(time.RFC3339)
	}
	switch {
	case res.Outcome == opsdeck.Failed && res.Err != nil:
		v.Banner = "data unavailable: " + res.Err.Error()
	case res.Stale:
		v.Banner = "showing cached data; the backend is unreachable"
	}
	return v, nil
}

// BuildLogView builds the log analysis panel view.
func BuildLogView(la source.LogAnalysis) View {
	summary := Section{
		Title:   "Summary",
		Headers: []string{"metric", "value"},
		Rows: [][]string{
			{"total logs", formatInt(la.TotalLogs)},
			{"cleaned error logs", formatInt(la.CleanedLogsCount)},
			{"time range", orPlaceholder(la.TimeRange)},
			{"processing", orPlaceholder(la.ProcessingStatus)},
		},
	}

	modules := Section{
		Title:   "Business Modules",
		Headers: []string{"module", "errors", "instances"},
		Empty:   "No module errors in this window.",
	}
	for _, name := range sortedKeys(la.BusinessModules) {
		m := la.BusinessModules[name]
		modules.Rows = append(modules.Rows, []string{
			name, formatInt(m.Count), formatInt(int64(len(m.Instances))),
		})
	}

	severity := countSection("Severity Distribution", "severity", la.SeverityDistribution,
		"No severity data.")
	categories := countSection("Error Categories", "category", la.ErrorCategories,
		"No categorized errors.")

	recent := Section{
		Title:   "Recent Errors",
		Headers: []string{"time", "level", "module", "instance", "message"},
		Empty:   "No recent errors.",
	}
	for _, r := range la.RecentErrors {
		recent.Rows = append(recent.Rows, []string{
			orPlaceholder(r.Timestamp),
			orPlaceholder(r.Level),
			orPlaceholder(r.Module),
			orPlaceholder(r.Instance),
			orPlaceholder(r.Message),
		})
	}

	return View{Sections: []Section{summary, modules, severity, categories, recent}}
}

// BuildInspectionView builds the inspection results panel view.
func BuildInspectionView(page source.InspectionPage) View {
	s := Section{
		Title: fmt.Sprintf("Checks (page %d, %d total)", pageNumber(page.Page), page.Total),
		Headers: []string{
			"time", "check", "status", "severity", "category", "score", "instance", "detail",
		},
		Empty: "No inspection results.",
	}
	for _, it := range page.Items {
		s.Rows = append(s.Rows, []string{
			orPlaceholder(it.TS),
			orPlaceholder(it.CheckName),
			orPlaceholder(it.Status),
			orPlaceholder(it.Severity),
			orPlaceholder(it.Category),
			formatFloat(it.Score),
			orPlaceholder(it.Instance),
			orPlaceholder(it.Detail),
		})
	}
	return View{Sections: []Section{s}}
}

// BuildResourceView builds the server resources panel view.
func BuildResourceView(rep source.ResourceReport) View {
	s := Section{
		Title:   fmt.Sprintf("Hosts (%d)", rep.Count),
		Headers: []string{"instance", "cpu %", "memory %", "disk %"},
		Empty:   "No host data.",
	}
	for _, h := range rep.Hosts {
		s.Rows = append(s.Rows, []string{
			orPlaceholder(h.Instance),
			formatFloat(h.CPUPercent),
			formatFloat(h.MemoryPercent),
			formatFloat(h.DiskPercent),
		})
	}
	return View{Sections: []Section{s}}
}

// BuildStatusView builds the system status panel view.
func BuildStatusView(st source.StatusSummary) View {
	s := Section{
		Title:   "Health",
		Headers: []string{"metric", "value"},
		Rows: [][]string{
			{"status", orPlaceholder(st.SystemStatus)},
			{"health score", formatFloat(st.HealthScore)},
			{"total checks", formatInt(st.TotalChecks)},
			{"ok", formatInt(st.OKCount)},
			{"alerts", formatInt(st.AlertCount)},
			{"errors", formatInt(st.ErrorCount)},
		},
	}
	return View{Sections: []Section{s}}
}

// countSection renders a name->count map as a two-column table with
// deterministic row order.
func countSection(title, label string, counts map[string]int64, empty string) Section {
	s := Section{
		Title:   title,
		Headers: []string{label, "count"},
		Empty:   empty,
	}
	for _, k := range sortedKeys(counts) {
		s.Rows = append(s.Rows, []string{k, formatInt(counts[k])})
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 1, 64)
}

func pageNumber(p int64) int64 {
	if p < 1 {
		return 1
	}
	return p
}
