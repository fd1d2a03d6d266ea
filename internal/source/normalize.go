package source

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	opsdeck "github.com/veslov/opsdeck/internal"
)

// Normalize converts a raw upstream response body into the canonical snapshot
// JSON for the given panel kind. It never fails on missing or wrong-typed
// fields: gjson lookups default scalars to zero and every collection is
// materialized non-nil, so the resulting payload is always render-safe.
func Normalize(kind opsdeck.Kind, raw []byte) ([]byte, error) {
	var snap any
	switch kind {
	case opsdeck.KindLogAnalysis:
		snap = NormalizeLogAnalysis(raw)
	case opsdeck.KindInspections:
		snap = NormalizeInspections(raw)
	case opsdeck.KindResources:
		snap = NormalizeResources(raw)
	case opsdeck.KindStatus:
		snap = NormalizeStatus(raw)
	default:
		return nil, fmt.Errorf("normalize: unsupported panel kind %q", kind)
	}

	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("normalize: marshal %s snapshot: %w", kind, err)
	}
	return out, nil
}

// EmptySnapshot returns the default-valued snapshot JSON for kind, used when
// a fetch fails and no cached data exists. The renderer shows its explicit
// empty states instead of a blank page.
func EmptySnapshot(kind opsdeck.Kind) []byte {
	out, _ := Normalize(kind, []byte("{}"))
	return out
}

// List caps for log-analysis snapshots. The upstream applies the same limits;
// enforcing them here keeps a misbehaving backend from bloating snapshots.
const (
	maxRecentErrors = 10
	maxModuleErrors = 3
)

// NormalizeLogAnalysis parses a /api/log-recent-analysis response.
func NormalizeLogAnalysis(raw []byte) LogAnalysis {
	r := gjson.ParseBytes(raw)
	la := LogAnalysis{
		TotalLogs:            r.Get("total_logs").Int(),
		CleanedLogsCount:     r.Get("cleaned_logs_count").Int(),
		TimeRange:            r.Get("time_range").String(),
		ProcessingStatus:     r.Get("processing_status").String(),
		BusinessModules:      map[string]ModuleStats{},
		ErrorCategories:      intMap(r.Get("error_categories")),
		ErrorTypes:           intMap(r.Get("error_types")),
		SeverityDistribution: intMap(r.Get("severity_distribution")),
		RecentErrors:         []LogRecord{},
	}

	r.Get("business_modules").ForEach(func(key, val gjson.Result) bool {
		ms := ModuleStats{
			Count:     val.Get("count").Int(),
			Instances: stringSlice(val.Get("instances")),
			Errors:    []ModuleError{},
		}
		val.Get("errors").ForEach(func(_, e gjson.Result) bool {
			ms.Errors = append(ms.Errors, ModuleError{
				Message:   e.Get("message").String(),
				Timestamp: e.Get("timestamp").String(),
				ErrorType: e.Get("error_type").String(),
				Severity:  e.Get("severity").String(),
			})
			return len(ms.Errors) < maxModuleErrors
		})
		la.BusinessModules[key.String()] = ms
		return true
	})

	r.Get("recent_errors").ForEach(func(_, e gjson.Result) bool {
		la.RecentErrors = append(la.RecentErrors, LogRecord{
			Timestamp: e.Get("timestamp").String(),
			Level:     e.Get("level").String(),
			Message:   e.Get("message").String(),
			Instance:  e.Get("instance").String(),
			Module:    e.Get("business_analysis.business_module").String(),
		})
		return len(la.RecentErrors) < maxRecentErrors
	})

	return la
}

// NormalizeInspections parses a /api/inspections response.
func NormalizeInspections(raw []byte) InspectionPage {
	r := gjson.ParseBytes(raw)
	page := InspectionPage{
		Items:    []InspectionItem{},
		Page:     r.Get("page").Int(),
		PageSize: r.Get("page_size").Int(),
		Total:    r.Get("total").Int(),
		HasMore:  r.Get("has_more").Bool(),
	}
	if page.Page <= 0 {
		page.Page = 1
	}

	r.Get("items").ForEach(func(_, it gjson.Result) bool {
		item := InspectionItem{
			TS:        it.Get("ts").String(),
			CheckName: it.Get("check_name").String(),
			Status:    it.Get("status").String(),
			Severity:  it.Get("severity").String(),
			Category:  it.Get("category").String(),
			Score:     it.Get("score").Float(),
			Instance:  it.Get("instance").String(),
			Value:     it.Get("value").Float(),
			Detail:    it.Get("detail").String(),
			Labels:    map[string]string{},
		}
		it.Get("labels").ForEach(func(k, v gjson.Result) bool {
			item.Labels[k.String()] = v.String()
			return true
		})
		page.Items = append(page.Items, item)
		return true
	})

	return page
}

// NormalizeResources parses a /api/server-resources response.
// The upstream wraps the host list in a "data" field.
func NormalizeResources(raw []byte) ResourceReport {
	r := gjson.ParseBytes(raw)
	rep := ResourceReport{
		Hosts:     []HostResource{},
		Timestamp: r.Get("timestamp").String(),
	}

	r.Get("data").ForEach(func(_, h gjson.Result) bool {
		rep.Hosts = append(rep.Hosts, HostResource{
			Instance:      h.Get("instance").String(),
			CPUPercent:    h.Get("cpu_percent").Float(),
			MemoryPercent: h.Get("memory_percent").Float(),
			DiskPercent:   h.Get("disk_percent").Float(),
		})
		return true
	})
	// Trust our own count over the upstream's, which can disagree after
	// a partial scrape.
	rep.Count = int64(len(rep.Hosts))

	return rep
}

// NormalizeStatus parses a /api/current-status response.
func NormalizeStatus(raw []byte) StatusSummary {
	r := gjson.ParseBytes(raw)
	s := StatusSummary{
		Timestamp:   r.Get("timestamp").String(),
		TotalChecks: r.Get("total_checks").Int(),
		OKCount:     r.Get("ok_count").Int(),
		AlertCount:  r.Get("alert_count").Int(),
		ErrorCount:  r.Get("error_count").Int(),
		HealthScore: r.Get("health_score").Float(),
	}
	s.SystemStatus = r.Get("system_status").String()
	if s.SystemStatus == "" {
		switch {
		case s.HealthScore >= 80:
			s.SystemStatus = "healthy"
		case s.HealthScore >= 60:
			s.SystemStatus = "warning"
		default:
			s.SystemStatus = "critical"
		}
	}
	return s
}

func intMap(res gjson.Result) map[string]int64 {
	m := map[string]int64{}
	res.ForEach(func(k, v gjson.Result) bool {
		m[k.String()] = v.Int()
		return true
	})
	return m
}

func stringSlice(res gjson.Result) []string {
	out := []string{}
	res.ForEach(func(_, v gjson.Result) bool {
		out = append(out, v.String())
		return true
	})
	return out
}
