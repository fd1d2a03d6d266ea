package source

// Snapshot types for the four panel kinds. Every field carries a default:
// normalization guarantees scalars are zero-valued when absent and
// collections are non-nil, so renderers never need nil checks.

// LogAnalysis is the normalized recent log analysis snapshot.
type LogAnalysis struct {
	TotalLogs            int64                  `json:"total_logs"`
	CleanedLogsCount     int64                  `json:"cleaned_logs_count"`
	TimeRange            string                 `json:"time_range"`
	ProcessingStatus     string                 `json:"processing_status"`
	BusinessModules      map[string]ModuleStats `json:"business_modules"`
	ErrorCategories      map[string]int64       `json:"error_categories"`
	ErrorTypes           map[string]int64       `json:"error_types"`
	SeverityDistribution map[string]int64       `json:"severity_distribution"`
	RecentErrors         []LogRecord            `json:"recent_errors"`
}

// ModuleStats aggregates errors for one business module.
type ModuleStats struct {
	Count     int64         `json:"count"`
	Instances []string      `json:"instances"`
	Errors    []ModuleError `json:"errors"`
}

// ModuleError is a truncated error example attached to a module.
type ModuleError struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	ErrorType string `json:"error_type"`
	Severity  string `json:"severity"`
}

// LogRecord is one cleaned error log line.
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Instance  string `json:"instance"`
	Module    string `json:"module"`
}

// InspectionPage is one page of inspection results.
type InspectionPage struct {
	Items    []InspectionItem `json:"items"`
	Page     int64            `json:"page"`
	PageSize int64            `json:"page_size"`
	Total    int64            `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// InspectionItem is a single inspection check result.
type InspectionItem struct {
	TS        string            `json:"ts"`
	CheckName string            `json:"check_name"`
	Status    string            `json:"status"`
	Severity  string            `json:"severity"`
	Category  string            `json:"category"`
	Score     float64           `json:"score"`
	Instance  string            `json:"instance"`
	Value     float64           `json:"value"`
	Detail    string            `json:"detail"`
	Labels    map[string]string `json:"labels"`
}

// ResourceReport is the per-host server resource snapshot.
type ResourceReport struct {
	Hosts     []HostResource `json:"hosts"`
	Count     int64          `json:"count"`
	Timestamp string         `json:"timestamp"`
}

// HostResource holds utilization for one host.
type HostResource struct {
	Instance      string  `json:"instance"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// StatusSummary is the aggregate system status snapshot.
type StatusSummary struct {
	Timestamp   string  `json:"timestamp"`
	TotalChecks int64   `json:"total_checks"`
	OKCount     int64   `json:"ok_count"`
	AlertCount  int64   `json:"alert_count"`
	ErrorCount  int64   `json:"error_count"`
	HealthScore float64 `json:"health_score"`
	// SystemStatus is "healthy" (score >= 80), "warning" (>= 60) or "critical".
	SystemStatus string `json:"system_status"`
}
