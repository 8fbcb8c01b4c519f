package domain

type ScanCategory string

const (
	CategorySecret     ScanCategory = "secret"
	CategoryDangerous  ScanCategory = "dangerous"
	CategorySuspicious ScanCategory = "suspicious"
	CategoryPath       ScanCategory = "path"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Blocking reports whether findings of this severity stop a write.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ScanMatch is one detected occurrence in a scanned text blob.
type ScanMatch struct {
	Pattern  string       `json:"pattern"`
	Category ScanCategory `json:"category"`
	Severity Severity     `json:"severity"`
	Line     int          `json:"line"`
	Snippet  string       `json:"snippet"`
}

// ScanResult is safe iff Matches is empty.
type ScanResult struct {
	Safe    bool        `json:"safe"`
	Matches []ScanMatch `json:"matches"`
}
