package challenge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformed is wrapped by every artifact validation failure.
var ErrMalformed = errors.New("malformed payload")

// ErrInvalidResult is wrapped when a job reports completion with a result
// that fails validation. The job is over; the result cannot be used.
var ErrInvalidResult = errors.New("completed job has an invalid result")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// ResearchSource is one source the research stage cited.
type ResearchSource struct {
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	SourceType  string   `json:"source_type"`
	Relevance   string   `json:"relevance"`
	IsPrimary   bool     `json:"is_primary"`
	KeyInsights []string `json:"key_insights"`
	Published   string   `json:"publication_date,omitempty"`
}

// Research is the phase 1 research findings.
type Research struct {
	SessionID          string           `json:"session_id"`
	Domain             string           `json:"domain"`
	Function           string           `json:"function"`
	Sources            []ResearchSource `json:"sources"`
	DomainInsights     []string         `json:"domain_insights"`
	IdentifiedKPIs     []string         `json:"identified_kpis"`
	IndustryChallenges []string         `json:"industry_challenges"`
	GeneratedAt        time.Time        `json:"generated_at"`
}

// Validate rejects research without a domain/function pairing.
func (r *Research) Validate() error {
	if r == nil {
		return malformed("research missing")
	}
	if strings.TrimSpace(r.Domain) == "" || strings.TrimSpace(r.Function) == "" {
		return malformed("research has no domain/function")
	}
	for i, s := range r.Sources {
		if strings.TrimSpace(s.Title) == "" {
			return malformed("research source %d has no title", i)
		}
	}
	return nil
}

// PrimarySource returns the source flagged as the main case study, or the
// first source when none is flagged.
func (r *Research) PrimarySource() (ResearchSource, bool) {
	if r == nil || len(r.Sources) == 0 {
		return ResearchSource{}, false
	}
	for _, s := range r.Sources {
		if s.IsPrimary {
			return s, true
		}
	}
	return r.Sources[0], true
}

// ProblemStatement is the phase 1 draft. CharacterPositions maps a
// character name to the byte offsets where it is mentioned in Statement;
// offsets are stored as received.
type ProblemStatement struct {
	SessionID           string           `json:"session_id"`
	CompanyName         string           `json:"company_name"`
	Title               string           `json:"title"`
	Statement           string           `json:"statement"`
	CharacterPositions  map[string][]int `json:"character_positions"`
	AnalyticalQuestions []string         `json:"analytical_questions"`
	ResearchID          string           `json:"research_id"`
	Difficulty          Difficulty       `json:"difficulty"`
	GeneratedAt         time.Time        `json:"generated_at"`
}

// Validate rejects statements without a title or body.
func (p *ProblemStatement) Validate() error {
	if p == nil {
		return malformed("problem statement missing")
	}
	if strings.TrimSpace(p.Title) == "" {
		return malformed("problem statement has no title")
	}
	if strings.TrimSpace(p.Statement) == "" {
		return malformed("problem statement has no body")
	}
	return nil
}

// Column is one schema column.
type Column struct {
	Name          string         `json:"name"`
	Datatype      string         `json:"datatype"`
	Nullable      bool           `json:"nullable"`
	Description   string         `json:"description"`
	Constraints   map[string]any `json:"constraints,omitempty"`
	IDPrefix      string         `json:"id_prefix,omitempty"`
	AllowedValues []any          `json:"allowed_values,omitempty"`
}

// Table is one schema table.
type Table struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	SourceSystem string   `json:"source_system,omitempty"`
	Columns      []Column `json:"columns"`
	PrimaryKey   string   `json:"primary_key"`
	ParentTable  string   `json:"parent_table,omitempty"`
}

// Relationship is a foreign key between two tables.
type Relationship struct {
	ParentTable  string `json:"parent_table"`
	ParentColumn string `json:"parent_column"`
	ChildTable   string `json:"child_table"`
	ChildColumn  string `json:"child_column"`
	Cardinality  string `json:"cardinality"`
}

// KPI is a metric the dataset is designed to exhibit.
type KPI struct {
	Name          string `json:"name"`
	Formula       string `json:"formula"`
	ExpectedTrend string `json:"expected_trend"`
}

// Schema is the generated dataset schema.
type Schema struct {
	Tables         []Table        `json:"tables"`
	Relationships  []Relationship `json:"relationships"`
	KPIs           []KPI          `json:"kpis"`
	DateRangeStart string         `json:"date_range_start"`
	DateRangeEnd   string         `json:"date_range_end"`
}

// ColumnCount returns the total number of columns across tables.
func (s *Schema) ColumnCount() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t.Columns)
	}
	return n
}

// SchemaValidation is the backend's check of the schema against the
// analytical questions.
type SchemaValidation struct {
	CanAnswerAll        bool     `json:"can_answer_all"`
	Score               float64  `json:"validation_score"`
	AnswerableQuestions []int    `json:"answerable_questions"`
	MissingCapabilities []string `json:"missing_capabilities"`
	Recommendations     []string `json:"recommendations"`
}

// Verdict is the backend's recommendation for a schema or preview draft.
type Verdict string

// Verdicts reported with schema and preview drafts.
const (
	VerdictPendingApproval Verdict = "pending_approval"
	VerdictRegenerate      Verdict = "regenerate"
)

// SchemaDraft is the phase 2 draft.
type SchemaDraft struct {
	Schema     Schema           `json:"schema"`
	Validation SchemaValidation `json:"validation"`
	Verdict    Verdict          `json:"status"`
	Message    string           `json:"message"`
}

// Validate rejects schemas without tables or tables without columns.
func (d *SchemaDraft) Validate() error {
	if d == nil {
		return malformed("schema missing")
	}
	if len(d.Schema.Tables) == 0 {
		return malformed("schema has no tables")
	}
	for _, t := range d.Schema.Tables {
		if strings.TrimSpace(t.Name) == "" {
			return malformed("schema table without a name")
		}
		if len(t.Columns) == 0 {
			return malformed("schema table %q has no columns", t.Name)
		}
	}
	return nil
}

// PreviewTable holds the sample rows generated for one table.
type PreviewTable struct {
	TableName   string           `json:"table_name"`
	SampleRows  []map[string]any `json:"sample_rows"`
	RowCount    int              `json:"row_count"`
	ColumnCount int              `json:"column_count"`
}

// PreviewValidation is the backend's integrity check of the preview.
type PreviewValidation struct {
	FKIntegrityPassed bool           `json:"fk_integrity_passed"`
	OrphanRecords     map[string]int `json:"orphan_records"`
	DataTypeIssues    []string       `json:"data_type_issues"`
	Score             float64        `json:"quality_score"`
}

// PreviewDraft is the phase 3 draft.
type PreviewDraft struct {
	Tables     []PreviewTable    `json:"preview_data"`
	Validation PreviewValidation `json:"validation"`
	Verdict    Verdict           `json:"status"`
	Message    string            `json:"message"`
}

// Validate rejects previews without tables.
func (d *PreviewDraft) Validate() error {
	if d == nil {
		return malformed("preview missing")
	}
	if len(d.Tables) == 0 {
		return malformed("preview has no tables")
	}
	for _, t := range d.Tables {
		if strings.TrimSpace(t.TableName) == "" {
			return malformed("preview table without a name")
		}
	}
	return nil
}

// Check is a single QA check result.
type Check struct {
	Name     string  `json:"check_name"`
	Category string  `json:"category"`
	Passed   bool    `json:"passed"`
	Score    float64 `json:"score"`
	Message  string  `json:"message"`
	Severity string  `json:"severity"`
}

// QAResult is the quality report produced by the full generation job.
type QAResult struct {
	SessionID      string             `json:"session_id"`
	OverallScore   float64            `json:"overall_score"`
	CategoryScores map[string]float64 `json:"category_scores"`
	Status         string             `json:"status"`
	Checks         []Check            `json:"checks"`
	Strengths      []string           `json:"strengths"`
	Issues         []string           `json:"issues"`
	GeneratedAt    time.Time          `json:"generated_at"`
	Iteration      int                `json:"iteration_number"`
}

// Validate rejects scores outside 0..10.
func (q *QAResult) Validate() error {
	if q == nil {
		return malformed("qa result missing")
	}
	if q.OverallScore < 0 || q.OverallScore > 10 {
		return malformed("qa score %.2f outside 0..10", q.OverallScore)
	}
	return nil
}

// JobState is the state of the full generation job.
type JobState string

// Job states. The backend reports "generating" for a running job.
const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IsTerminal returns true for completed and failed.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Progress is the intermediate progress of the generation job.
type Progress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
	Elapsed float64 `json:"elapsed,omitempty"`
}

// JobStatus is one job-status response.
type JobStatus struct {
	State    JobState
	Progress *Progress
	QA       *QAResult
	Error    string
}

// Validate enforces the per-state payload shape.
func (s *JobStatus) Validate() error {
	if s == nil {
		return malformed("job status missing")
	}
	if s.Progress != nil && (s.Progress.Percent < 0 || s.Progress.Percent > 100) {
		return malformed("progress %.1f outside 0..100", s.Progress.Percent)
	}
	switch s.State {
	case JobRunning:
		return nil
	case JobCompleted:
		if err := s.QA.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidResult, err)
		}
		return nil
	case JobFailed:
		return nil
	default:
		return malformed("unknown job state %q", s.State)
	}
}

// Delivery is the phase 5 download manifest.
type Delivery struct {
	CSVFiles       []string `json:"csv_files"`
	PDFReport      string   `json:"pdf_report"`
	ExcelReport    string   `json:"excel_report"`
	DataDictionary string   `json:"data_dictionary"`
	Readme         string   `json:"readme"`
	DownloadURL    string   `json:"download_url"`
}

// Validate rejects manifests without a download locator.
func (d *Delivery) Validate() error {
	if d == nil {
		return malformed("delivery manifest missing")
	}
	if strings.TrimSpace(d.DownloadURL) == "" {
		return malformed("delivery manifest has no download url")
	}
	return nil
}
