package mockbackend

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/datafactory/challenge"
)

func sampleResearch(sid string, in challenge.Input) *challenge.Research {
	return &challenge.Research{
		SessionID: sid,
		Domain:    in.Domain,
		Function:  in.Function,
		Sources: []challenge.ResearchSource{
			{
				Title:       fmt.Sprintf("%s %s benchmark report", in.Domain, in.Function),
				URL:         "https://example.com/reports/benchmark",
				SourceType:  "industry_report",
				Relevance:   "Baseline KPIs for the function",
				IsPrimary:   true,
				KeyInsights: []string{"Throughput varies by region", "Backlog peaks at quarter end"},
			},
			{
				Title:       fmt.Sprintf("How %s teams measure %s", in.Domain, in.Function),
				URL:         "https://example.com/articles/measurement",
				SourceType:  "article",
				Relevance:   "Metric definitions",
				KeyInsights: []string{"Cycle time is the leading indicator"},
			},
		},
		DomainInsights:     []string{"Demand is seasonal", "Data quality is uneven across systems"},
		IdentifiedKPIs:     []string{"Cycle Time", "Utilization", "Cost per Unit"},
		IndustryChallenges: []string{"Staffing shortages", "Legacy reporting"},
		GeneratedAt:        time.Now().UTC(),
	}
}

func sampleProblem(sid string, in challenge.Input) *challenge.ProblemStatement {
	company := companyName(in.Domain)
	statement := fmt.Sprintf("%s is reviewing its %s performance. Priya, the head of analytics, "+
		"has asked you to find where cycle time is lost and which teams are over capacity. "+
		"Priya needs a recommendation before the next planning review.", company, strings.ToLower(in.Function))
	return &challenge.ProblemStatement{
		SessionID:          sid,
		CompanyName:        company,
		Title:              fmt.Sprintf("%s %s Challenge", in.Domain, in.Function),
		Statement:          statement,
		CharacterPositions: map[string][]int{"Priya": indexAll(statement, "Priya")},
		AnalyticalQuestions: []string{
			"Which teams have the longest cycle time?",
			"How does utilization change month over month?",
			"Where is cost per unit highest?",
		},
		Difficulty:  in.Difficulty,
		GeneratedAt: time.Now().UTC(),
	}
}

func companyName(domain string) string {
	if domain == "" {
		return "Northwind"
	}
	return "Northwind " + domain
}

func indexAll(s, sub string) []int {
	var out []int
	for off := 0; ; {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(sub)
	}
}

func sampleSchema(in challenge.Input) challenge.Schema {
	prefix := strings.ToLower(strings.ReplaceAll(in.Function, " ", "_"))
	if prefix == "" {
		prefix = "ops"
	}
	return challenge.Schema{
		Tables: []challenge.Table{
			{
				Name:         "dim_team",
				Description:  "Teams performing the work",
				SourceSystem: "HRIS",
				PrimaryKey:   "team_id",
				Columns: []challenge.Column{
					{Name: "team_id", Datatype: "string", Description: "Team identifier", IDPrefix: "TM"},
					{Name: "team_name", Datatype: "string", Description: "Display name"},
					{Name: "region", Datatype: "string", Description: "Operating region", AllowedValues: []any{"North", "South", "East", "West"}},
				},
			},
			{
				Name:         "fact_" + prefix,
				Description:  "One row per completed work item",
				SourceSystem: "ERP",
				PrimaryKey:   "item_id",
				ParentTable:  "dim_team",
				Columns: []challenge.Column{
					{Name: "item_id", Datatype: "string", Description: "Work item identifier", IDPrefix: "WI"},
					{Name: "team_id", Datatype: "string", Description: "Owning team"},
					{Name: "completed_on", Datatype: "date", Description: "Completion date"},
					{Name: "cycle_hours", Datatype: "float", Description: "Hours from start to completion"},
					{Name: "cost", Datatype: "float", Nullable: true, Description: "Direct cost"},
				},
			},
		},
		Relationships: []challenge.Relationship{
			{ParentTable: "dim_team", ParentColumn: "team_id", ChildTable: "fact_" + prefix, ChildColumn: "team_id", Cardinality: "1:N"},
		},
		KPIs: []challenge.KPI{
			{Name: "Cycle Time", Formula: "AVG(cycle_hours)", ExpectedTrend: "decreasing"},
		},
		DateRangeStart: "2024-01-01",
		DateRangeEnd:   "2024-12-31",
	}
}

func samplePreview(schema challenge.Schema) []challenge.PreviewTable {
	out := make([]challenge.PreviewTable, 0, len(schema.Tables))
	for _, t := range schema.Tables {
		rows := make([]map[string]any, 0, 3)
		for i := 1; i <= 3; i++ {
			row := make(map[string]any, len(t.Columns))
			for _, c := range t.Columns {
				row[c.Name] = sampleValue(c, i)
			}
			rows = append(rows, row)
		}
		out = append(out, challenge.PreviewTable{
			TableName:   t.Name,
			SampleRows:  rows,
			RowCount:    len(rows),
			ColumnCount: len(t.Columns),
		})
	}
	return out
}

func sampleValue(c challenge.Column, i int) any {
	switch {
	case c.Name == "team_id":
		return fmt.Sprintf("TM-%03d", i)
	case c.IDPrefix != "":
		return fmt.Sprintf("%s-%03d", c.IDPrefix, i)
	case len(c.AllowedValues) > 0:
		return c.AllowedValues[(i-1)%len(c.AllowedValues)]
	case c.Datatype == "float":
		return float64(i) * 12.5
	case c.Datatype == "date":
		return fmt.Sprintf("2024-0%d-15", i)
	default:
		return fmt.Sprintf("%s %d", c.Name, i)
	}
}

func sampleQA(sid string, score float64) *challenge.QAResult {
	return &challenge.QAResult{
		SessionID:      sid,
		OverallScore:   score,
		CategoryScores: map[string]float64{"integrity": score, "realism": score},
		Status:         "passed",
		Checks: []challenge.Check{
			{Name: "fk_integrity", Category: "integrity", Passed: true, Score: 10, Message: "No orphan records", Severity: "info"},
			{Name: "null_ratio", Category: "realism", Passed: true, Score: score, Message: "Null ratio within bounds", Severity: "info"},
		},
		Strengths:   []string{"Referential integrity holds"},
		GeneratedAt: time.Now().UTC(),
		Iteration:   1,
	}
}

func sampleDelivery(sid string, schema challenge.Schema) *challenge.Delivery {
	d := &challenge.Delivery{
		PDFReport:      "quality_report.pdf",
		ExcelReport:    "analytical_answers.xlsx",
		DataDictionary: "data_dictionary.txt",
		Readme:         "README.txt",
		DownloadURL:    downloadPath(sid),
	}
	for _, t := range schema.Tables {
		d.CSVFiles = append(d.CSVFiles, "data/"+t.Name+".csv")
	}
	return d
}

// buildBundle renders the zip served by the download stage.
func buildBundle(sid string, in challenge.Input) ([]byte, error) {
	schema := sampleSchema(in)
	delivery := sampleDelivery(sid, schema)
	preview := samplePreview(schema)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	add := func(name, content string) error {
		f, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
		_, err = f.Write([]byte(content))
		return err
	}

	for i, t := range schema.Tables {
		if err := add(delivery.CSVFiles[i], renderCSV(t, preview[i])); err != nil {
			return nil, err
		}
	}
	files := []struct{ name, content string }{
		{delivery.Readme, fmt.Sprintf("DATA CHALLENGE PACKAGE\nSession: %s\nDomain: %s\nFunction: %s\n", sid, in.Domain, in.Function)},
		{delivery.DataDictionary, renderDictionary(schema)},
		{delivery.PDFReport, "%PDF-1.4\n% mock quality report\n"},
		{delivery.ExcelReport, "mock analytical answers\n"},
	}
	for _, f := range files {
		if err := add(f.name, f.content); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close bundle: %w", err)
	}
	return buf.Bytes(), nil
}

func renderCSV(t challenge.Table, p challenge.PreviewTable) string {
	var sb strings.Builder
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	sb.WriteString(strings.Join(names, ",") + "\n")
	for _, row := range p.SampleRows {
		vals := make([]string, len(names))
		for i, n := range names {
			vals[i] = fmt.Sprint(row[n])
		}
		sb.WriteString(strings.Join(vals, ",") + "\n")
	}
	return sb.String()
}

func renderDictionary(schema challenge.Schema) string {
	var sb strings.Builder
	sb.WriteString("DATA DICTIONARY\n")
	for _, t := range schema.Tables {
		fmt.Fprintf(&sb, "\nTable: %s\nDescription: %s\nPrimary Key: %s\n", t.Name, t.Description, t.PrimaryKey)
		for _, c := range t.Columns {
			fmt.Fprintf(&sb, "  %-20s %-10s %s\n", c.Name, c.Datatype, c.Description)
		}
	}
	for _, r := range schema.Relationships {
		fmt.Fprintf(&sb, "\n%s.%s -> %s.%s (%s)\n", r.ParentTable, r.ParentColumn, r.ChildTable, r.ChildColumn, r.Cardinality)
	}
	return sb.String()
}
