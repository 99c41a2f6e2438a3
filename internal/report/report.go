package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/template"
	"time"

	"github.com/FranksOps/harrier/internal/storage"
)

// Summary contains aggregated metrics about a search session.
type Summary struct {
	TotalFetches    int
	TotalErrors     int
	TotalSoftBlocks int
	StatusCodes     map[int]int
	BlocksByReason  map[string]int
	FetchByStrategy map[string]int
	TotalAccepted   int
	TotalBytes      int64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}

// GenerateSummary processes a slice of captures to generate summary metrics.
func GenerateSummary(captures []*storage.Capture) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		BlocksByReason:  make(map[string]int),
		FetchByStrategy: make(map[string]int),
	}

	if len(captures) == 0 {
		return s
	}

	s.StartTime = captures[0].CreatedAt
	s.EndTime = captures[0].CreatedAt

	for _, c := range captures {
		s.TotalFetches++
		if c.Outcome == "hard_error" || c.Error != "" {
			s.TotalErrors++
		}
		if c.Outcome == "soft_block" {
			s.TotalSoftBlocks++
			s.BlocksByReason[c.BlockReason]++
		}
		if c.StatusCode > 0 {
			s.StatusCodes[c.StatusCode]++
		}
		s.FetchByStrategy[c.Strategy]++
		s.TotalAccepted += c.Accepted
		s.TotalBytes += c.BodySize

		if c.CreatedAt.Before(s.StartTime) {
			s.StartTime = c.CreatedAt
		}
		if c.CreatedAt.After(s.EndTime) {
			s.EndTime = c.CreatedAt
		}
	}

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Harrier Session Summary
-----------------------
Time:           {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:       {{.Duration}}
Total Fetch:    {{.TotalFetches}} page fetches
Total Bytes:    {{.TotalBytes}} bytes
Total Errors:   {{.TotalErrors}}
Total Accepted: {{.TotalAccepted}} results

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Fetches By Strategy:
{{- range $strategy, $count := .FetchByStrategy}}
  {{$strategy}}: {{$count}}
{{- else}}
  None
{{- end}}

Soft Blocks: {{.TotalSoftBlocks}}
{{- range $reason, $count := .BlocksByReason}}
  {{$reason}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>Harrier Session Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Harrier Session Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Page Fetches</div>
    <div class="stat-val">{{.TotalFetches}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Soft Blocks</div>
    <div class="stat-val" style="color: {{if gt .TotalSoftBlocks 0}}red{{else}}green{{end}};">{{.TotalSoftBlocks}}</div>
  </div>
  <div class="stat-card">
    <div>Results Accepted</div>
    <div class="stat-val">{{.TotalAccepted}}</div>
  </div>
  <div class="stat-card">
    <div>Total Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Soft Blocks By Reason</h3>
  <table>
    <tr><th>Reason</th><th>Count</th></tr>
    {{- range $reason, $count := .BlocksByReason}}
    <tr><td>{{$reason}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := template.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	return nil
}
