// Package report generates the standalone HTML failure report appended to a
// batch archive when one or more memories could not be processed.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/sfomuseum/go-memories"
)

// Filename is the name of the report entry at the archive root.
const Filename = "_Report.html"

var report_t = template.Must(template.New("report").Parse(report_html))

type report_vars struct {
	BatchNum     int
	TotalBatches int
	Generated    string
	Total        int
	Successful   int
	Failed       int
	FailedFiles  []string
}

// Generate renders the failure report for one batch.
func Generate(b *memories.Batch, successful []*memories.Memory, failed []*memories.Memory) ([]byte, error) {

	failed_files := make([]string, len(failed))

	for i, m := range failed {
		failed_files[i] = m.Filename
	}

	vars := report_vars{
		BatchNum:     b.BatchNum,
		TotalBatches: b.TotalBatches,
		Generated:    time.Now().UTC().Format(time.RFC1123),
		Total:        len(b.Memories),
		Successful:   len(successful),
		Failed:       len(failed),
		FailedFiles:  failed_files,
	}

	var buf bytes.Buffer

	err := report_t.Execute(&buf, vars)

	if err != nil {
		return nil, fmt.Errorf("Failed to render report, %w", err)
	}

	return buf.Bytes(), nil
}

const report_html = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Memories Export Report</title>
<style>
body { font-family: sans-serif; background-color: #1e1e1e; color: #ffffff; margin: 0; padding: 2rem; }
.container { max-width: 800px; margin: 0 auto; background-color: #3a3a3a; border-radius: 1rem; padding: 2rem; }
header { text-align: center; }
.stats { display: flex; gap: 1rem; justify-content: center; margin: 2rem 0; }
.stat { background-color: #1e1e1e; padding: 1.5rem; border-radius: 1rem; text-align: center; min-width: 8rem; }
.stat .value { font-size: 2rem; font-weight: 700; }
.stat .label { font-size: 0.875rem; text-transform: uppercase; color: #a0a0a0; }
.success { color: #4ade80; }
.fail { color: #f87171; }
ul { list-style-type: none; padding: 0; }
li { font-family: monospace; font-size: 0.875rem; padding: 0.5rem; border-bottom: 1px solid #3a3a3a; background-color: #2a2a2a; word-break: break-all; }
</style>
</head>
<body>
<div class="container">
<header>
<h1>Memories Export Report</h1>
<p>Batch {{ .BatchNum }} of {{ .TotalBatches }} &middot; {{ .Generated }}</p>
</header>
<main>
<div class="stats">
<div class="stat"><div class="value">{{ .Total }}</div><div class="label">Total</div></div>
<div class="stat"><div class="value success">{{ .Successful }}</div><div class="label">Successful</div></div>
<div class="stat"><div class="value fail">{{ .Failed }}</div><div class="label">Failed</div></div>
</div>
<h2>Failed files ({{ .Failed }})</h2>
<p>These files could not be downloaded. They may still be available in a later export.</p>
<ul>
{{ range .FailedFiles }}<li>{{ . }}</li>
{{ end }}</ul>
</main>
</div>
</body>
</html>
`
