// Package qc runs data-quality checks against OMOP datasets in BigQuery and
// folds the outcomes into a pass/fail report. Each check renders one or more
// SQL statements that count rule violations; a check passes when the total
// violation count is zero.
package qc

import (
	"fmt"
	"io"
)

// Result is the outcome of a single named check.
type Result struct {
	Check    string
	Passed   bool
	Failures int64
}

// Report accumulates check results in execution order.
type Report struct {
	Results []Result
}

// Add records the outcome of a check. A check passes iff it produced zero
// failing rows.
func (r *Report) Add(check string, failures int64) {
	r.Results = append(r.Results, Result{
		Check:    check,
		Passed:   failures == 0,
		Failures: failures,
	})
}

// Passed reports whether every check in the report passed.
func (r *Report) Passed() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}

	return true
}

// WriteSummary prints the final tab-separated summary table.
func (r *Report) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "check\tresult\tfailing_rows\n")
	for _, res := range r.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAILURE"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", res.Check, status, res.Failures)
	}
}

// FailureRow is the shape every per-table check query yields: the table and
// column under test and the number of rows violating the rule.
type FailureRow struct {
	TableName        string `bigquery:"table_name"`
	ColumnName       string `bigquery:"column_name"`
	RowCountFailures int64  `bigquery:"row_count_failures"`
}
