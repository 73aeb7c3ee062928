// Package cleaner applies cleaning rules to OMOP datasets in BigQuery. A rule
// sandboxes the rows it is about to remove or rewrite into the dataset's
// sandbox before touching the original table, so every run can be audited and
// reversed. Rules execute strictly in order; a failed query aborts the run.
package cleaner

import (
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"

	"github.com/carbocation/pfx"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

// Rule is one cleaning rule. Setup performs any dynamic discovery (for
// example listing tables carrying person_id) before QuerySpecs renders the
// ordered statement list. SandboxTables maps each affected table to the
// sandbox table holding its removed rows; tables cleaned without sandboxing
// are absent from the map.
type Rule interface {
	Name() string
	IssueNumbers() []string
	Description() string
	AffectedTables() []string
	Setup(bq *bqutil.WrappedBigQuery) error
	QuerySpecs() ([]bqutil.QuerySpec, error)
	SandboxTables() map[string]string
}

var releaseTag = regexp.MustCompile(`\d{4}q\dr\d`)

// TableNamer derives the sandbox table prefix from a dataset id by stripping
// the release tag, so that reruns across releases reuse stable names.
func TableNamer(datasetID string) string {
	return releaseTag.ReplaceAllString(datasetID, "")
}

// SandboxDatasetID returns the sandbox dataset paired with a dataset.
func SandboxDatasetID(datasetID string) string {
	return datasetID + "_sandbox"
}

// SandboxTableFor builds the sandbox table name for an affected table:
// the lowercased issue ids joined by underscores, then the table, prefixed
// by the table namer when one is set.
func SandboxTableFor(tableNamer string, issueNumbers []string, table string) string {
	base := strings.ToLower(strings.Join(issueNumbers, "_")) + "_" + table
	if tableNamer == "" {
		return base
	}
	return tableNamer + "_" + base
}

var dropEmptySandboxTablesSQL = `DECLARE i INT64 DEFAULT 0;
DECLARE tables DEFAULT (
  SELECT
    ARRAY_AGG(FORMAT("` + "`%s.%s.%s`" + `", project_id, dataset_id, table_id))
  FROM
    ` + "`{{.project}}.{{.sandboxDataset}}.__TABLES__`" + `
  WHERE
    row_count = 0 AND table_id IN ({{.tableIDs}}));

LOOP
  SET i = i + 1;
  IF i > ARRAY_LENGTH(tables) THEN
    LEAVE;
  END IF;
  EXECUTE IMMEDIATE '''DROP TABLE ''' || tables[ORDINAL(i)];
END LOOP`

// DropEmptySandboxTablesSQL renders the script dropping the rule's sandbox
// tables that ended up empty. Returns the empty string when the rule
// sandboxes nothing.
func DropEmptySandboxTablesSQL(project, sandboxDataset string, sandboxTables []string) (string, error) {
	if len(sandboxTables) == 0 {
		return "", nil
	}

	quoted := make([]string, 0, len(sandboxTables))
	for _, table := range sandboxTables {
		quoted = append(quoted, fmt.Sprintf("%q", table))
	}

	return curation.RenderSQL(dropEmptySandboxTablesSQL, map[string]interface{}{
		"project":        project,
		"sandboxDataset": sandboxDataset,
		"tableIDs":       strings.Join(quoted, ","),
	})
}

// Runner executes cleaning rules against one dataset.
type Runner struct {
	BQ             *bqutil.WrappedBigQuery
	Dataset        string
	SandboxDataset string
	JobIDPrefix    string

	// DisplayQueries prints every rendered statement to Out instead of
	// executing, for review before a production run.
	DisplayQueries bool
	Out            io.Writer
}

// Clean runs the rules in order. Each rule is set up, its statements are
// submitted sequentially, and row-count conservation is validated before the
// next rule starts.
func (r *Runner) Clean(rules ...Rule) error {
	for _, rule := range rules {
		if err := r.cleanOne(rule); err != nil {
			return pfx.Err(fmt.Errorf("rule %s: %v", rule.Name(), err))
		}
	}

	return nil
}

func (r *Runner) cleanOne(rule Rule) error {
	if err := rule.Setup(r.BQ); err != nil {
		return err
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		return err
	}

	if r.DisplayQueries {
		for _, spec := range specs {
			fmt.Fprintln(r.Out, spec.SQL)
		}
		return nil
	}

	initial, err := r.tableCounts(r.Dataset, rule.AffectedTables())
	if err != nil {
		return err
	}

	log.Printf("%s: %s\n", rule.Name(), rule.Description())
	for _, spec := range specs {
		jobID, err := r.BQ.RunQuery(spec, r.JobIDPrefix)
		if err != nil {
			return err
		}
		log.Printf("%s: job %s done\n", rule.Name(), jobID)
	}

	if err := r.validate(rule, initial); err != nil {
		return err
	}

	// Rules with semantics beyond row deletion supply their own check.
	if v, ok := rule.(Validator); ok {
		return v.Validate(r.BQ)
	}

	return nil
}

// Validator is implemented by rules whose outcome cannot be verified by
// row-count conservation alone.
type Validator interface {
	Validate(bq *bqutil.WrappedBigQuery) error
}

func (r *Runner) tableCounts(dataset string, tables []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(tables))
	for _, table := range tables {
		n, err := r.BQ.RowCount(dataset, table)
		if err != nil {
			return nil, err
		}
		counts[table] = n
	}

	return counts, nil
}

// validate asserts row-count conservation for every sandboxed table: the
// initial count must equal the final count plus the sandboxed count.
func (r *Runner) validate(rule Rule, initial map[string]int64) error {
	sandboxTables := rule.SandboxTables()

	for table, before := range initial {
		sandboxTable, ok := sandboxTables[table]
		if !ok {
			continue
		}

		after, err := r.BQ.RowCount(r.Dataset, table)
		if err != nil {
			return err
		}
		sandboxed, err := r.BQ.RowCount(r.SandboxDataset, sandboxTable)
		if err != nil {
			return err
		}

		if before != after+sandboxed {
			return fmt.Errorf("row count mismatch on %s: initial %d, final %d, sandboxed %d", table, before, after, sandboxed)
		}
		log.Printf("%s: %s conserved (%d = %d + %d)\n", rule.Name(), table, before, after, sandboxed)
	}

	return nil
}

// DropEmptySandboxTables removes the empty sandbox tables the rules created.
// Run after a full cleaning pass.
func (r *Runner) DropEmptySandboxTables(rules ...Rule) error {
	var tables []string
	for _, rule := range rules {
		for _, sandboxTable := range rule.SandboxTables() {
			tables = append(tables, sandboxTable)
		}
	}

	query, err := DropEmptySandboxTablesSQL(r.BQ.Project, r.SandboxDataset, tables)
	if err != nil || query == "" {
		return err
	}

	if r.DisplayQueries {
		fmt.Fprintln(r.Out, query)
		return nil
	}

	_, err = r.BQ.RunQuery(bqutil.QuerySpec{SQL: query}, r.JobIDPrefix)
	return err
}
