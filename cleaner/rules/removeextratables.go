package rules

import (
	"fmt"
	"sort"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var sandboxExtraTableSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.sandboxTable}}`" + ` AS (
SELECT
    *
FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
)`

var dropExtraTableSQL = `DROP TABLE IF EXISTS ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + ``

// RemoveExtraTables sandboxes and drops every table that is not an OMOP,
// extension, or vocabulary table. Intended as the final cleaning rule before
// a controlled-tier release.
type RemoveExtraTables struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string

	extraTables []string
}

func (r *RemoveExtraTables) Name() string           { return "RemoveExtraTables" }
func (r *RemoveExtraTables) IssueNumbers() []string { return []string{"DC1441"} }

func (r *RemoveExtraTables) Description() string {
	return "remove any tables that are not OMOP, extension, or vocabulary tables"
}

// expectedTables returns every table allowed to survive in a release
// dataset.
func expectedTables() map[string]bool {
	out := make(map[string]bool)
	for _, table := range curation.CDMTables {
		out[table] = true
		if table != "person" {
			out[curation.ExtTableFor(table)] = true
		}
	}
	for _, table := range curation.VocabularyTables {
		out[table] = true
	}
	out["person_src_hpos_ext"] = true
	out["_cdr_metadata"] = true
	return out
}

// AffectedTables reports the tables this rule removes, known after Setup.
func (r *RemoveExtraTables) AffectedTables() []string { return nil }

// Setup lists the dataset and records everything outside the expected set.
func (r *RemoveExtraTables) Setup(bq *bqutil.WrappedBigQuery) error {
	current, err := bq.ListTableIDs(r.Dataset)
	if err != nil {
		return err
	}

	expected := expectedTables()
	r.extraTables = r.extraTables[:0]
	for _, table := range current {
		if !expected[table] {
			r.extraTables = append(r.extraTables, table)
		}
	}
	sort.Strings(r.extraTables)

	return nil
}

// SandboxTables is empty: dropped tables are preserved whole in the sandbox,
// so row-count conservation does not apply.
func (r *RemoveExtraTables) SandboxTables() map[string]string { return nil }

func (r *RemoveExtraTables) QuerySpecs() ([]bqutil.QuerySpec, error) {
	var sandboxSpecs, dropSpecs []bqutil.QuerySpec

	for _, table := range r.extraTables {
		sandboxSQL, err := curation.RenderSQL(sandboxExtraTableSQL, map[string]interface{}{
			"project":        r.Project,
			"dataset":        r.Dataset,
			"sandboxDataset": r.SandboxDataset,
			"sandboxTable":   cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table),
			"table":          table,
		})
		if err != nil {
			return nil, err
		}
		sandboxSpecs = append(sandboxSpecs, bqutil.QuerySpec{SQL: sandboxSQL})

		dropSQL, err := curation.RenderSQL(dropExtraTableSQL, map[string]interface{}{
			"project": r.Project,
			"dataset": r.Dataset,
			"table":   table,
		})
		if err != nil {
			return nil, err
		}
		dropSpecs = append(dropSpecs, bqutil.QuerySpec{SQL: dropSQL})
	}

	return append(sandboxSpecs, dropSpecs...), nil
}

// Validate re-lists the dataset and fails if any unexpected table remains.
func (r *RemoveExtraTables) Validate(bq *bqutil.WrappedBigQuery) error {
	current, err := bq.ListTableIDs(r.Dataset)
	if err != nil {
		return err
	}

	expected := expectedTables()
	var extra []string
	for _, table := range current {
		if !expected[table] {
			extra = append(extra, table)
		}
	}

	if len(extra) > 0 {
		return fmt.Errorf("extra tables remain in %s: %v", r.Dataset, extra)
	}

	return nil
}
