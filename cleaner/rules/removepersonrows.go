// Package rules holds the concrete cleaning rules applied to OMOP datasets.
// Each rule follows the sandbox-then-remove pattern: affected rows are copied
// into the sandbox dataset before the originals are deleted or rewritten.
package rules

import (
	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var removePersonRowsSandboxSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + ` AS (
SELECT t.* FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + ` t
{{if .ehrOnly}}JOIN ` + "`{{.project}}.{{.dataset}}._mapping_{{.table}}`" + ` m
ON t.{{.table}}_id = m.{{.table}}_id AND LOWER(m.src_hpo_id) != 'rdr'
{{end}}WHERE person_id IN (
    SELECT person_id FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.lookupTable}}`" + `
))`

var removePersonRowsDeleteSQL = `DELETE FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE person_id IN (
    SELECT DISTINCT person_id FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.lookupTable}}`" + `
){{if .ehrOnly}}
AND {{.table}}_id IN (
    SELECT DISTINCT {{.table}}_id FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + `
){{end}}{{if .isDeath}}
AND person_id IN (
    SELECT DISTINCT person_id FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + `
){{end}}`

// RemovePersonRows sandboxes and deletes every row belonging to the
// participants listed in a sandbox lookup table. With EHROnly set, only
// site-submitted rows are removed from a combined dataset: rows are
// restricted through the _mapping_ tables to sources other than 'rdr'. The
// death table has no mapping table and is special-cased to delete only the
// rows that were sandboxed.
type RemovePersonRows struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string

	// LookupTable names the person_id lookup table inside the sandbox
	// dataset.
	LookupTable string
	Issues      []string
	EHROnly     bool

	affected []string
}

func (r *RemovePersonRows) Name() string           { return "RemovePersonRows" }
func (r *RemovePersonRows) IssueNumbers() []string { return r.Issues }

func (r *RemovePersonRows) Description() string {
	return "sandbox and remove participant records listed in the lookup table"
}

func (r *RemovePersonRows) AffectedTables() []string { return r.affected }

// Setup discovers the person_id-bearing CDM tables in the dataset.
func (r *RemovePersonRows) Setup(bq *bqutil.WrappedBigQuery) error {
	query, err := bqutil.PersonIDTablesSQL(r.Project, r.Dataset, r.EHROnly)
	if err != nil {
		return err
	}

	names, err := bq.TableNames(query)
	if err != nil {
		return err
	}

	r.affected = r.affected[:0]
	for _, name := range names {
		if curation.IsCDMTable(name) {
			r.affected = append(r.affected, name)
		}
	}

	return nil
}

func (r *RemovePersonRows) SandboxTables() map[string]string {
	out := make(map[string]string, len(r.affected))
	for _, table := range r.affected {
		out[table] = cleaner.SandboxTableFor(r.TableNamer, r.Issues, table)
	}
	return out
}

func (r *RemovePersonRows) QuerySpecs() ([]bqutil.QuerySpec, error) {
	var specs []bqutil.QuerySpec

	for _, table := range r.affected {
		sql, err := curation.RenderSQL(removePersonRowsSandboxSQL, r.fields(table))
		if err != nil {
			return nil, err
		}
		specs = append(specs, bqutil.QuerySpec{SQL: sql})
	}

	for _, table := range r.affected {
		sql, err := curation.RenderSQL(removePersonRowsDeleteSQL, r.fields(table))
		if err != nil {
			return nil, err
		}
		specs = append(specs, bqutil.QuerySpec{SQL: sql})
	}

	return specs, nil
}

func (r *RemovePersonRows) fields(table string) map[string]interface{} {
	return map[string]interface{}{
		"project":           r.Project,
		"dataset":           r.Dataset,
		"sandboxDataset":    r.SandboxDataset,
		"table":             table,
		"intermediaryTable": cleaner.SandboxTableFor(r.TableNamer, r.Issues, table),
		"lookupTable":       r.LookupTable,
		"ehrOnly":           r.EHROnly && table != "death",
		"isDeath":           table == "death",
	}
}
