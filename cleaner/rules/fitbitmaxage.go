package rules

import (
	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var maxAgeSandboxSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + ` AS (
SELECT t.* FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + ` t
WHERE person_id IN (
    SELECT person_id
    FROM ` + "`{{.project}}.{{.combinedDataset}}.person`" + `
    WHERE EXTRACT(YEAR FROM CURRENT_DATE()) - year_of_birth >= {{.maxAge}}
))`

var maxAgeDeleteSQL = `DELETE FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE person_id IN (
    SELECT DISTINCT person_id FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + `
)`

// RemoveFitbitMaxAge drops all Fitbit data belonging to participants aged 89
// or older, the program's re-identification risk threshold. Ages come from
// the combined dataset's person table since the Fitbit dataset carries no
// demographics.
type RemoveFitbitMaxAge struct {
	Project         string
	Dataset         string
	CombinedDataset string
	SandboxDataset  string
	TableNamer      string
}

const fitbitMaxAge = 89

func (r *RemoveFitbitMaxAge) Name() string           { return "RemoveFitbitMaxAge" }
func (r *RemoveFitbitMaxAge) IssueNumbers() []string { return []string{"DC1001"} }

func (r *RemoveFitbitMaxAge) Description() string {
	return "sandbox and drop all Fitbit data for participants aged 89 or older"
}

func (r *RemoveFitbitMaxAge) AffectedTables() []string { return curation.FitbitTables() }

func (r *RemoveFitbitMaxAge) Setup(bq *bqutil.WrappedBigQuery) error { return nil }

func (r *RemoveFitbitMaxAge) SandboxTables() map[string]string {
	out := make(map[string]string)
	for _, table := range curation.FitbitTables() {
		out[table] = cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table)
	}
	return out
}

func (r *RemoveFitbitMaxAge) QuerySpecs() ([]bqutil.QuerySpec, error) {
	var sandboxSpecs, deleteSpecs []bqutil.QuerySpec

	for _, table := range curation.FitbitTables() {
		fields := map[string]interface{}{
			"project":           r.Project,
			"dataset":           r.Dataset,
			"combinedDataset":   r.CombinedDataset,
			"sandboxDataset":    r.SandboxDataset,
			"intermediaryTable": cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table),
			"table":             table,
			"maxAge":            fitbitMaxAge,
		}

		sandboxSQL, err := curation.RenderSQL(maxAgeSandboxSQL, fields)
		if err != nil {
			return nil, err
		}
		sandboxSpecs = append(sandboxSpecs, bqutil.QuerySpec{SQL: sandboxSQL})

		deleteSQL, err := curation.RenderSQL(maxAgeDeleteSQL, fields)
		if err != nil {
			return nil, err
		}
		deleteSpecs = append(deleteSpecs, bqutil.QuerySpec{SQL: deleteSQL})
	}

	return append(sandboxSpecs, deleteSpecs...), nil
}
