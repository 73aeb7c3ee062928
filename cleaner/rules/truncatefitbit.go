package rules

import (
	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/araddon/dateparse"
	"github.com/carbocation/pfx"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var fitbitSandboxSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + ` AS (
SELECT *
FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE {{.dateField}} > {{.cutoff}})`

var fitbitTruncateSQL = `SELECT * FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + ` t
EXCEPT DISTINCT
SELECT * FROM ` + "`{{.project}}.{{.sandboxDataset}}.{{.intermediaryTable}}`" + ``

// ParseTruncationDate accepts the cutoff date in any common layout.
func ParseTruncationDate(s string) (civil.Date, error) {
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return civil.Date{}, pfx.Err(err)
	}
	return civil.DateOf(t), nil
}

// TruncateFitbitData sandboxes and drops all Fitbit rows dated after the
// truncation date. Daily tables are filtered on their DATE field, the
// minute-level tables on their DATETIME field.
type TruncateFitbitData struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string

	TruncationDate civil.Date
}

func (r *TruncateFitbitData) Name() string           { return "TruncateFitbitData" }
func (r *TruncateFitbitData) IssueNumbers() []string { return []string{"DC1046"} }

func (r *TruncateFitbitData) Description() string {
	return "sandbox and drop Fitbit rows dated after " + r.TruncationDate.String()
}

func (r *TruncateFitbitData) AffectedTables() []string { return curation.FitbitTables() }

func (r *TruncateFitbitData) Setup(bq *bqutil.WrappedBigQuery) error { return nil }

func (r *TruncateFitbitData) SandboxTables() map[string]string {
	out := make(map[string]string)
	for _, table := range curation.FitbitTables() {
		out[table] = cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table)
	}
	return out
}

func (r *TruncateFitbitData) QuerySpecs() ([]bqutil.QuerySpec, error) {
	var sandboxSpecs, truncateSpecs []bqutil.QuerySpec

	for _, table := range curation.FitbitTables() {
		dateField, cutoff := r.filterFor(table)
		sandboxTable := cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table)

		sandboxSQL, err := curation.RenderSQL(fitbitSandboxSQL, map[string]interface{}{
			"project":           r.Project,
			"dataset":           r.Dataset,
			"sandboxDataset":    r.SandboxDataset,
			"intermediaryTable": sandboxTable,
			"table":             table,
			"dateField":         dateField,
			"cutoff":            cutoff,
		})
		if err != nil {
			return nil, err
		}
		sandboxSpecs = append(sandboxSpecs, bqutil.QuerySpec{SQL: sandboxSQL})

		truncateSQL, err := curation.RenderSQL(fitbitTruncateSQL, map[string]interface{}{
			"project":           r.Project,
			"dataset":           r.Dataset,
			"sandboxDataset":    r.SandboxDataset,
			"intermediaryTable": sandboxTable,
			"table":             table,
		})
		if err != nil {
			return nil, err
		}
		truncateSpecs = append(truncateSpecs, bqutil.QuerySpec{
			SQL:                truncateSQL,
			DestinationDataset: r.Dataset,
			DestinationTable:   table,
			Disposition:        bigquery.WriteTruncate,
		})
	}

	return append(sandboxSpecs, truncateSpecs...), nil
}

func (r *TruncateFitbitData) filterFor(table string) (dateField, cutoff string) {
	if field, ok := curation.FitbitDateTables[table]; ok {
		return field, "DATE('" + r.TruncationDate.String() + "')"
	}
	return curation.FitbitDatetimeTables[table], "DATETIME('" + r.TruncationDate.String() + "')"
}
