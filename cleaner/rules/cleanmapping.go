package rules

import (
	"strings"

	"cloud.google.com/go/bigquery"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var mappingRecordsSQL = `{{.queryStmt}}
FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE {{.tableID}} NOT IN
(SELECT {{.tableID}} FROM ` + "`{{.project}}.{{.dataset}}.{{.cdmTable}}`" + `)`

var tablesLikeSQL = `SELECT DISTINCT table_name
FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + `
WHERE table_name LIKE '%{{.tableType}}%'`

// TablesLikeSQL lists tables whose name contains the given fragment, used to
// find the dataset's mapping and ext tables.
func TablesLikeSQL(project, dataset, tableType string) (string, error) {
	return curation.RenderSQL(tablesLikeSQL, map[string]interface{}{
		"project":   project,
		"dataset":   dataset,
		"tableType": tableType,
	})
}

// CleanMappingExtTables keeps the provenance tables honest: after domain rows
// have been removed by other rules, mapping and ext rows referencing records
// that no longer exist are sandboxed and deleted.
type CleanMappingExtTables struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string

	mappingTables []string
	extTables     []string
}

func (r *CleanMappingExtTables) Name() string { return "CleanMappingExtTables" }

func (r *CleanMappingExtTables) IssueNumbers() []string {
	return []string{"DC-715", "DC-1513", "DC-2629"}
}

func (r *CleanMappingExtTables) Description() string {
	return "sandbox and remove mapping and ext records whose domain record has been dropped"
}

func (r *CleanMappingExtTables) AffectedTables() []string {
	return append(append([]string{}, r.mappingTables...), r.extTables...)
}

// Setup discovers the mapping and ext tables present in the dataset,
// keeping only those paired with a known CDM table.
func (r *CleanMappingExtTables) Setup(bq *bqutil.WrappedBigQuery) error {
	var err error
	if r.mappingTables, err = r.tables(bq, "mapping"); err != nil {
		return err
	}
	r.extTables, err = r.tables(bq, "ext")
	return err
}

func (r *CleanMappingExtTables) tables(bq *bqutil.WrappedBigQuery, tableType string) ([]string, error) {
	query, err := TablesLikeSQL(r.Project, r.Dataset, tableType)
	if err != nil {
		return nil, err
	}

	names, err := bq.TableNames(query)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, name := range names {
		if curation.IsCDMTable(cdmTableOf(name, tableType)) {
			out = append(out, name)
		}
	}

	return out, nil
}

// cdmTableOf strips the provenance affix to recover the domain table name.
func cdmTableOf(table, tableType string) string {
	if tableType == "mapping" {
		return strings.Replace(table, curation.MappingPrefix, "", 1)
	}
	return strings.TrimSuffix(table, curation.ExtSuffix)
}

// isEHRDataset reports whether the dataset holds per-site EHR submissions,
// where domain tables carry the unioned_ehr_ prefix.
func isEHRDataset(datasetID string) bool {
	return strings.Contains(datasetID, "ehr") && !strings.Contains(datasetID, "unioned")
}

func (r *CleanMappingExtTables) SandboxTables() map[string]string {
	out := make(map[string]string)
	for _, table := range r.AffectedTables() {
		out[table] = cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table)
	}
	return out
}

func (r *CleanMappingExtTables) QuerySpecs() ([]bqutil.QuerySpec, error) {
	specs, err := r.cleanSpecs(r.mappingTables, "mapping")
	if err != nil {
		return nil, err
	}

	extSpecs, err := r.cleanSpecs(r.extTables, "ext")
	if err != nil {
		return nil, err
	}

	return append(specs, extSpecs...), nil
}

func (r *CleanMappingExtTables) cleanSpecs(tables []string, tableType string) ([]bqutil.QuerySpec, error) {
	var specs []bqutil.QuerySpec

	for _, table := range tables {
		cdmTable := cdmTableOf(table, tableType)
		if isEHRDataset(r.Dataset) {
			cdmTable = "unioned_ehr_" + cdmTable
		}
		tableID := cdmTable + "_id"

		sandboxSQL, err := curation.RenderSQL(mappingRecordsSQL, map[string]interface{}{
			"queryStmt": "SELECT *",
			"project":   r.Project,
			"dataset":   r.Dataset,
			"table":     table,
			"cdmTable":  cdmTable,
			"tableID":   tableID,
		})
		if err != nil {
			return nil, err
		}
		specs = append(specs, bqutil.QuerySpec{
			SQL:                sandboxSQL,
			DestinationDataset: r.SandboxDataset,
			DestinationTable:   cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), table),
			Disposition:        bigquery.WriteAppend,
		})

		deleteSQL, err := curation.RenderSQL(mappingRecordsSQL, map[string]interface{}{
			"queryStmt": "DELETE",
			"project":   r.Project,
			"dataset":   r.Dataset,
			"table":     table,
			"cdmTable":  cdmTable,
			"tableID":   tableID,
		})
		if err != nil {
			return nil, err
		}
		specs = append(specs, bqutil.QuerySpec{SQL: deleteSQL})
	}

	return specs, nil
}
