package retraction

import (
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

// PIDSource yields the SQL expression selecting the participant ids to
// retract, either from an explicit id list or from a table.
type PIDSource struct {
	IDs   []int64
	Table *curation.FQTable
}

// ParsePIDSource builds a source from a flag value: a comma-separated id
// list, or a fully qualified table name when the value contains dots.
func ParsePIDSource(value string) (PIDSource, error) {
	if strings.Contains(value, ".") {
		fq, err := curation.ParseFQTable(value)
		if err != nil {
			return PIDSource{}, err
		}
		return PIDSource{Table: &fq}, nil
	}

	var ids []int64
	for _, field := range strings.Split(value, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return PIDSource{}, fmt.Errorf("pid list entry %q is not an integer", field)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return PIDSource{}, fmt.Errorf("no pids in %q", value)
	}

	return PIDSource{IDs: ids}, nil
}

// Expr renders the source as a parenthesized SQL expression selecting the
// given id column.
func (s PIDSource) Expr(pidColumn string) string {
	if s.Table != nil {
		return "(SELECT " + pidColumn + " FROM `" + s.Table.String() + "`)"
	}
	return "(" + curation.SQLIntList(s.IDs) + ")"
}

var retractSandboxSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.sandboxTable}}`" + ` AS (
SELECT * FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE person_id IN {{.pidExpr}}{{.siteFilter}})`

var retractDeleteSQL = `DELETE FROM ` + "`{{.project}}.{{.dataset}}.{{.table}}`" + `
WHERE person_id IN {{.pidExpr}}{{.siteFilter}}`

var researchIDExprSQL = `(SELECT research_id FROM ` + "`{{.pidRidTable}}`" + `
WHERE person_id IN {{.pidExpr}})`

// Retractor removes participants from one or more datasets.
type Retractor struct {
	BQ *bqutil.WrappedBigQuery

	// PIDs selects the participants to retract.
	PIDs PIDSource
	// PIDRIDMapping translates person ids to research ids for deid
	// datasets. Required when any targeted dataset is deidentified.
	PIDRIDMapping *curation.FQTable
	// HPOID optionally scopes retraction to rows submitted by one site,
	// matched through the dataset's mapping or ext tables.
	HPOID string

	DisplayQueries bool
	Out            io.Writer
}

const jobIDPrefix = "deact_"

// Run retracts from each dataset in order: the sandbox dataset is created if
// absent, then each person_id-bearing table has its matching rows sandboxed
// and deleted.
func (r *Retractor) Run(datasetIDs []string) error {
	for _, datasetID := range datasetIDs {
		if err := r.retractDataset(datasetID); err != nil {
			return fmt.Errorf("dataset %s: %v", datasetID, err)
		}
	}

	return nil
}

func (r *Retractor) retractDataset(datasetID string) error {
	pidExpr, err := r.pidExpr(datasetID)
	if err != nil {
		return err
	}

	query, err := bqutil.PersonIDTablesSQL(r.BQ.Project, datasetID, false)
	if err != nil {
		return err
	}
	tables, err := r.BQ.TableNames(query)
	if err != nil {
		return err
	}

	var siteFilters map[string]string
	if r.HPOID != "" {
		allTables, err := r.BQ.ListTableIDs(datasetID)
		if err != nil {
			return err
		}
		siteFilters = r.siteFilters(datasetID, tables, allTables)
	}

	specs, err := r.querySpecs(datasetID, tables, pidExpr, siteFilters)
	if err != nil {
		return err
	}

	if r.DisplayQueries {
		for _, spec := range specs {
			fmt.Fprintln(r.Out, spec.SQL)
		}
		return nil
	}

	sandboxDataset := datasetID + "_sandbox"
	if err := r.BQ.EnsureDataset(sandboxDataset, "Sandbox for "+datasetID, nil); err != nil {
		return err
	}

	log.Printf("retracting participants from %s\n", datasetID)
	for _, spec := range specs {
		jobID, err := r.BQ.RunQuery(spec, jobIDPrefix)
		if err != nil {
			return err
		}
		log.Printf("%s: job %s done\n", datasetID, jobID)
	}

	return nil
}

// pidExpr renders the pid source, translated to research ids when the
// dataset is deidentified.
func (r *Retractor) pidExpr(datasetID string) (string, error) {
	expr := r.PIDs.Expr("person_id")

	deid, err := IsDeidLabelOrID(r.BQ, datasetID)
	if err != nil {
		return "", err
	}
	if !deid {
		return expr, nil
	}

	if r.PIDRIDMapping == nil {
		return "", fmt.Errorf("%s is deidentified but no pid-rid mapping table was given", datasetID)
	}
	return curation.RenderSQL(researchIDExprSQL, map[string]interface{}{
		"pidRidTable": r.PIDRIDMapping.String(),
		"pidExpr":     expr,
	})
}

// siteFilters builds the per-table clause restricting retraction to rows the
// site submitted. The dataset's provenance convention decides both the join
// table and the column. Tables without a provenance table, person and death
// among them, keep the plain pid filter.
func (r *Retractor) siteFilters(datasetID string, tables, allTables []string) map[string]string {
	have := make(map[string]bool, len(allTables))
	for _, table := range allTables {
		have[table] = true
	}
	mappingType := MappingType(allTables)
	srcCol := SrcIDColumn(mappingType)

	out := make(map[string]string, len(tables))
	for _, table := range tables {
		prov := curation.MappingTableFor(table)
		if mappingType == "ext" {
			prov = curation.ExtTableFor(table)
		}
		if !have[prov] {
			continue
		}

		tableID := curation.TableID(table)
		out[table] = "\nAND " + tableID + " IN (\n" +
			"    SELECT " + tableID + " FROM `" + r.BQ.Project + "." + datasetID + "." + prov + "`\n" +
			"    WHERE LOWER(" + srcCol + ") = LOWER('" + r.HPOID + "')\n)"
	}

	return out
}

func (r *Retractor) querySpecs(datasetID string, tables []string, pidExpr string, siteFilters map[string]string) ([]bqutil.QuerySpec, error) {
	var sandboxSpecs, deleteSpecs []bqutil.QuerySpec

	for _, table := range tables {
		fields := map[string]interface{}{
			"project":        r.BQ.Project,
			"dataset":        datasetID,
			"sandboxDataset": datasetID + "_sandbox",
			"sandboxTable":   jobIDPrefix + table,
			"table":          table,
			"pidExpr":        pidExpr,
			"siteFilter":     siteFilters[table],
		}

		sandboxSQL, err := curation.RenderSQL(retractSandboxSQL, fields)
		if err != nil {
			return nil, err
		}
		sandboxSpecs = append(sandboxSpecs, bqutil.QuerySpec{SQL: sandboxSQL})

		deleteSQL, err := curation.RenderSQL(retractDeleteSQL, fields)
		if err != nil {
			return nil, err
		}
		deleteSpecs = append(deleteSpecs, bqutil.QuerySpec{SQL: deleteSQL})
	}

	return append(sandboxSpecs, deleteSpecs...), nil
}
