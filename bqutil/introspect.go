package bqutil

import (
	"fmt"

	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"

	curation "github.com/lledezma/curation"
)

// TableColumn is one row of an INFORMATION_SCHEMA.COLUMNS query.
type TableColumn struct {
	TableName  string `bigquery:"table_name"`
	ColumnName string `bigquery:"column_name"`
}

var personIDTablesSQL = `SELECT table_name
FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + `
WHERE COLUMN_NAME = 'person_id'
{{if .ehrOnly}}AND LOWER(table_name) != 'person'
{{end}}`

// PersonIDTablesSQL returns the introspection query listing every table in
// the dataset carrying a person_id column. When ehrOnly is set the person
// table itself is excluded, since demographics are not site-submitted.
func PersonIDTablesSQL(project, dataset string, ehrOnly bool) (string, error) {
	return curation.RenderSQL(personIDTablesSQL, map[string]interface{}{
		"project": project,
		"dataset": dataset,
		"ehrOnly": ehrOnly,
	})
}

// TableColumns runs an introspection query expected to yield table_name and
// column_name pairs.
func (bq *WrappedBigQuery) TableColumns(query string) ([]TableColumn, error) {
	itr, err := bq.Client.Query(query).Read(bq.Context)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%v\n%s", err, query))
	}

	var out []TableColumn
	for {
		var v TableColumn
		err := itr.Next(&v)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}
		out = append(out, v)
	}

	return out, nil
}

// TableNames runs an introspection query expected to yield a table_name
// column and returns the names in result order.
func (bq *WrappedBigQuery) TableNames(query string) ([]string, error) {
	cols, err := bq.TableColumns(query)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(cols))
	for _, c := range cols {
		out = append(out, c.TableName)
	}

	return out, nil
}

type countRow struct {
	RowCount int64 `bigquery:"row_count"`
}

// RowCount returns COALESCE(COUNT(*), 0) for the table.
func (bq *WrappedBigQuery) RowCount(dataset, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COALESCE(COUNT(*), 0) AS row_count FROM `%s.%s.%s`", bq.Project, dataset, table)

	itr, err := bq.Client.Query(query).Read(bq.Context)
	if err != nil {
		return 0, pfx.Err(fmt.Errorf("%v\n%s", err, query))
	}

	var v countRow
	if err := itr.Next(&v); err != nil {
		return 0, pfx.Err(err)
	}

	return v.RowCount, nil
}
