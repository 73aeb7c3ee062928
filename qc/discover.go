package qc

import curation "github.com/lledezma/curation"

// The controlled-tier checks discover their targets dynamically so that new
// domain tables are covered without code changes. Discovery combines
// INFORMATION_SCHEMA.COLUMNS with __TABLES__ row counts, skipping tables
// holding at most one row.

var dateColumnsSQL = `WITH
pid_tables AS (
  SELECT table_name, column_name
  FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + `
  WHERE column_name = 'person_id'
),
populated_tables AS (
  SELECT table_id AS table_name, row_count
  FROM ` + "`{{.project}}.{{.dataset}}.__TABLES__`" + `
  WHERE row_count > 1
)
SELECT table_name, column_name
FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + ` c
WHERE table_name IN (
  SELECT DISTINCT table_name FROM populated_tables
  WHERE table_name IN (SELECT DISTINCT table_name FROM pid_tables)
)
AND c.data_type IN ('DATE', 'TIMESTAMP')
AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_PAR)')
AND NOT REGEXP_CONTAINS(column_name, r'(?i)(birth)')`

// DateColumnsSQL lists every DATE/TIMESTAMP column of the populated
// person_id-bearing tables, excluding partition pseudo-columns and birth
// fields.
func DateColumnsSQL(project, dataset string) (string, error) {
	return curation.RenderSQL(dateColumnsSQL, map[string]interface{}{
		"project": project,
		"dataset": dataset,
	})
}

var primaryKeyColumnsSQL = `WITH
pid_tables AS (
  SELECT table_name, column_name
  FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + `
  WHERE column_name = 'person_id'
),
populated_tables AS (
  SELECT table_id AS table_name, row_count
  FROM ` + "`{{.project}}.{{.dataset}}.__TABLES__`" + `
  WHERE row_count > 1
)
SELECT table_name, column_name
FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + ` c
WHERE (
  table_name IN (
    SELECT DISTINCT table_name FROM populated_tables
    WHERE table_name IN (SELECT DISTINCT table_name FROM pid_tables)
  )
  AND REGEXP_CONTAINS(column_name, r'(?i)(_id)')
  AND NOT REGEXP_CONTAINS(table_name, r'(?i)(person)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_PAR)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(person_)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_concept)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_site)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(provider)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(response)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(location)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(source)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(visit_occurrence)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(unique)')
)
OR (
  table_name IN (SELECT DISTINCT table_name FROM pid_tables)
  AND REGEXP_CONTAINS(table_name, r'(?i)(visit)')
  AND REGEXP_CONTAINS(column_name, r'(?i)(visit_occurrence)')
  AND NOT REGEXP_CONTAINS(column_name, r'(?i)(preceding)')
)
OR (
  table_name IN (SELECT DISTINCT table_name FROM pid_tables)
  AND REGEXP_CONTAINS(table_name, r'(?i)(person)')
  AND NOT REGEXP_CONTAINS(table_name, r'(?i)(person_ext)')
  AND REGEXP_CONTAINS(column_name, r'(?i)(person_id)')
)`

// PrimaryKeyColumnsSQL lists the primary-key column of every populated
// domain table. The include/exclude expressions pick out the <table>_id
// column while skipping foreign keys, concept references, and source fields;
// person is special-cased because its key is person_id itself.
func PrimaryKeyColumnsSQL(project, dataset string) (string, error) {
	return curation.RenderSQL(primaryKeyColumnsSQL, map[string]interface{}{
		"project": project,
		"dataset": dataset,
	})
}

var conceptIDColumnsSQL = `WITH
pid_tables AS (
  SELECT table_name, column_name
  FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + `
  WHERE column_name = 'person_id'
),
populated_tables AS (
  SELECT table_id AS table_name, row_count
  FROM ` + "`{{.project}}.{{.dataset}}.__TABLES__`" + `
  WHERE row_count > 1
)
SELECT table_name, column_name
FROM ` + "`{{.project}}.{{.dataset}}.INFORMATION_SCHEMA.COLUMNS`" + ` c
WHERE table_name IN (
  SELECT DISTINCT table_name FROM populated_tables
  WHERE table_name IN (SELECT DISTINCT table_name FROM pid_tables)
)
AND REGEXP_CONTAINS(column_name, r'(?i)(_concept_id)')
AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_PAR)')
AND NOT REGEXP_CONTAINS(column_name, r'(?i)(_source)')`

// ConceptIDColumnsSQL lists every standard *_concept_id column of the
// populated person_id-bearing tables, excluding source concepts which are
// not required to be standard.
func ConceptIDColumnsSQL(project, dataset string) (string, error) {
	return curation.RenderSQL(conceptIDColumnsSQL, map[string]interface{}{
		"project": project,
		"dataset": dataset,
	})
}
