package qc

import (
	"log"

	"cloud.google.com/go/civil"

	curation "github.com/lledezma/curation"
)

// RDRExport compares a freshly delivered RDR export against the previous one
// and checks the new export's internal consistency. Comparisons with no
// pass/fail semantics (row-count drift, code churn) are printed for review;
// everything else folds into the report.
type RDRExport struct {
	Runner *Runner

	OldDataset string
	NewDataset string

	// SandboxDataset holds the snap_codes table excluding codes that are
	// not modeled in the vocabulary.
	SandboxDataset string

	// CutoffDate is the export cutoff; no survey row may be dated past it.
	CutoffDate civil.Date
}

var tableDiffSQL = `SELECT
  COALESCE(curr.table_id, prev.table_id) AS table_id,
  curr.row_count AS new_row_count,
  prev.row_count AS old_row_count
FROM ` + "`{{.project}}.{{.newDataset}}.__TABLES__`" + ` curr
FULL OUTER JOIN ` + "`{{.project}}.{{.oldDataset}}.__TABLES__`" + ` prev
  USING (table_id)
WHERE curr.table_id IS NULL OR prev.table_id IS NULL`

// TableDiffSQL lists tables present in only one of the two exports.
func TableDiffSQL(project, oldDataset, newDataset string) (string, error) {
	return curation.RenderSQL(tableDiffSQL, map[string]interface{}{
		"project":    project,
		"oldDataset": oldDataset,
		"newDataset": newDataset,
	})
}

var rowDiffSQL = `SELECT
  curr.table_id AS table_id,
  prev.row_count AS old_row_count,
  curr.row_count AS new_row_count,
  (curr.row_count - prev.row_count) AS row_diff
FROM ` + "`{{.project}}.{{.newDataset}}.__TABLES__`" + ` curr
JOIN ` + "`{{.project}}.{{.oldDataset}}.__TABLES__`" + ` prev
  USING (table_id)
ORDER BY ABS(curr.row_count - prev.row_count) DESC`

// RowDiffSQL compares per-table row counts between the two exports, largest
// drift first.
func RowDiffSQL(project, oldDataset, newDataset string) (string, error) {
	return curation.RenderSQL(rowDiffSQL, map[string]interface{}{
		"project":    project,
		"oldDataset": oldDataset,
		"newDataset": newDataset,
	})
}

// IDRangeTables are the domain tables whose ids must stay below the combine
// step's offset constant.
var IDRangeTables = []string{
	"condition_occurrence",
	"device_exposure",
	"drug_exposure",
	"location",
	"measurement",
	"note",
	"observation",
	"procedure_occurrence",
	"provider",
	"specimen",
	"visit_occurrence",
}

var idRangeSQL = `{{range $i, $table := .tables}}{{if $i}}
UNION ALL
{{end}}SELECT
  '{{$table}}' AS table_name,
  '{{$table}}_id' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`{{$.project}}.{{$.newDataset}}.{{$table}}`" + `
WHERE {{$table}}_id > 999999999999999{{end}}`

// IDRangeSQL counts domain rows whose ids would collide with the offset the
// combine step adds.
func IDRangeSQL(project, newDataset string) (string, error) {
	return curation.RenderSQL(idRangeSQL, map[string]interface{}{
		"project":    project,
		"newDataset": newDataset,
		"tables":     IDRangeTables,
	})
}

var codeDiffSQL = `WITH curr_code AS (
  SELECT observation_source_value value, 'observation_source_value' field, COUNT(1) row_count
  FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + ` GROUP BY 1

  UNION ALL

  SELECT value_source_value value, 'value_source_value' field, COUNT(1) row_count
  FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + ` GROUP BY 1
),
prev_code AS (
  SELECT observation_source_value value, 'observation_source_value' field, COUNT(1) row_count
  FROM ` + "`{{.project}}.{{.oldDataset}}.observation`" + ` GROUP BY 1

  UNION ALL

  SELECT value_source_value value, 'value_source_value' field, COUNT(1) row_count
  FROM ` + "`{{.project}}.{{.oldDataset}}.observation`" + ` GROUP BY 1
)
SELECT
  prev_code.value prev_code_value,
  prev_code.field prev_code_field,
  prev_code.row_count prev_code_row_count,
  curr_code.value curr_code_value,
  curr_code.field curr_code_field,
  curr_code.row_count curr_code_row_count
FROM curr_code
FULL OUTER JOIN prev_code USING (field, value)
WHERE prev_code.value IS NULL OR curr_code.value IS NULL`

// CodeDiffSQL lists question and answer codes appearing in only one of the
// two exports.
func CodeDiffSQL(project, oldDataset, newDataset string) (string, error) {
	return curation.RenderSQL(codeDiffSQL, map[string]interface{}{
		"project":    project,
		"oldDataset": oldDataset,
		"newDataset": newDataset,
	})
}

var unmappedCodesSQL = `SELECT
  '{{.codeField}}' AS table_name,
  {{.codeField}} AS column_name,
  COUNTIF({{.sourceConceptField}} IS NULL)
  + COUNTIF({{.sourceConceptField}} = 0)
  + COUNTIF({{.conceptField}} IS NULL)
  + COUNTIF({{.conceptField}} = 0) AS row_count_failures
FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + `
WHERE {{.codeField}} IS NOT NULL
AND {{.codeField}} != ''
AND {{.codeField}} NOT IN (SELECT concept_code FROM ` + "`{{.project}}.{{.sandboxDataset}}.snap_codes`" + `)
GROUP BY 2
HAVING row_count_failures > 0
ORDER BY 3 DESC`

// UnmappedQuestionCodesSQL counts question codes whose source or standard
// concept id is null or zero. Snap codes are excluded since they are not
// modeled in the vocabulary.
func UnmappedQuestionCodesSQL(project, newDataset, sandboxDataset string) (string, error) {
	return curation.RenderSQL(unmappedCodesSQL, map[string]interface{}{
		"project":            project,
		"newDataset":         newDataset,
		"sandboxDataset":     sandboxDataset,
		"codeField":          "observation_source_value",
		"sourceConceptField": "observation_source_concept_id",
		"conceptField":       "observation_concept_id",
	})
}

// UnmappedAnswerCodesSQL counts answer codes whose source or mapped concept
// id is null or zero.
func UnmappedAnswerCodesSQL(project, newDataset, sandboxDataset string) (string, error) {
	return curation.RenderSQL(unmappedCodesSQL, map[string]interface{}{
		"project":            project,
		"newDataset":         newDataset,
		"sandboxDataset":     sandboxDataset,
		"codeField":          "value_source_value",
		"sourceConceptField": "value_source_concept_id",
		"conceptField":       "value_as_concept_id",
	})
}

var dateMismatchSQL = `SELECT
  'observation' AS table_name,
  'observation_date' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + `
WHERE observation_date != EXTRACT(DATE FROM observation_datetime)`

// DateMismatchSQL counts observation rows whose date disagrees with the date
// part of the datetime.
func DateMismatchSQL(project, newDataset string) (string, error) {
	return curation.RenderSQL(dateMismatchSQL, map[string]interface{}{
		"project":    project,
		"newDataset": newDataset,
	})
}

var duplicateSurveyRowsSQL = `WITH duplicates AS (
  SELECT
    person_id,
    observation_datetime,
    observation_source_value,
    value_source_value,
    value_as_number,
    value_as_string,
    COUNT(1) AS n_data
  FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + `
  INNER JOIN ` + "`{{.project}}.{{.newDataset}}.cope_survey_semantic_version_map`" + `
    USING (questionnaire_response_id)
  GROUP BY 1, 2, 3, 4, 5, 6
)
SELECT
  'observation' AS table_name,
  'questionnaire_response_id' AS column_name,
  COUNT(*) AS row_count_failures
FROM duplicates
WHERE n_data > 1`

// DuplicateSurveyRowsSQL counts duplicated COPE survey responses, the only
// survey family with a version map allowing reliable duplicate detection.
func DuplicateSurveyRowsSQL(project, newDataset string) (string, error) {
	return curation.RenderSQL(duplicateSurveyRowsSQL, map[string]interface{}{
		"project":    project,
		"newDataset": newDataset,
	})
}

var beyondCutoffSQL = `SELECT
  'observation' AS table_name,
  'observation_date' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.newDataset}}.observation`" + `
WHERE observation_date > DATE('{{.cutoffDate}}')
UNION ALL
SELECT
  'survey_conduct' AS table_name,
  'survey_start_date' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.newDataset}}.survey_conduct`" + `
WHERE survey_start_date > DATE('{{.cutoffDate}}')
UNION ALL
SELECT
  'survey_conduct' AS table_name,
  'survey_end_date' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.newDataset}}.survey_conduct`" + `
WHERE survey_end_date > DATE('{{.cutoffDate}}')`

// BeyondCutoffSQL counts survey rows dated past the export cutoff date.
func BeyondCutoffSQL(project, newDataset string, cutoffDate civil.Date) (string, error) {
	return curation.RenderSQL(beyondCutoffSQL, map[string]interface{}{
		"project":    project,
		"newDataset": newDataset,
		"cutoffDate": cutoffDate.String(),
	})
}

// Run executes the export comparison and returns the report.
func (re *RDRExport) Run() (*Report, error) {
	report := &Report{}
	project := re.Runner.BQ.Project

	query, err := TableDiffSQL(project, re.OldDataset, re.NewDataset)
	if err != nil {
		return nil, err
	}
	log.Println("tables present in only one export:")
	n, err := re.Runner.printRows(query)
	if err != nil {
		return nil, err
	}
	report.Add("exports contain the same tables", n)

	query, err = RowDiffSQL(project, re.OldDataset, re.NewDataset)
	if err != nil {
		return nil, err
	}
	log.Println("row count comparison (informational):")
	if _, err := re.Runner.printRows(query); err != nil {
		return nil, err
	}

	query, err = IDRangeSQL(project, re.NewDataset)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("domain ids below combine offset", n)

	query, err = CodeDiffSQL(project, re.OldDataset, re.NewDataset)
	if err != nil {
		return nil, err
	}
	log.Println("codes added or removed since the previous export (informational):")
	if _, err := re.Runner.printRows(query); err != nil {
		return nil, err
	}

	query, err = UnmappedQuestionCodesSQL(project, re.NewDataset, re.SandboxDataset)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("question codes mapped to concepts", n)

	query, err = UnmappedAnswerCodesSQL(project, re.NewDataset, re.SandboxDataset)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("answer codes mapped to concepts", n)

	query, err = DateMismatchSQL(project, re.NewDataset)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("observation date matches datetime", n)

	query, err = DuplicateSurveyRowsSQL(project, re.NewDataset)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("no duplicated survey responses", n)

	query, err = BeyondCutoffSQL(project, re.NewDataset, re.CutoffDate)
	if err != nil {
		return nil, err
	}
	n, err = re.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("no survey rows beyond the cutoff date", n)

	return report, nil
}
