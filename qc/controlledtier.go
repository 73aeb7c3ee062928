package qc

import (
	"fmt"
	"strings"

	"cloud.google.com/go/civil"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

// ControlledTier runs the post-deidentification check battery against a
// controlled-tier dataset, using its registered-tier counterpart to recover
// participant birth dates through the research-id map.
type ControlledTier struct {
	Runner *Runner

	// RTDataset holds the registered-tier dataset whose _deid_map links
	// research ids back to person ids.
	RTDataset string
	CTDataset string

	// EarliestEHRDate is the oldest plausible EHR record date; rows dated
	// before it fail the cutoff check.
	EarliestEHRDate civil.Date

	// CutoffDate is the CDR cutoff date that exempt birth-date observation
	// rows must have been moved to.
	CutoffDate civil.Date
}

var birthDatesSQL = `SELECT
'person' AS table_name,
'birth_datetime' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.person`" + `
WHERE EXTRACT(MONTH FROM DATE(birth_datetime)) != 6
OR EXTRACT(DAY FROM DATE(birth_datetime)) != 15`

// BirthDatesSQL counts person rows whose birth_datetime is not June 15 of
// the birth year.
func BirthDatesSQL(project, ctDataset string) (string, error) {
	return curation.RenderSQL(birthDatesSQL, map[string]interface{}{
		"project":   project,
		"ctDataset": ctDataset,
	})
}

var dateBeforeBirthSQL = `WITH rt_map AS (
  SELECT
    research_id AS person_id,
    SAFE_CAST(birth_datetime AS DATE) AS birth_date
  FROM ` + "`{{.project}}.{{.rtDataset}}.person`" + `
  JOIN ` + "`{{.project}}.{{.rtDataset}}.{{.deidMap}}`" + ` USING (person_id)
)
SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` c
JOIN rt_map r USING (person_id)
WHERE DATE(c.{{.columnName}}) < r.birth_date`

// DateBeforeBirthSQL counts rows of one date column falling before the
// participant's birth date. Birth dates come from the registered tier because
// the controlled tier only has the shifted June 15 values.
func DateBeforeBirthSQL(project, rtDataset, ctDataset, tableName, columnName string) (string, error) {
	return curation.RenderSQL(dateBeforeBirthSQL, map[string]interface{}{
		"project":    project,
		"rtDataset":  rtDataset,
		"ctDataset":  ctDataset,
		"deidMap":    curation.DeidMapTable,
		"tableName":  tableName,
		"columnName": columnName,
	})
}

var observationDateAfterDeathSQL = `WITH past_death AS (
  SELECT
    person_id,
    c.{{.columnName}},
    DATE_ADD(d.death_date, INTERVAL 30 DAY) AS after_death_30_days
  FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` c
  FULL JOIN ` + "`{{.project}}.{{.ctDataset}}.death`" + ` d USING (person_id)
  WHERE DATE(c.{{.columnName}}) > d.death_date
  AND c.{{.tableName}}_concept_id NOT IN ({{.exemptConceptIDs}})
)
SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM past_death
WHERE DATE({{.columnName}}) > after_death_30_days`

var dateAfterDeathSQL = `WITH past_death AS (
  SELECT
    c.{{.columnName}},
    DATE_ADD(d.death_date, INTERVAL 30 DAY) AS after_death_30_days
  FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` c
  JOIN ` + "`{{.project}}.{{.ctDataset}}.death`" + ` d USING (person_id)
  WHERE DATE(c.{{.columnName}}) > d.death_date
)
SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM past_death
WHERE DATE({{.columnName}}) > after_death_30_days`

// DateAfterDeathSQL counts rows dated more than 30 days after the
// participant's death. Observation rows for the exempt concepts carry the CDR
// cutoff date and are skipped.
func DateAfterDeathSQL(project, ctDataset, tableName, columnName string, observation bool) (string, error) {
	tpl := dateAfterDeathSQL
	if observation {
		tpl = observationDateAfterDeathSQL
	}
	return curation.RenderSQL(tpl, map[string]interface{}{
		"project":          project,
		"ctDataset":        ctDataset,
		"tableName":        tableName,
		"columnName":       columnName,
		"exemptConceptIDs": curation.SQLIntList(curation.ObservationExemptConceptIDs),
	})
}

var dateBeforeEHRCutoffSQL = `SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` c
WHERE DATE(c.{{.columnName}}) < '{{.earliestEHRDate}}'`

// DateBeforeEHRCutoffSQL counts rows dated before the earliest plausible EHR
// date. Observation tables are excluded by the caller since surveys predate
// EHR feeds.
func DateBeforeEHRCutoffSQL(project, ctDataset, tableName, columnName string, earliestEHRDate civil.Date) (string, error) {
	return curation.RenderSQL(dateBeforeEHRCutoffSQL, map[string]interface{}{
		"project":         project,
		"ctDataset":       ctDataset,
		"tableName":       tableName,
		"columnName":      columnName,
		"earliestEHRDate": earliestEHRDate.String(),
	})
}

var basicsSQL = `WITH person_all AS (
  SELECT person_id FROM ` + "`{{.project}}.{{.ctDataset}}.person`" + `
),
person_basics AS (
  SELECT DISTINCT person_id
  FROM ` + "`{{.project}}.{{.ctDataset}}.concept`" + `
  JOIN ` + "`{{.project}}.{{.ctDataset}}.concept_ancestor`" + ` ON (concept_id = ancestor_concept_id)
  JOIN ` + "`{{.project}}.{{.ctDataset}}.observation`" + ` ON (descendant_concept_id = observation_concept_id)
  JOIN ` + "`{{.project}}.{{.ctDataset}}.observation_ext`" + ` USING (observation_id)
  WHERE observation_concept_id NOT IN (40766240, 43528428, 1585389)
  AND concept_class_id = 'Module'
  AND concept_name IN ('The Basics')
  AND src_id = 'PPI/PM'
  AND questionnaire_response_id IS NOT NULL
)
SELECT
'observation' AS table_name,
'person_id' AS column_name,
COUNT(*) AS row_count_failures
FROM person_all
WHERE person_id NOT IN (SELECT person_id FROM person_basics)`

// BasicsSQL counts participants without a completed The Basics survey module.
func BasicsSQL(project, ctDataset string) (string, error) {
	return curation.RenderSQL(basicsSQL, map[string]interface{}{
		"project":   project,
		"ctDataset": ctDataset,
	})
}

var ehrConsentSQL = `WITH person_ehr AS (
{{range $i, $table := .tables}}{{if $i}}
UNION DISTINCT

{{end}}SELECT DISTINCT person_id FROM ` + "`{{$.project}}.{{$.ctDataset}}.{{$table}}`" + `
JOIN ` + "`{{$.project}}.{{$.ctDataset}}.{{$table}}_ext`" + ` USING ({{$table}}_id)
WHERE src_id != 'PPI/PM'
{{end}}),
person_yes AS (
  SELECT DISTINCT person_id FROM ` + "`{{.project}}.{{.ctDataset}}.observation`" + `
  WHERE observation_concept_id = {{.consentQuestion}}
  AND value_source_concept_id = {{.consentYes}}
)
SELECT
'person_ehr' AS table_name,
'person_id' AS column_name,
COUNT(*) AS row_count_failures
FROM person_ehr
WHERE person_id NOT IN (SELECT person_id FROM person_yes)`

// EHRConsentSQL counts participants carrying site-submitted rows in any EHR
// domain table without a yes answer to the EHR consent question.
func EHRConsentSQL(project, ctDataset string) (string, error) {
	return curation.RenderSQL(ehrConsentSQL, map[string]interface{}{
		"project":         project,
		"ctDataset":       ctDataset,
		"tables":          curation.EHRConsentTables,
		"consentQuestion": curation.EHRConsentQuestionConceptID,
		"consentYes":      curation.EHRConsentYesConceptID,
	})
}

var primaryKeyInExtSQL = `SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` c
WHERE {{.columnName}} NOT IN (
  SELECT {{.columnName}} FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}_ext`" + `
)`

// PrimaryKeyInExtSQL counts domain rows whose primary key is missing from the
// table's _ext provenance table.
func PrimaryKeyInExtSQL(project, ctDataset, tableName, columnName string) (string, error) {
	return curation.RenderSQL(primaryKeyInExtSQL, map[string]interface{}{
		"project":    project,
		"ctDataset":  ctDataset,
		"tableName":  tableName,
		"columnName": columnName,
	})
}

var duplicateKeysSQL = `SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM (
  SELECT {{.columnName}}
  FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + `
  GROUP BY {{.columnName}}
  HAVING COUNT(*) > 1
)`

// DuplicateKeysSQL counts primary key values appearing on more than one row.
func DuplicateKeysSQL(project, ctDataset, tableName, columnName string) (string, error) {
	return curation.RenderSQL(duplicateKeysSQL, map[string]interface{}{
		"project":    project,
		"ctDataset":  ctDataset,
		"tableName":  tableName,
		"columnName": columnName,
	})
}

var standardConceptSQL = `SELECT
'{{.tableName}}' AS table_name,
'{{.columnName}}' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.concept`" + ` c
JOIN ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ` ON (concept_id = {{.columnName}})
WHERE standard_concept != 'S'
AND {{.columnName}} != 0`

// StandardConceptSQL counts rows whose concept column references a
// non-standard, non-zero concept.
func StandardConceptSQL(project, ctDataset, tableName, columnName string) (string, error) {
	return curation.RenderSQL(standardConceptSQL, map[string]interface{}{
		"project":    project,
		"ctDataset":  ctDataset,
		"tableName":  tableName,
		"columnName": columnName,
	})
}

var birthDateObservationMovedSQL = `WITH rows_on_birth_date AS (
  SELECT DISTINCT observation_id
  FROM ` + "`{{.project}}.{{.rtDataset}}.observation`" + ` ob
  JOIN ` + "`{{.project}}.{{.rtDataset}}.person`" + ` p USING (person_id)
  WHERE observation_concept_id IN ({{.exemptConceptIDs}})
  AND observation_date = DATE(p.birth_datetime)
)
SELECT
'observation' AS table_name,
'observation_date' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.observation`" + `
WHERE observation_id IN (SELECT observation_id FROM rows_on_birth_date)
AND observation_date != '{{.cutoffDate}}'`

// BirthDateObservationMovedSQL counts exempt-concept observation rows that
// were dated on the birth date upstream but were not moved to the CDR cutoff
// date.
func BirthDateObservationMovedSQL(project, rtDataset, ctDataset string, cutoffDate civil.Date) (string, error) {
	return curation.RenderSQL(birthDateObservationMovedSQL, map[string]interface{}{
		"project":          project,
		"rtDataset":        rtDataset,
		"ctDataset":        ctDataset,
		"exemptConceptIDs": curation.SQLIntList(curation.ObservationExemptConceptIDs),
		"cutoffDate":       cutoffDate.String(),
	})
}

var birthDateObservationRemovedSQL = `WITH rows_on_birth_date AS (
  SELECT observation_id
  FROM ` + "`{{.project}}.{{.rtDataset}}.observation`" + ` ob
  JOIN ` + "`{{.project}}.{{.rtDataset}}.person`" + ` p USING (person_id)
  WHERE observation_concept_id NOT IN ({{.exemptConceptIDs}})
  AND observation_date = DATE(p.birth_datetime)
)
SELECT
'observation' AS table_name,
'observation_date' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.observation`" + ` ob
WHERE observation_id IN (SELECT observation_id FROM rows_on_birth_date)`

// BirthDateObservationRemovedSQL counts surviving observation rows that were
// dated on the birth date upstream and are not exempt.
func BirthDateObservationRemovedSQL(project, rtDataset, ctDataset string) (string, error) {
	return curation.RenderSQL(birthDateObservationRemovedSQL, map[string]interface{}{
		"project":          project,
		"rtDataset":        rtDataset,
		"ctDataset":        ctDataset,
		"exemptConceptIDs": curation.SQLIntList(curation.ObservationExemptConceptIDs),
	})
}

var motorVehicleAccidentSQL = `SELECT
'condition_occurrence' AS table_name,
'condition_concept_id' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.condition_occurrence`" + `
JOIN ` + "`{{.project}}.{{.ctDataset}}.concept`" + ` c ON (condition_concept_id = c.concept_id)
JOIN ` + "`{{.project}}.{{.ctDataset}}.concept_ancestor`" + ` ON (c.concept_id = descendant_concept_id)
WHERE ancestor_concept_id IN ({{.ancestorConceptIDs}})`

// MotorVehicleAccidentSQL counts condition rows descending from the motor
// vehicle accident concept hierarchy.
func MotorVehicleAccidentSQL(project, ctDataset string) (string, error) {
	return curation.RenderSQL(motorVehicleAccidentSQL, map[string]interface{}{
		"project":            project,
		"ctDataset":          ctDataset,
		"ancestorConceptIDs": curation.SQLIntList(curation.MotorVehicleAccidentAncestorConceptIDs),
	})
}

var eraTableRowsSQL = `SELECT
'{{.tableName}}' AS table_name,
'{{.tableName}}_id' AS column_name,
COUNT(*) AS row_count_failures
FROM ` + "`{{.project}}.{{.ctDataset}}.{{.tableName}}`" + ``

// EraTableRowsSQL counts rows in an era table, all of which must have been
// dropped before release.
func EraTableRowsSQL(project, ctDataset, tableName string) (string, error) {
	return curation.RenderSQL(eraTableRowsSQL, map[string]interface{}{
		"project":   project,
		"ctDataset": ctDataset,
		"tableName": tableName,
	})
}

// EraTables must be empty in a controlled-tier release.
var EraTables = []string{"dose_era", "drug_era", "condition_era"}

// discover runs a target-discovery query, or prints it and returns nothing
// when queries are being displayed rather than executed.
func (ct *ControlledTier) discover(query string) ([]bqutil.TableColumn, error) {
	if ct.Runner.DisplayQueries {
		fmt.Fprintln(ct.Runner.Out, query)
		return nil, nil
	}

	return ct.Runner.BQ.TableColumns(query)
}

func isObservationDomainTable(table string) bool {
	return strings.Contains(table, "obs") && !strings.Contains(table, "period")
}

// Run executes the full battery in order and returns the report. The first
// query or rendering error aborts the run.
func (ct *ControlledTier) Run() (*Report, error) {
	report := &Report{}
	project := ct.Runner.BQ.Project

	query, err := BirthDatesSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	n, err := ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("birth dates are June 15", n)

	// Checks 2 through 4 share one discovery pass over the dataset's
	// date and timestamp columns.
	query, err = DateColumnsSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	dateColumns, err := ct.discover(query)
	if err != nil {
		return nil, err
	}

	var total int64
	for _, tc := range dateColumns {
		query, err := DateBeforeBirthSQL(project, ct.RTDataset, ct.CTDataset, tc.TableName, tc.ColumnName)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("no dates before birth date", total)

	total = 0
	for _, tc := range dateColumns {
		query, err := DateAfterDeathSQL(project, ct.CTDataset, tc.TableName, tc.ColumnName, isObservationDomainTable(tc.TableName))
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("no dates beyond 30 days after death", total)

	total = 0
	for _, tc := range dateColumns {
		if strings.Contains(tc.TableName, "obs") {
			continue
		}
		query, err := DateBeforeEHRCutoffSQL(project, ct.CTDataset, tc.TableName, tc.ColumnName, ct.EarliestEHRDate)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("no dates before earliest EHR date", total)

	query, err = BasicsSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	n, err = ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("all participants have The Basics", n)

	query, err = EHRConsentSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	n, err = ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("participants with EHR data consented to EHR", n)

	// Checks 7 and 8 share the primary-key discovery pass.
	query, err = PrimaryKeyColumnsSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	keyColumns, err := ct.discover(query)
	if err != nil {
		return nil, err
	}

	total = 0
	for _, tc := range keyColumns {
		if strings.HasSuffix(tc.TableName, curation.ExtSuffix) {
			continue
		}
		query, err := PrimaryKeyInExtSQL(project, ct.CTDataset, tc.TableName, tc.ColumnName)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("primary keys present in ext tables", total)

	total = 0
	for _, tc := range keyColumns {
		query, err := DuplicateKeysSQL(project, ct.CTDataset, tc.TableName, tc.ColumnName)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("no duplicated primary keys", total)

	query, err = ConceptIDColumnsSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	conceptColumns, err := ct.discover(query)
	if err != nil {
		return nil, err
	}

	total = 0
	for _, tc := range conceptColumns {
		query, err := StandardConceptSQL(project, ct.CTDataset, tc.TableName, tc.ColumnName)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("concept columns hold standard concepts", total)

	query, err = BirthDateObservationMovedSQL(project, ct.RTDataset, ct.CTDataset, ct.CutoffDate)
	if err != nil {
		return nil, err
	}
	n, err = ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("exempt birth-date observations moved to cutoff date", n)

	query, err = BirthDateObservationRemovedSQL(project, ct.RTDataset, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	n, err = ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("other birth-date observations removed", n)

	query, err = MotorVehicleAccidentSQL(project, ct.CTDataset)
	if err != nil {
		return nil, err
	}
	n, err = ct.Runner.failures(query)
	if err != nil {
		return nil, err
	}
	report.Add("no motor vehicle accident conditions", n)

	total = 0
	for _, table := range EraTables {
		query, err := EraTableRowsSQL(project, ct.CTDataset, table)
		if err != nil {
			return nil, err
		}
		n, err := ct.Runner.failures(query)
		if err != nil {
			return nil, err
		}
		total += n
	}
	report.Add("era tables are empty", total)

	return report, nil
}
