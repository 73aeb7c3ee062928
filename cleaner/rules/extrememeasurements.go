package rules

import (
	"cloud.google.com/go/bigquery"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

// Physical measurement bounds. Heights in centimeters, weights in kilograms.
const (
	heightConceptID = 903133
	weightConceptID = 903121
	bmiConceptID    = 903124
)

var extremeSandboxSQL = `SELECT
    *
FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + ` m
WHERE
    (
    EXISTS (
    WITH outbound_heights AS (
    SELECT person_id, measurement_datetime
    FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + `
    WHERE measurement_source_concept_id = 903133
    AND value_as_number NOT BETWEEN 90 AND 228
    )
    (SELECT person_id FROM outbound_heights
    WHERE m.measurement_source_concept_id = 903124
    AND m.measurement_datetime = outbound_heights.measurement_datetime)
    )
    OR (m.measurement_source_concept_id = 903133
    AND value_as_number NOT BETWEEN 90 AND 228)
) OR (
    EXISTS (
    WITH outbound_weights AS (
    SELECT person_id, measurement_datetime
    FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + `
    WHERE measurement_source_concept_id = 903121
    AND value_as_number NOT BETWEEN 30 AND 250
    )
    (SELECT person_id FROM outbound_weights
    WHERE m.measurement_source_concept_id = 903124
    AND m.measurement_datetime = outbound_weights.measurement_datetime)
    )
    OR (m.measurement_source_concept_id = 903121
    AND value_as_number NOT BETWEEN 30 AND 250)
    )
  OR (
    EXISTS (
    WITH outbound_bmi AS (
    SELECT person_id, measurement_datetime
    FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + `
    WHERE measurement_source_concept_id = 903124
    AND value_as_number NOT BETWEEN 10 AND 125
    )
    (SELECT person_id FROM outbound_bmi
    WHERE m.measurement_source_concept_id IN (903133, 903121)
    AND m.measurement_datetime = outbound_bmi.measurement_datetime)
    )
    OR (m.measurement_source_concept_id = 903124
    AND value_as_number NOT BETWEEN 10 AND 125)
    )`

var deleteExtremeSQL = `DELETE FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + ` m
WHERE
  EXISTS (
  WITH outbound AS (
  SELECT person_id, measurement_datetime
  FROM ` + "`{{.project}}.{{.dataset}}.measurement`" + `
  WHERE measurement_source_concept_id = {{.conceptID}}
  AND value_as_number NOT BETWEEN {{.lower}} AND {{.upper}}
  )
  (SELECT person_id FROM outbound
  WHERE m.measurement_source_concept_id IN ({{.companionConceptIDs}})
  AND m.measurement_datetime = outbound.measurement_datetime)
)
OR (m.measurement_source_concept_id = {{.conceptID}}
AND value_as_number NOT BETWEEN {{.lower}} AND {{.upper}})`

// DropExtremeMeasurements removes physical measurement outliers along with
// their same-datetime companion rows: a height or weight out of bounds takes
// the derived BMI row with it, and an out-of-bounds BMI takes the height and
// weight rows it was derived from.
type DropExtremeMeasurements struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string
}

func (r *DropExtremeMeasurements) Name() string           { return "DropExtremeMeasurements" }
func (r *DropExtremeMeasurements) IssueNumbers() []string { return []string{"DC-624", "DC-849"} }

func (r *DropExtremeMeasurements) Description() string {
	return "remove extreme physical measurement outliers"
}

func (r *DropExtremeMeasurements) AffectedTables() []string { return []string{"measurement"} }

func (r *DropExtremeMeasurements) Setup(bq *bqutil.WrappedBigQuery) error { return nil }

func (r *DropExtremeMeasurements) SandboxTables() map[string]string {
	return map[string]string{
		"measurement": cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), "measurement"),
	}
}

func (r *DropExtremeMeasurements) QuerySpecs() ([]bqutil.QuerySpec, error) {
	sandboxSQL, err := curation.RenderSQL(extremeSandboxSQL, map[string]interface{}{
		"project": r.Project,
		"dataset": r.Dataset,
	})
	if err != nil {
		return nil, err
	}

	specs := []bqutil.QuerySpec{{
		SQL:                sandboxSQL,
		DestinationDataset: r.SandboxDataset,
		DestinationTable:   cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), "measurement"),
		Disposition:        bigquery.WriteTruncate,
	}}

	for _, bounds := range []struct {
		conceptID    int
		lower, upper int
		companions   string
	}{
		{heightConceptID, 90, 228, "903124"},
		{weightConceptID, 30, 250, "903124"},
		{bmiConceptID, 10, 125, "903133, 903121"},
	} {
		sql, err := curation.RenderSQL(deleteExtremeSQL, map[string]interface{}{
			"project":             r.Project,
			"dataset":             r.Dataset,
			"conceptID":           bounds.conceptID,
			"lower":               bounds.lower,
			"upper":               bounds.upper,
			"companionConceptIDs": bounds.companions,
		})
		if err != nil {
			return nil, err
		}
		specs = append(specs, bqutil.QuerySpec{SQL: sql})
	}

	return specs, nil
}
