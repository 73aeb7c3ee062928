package rules

import (
	"cloud.google.com/go/bigquery"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

// Race answers with a direct standard-domain match are hardcoded; everything
// else falls through to the standard mapped answer.
var repopulatePersonSQL = `WITH
  gender AS (
  SELECT
    p.person_id,
    COALESCE(o.value_as_concept_id, 0) AS gender_concept_id,
    COALESCE(o.value_source_concept_id, 0) AS gender_source_concept_id,
    COALESCE(c.concept_code, "No matching concept") AS gender_source_value
  FROM ` + "`{{.project}}.{{.dataset}}.person`" + ` p
  LEFT JOIN ` + "`{{.project}}.{{.dataset}}.observation`" + ` o
    ON p.person_id = o.person_id
    AND observation_source_concept_id = {{.genderConceptID}}
  LEFT JOIN ` + "`{{.project}}.{{.dataset}}.concept`" + ` c
    ON value_source_concept_id = concept_id ),
  repopulate_person_from_observation AS (
  SELECT
    DISTINCT *
  FROM (
    SELECT
      per.person_id,
      gender.gender_concept_id,
      EXTRACT(YEAR FROM birth_datetime) AS year_of_birth,
      EXTRACT(MONTH FROM birth_datetime) AS month_of_birth,
      EXTRACT(DAY FROM birth_datetime) AS day_of_birth,
      birth_datetime,
      CASE race_ob.value_source_concept_id
        WHEN 1586142 THEN 8515
        WHEN 1586143 THEN 8516
        WHEN 1586146 THEN 8527
      ELSE
      COALESCE(race_ob.value_as_concept_id, 0)
    END
      AS race_concept_id,
    IF
      (ethnicity_ob.value_as_concept_id IS NULL,
        CASE
          WHEN race_ob.value_source_concept_id = 0 THEN 0
          WHEN race_ob.value_source_concept_id IS NULL THEN 0
          WHEN race_ob.value_source_concept_id = 903079 THEN 903079
          WHEN race_ob.value_source_concept_id = 903096 THEN 903096
          WHEN race_ob.value_source_concept_id = 1586148 THEN 1586148
        ELSE
        38003564
      END,
        38003563) AS ethnicity_concept_id,
      location_id,
      per.provider_id,
      care_site_id,
      CAST(per.person_id AS STRING) AS person_source_value,
      gender.gender_source_value,
      gender.gender_source_concept_id,
      COALESCE(race_ob.value_source_value, "No matching concept") AS race_source_value,
      COALESCE(race_ob.value_source_concept_id, 0) AS race_source_concept_id
    FROM ` + "`{{.project}}.{{.dataset}}.person`" + ` AS per
    LEFT JOIN gender
      ON per.person_id = gender.person_id
    LEFT JOIN ` + "`{{.project}}.{{.dataset}}.observation`" + ` race_ob
      ON per.person_id = race_ob.person_id
      AND race_ob.observation_concept_id = {{.raceConceptID}}
      AND race_ob.value_source_concept_id != {{.ethnicityConceptID}}
    LEFT JOIN ` + "`{{.project}}.{{.dataset}}.observation`" + ` ethnicity_ob
      ON per.person_id = ethnicity_ob.person_id
      AND ethnicity_ob.observation_concept_id = {{.raceConceptID}}
      AND ethnicity_ob.value_source_concept_id = {{.ethnicityConceptID}}) )
SELECT
  person_id,
  gender_concept_id,
  year_of_birth,
  month_of_birth,
  day_of_birth,
  birth_datetime,
  CASE
    WHEN race_concept_id = 0 THEN {{.noneIndicatedConceptID}}
  ELSE
  race_concept_id
END
  AS race_concept_id,
  ethnicity_concept_id,
  location_id,
  provider_id,
  care_site_id,
  person_source_value,
  gender_source_value,
  gender_source_concept_id,
  CASE
    WHEN race_concept_id = 0 THEN "None Indicated"
  ELSE
  race_source_value
END
  AS race_source_value,
  race_source_concept_id,
  ethnicity_concept.concept_code ethnicity_source_value,
  ethnicity_concept_id ethnicity_source_concept_id
FROM
  repopulate_person_from_observation r
  JOIN ` + "`{{.project}}.{{.dataset}}.concept`" + ` ethnicity_concept
    ON ethnicity_concept.concept_id = r.ethnicity_concept_id`

// RepopulatePersonPostDeid rebuilds person demographics from the survey
// answers in observation. Deidentification strips every person field except
// person_id and birth_datetime; this rule restores gender, race, and
// ethnicity before handoff.
type RepopulatePersonPostDeid struct {
	Project string
	Dataset string
}

func (r *RepopulatePersonPostDeid) Name() string { return "RepopulatePersonPostDeid" }

func (r *RepopulatePersonPostDeid) IssueNumbers() []string {
	return []string{"DC516", "DC836", "DC1446", "DC1584"}
}

func (r *RepopulatePersonPostDeid) Description() string {
	return "repopulate the person table demographics from observation"
}

func (r *RepopulatePersonPostDeid) AffectedTables() []string { return []string{"person"} }

func (r *RepopulatePersonPostDeid) Setup(bq *bqutil.WrappedBigQuery) error { return nil }

// SandboxTables is empty: the rule rewrites person in place rather than
// deleting rows.
func (r *RepopulatePersonPostDeid) SandboxTables() map[string]string { return nil }

func (r *RepopulatePersonPostDeid) QuerySpecs() ([]bqutil.QuerySpec, error) {
	sql, err := curation.RenderSQL(repopulatePersonSQL, map[string]interface{}{
		"project":                r.Project,
		"dataset":                r.Dataset,
		"genderConceptID":        curation.GenderConceptID,
		"raceConceptID":          curation.RaceConceptID,
		"ethnicityConceptID":     curation.EthnicityConceptID,
		"noneIndicatedConceptID": curation.NoneIndicatedConceptID,
	})
	if err != nil {
		return nil, err
	}

	return []bqutil.QuerySpec{{
		SQL:                sql,
		DestinationDataset: r.Dataset,
		DestinationTable:   "person",
		Disposition:        bigquery.WriteTruncate,
	}}, nil
}
