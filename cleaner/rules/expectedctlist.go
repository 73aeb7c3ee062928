package rules

import (
	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	"github.com/lledezma/curation/cleaner"
)

var expectedCTListSQL = `CREATE OR REPLACE TABLE ` + "`{{.project}}.{{.sandboxDataset}}.{{.sandboxTable}}`" + ` AS (
WITH
  rdr_persons AS (
  SELECT DISTINCT person_id
  FROM ` + "`{{.project}}.{{.dataset}}.person`" + ` ),
  has_the_basics AS (
  SELECT DISTINCT o.person_id
  FROM ` + "`{{.project}}.{{.dataset}}.observation`" + ` o
  JOIN ` + "`{{.project}}.{{.dataset}}.concept_ancestor`" + ` ca
    ON o.observation_concept_id = ca.descendant_concept_id
    AND ca.ancestor_concept_id = {{.basicsAncestorConceptID}}
  UNION DISTINCT
  SELECT DISTINCT o.person_id
  FROM ` + "`{{.project}}.{{.dataset}}.observation`" + ` o
  JOIN ` + "`{{.project}}.{{.dataset}}.concept`" + ` c
    ON o.observation_source_concept_id = c.concept_id
  WHERE c.vocabulary_id = 'PPI'
    AND c.concept_class_id = 'Module'
    AND c.concept_name = 'The Basics'
    AND o.questionnaire_response_id IS NOT NULL ),
  bad_birthdate_records AS (
  SELECT DISTINCT person_id
  FROM ` + "`{{.project}}.{{.dataset}}.person`" + `
  WHERE year_of_birth < 1800
    OR year_of_birth > EXTRACT(YEAR FROM CURRENT_DATE()) - 17 )
SELECT
  m.research_id
FROM rdr_persons p
LEFT JOIN ` + "`{{.project}}.{{.pipelineTables}}.{{.pidRidMapping}}`" + ` m
  USING (person_id)
WHERE p.person_id IN (SELECT person_id FROM has_the_basics)
  AND p.person_id NOT IN (SELECT person_id FROM bad_birthdate_records)
)`

// StoreExpectedCTList materializes the research ids expected to survive into
// the controlled tier: everyone in the RDR export who completed The Basics
// and has a plausible birth year. The controlled-tier QC notebooks compare
// the released person table against this list.
type StoreExpectedCTList struct {
	Project        string
	Dataset        string
	SandboxDataset string
	TableNamer     string
}

func (r *StoreExpectedCTList) Name() string           { return "StoreExpectedCTList" }
func (r *StoreExpectedCTList) IssueNumbers() []string { return []string{"DC2595"} }

func (r *StoreExpectedCTList) Description() string {
	return "store the list of research ids expected in the controlled tier"
}

func (r *StoreExpectedCTList) AffectedTables() []string { return nil }

func (r *StoreExpectedCTList) Setup(bq *bqutil.WrappedBigQuery) error { return nil }

// SandboxTables is empty: the rule only writes a new sandbox table.
func (r *StoreExpectedCTList) SandboxTables() map[string]string { return nil }

func (r *StoreExpectedCTList) QuerySpecs() ([]bqutil.QuerySpec, error) {
	sql, err := curation.RenderSQL(expectedCTListSQL, map[string]interface{}{
		"project":                 r.Project,
		"dataset":                 r.Dataset,
		"sandboxDataset":          r.SandboxDataset,
		"sandboxTable":            cleaner.SandboxTableFor(r.TableNamer, r.IssueNumbers(), "expected_ct_list"),
		"pipelineTables":          curation.PipelineTablesDataset,
		"pidRidMapping":           curation.PrimaryPIDRIDMapping,
		"basicsAncestorConceptID": curation.TheBasicsAncestorConceptID,
	})
	if err != nil {
		return nil, err
	}

	return []bqutil.QuerySpec{{SQL: sql}}, nil
}
