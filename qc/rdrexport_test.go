package qc

import (
	"strings"
	"testing"

	"cloud.google.com/go/civil"
)

func TestTableDiffSQL(t *testing.T) {
	got, err := TableDiffSQL("aou-res", "rdr202205", "rdr202208")
	if err != nil {
		t.Fatal(err)
	}

	expected := `SELECT
  COALESCE(curr.table_id, prev.table_id) AS table_id,
  curr.row_count AS new_row_count,
  prev.row_count AS old_row_count
FROM ` + "`aou-res.rdr202208.__TABLES__`" + ` curr
FULL OUTER JOIN ` + "`aou-res.rdr202205.__TABLES__`" + ` prev
  USING (table_id)
WHERE curr.table_id IS NULL OR prev.table_id IS NULL`

	if got != expected {
		t.Fatalf("got:\n%s\nexpected:\n%s", got, expected)
	}
}

func TestIDRangeSQL(t *testing.T) {
	got, err := IDRangeSQL("aou-res", "rdr202208")
	if err != nil {
		t.Fatal(err)
	}

	if n := strings.Count(got, "UNION ALL"); n != len(IDRangeTables)-1 {
		t.Errorf("expected %d UNION ALL, got %d:\n%s", len(IDRangeTables)-1, n, got)
	}
	for _, table := range IDRangeTables {
		want := "WHERE " + table + "_id > 999999999999999"
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestUnmappedCodesSQL(t *testing.T) {
	got, err := UnmappedQuestionCodesSQL("aou-res", "rdr202208", "curation_sandbox")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"COUNTIF(observation_source_concept_id IS NULL)",
		"COUNTIF(observation_concept_id = 0) AS row_count_failures",
		"observation_source_value NOT IN (SELECT concept_code FROM `aou-res.curation_sandbox.snap_codes`)",
		"HAVING row_count_failures > 0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("question codes: missing %q in:\n%s", want, got)
		}
	}

	got, err = UnmappedAnswerCodesSQL("aou-res", "rdr202208", "curation_sandbox")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"COUNTIF(value_source_concept_id IS NULL)",
		"COUNTIF(value_as_concept_id = 0) AS row_count_failures",
		"value_source_value NOT IN (SELECT concept_code FROM `aou-res.curation_sandbox.snap_codes`)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("answer codes: missing %q in:\n%s", want, got)
		}
	}
}

func TestDateMismatchSQL(t *testing.T) {
	got, err := DateMismatchSQL("aou-res", "rdr202208")
	if err != nil {
		t.Fatal(err)
	}

	expected := `SELECT
  'observation' AS table_name,
  'observation_date' AS column_name,
  COUNT(*) AS row_count_failures
FROM ` + "`aou-res.rdr202208.observation`" + `
WHERE observation_date != EXTRACT(DATE FROM observation_datetime)`

	if got != expected {
		t.Fatalf("got:\n%s\nexpected:\n%s", got, expected)
	}
}

func TestBeyondCutoffSQL(t *testing.T) {
	got, err := BeyondCutoffSQL("aou-res", "rdr202208", civil.Date{Year: 2022, Month: 7, Day: 1})
	if err != nil {
		t.Fatal(err)
	}

	if n := strings.Count(got, "> DATE('2022-07-01')"); n != 3 {
		t.Errorf("expected the cutoff in 3 branches, got %d:\n%s", n, got)
	}
	for _, want := range []string{
		"WHERE observation_date > DATE('2022-07-01')",
		"WHERE survey_start_date > DATE('2022-07-01')",
		"WHERE survey_end_date > DATE('2022-07-01')",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}
