package vocab

import (
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"

	curation "github.com/lledezma/curation"
)

func TestTableFilename(t *testing.T) {
	tests := []struct {
		table string
		want  string
	}{
		{"concept", "CONCEPT.csv"},
		{"drug_strength", "DRUG_STRENGTH.csv"},
	}

	for _, test := range tests {
		if got := TableFilename(test.table); got != test.want {
			t.Fatalf("TableFilename(%q): got %q, want %q", test.table, got, test.want)
		}
		if got := FilenameToTable(test.want); got != test.table {
			t.Fatalf("FilenameToTable(%q): got %q, want %q", test.want, got, test.table)
		}
	}
}

func TestStagingDatasetID(t *testing.T) {
	if got, want := StagingDatasetID("vocabulary20220801"), "vocabulary20220801_staging"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSchemasCoverVocabularyTables(t *testing.T) {
	for _, table := range curation.VocabularyTables {
		if _, ok := TableSchema(table); !ok {
			t.Fatalf("no schema for vocabulary table %s", table)
		}
	}
}

func TestSafeSchema(t *testing.T) {
	schema, ok := SafeSchema("concept")
	if !ok {
		t.Fatalf("no schema for concept")
	}

	byName := make(map[string]bigquery.FieldType)
	for _, field := range schema {
		byName[field.Name] = field.Type
	}

	if byName["valid_start_date"] != bigquery.StringFieldType {
		t.Fatalf("valid_start_date should stage as a string, got %s", byName["valid_start_date"])
	}
	if byName["concept_id"] != bigquery.IntegerFieldType {
		t.Fatalf("concept_id should stay an integer, got %s", byName["concept_id"])
	}

	// The canonical schema must not be altered by building the safe one.
	canonical, _ := TableSchema("concept")
	for _, field := range canonical {
		if field.Name == "valid_start_date" && field.Type != bigquery.DateFieldType {
			t.Fatalf("canonical schema was mutated: %s is %s", field.Name, field.Type)
		}
	}
}

func TestFinalSelectSQL(t *testing.T) {
	sql, err := FinalSelectSQL("aou-res", "vocabulary20220801_staging", "concept")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"PARSE_DATE('%Y%m%d', valid_start_date) AS valid_start_date",
		"PARSE_DATE('%Y%m%d', valid_end_date) AS valid_end_date",
		"FROM `aou-res.vocabulary20220801_staging.concept`",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("query missing %q:\n%s", want, sql)
		}
	}
	if strings.Contains(sql, "PARSE_DATE('%Y%m%d', concept_id)") {
		t.Fatalf("non-date column must not be parsed:\n%s", sql)
	}

	sql, err = FinalSelectSQL("aou-res", "vocabulary20220801_staging", "domain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sql, "PARSE_DATE") {
		t.Fatalf("domain has no date columns:\n%s", sql)
	}

	if _, err := FinalSelectSQL("aou-res", "staging", "not_a_table"); err == nil {
		t.Fatalf("expected error for unknown table")
	}
}
