package rules

import (
	"strings"
	"testing"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	curation "github.com/lledezma/curation"
)

func TestRemovePersonRowsQuerySpecs(t *testing.T) {
	rule := &RemovePersonRows{
		Project:        "aou-res",
		Dataset:        "combined2022",
		SandboxDataset: "combined2022_sandbox",
		TableNamer:     "combined",
		LookupTable:    "pids_to_remove",
		Issues:         []string{"DC686"},
	}
	rule.affected = []string{"observation", "death"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.combined2022_sandbox.combined_dc686_observation` AS (\n" +
		"SELECT t.* FROM `aou-res.combined2022.observation` t\n" +
		"WHERE person_id IN (\n" +
		"    SELECT person_id FROM `aou-res.combined2022_sandbox.pids_to_remove`\n" +
		"))"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	wantDelete := "DELETE FROM `aou-res.combined2022.observation`\n" +
		"WHERE person_id IN (\n" +
		"    SELECT DISTINCT person_id FROM `aou-res.combined2022_sandbox.pids_to_remove`\n" +
		")"
	if specs[2].SQL != wantDelete {
		t.Fatalf("delete query:\ngot:\n%s\nwant:\n%s", specs[2].SQL, wantDelete)
	}
}

func TestRemovePersonRowsEHROnly(t *testing.T) {
	rule := &RemovePersonRows{
		Project:        "aou-res",
		Dataset:        "combined2022",
		SandboxDataset: "combined2022_sandbox",
		TableNamer:     "combined",
		LookupTable:    "pids_to_remove",
		Issues:         []string{"DC686"},
		EHROnly:        true,
	}
	rule.affected = []string{"observation", "death"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Sandboxing joins through the mapping table to keep only site rows.
	if !strings.Contains(specs[0].SQL, "JOIN `aou-res.combined2022._mapping_observation` m") {
		t.Fatalf("expected mapping join in sandbox query:\n%s", specs[0].SQL)
	}
	if !strings.Contains(specs[0].SQL, "LOWER(m.src_hpo_id) != 'rdr'") {
		t.Fatalf("expected src_hpo_id filter in sandbox query:\n%s", specs[0].SQL)
	}

	// The delete restricts to the sandboxed ids.
	if !strings.Contains(specs[2].SQL, "AND observation_id IN (") {
		t.Fatalf("expected id restriction in delete query:\n%s", specs[2].SQL)
	}

	// death has no mapping table: it falls back to the sandboxed person ids.
	if strings.Contains(specs[1].SQL, "_mapping_death") {
		t.Fatalf("death sandbox query must not join a mapping table:\n%s", specs[1].SQL)
	}
	if !strings.Contains(specs[3].SQL, "AND person_id IN (\n    SELECT DISTINCT person_id FROM `aou-res.combined2022_sandbox.combined_dc686_death`") {
		t.Fatalf("death delete query must restrict to sandboxed person ids:\n%s", specs[3].SQL)
	}
}

func TestCleanMappingExtTablesQuerySpecs(t *testing.T) {
	rule := &CleanMappingExtTables{
		Project:        "aou-res",
		Dataset:        "deid2022",
		SandboxDataset: "deid2022_sandbox",
		TableNamer:     "deid",
	}
	rule.mappingTables = []string{"_mapping_observation"}
	rule.extTables = []string{"observation_ext"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}

	wantSandbox := "SELECT *\n" +
		"FROM `aou-res.deid2022._mapping_observation`\n" +
		"WHERE observation_id NOT IN\n" +
		"(SELECT observation_id FROM `aou-res.deid2022.observation`)"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}
	if specs[0].DestinationDataset != "deid2022_sandbox" {
		t.Fatalf("got destination dataset %q, want deid2022_sandbox", specs[0].DestinationDataset)
	}
	if specs[0].Disposition != bigquery.WriteAppend {
		t.Fatalf("got disposition %q, want WriteAppend", specs[0].Disposition)
	}

	if !strings.HasPrefix(specs[1].SQL, "DELETE\nFROM `aou-res.deid2022._mapping_observation`") {
		t.Fatalf("expected delete statement second:\n%s", specs[1].SQL)
	}
	if !strings.Contains(specs[2].SQL, "FROM `aou-res.deid2022.observation_ext`") {
		t.Fatalf("expected ext sandbox query third:\n%s", specs[2].SQL)
	}
}

func TestCleanMappingExtTablesEHRDataset(t *testing.T) {
	rule := &CleanMappingExtTables{
		Project:        "aou-res",
		Dataset:        "ehr2022",
		SandboxDataset: "ehr2022_sandbox",
		TableNamer:     "ehr",
	}
	rule.mappingTables = []string{"_mapping_measurement"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// EHR datasets prefix the domain table, and the id column follows it.
	if !strings.Contains(specs[0].SQL, "WHERE unioned_ehr_measurement_id NOT IN") {
		t.Fatalf("expected unioned_ehr_ prefixed id column:\n%s", specs[0].SQL)
	}
	if !strings.Contains(specs[0].SQL, "(SELECT unioned_ehr_measurement_id FROM `aou-res.ehr2022.unioned_ehr_measurement`)") {
		t.Fatalf("expected unioned_ehr_ prefixed domain table:\n%s", specs[0].SQL)
	}
}

func TestCDMTableOf(t *testing.T) {
	tests := []struct {
		table     string
		tableType string
		want      string
	}{
		{"_mapping_observation", "mapping", "observation"},
		{"observation_ext", "ext", "observation"},
		{"_mapping_visit_occurrence", "mapping", "visit_occurrence"},
	}

	for _, test := range tests {
		if got := cdmTableOf(test.table, test.tableType); got != test.want {
			t.Fatalf("cdmTableOf(%q, %q): got %q, want %q", test.table, test.tableType, got, test.want)
		}
	}
}

func TestIsEHRDataset(t *testing.T) {
	tests := []struct {
		datasetID string
		want      bool
	}{
		{"ehr2022", true},
		{"unioned_ehr2022", false},
		{"combined2022", false},
	}

	for _, test := range tests {
		if got := isEHRDataset(test.datasetID); got != test.want {
			t.Fatalf("isEHRDataset(%q): got %v, want %v", test.datasetID, got, test.want)
		}
	}
}

func TestParseTruncationDate(t *testing.T) {
	tests := []struct {
		in   string
		want civil.Date
	}{
		{"2022-07-01", civil.Date{Year: 2022, Month: 7, Day: 1}},
		{"07/01/2022", civil.Date{Year: 2022, Month: 7, Day: 1}},
		{"July 1, 2022", civil.Date{Year: 2022, Month: 7, Day: 1}},
	}

	for _, test := range tests {
		got, err := ParseTruncationDate(test.in)
		if err != nil {
			t.Fatalf("ParseTruncationDate(%q): unexpected error: %v", test.in, err)
		}
		if got != test.want {
			t.Fatalf("ParseTruncationDate(%q): got %v, want %v", test.in, got, test.want)
		}
	}

	if _, err := ParseTruncationDate("not a date"); err == nil {
		t.Fatalf("expected error for unparseable date")
	}
}

func TestTruncateFitbitDataQuerySpecs(t *testing.T) {
	rule := &TruncateFitbitData{
		Project:        "aou-res",
		Dataset:        "fitbit2022",
		SandboxDataset: "fitbit2022_sandbox",
		TruncationDate: civil.Date{Year: 2022, Month: 7, Day: 1},
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tables := curation.FitbitTables()
	if len(specs) != 2*len(tables) {
		t.Fatalf("got %d specs, want %d", len(specs), 2*len(tables))
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.fitbit2022_sandbox.dc1046_activity_summary` AS (\n" +
		"SELECT *\n" +
		"FROM `aou-res.fitbit2022.activity_summary`\n" +
		"WHERE date > DATE('2022-07-01'))"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	// Minute-level tables filter on their DATETIME field.
	var sawDatetime bool
	for _, spec := range specs[:len(tables)] {
		if strings.Contains(spec.SQL, "WHERE datetime > DATETIME('2022-07-01')") {
			sawDatetime = true
		}
	}
	if !sawDatetime {
		t.Fatalf("expected a DATETIME filter among the sandbox queries")
	}

	truncate := specs[len(tables)]
	wantTruncate := "SELECT * FROM `aou-res.fitbit2022.activity_summary` t\n" +
		"EXCEPT DISTINCT\n" +
		"SELECT * FROM `aou-res.fitbit2022_sandbox.dc1046_activity_summary`"
	if truncate.SQL != wantTruncate {
		t.Fatalf("truncate query:\ngot:\n%s\nwant:\n%s", truncate.SQL, wantTruncate)
	}
	if truncate.DestinationTable != "activity_summary" || truncate.Disposition != bigquery.WriteTruncate {
		t.Fatalf("truncate spec must overwrite the source table, got %+v", truncate)
	}
}

func TestTruncateFitbitDataSandboxTables(t *testing.T) {
	rule := &TruncateFitbitData{
		Project:        "aou-res",
		Dataset:        "fitbit2022q2r1",
		SandboxDataset: "fitbit2022q2r1_sandbox",
		TableNamer:     "fitbit",
		TruncationDate: civil.Date{Year: 2022, Month: 7, Day: 1},
	}

	if got, want := rule.SandboxTables()["activity_summary"], "fitbit_dc1046_activity_summary"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(specs[0].SQL, "`aou-res.fitbit2022q2r1_sandbox.fitbit_dc1046_activity_summary`") {
		t.Fatalf("sandbox query must use the namer-prefixed table:\n%s", specs[0].SQL)
	}
}

func TestRemoveFitbitMaxAgeQuerySpecs(t *testing.T) {
	rule := &RemoveFitbitMaxAge{
		Project:         "aou-res",
		Dataset:         "fitbit2022",
		CombinedDataset: "combined2022",
		SandboxDataset:  "fitbit2022_sandbox",
		TableNamer:      "fitbit",
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tables := curation.FitbitTables()
	if len(specs) != 2*len(tables) {
		t.Fatalf("got %d specs, want %d", len(specs), 2*len(tables))
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.fitbit2022_sandbox.fitbit_dc1001_activity_summary` AS (\n" +
		"SELECT t.* FROM `aou-res.fitbit2022.activity_summary` t\n" +
		"WHERE person_id IN (\n" +
		"    SELECT person_id\n" +
		"    FROM `aou-res.combined2022.person`\n" +
		"    WHERE EXTRACT(YEAR FROM CURRENT_DATE()) - year_of_birth >= 89\n" +
		"))"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	wantDelete := "DELETE FROM `aou-res.fitbit2022.activity_summary`\n" +
		"WHERE person_id IN (\n" +
		"    SELECT DISTINCT person_id FROM `aou-res.fitbit2022_sandbox.fitbit_dc1001_activity_summary`\n" +
		")"
	if specs[len(tables)].SQL != wantDelete {
		t.Fatalf("delete query:\ngot:\n%s\nwant:\n%s", specs[len(tables)].SQL, wantDelete)
	}
}

func TestDropExtremeMeasurementsQuerySpecs(t *testing.T) {
	rule := &DropExtremeMeasurements{
		Project:        "aou-res",
		Dataset:        "rdr2022",
		SandboxDataset: "rdr2022_sandbox",
		TableNamer:     "rdr",
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}

	if specs[0].DestinationTable != "rdr_dc-624_dc-849_measurement" {
		t.Fatalf("got sandbox table %q, want rdr_dc-624_dc-849_measurement", specs[0].DestinationTable)
	}
	if specs[0].Disposition != bigquery.WriteTruncate {
		t.Fatalf("got disposition %q, want WriteTruncate", specs[0].Disposition)
	}

	// Height outliers take the BMI companion row, BMI outliers take both.
	if !strings.Contains(specs[1].SQL, "measurement_source_concept_id = 903133") ||
		!strings.Contains(specs[1].SQL, "NOT BETWEEN 90 AND 228") ||
		!strings.Contains(specs[1].SQL, "IN (903124)") {
		t.Fatalf("height delete query:\n%s", specs[1].SQL)
	}
	if !strings.Contains(specs[2].SQL, "measurement_source_concept_id = 903121") ||
		!strings.Contains(specs[2].SQL, "NOT BETWEEN 30 AND 250") {
		t.Fatalf("weight delete query:\n%s", specs[2].SQL)
	}
	if !strings.Contains(specs[3].SQL, "measurement_source_concept_id = 903124") ||
		!strings.Contains(specs[3].SQL, "IN (903133, 903121)") {
		t.Fatalf("bmi delete query:\n%s", specs[3].SQL)
	}
}

func TestRepopulatePersonPostDeidQuerySpecs(t *testing.T) {
	rule := &RepopulatePersonPostDeid{Project: "aou-res", Dataset: "deid2022"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}

	spec := specs[0]
	if spec.DestinationTable != "person" || spec.Disposition != bigquery.WriteTruncate {
		t.Fatalf("person must be rewritten in place, got %+v", spec)
	}

	for _, want := range []string{
		"observation_source_concept_id = 1585838",
		"race_ob.observation_concept_id = 1586140",
		"race_ob.value_source_concept_id != 1586147",
		"WHEN 1586142 THEN 8515",
		"WHEN 1586143 THEN 8516",
		"WHEN 1586146 THEN 8527",
		"38003563) AS ethnicity_concept_id",
		"WHEN race_concept_id = 0 THEN 2100000001",
		`WHEN race_concept_id = 0 THEN "None Indicated"`,
		"ethnicity_concept.concept_code ethnicity_source_value",
	} {
		if !strings.Contains(spec.SQL, want) {
			t.Fatalf("query missing %q:\n%s", want, spec.SQL)
		}
	}
}

func TestStoreExpectedCTListQuerySpecs(t *testing.T) {
	rule := &StoreExpectedCTList{
		Project:        "aou-res",
		Dataset:        "rdr2022",
		SandboxDataset: "rdr2022_sandbox",
		TableNamer:     "rdr",
	}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 {
		t.Fatalf("got %d specs, want 1", len(specs))
	}

	sql := specs[0].SQL
	for _, want := range []string{
		"CREATE OR REPLACE TABLE `aou-res.rdr2022_sandbox.rdr_dc2595_expected_ct_list`",
		"ca.ancestor_concept_id = 1586134",
		"c.concept_name = 'The Basics'",
		"o.questionnaire_response_id IS NOT NULL",
		"year_of_birth < 1800",
		"EXTRACT(YEAR FROM CURRENT_DATE()) - 17",
		"`aou-res.pipeline_tables.primary_pid_rid_mapping`",
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("query missing %q:\n%s", want, sql)
		}
	}
}

func TestRemoveExtraTablesQuerySpecs(t *testing.T) {
	rule := &RemoveExtraTables{
		Project:        "aou-res",
		Dataset:        "ct2022",
		SandboxDataset: "ct2022_sandbox",
		TableNamer:     "ct",
	}
	rule.extraTables = []string{"_deid_map", "note_nlp_backup"}

	specs, err := rule.QuerySpecs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.ct2022_sandbox.ct_dc1441__deid_map` AS (\n" +
		"SELECT\n" +
		"    *\n" +
		"FROM `aou-res.ct2022._deid_map`\n" +
		")"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	if got, want := specs[2].SQL, "DROP TABLE IF EXISTS `aou-res.ct2022._deid_map`"; got != want {
		t.Fatalf("drop query: got %q, want %q", got, want)
	}
}

func TestExpectedTables(t *testing.T) {
	expected := expectedTables()

	for _, table := range []string{"person", "observation", "concept", "observation_ext", "person_src_hpos_ext", "_cdr_metadata"} {
		if !expected[table] {
			t.Fatalf("expected table set missing %q", table)
		}
	}
	if expected["person_ext"] {
		t.Fatalf("person_ext must not be in the expected table set")
	}
	if expected["_deid_map"] {
		t.Fatalf("_deid_map must not be in the expected table set")
	}
}
