package retraction

import (
	"strings"
	"testing"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

func TestDatasetTypeOf(t *testing.T) {
	tests := []struct {
		datasetID string
		want      DatasetType
	}{
		{"combined2022q2r1", Combined},
		{"combined2022_deid", Deid},
		{"unioned_ehr2022", UnionedEHR},
		{"rdr20220401", RDR},
		{"ehr20220401", EHR},
		{"fitbit2022", Fitbit},
		{"C2022q2r1_fitbit", Fitbit},
		{"deid_base", Deid},
		{"vocabulary20220401", Other},
		{"pipeline_tables", Other},
	}

	for _, test := range tests {
		if got := DatasetTypeOf(test.datasetID); got != test.want {
			t.Fatalf("DatasetTypeOf(%q): got %q, want %q", test.datasetID, got, test.want)
		}
	}
}

func TestIsDeidDataset(t *testing.T) {
	tests := []struct {
		datasetID string
		want      bool
	}{
		{"combined2022_deid", true},
		{"deid_base_sandbox", true},
		{"C2022q2r1_fitbit", true},
		{"R2021q3r5_fitbit", true},
		{"fitbit2022", false},
		{"combined2022", false},
	}

	for _, test := range tests {
		if got := IsDeidDataset(test.datasetID); got != test.want {
			t.Fatalf("IsDeidDataset(%q): got %v, want %v", test.datasetID, got, test.want)
		}
	}
}

func TestIsSandboxDataset(t *testing.T) {
	if !IsSandboxDataset("combined2022_sandbox") {
		t.Fatalf("combined2022_sandbox must be a sandbox dataset")
	}
	if IsSandboxDataset("combined2022") {
		t.Fatalf("combined2022 must not be a sandbox dataset")
	}
}

func TestMappingType(t *testing.T) {
	tests := []struct {
		tables []string
		want   string
	}{
		{[]string{"observation", "_mapping_observation", "_mapping_measurement"}, "mapping"},
		{[]string{"observation", "observation_ext", "measurement_ext"}, "ext"},
		{[]string{"observation"}, "mapping"},
		{[]string{"_mapping_observation", "observation_ext", "measurement_ext"}, "ext"},
	}

	for _, test := range tests {
		if got := MappingType(test.tables); got != test.want {
			t.Fatalf("MappingType(%v): got %q, want %q", test.tables, got, test.want)
		}
	}
}

func TestSrcIDColumn(t *testing.T) {
	if got := SrcIDColumn("mapping"); got != "src_hpo_id" {
		t.Fatalf("got %q, want src_hpo_id", got)
	}
	if got := SrcIDColumn("ext"); got != "src_id" {
		t.Fatalf("got %q, want src_id", got)
	}
}

func TestParsePIDSource(t *testing.T) {
	src, err := ParsePIDSource("101, 102,103")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := src.Expr("person_id"), "(101, 102, 103)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	src, err = ParsePIDSource("aou-res.ops.pid_list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, want := src.Expr("research_id"), "(SELECT research_id FROM `aou-res.ops.pid_list`)"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := ParsePIDSource("101,abc"); err == nil {
		t.Fatalf("expected error for non-integer pid")
	}
	if _, err := ParsePIDSource("aou-res.pid_list"); err == nil {
		t.Fatalf("expected error for malformed table name")
	}
}

func TestRetractorQuerySpecs(t *testing.T) {
	deact := curation.FQTable{Project: "aou-res", Dataset: "ops", Table: "_deactivated_participants"}
	r := &Retractor{
		BQ:   &bqutil.WrappedBigQuery{Project: "aou-res"},
		PIDs: PIDSource{Table: &deact},
	}

	specs, err := r.querySpecs("combined2022", []string{"observation", "death"}, r.PIDs.Expr("person_id"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("got %d specs, want 4", len(specs))
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.combined2022_sandbox.deact_observation` AS (\n" +
		"SELECT * FROM `aou-res.combined2022.observation`\n" +
		"WHERE person_id IN (SELECT person_id FROM `aou-res.ops._deactivated_participants`))"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	wantDelete := "DELETE FROM `aou-res.combined2022.death`\n" +
		"WHERE person_id IN (SELECT person_id FROM `aou-res.ops._deactivated_participants`)"
	if specs[3].SQL != wantDelete {
		t.Fatalf("delete query:\ngot:\n%s\nwant:\n%s", specs[3].SQL, wantDelete)
	}

	// Sandboxing strictly precedes deletion.
	for i, spec := range specs {
		isCreate := strings.HasPrefix(spec.SQL, "CREATE OR REPLACE")
		if (i < 2) != isCreate {
			t.Fatalf("spec %d out of order:\n%s", i, spec.SQL)
		}
	}
}

func TestRetractorQuerySpecsFromPIDList(t *testing.T) {
	r := &Retractor{
		BQ:   &bqutil.WrappedBigQuery{Project: "aou-res"},
		PIDs: PIDSource{IDs: []int64{101, 102, 103}},
	}

	specs, err := r.querySpecs("rdr2022", []string{"observation"}, r.PIDs.Expr("person_id"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantDelete := "DELETE FROM `aou-res.rdr2022.observation`\n" +
		"WHERE person_id IN (101, 102, 103)"
	if specs[1].SQL != wantDelete {
		t.Fatalf("delete query:\ngot:\n%s\nwant:\n%s", specs[1].SQL, wantDelete)
	}
}

func TestRetractorSiteScopedQuerySpecs(t *testing.T) {
	r := &Retractor{
		BQ:    &bqutil.WrappedBigQuery{Project: "aou-res"},
		PIDs:  PIDSource{IDs: []int64{101, 102}},
		HPOID: "hpo_a",
	}

	tables := []string{"observation", "person"}
	allTables := []string{"observation", "person", "_mapping_observation", "_mapping_measurement"}
	filters := r.siteFilters("combined2022", tables, allTables)

	specs, err := r.querySpecs("combined2022", tables, r.PIDs.Expr("person_id"), filters)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantSandbox := "CREATE OR REPLACE TABLE `aou-res.combined2022_sandbox.deact_observation` AS (\n" +
		"SELECT * FROM `aou-res.combined2022.observation`\n" +
		"WHERE person_id IN (101, 102)\n" +
		"AND observation_id IN (\n" +
		"    SELECT observation_id FROM `aou-res.combined2022._mapping_observation`\n" +
		"    WHERE LOWER(src_hpo_id) = LOWER('hpo_a')\n" +
		"))"
	if specs[0].SQL != wantSandbox {
		t.Fatalf("sandbox query:\ngot:\n%s\nwant:\n%s", specs[0].SQL, wantSandbox)
	}

	// person has no mapping table, so it keeps the plain pid filter.
	if strings.Contains(specs[1].SQL, "AND person_id IN") || strings.Contains(specs[1].SQL, "_mapping_person") {
		t.Fatalf("person sandbox query must not be site scoped:\n%s", specs[1].SQL)
	}

	// Ext-convention datasets join the _ext table on src_id instead.
	filters = r.siteFilters("deid2022", []string{"observation"},
		[]string{"observation", "observation_ext", "measurement_ext"})
	want := "\nAND observation_id IN (\n" +
		"    SELECT observation_id FROM `aou-res.deid2022.observation_ext`\n" +
		"    WHERE LOWER(src_id) = LOWER('hpo_a')\n)"
	if filters["observation"] != want {
		t.Fatalf("ext site filter:\ngot:\n%s\nwant:\n%s", filters["observation"], want)
	}
}
