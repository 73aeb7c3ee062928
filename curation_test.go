package curation

import (
	"strings"
	"testing"
)

func TestParseFQTable(t *testing.T) {
	fq, err := ParseFQTable("aou-res.ops.pid_list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fq.Project != "aou-res" || fq.Dataset != "ops" || fq.Table != "pid_list" {
		t.Fatalf("got %+v", fq)
	}
	if got, want := fq.String(), "aou-res.ops.pid_list"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	for _, bad := range []string{"aou-res.ops", "a.b.c.d", "..", "aou-res..table"} {
		if _, err := ParseFQTable(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseDeactivatedTable(t *testing.T) {
	if _, err := ParseDeactivatedTable("aou-res.ops._deactivated_participants"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ParseDeactivatedTable("aou-res.ops.some_table"); err == nil {
		t.Fatalf("expected error for wrong table name")
	}
}

func TestRenderSQL(t *testing.T) {
	got, err := RenderSQL("SELECT * FROM `{{.project}}.{{.dataset}}.person`", map[string]interface{}{
		"project": "aou-res",
		"dataset": "rdr2022",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "SELECT * FROM `aou-res.rdr2022.person`"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := RenderSQL("{{.broken", nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestRenderSQLConditional(t *testing.T) {
	tpl := "SELECT 1{{if .extra}} WHERE x = 2{{end}}"

	got, err := RenderSQL(tpl, map[string]interface{}{"extra": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "SELECT 1 WHERE x = 2"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	got, err = RenderSQL(tpl, map[string]interface{}{"extra": false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "SELECT 1"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSQLIntList(t *testing.T) {
	if got, want := SQLIntList([]int64{4013886, 4135376, 4271761}), "4013886, 4135376, 4271761"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := SQLIntList(nil); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestMappingAndExtTableNames(t *testing.T) {
	if got, want := MappingTableFor("observation"), "_mapping_observation"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := ExtTableFor("observation"), "observation_ext"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got, want := TableID("visit_occurrence"), "visit_occurrence_id"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestIsCDMTable(t *testing.T) {
	for _, table := range []string{"person", "observation", "death", "visit_occurrence"} {
		if !IsCDMTable(table) {
			t.Fatalf("%s should be a CDM table", table)
		}
	}
	for _, table := range []string{"concept", "_mapping_observation", "activity_summary", ""} {
		if IsCDMTable(table) {
			t.Fatalf("%s should not be a CDM table", table)
		}
	}
}

func TestFitbitTablesCoverFilterMaps(t *testing.T) {
	for _, table := range FitbitTables() {
		_, hasDate := FitbitDateTables[table]
		_, hasDatetime := FitbitDatetimeTables[table]
		if hasDate == hasDatetime {
			t.Fatalf("%s must have exactly one filter column", table)
		}
	}
}

func TestDetermineDelimiter(t *testing.T) {
	tests := []struct {
		input string
		want  rune
	}{
		{"Org_ID,HPO_ID,Site_Name\no1,hpo_a,Site A\no2,hpo_b,Site B\n", ','},
		{"Org_ID\tHPO_ID\tSite_Name\no1\thpo_a\tSite A\no2\thpo_b\tSite B\n", '\t'},
	}

	for _, test := range tests {
		if got := DetermineDelimiter(strings.NewReader(test.input)); got != test.want {
			t.Fatalf("got %q, want %q for input %q", got, test.want, test.input)
		}
	}
}

func TestExpandHome(t *testing.T) {
	if got := ExpandHome("/tmp/creds.json"); got != "/tmp/creds.json" {
		t.Fatalf("absolute path must pass through, got %q", got)
	}

	got := ExpandHome("~/creds.json")
	if strings.HasPrefix(got, "~") {
		t.Fatalf("tilde was not expanded: %q", got)
	}
	if !strings.HasSuffix(got, "/creds.json") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
