package hpo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddSite(t *testing.T) {
	existing := []*Site{
		{OrgID: "o1", HPOID: "hpo_a", SiteName: "Site A", DisplayOrder: 1},
		{OrgID: "o2", HPOID: "hpo_b", SiteName: "Site B", DisplayOrder: 2},
		{OrgID: "o3", HPOID: "hpo_c", SiteName: "Site C", DisplayOrder: 3},
	}

	out, err := AddSite(existing, &Site{OrgID: "o4", HPOID: "hpo_d", SiteName: "Site D", DisplayOrder: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("got %d sites, want 4", len(out))
	}

	wantOrder := []struct {
		hpoID        string
		displayOrder int
	}{
		{"hpo_a", 1},
		{"hpo_d", 2},
		{"hpo_b", 3},
		{"hpo_c", 4},
	}
	for i, want := range wantOrder {
		if out[i].HPOID != want.hpoID || out[i].DisplayOrder != want.displayOrder {
			t.Fatalf("site %d: got %s/%d, want %s/%d", i, out[i].HPOID, out[i].DisplayOrder, want.hpoID, want.displayOrder)
		}
	}

	// The input list must not be mutated.
	if existing[1].DisplayOrder != 2 {
		t.Fatalf("input slice was mutated: %+v", existing[1])
	}
}

func TestAddSiteAppendsByDefault(t *testing.T) {
	existing := []*Site{
		{HPOID: "hpo_a", SiteName: "Site A", DisplayOrder: 1},
		{HPOID: "hpo_b", SiteName: "Site B", DisplayOrder: 5},
	}

	out, err := AddSite(existing, &Site{HPOID: "hpo_c", SiteName: "Site C"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := out[len(out)-1]; got.HPOID != "hpo_c" || got.DisplayOrder != 6 {
		t.Fatalf("got %s/%d, want hpo_c/6", got.HPOID, got.DisplayOrder)
	}
}

func TestAddSiteRejectsDuplicates(t *testing.T) {
	existing := []*Site{{HPOID: "hpo_a", SiteName: "Site A", DisplayOrder: 1}}

	if _, err := AddSite(existing, &Site{HPOID: "HPO_A", SiteName: "Other"}); err == nil {
		t.Fatalf("expected error for duplicate hpo id")
	}
	if _, err := AddSite(existing, &Site{HPOID: "hpo_x", SiteName: "site a"}); err == nil {
		t.Fatalf("expected error for duplicate site name")
	}
}

func TestVerifySync(t *testing.T) {
	sites := []*Site{
		{HPOID: "HPO_A"},
		{HPOID: "hpo_b"},
		{HPOID: ""},
	}

	if err := VerifySync(sites, []string{"hpo_a", "hpo_b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := VerifySync(sites, []string{"hpo_a"}); err == nil {
		t.Fatalf("expected error for missing table entry")
	}
	if err := VerifySync(sites, []string{"hpo_a", "hpo_b", "hpo_c"}); err == nil {
		t.Fatalf("expected error for extra table entry")
	}
}

func TestReadWriteSitesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hpo_site_mappings.csv")

	sites := []*Site{
		{OrgID: "o2", HPOID: "hpo_b", SiteName: "Site B", DisplayOrder: 2},
		{OrgID: "o1", HPOID: "hpo_a", SiteName: "Site A", DisplayOrder: 1},
	}
	if err := WriteSitesFile(path, sites); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), raw)
	}
	if !strings.Contains(lines[1], "hpo_a") || !strings.Contains(lines[2], "hpo_b") {
		t.Fatalf("rows not sorted by display order:\n%s", raw)
	}

	got, err := ReadSitesFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0].HPOID != "hpo_a" || got[0].DisplayOrder != 1 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestReadSitesFileTabDelimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hpo_site_mappings.csv")

	raw := "Org_ID\tHPO_ID\tSite_Name\tDisplay_Order\n" +
		"o1\thpo_a\tSite A\t1\n" +
		"o2\thpo_b\tSite B\t2\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ReadSitesFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d sites, want 2", len(got))
	}
	if got[1].OrgID != "o2" || got[1].SiteName != "Site B" || got[1].DisplayOrder != 2 {
		t.Fatalf("tab-delimited row misparsed: %+v", got[1])
	}
}

func TestLookupSQL(t *testing.T) {
	query, err := DefaultDisplayOrderSQL("aou-res")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "SELECT MAX(Display_Order) + 1 AS display_order\n" +
		"FROM `aou-res.lookup_tables.hpo_site_id_mappings`"
	if query != want {
		t.Fatalf("got:\n%s\nwant:\n%s", query, want)
	}

	query, err = ShiftDisplayOrderSQL("aou-res", 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query, "SET Display_Order = Display_Order + 1") ||
		!strings.Contains(query, "WHERE Display_Order >= 4") {
		t.Fatalf("shift query:\n%s", query)
	}

	query, err = AddSiteMappingSQL(&Site{OrgID: "o1", HPOID: "hpo_a", SiteName: "Site A", DisplayOrder: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"'o1' AS Org_ID", "'hpo_a' AS HPO_ID", "'Site A' AS Site_Name", "7 AS Display_Order"} {
		if !strings.Contains(query, want) {
			t.Fatalf("mapping query missing %q:\n%s", want, query)
		}
	}

	query, err = AddBucketNameSQL("hpo_a", "aou-bucket-a", "default")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"'hpo_a' AS hpo_id", "'aou-bucket-a' AS bucket_name", "'default' AS service"} {
		if !strings.Contains(query, want) {
			t.Fatalf("bucket query missing %q:\n%s", want, query)
		}
	}
}

func TestUpdateSiteMaskingsSQL(t *testing.T) {
	query, err := UpdateSiteMaskingsSQL("aou-res")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{
		"INSERT INTO `aou-res.pipeline_tables.site_maskings` (hpo_id, src_id)",
		"CONCAT('EHR site ', new_id) AS src_id",
		"UNNEST(GENERATE_ARRAY(100, 999))",
		"ROW_NUMBER() OVER(ORDER BY GENERATE_UUID())",
		"FROM `aou-res.lookup_tables.hpo_site_id_mappings`",
		"WHERE hpo_id != 'rdr'",
	} {
		if !strings.Contains(query, want) {
			t.Fatalf("masking query missing %q:\n%s", want, query)
		}
	}
}
