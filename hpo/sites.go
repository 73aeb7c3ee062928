// Package hpo registers new HPO sites: the hpo_site_mappings CSV config file
// and the BigQuery lookup tables both carry one row per site, and the two must
// stay in sync.
package hpo

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/gocarina/gocsv"

	curation "github.com/lledezma/curation"
)

// Site is one row of the hpo_site_mappings config file.
type Site struct {
	OrgID        string `csv:"Org_ID"`
	HPOID        string `csv:"HPO_ID"`
	SiteName     string `csv:"Site_Name"`
	DisplayOrder int    `csv:"Display_Order"`
}

// ReadSitesFile loads the site mappings file. The file is maintained by hand
// and arrives both comma- and tab-delimited, so the delimiter is sniffed
// before parsing.
func ReadSitesFile(path string) ([]*Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pfx.Err(err)
	}
	defer f.Close()

	delim := curation.DetermineDelimiter(f)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, pfx.Err(err)
	}

	reader := csv.NewReader(f)
	reader.Comma = delim

	var sites []*Site
	if err := gocsv.UnmarshalCSV(reader, &sites); err != nil {
		return nil, pfx.Err(err)
	}

	return sites, nil
}

// WriteSitesFile rewrites the site mappings CSV sorted by display order.
func WriteSitesFile(path string, sites []*Site) error {
	sorted := append([]*Site{}, sites...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DisplayOrder < sorted[j].DisplayOrder
	})

	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&sorted, f); err != nil {
		return pfx.Err(err)
	}

	return nil
}

// VerifySync compares the HPO ids in the config file against the lookup
// table. The file is the source of truth for site additions and must be
// updated first; a mismatch means someone changed one side only.
func VerifySync(fileSites []*Site, tableHPOIDs []string) error {
	fileIDs := make(map[string]bool, len(fileSites))
	for _, site := range fileSites {
		if site.HPOID == "" {
			continue
		}
		fileIDs[strings.ToLower(site.HPOID)] = true
	}

	tableIDs := make(map[string]bool, len(tableHPOIDs))
	for _, id := range tableHPOIDs {
		tableIDs[strings.ToLower(id)] = true
	}

	if len(fileIDs) != len(tableIDs) {
		return fmt.Errorf("site mappings file and lookup table are out of sync: %d vs %d sites", len(fileIDs), len(tableIDs))
	}
	for id := range fileIDs {
		if !tableIDs[id] {
			return fmt.Errorf("site mappings file and lookup table are out of sync: %s missing from table", id)
		}
	}

	return nil
}

// AddSite inserts a new site into the list at the requested display order,
// shifting existing entries down. A zero display order appends the site after
// the current maximum. Duplicate ids or names are rejected.
func AddSite(sites []*Site, site *Site) ([]*Site, error) {
	maxOrder := 0
	for _, s := range sites {
		if strings.EqualFold(s.HPOID, site.HPOID) || strings.EqualFold(s.SiteName, site.SiteName) {
			return nil, fmt.Errorf("%s/%s already exists in the site mappings", site.HPOID, site.SiteName)
		}
		if s.DisplayOrder > maxOrder {
			maxOrder = s.DisplayOrder
		}
	}

	if site.DisplayOrder == 0 {
		site.DisplayOrder = maxOrder + 1
	}

	out := make([]*Site, 0, len(sites)+1)
	for _, s := range sites {
		copied := *s
		if copied.DisplayOrder >= site.DisplayOrder {
			copied.DisplayOrder++
		}
		out = append(out, &copied)
	}
	out = append(out, site)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DisplayOrder < out[j].DisplayOrder
	})

	return out, nil
}
