// addhpo registers a new HPO site. The site mappings config file is updated
// first (-mode update-config); once the file change has been reviewed, the
// BigQuery lookup tables are updated to match (-mode update-lookup-tables).
package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/lledezma/curation/bqutil"
	_ "github.com/lledezma/curation/buildinfoprint"
	"github.com/lledezma/curation/hpo"
)

func main() {
	var project, credentials, mode string
	var hpoID, hpoName, orgID, bucketName, mappingsPath string
	var displayOrder int
	var displayQuery bool

	flag.StringVar(&project, "project", "", "Google Cloud project holding the lookup tables")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&mode, "mode", "", "Either 'update-config' or 'update-lookup-tables'")
	flag.StringVar(&hpoID, "hpo-id", "", "Identifies the HPO site")
	flag.StringVar(&hpoName, "hpo-name", "", "Name of the HPO site")
	flag.StringVar(&orgID, "org-id", "", "Identifies the associated organization")
	flag.StringVar(&bucketName, "bucket", "", "GCS bucket assigned to the site, required for update-lookup-tables")
	flag.StringVar(&mappingsPath, "mappings-file", "", "Path to the hpo_site_mappings CSV config file")
	flag.IntVar(&displayOrder, "display-order", 0, "Dashboard position for the site; appended last when unset")
	flag.BoolVar(&displayQuery, "display-query", false, "Print the lookup-table queries instead of executing them")
	flag.Parse()

	if hpoID == "" || hpoName == "" || orgID == "" || mode == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	switch mode {
	case "update-config":
		if mappingsPath == "" {
			flag.PrintDefaults()
			os.Exit(1)
		}
		updateConfig(mappingsPath, hpoID, hpoName, orgID, displayOrder)
	case "update-lookup-tables":
		if project == "" || bucketName == "" || mappingsPath == "" {
			flag.PrintDefaults()
			os.Exit(1)
		}
		updateLookupTables(project, credentials, mappingsPath, hpoID, hpoName, orgID, bucketName, displayOrder, displayQuery)
	default:
		log.Fatalf("unknown mode %q, expected 'update-config' or 'update-lookup-tables'\n", mode)
	}
}

func updateConfig(mappingsPath, hpoID, hpoName, orgID string, displayOrder int) {
	sites, err := hpo.ReadSitesFile(mappingsPath)
	if err != nil {
		log.Fatalln(err)
	}

	updated, err := hpo.AddSite(sites, &hpo.Site{
		OrgID:        orgID,
		HPOID:        hpoID,
		SiteName:     hpoName,
		DisplayOrder: displayOrder,
	})
	if err != nil {
		log.Fatalln(err)
	}

	if err := hpo.WriteSitesFile(mappingsPath, updated); err != nil {
		log.Fatalln(err)
	}
	log.Printf("added %s to %s; submit the file change for review before updating the lookup tables\n", hpoID, mappingsPath)
}

func updateLookupTables(project, credentials, mappingsPath, hpoID, hpoName, orgID, bucketName string, displayOrder int, displayQuery bool) {
	ctx := context.Background()

	ok, err := hpo.BucketAccessConfigured(ctx, bucketName)
	if err != nil {
		log.Fatalln(err)
	}
	if !ok {
		log.Fatalf("bucket %s is inaccessible, aborting\n", bucketName)
	}

	bq, err := bqutil.Connect(ctx, project, credentials)
	if err != nil {
		log.Fatalln(err)
	}
	defer bq.Close()

	registrar := &hpo.Registrar{
		BQ:             bq,
		DisplayQueries: displayQuery,
		Out:            os.Stdout,
	}

	// The config file must already carry the new site and otherwise match
	// the lookup table.
	sites, err := hpo.ReadSitesFile(mappingsPath)
	if err != nil {
		log.Fatalln(err)
	}
	tableIDs, err := registrar.LookupHPOIDs()
	if err != nil {
		log.Fatalln(err)
	}
	tableIDs = append(tableIDs, hpoID)
	if err := hpo.VerifySync(sites, tableIDs); err != nil {
		log.Fatalln(err)
	}

	site := &hpo.Site{
		OrgID:        orgID,
		HPOID:        hpoID,
		SiteName:     hpoName,
		DisplayOrder: displayOrder,
	}
	if err := registrar.AddLookups(site, bucketName, "default"); err != nil {
		log.Fatalln(err)
	}
	if err := registrar.UpdateSiteMaskings(); err != nil {
		log.Fatalln(err)
	}

	log.Printf("site %s registered\n", hpoID)
}
