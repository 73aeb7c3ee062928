// ctqc runs the controlled-tier quality checks against a deidentified
// release dataset, comparing it to its registered-tier counterpart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"cloud.google.com/go/civil"

	"github.com/lledezma/curation/bqutil"
	_ "github.com/lledezma/curation/buildinfoprint"
	"github.com/lledezma/curation/qc"
)

func main() {
	var project, credentials string
	var rtDataset, ctDataset string
	var earliestEHRDate, cutoffDate string
	var displayQuery bool

	flag.StringVar(&project, "project", "", "Google Cloud project holding the datasets")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&rtDataset, "rt-dataset", "", "Registered-tier dataset id")
	flag.StringVar(&ctDataset, "ct-dataset", "", "Controlled-tier dataset id to check")
	flag.StringVar(&earliestEHRDate, "earliest-ehr-date", "1980-01-01", "Earliest plausible EHR date (YYYY-MM-DD)")
	flag.StringVar(&cutoffDate, "cutoff-date", "", "CDR cutoff date (YYYY-MM-DD)")
	flag.BoolVar(&displayQuery, "display-query", false, "Print the check queries instead of executing them")
	flag.Parse()

	if project == "" || rtDataset == "" || ctDataset == "" || cutoffDate == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	earliest, err := civil.ParseDate(earliestEHRDate)
	if err != nil {
		log.Fatalln("earliest-ehr-date:", err)
	}
	cutoff, err := civil.ParseDate(cutoffDate)
	if err != nil {
		log.Fatalln("cutoff-date:", err)
	}

	ctx := context.Background()
	bq, err := bqutil.Connect(ctx, project, credentials)
	if err != nil {
		log.Fatalln(err)
	}
	defer bq.Close()

	ct := &qc.ControlledTier{
		Runner: &qc.Runner{
			BQ:             bq,
			DisplayQueries: displayQuery,
			Out:            os.Stdout,
		},
		RTDataset:       rtDataset,
		CTDataset:       ctDataset,
		EarliestEHRDate: earliest,
		CutoffDate:      cutoff,
	}

	report, err := ct.Run()
	if err != nil {
		log.Fatalln(err)
	}
	if displayQuery {
		return
	}

	report.WriteSummary(os.Stdout)
	if !report.Passed() {
		fmt.Fprintln(os.Stderr, "one or more checks failed")
		os.Exit(1)
	}
}
