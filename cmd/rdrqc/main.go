// rdrqc compares a new RDR export against the previous one and checks the
// export's internal consistency.
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
	var oldDataset, newDataset, sandboxDataset string
	var cutoffDate string
	var displayQuery bool

	flag.StringVar(&project, "project", "", "Google Cloud project holding the datasets")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&oldDataset, "old-dataset", "", "Previous RDR export dataset id")
	flag.StringVar(&newDataset, "new-dataset", "", "New RDR export dataset id to check")
	flag.StringVar(&sandboxDataset, "sandbox-dataset", "", "Sandbox dataset holding the snap_codes table")
	flag.StringVar(&cutoffDate, "cutoff-date", "", "CDR cutoff date (YYYY-MM-DD)")
	flag.BoolVar(&displayQuery, "display-query", false, "Print the check queries instead of executing them")
	flag.Parse()

	if project == "" || oldDataset == "" || newDataset == "" || sandboxDataset == "" || cutoffDate == "" {
		flag.PrintDefaults()
		os.Exit(1)
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

	export := &qc.RDRExport{
		Runner: &qc.Runner{
			BQ:             bq,
			DisplayQueries: displayQuery,
			Out:            os.Stdout,
		},
		OldDataset:     oldDataset,
		NewDataset:     newDataset,
		SandboxDataset: sandboxDataset,
		CutoffDate:     cutoff,
	}

	report, err := export.Run()
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
