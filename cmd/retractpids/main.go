// retractpids removes participants from the datasets of a project. The
// participants come from a deactivated participant table or an explicit pid
// list, and retraction can be scoped to a single submitting site.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
	_ "github.com/lledezma/curation/buildinfoprint"
	"github.com/lledezma/curation/retraction"
)

func main() {
	var project, credentials string
	var datasetIDs, deactTable, pidList, pidRidTable, hpoID string
	var displayQuery bool

	flag.StringVar(&project, "project", "", "Google Cloud project to retract from")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&datasetIDs, "datasets", "", "Comma-separated dataset ids, or 'all_datasets' for every dataset in the project")
	flag.StringVar(&deactTable, "deact-table", "", "Fully qualified deactivated participant table, project.dataset."+curation.DeactivatedParticipants)
	flag.StringVar(&pidList, "pids", "", "Comma-separated person ids, or a fully qualified project.dataset.table of ids; alternative to -deact-table")
	flag.StringVar(&pidRidTable, "pid-rid-table", "", "Fully qualified person-to-research id mapping table, required when any dataset is deidentified")
	flag.StringVar(&hpoID, "hpo-id", "", "Restrict retraction to rows submitted by this HPO site (optional)")
	flag.BoolVar(&displayQuery, "display-query", false, "Print the retraction queries instead of executing them")
	flag.Parse()

	if project == "" || datasetIDs == "" || (deactTable == "") == (pidList == "") {
		flag.PrintDefaults()
		os.Exit(1)
	}

	var pids retraction.PIDSource
	if deactTable != "" {
		deact, err := curation.ParseDeactivatedTable(deactTable)
		if err != nil {
			log.Fatalln(err)
		}
		pids = retraction.PIDSource{Table: &deact}
	} else {
		var err error
		if pids, err = retraction.ParsePIDSource(pidList); err != nil {
			log.Fatalln(err)
		}
	}

	var pidRid *curation.FQTable
	if pidRidTable != "" {
		fq, err := curation.ParseFQTable(pidRidTable)
		if err != nil {
			log.Fatalln(err)
		}
		pidRid = &fq
	}

	ctx := context.Background()
	bq, err := bqutil.Connect(ctx, project, credentials)
	if err != nil {
		log.Fatalln(err)
	}
	defer bq.Close()

	var requested []string
	for _, id := range strings.Split(datasetIDs, ",") {
		requested = append(requested, strings.TrimSpace(id))
	}
	targets, err := retraction.DatasetsToTarget(bq, requested)
	if err != nil {
		log.Fatalln(err)
	}
	if len(targets) == 0 {
		log.Fatalln("no datasets to retract from")
	}
	log.Println("retracting from datasets:", strings.Join(targets, ", "))

	retractor := &retraction.Retractor{
		BQ:             bq,
		PIDs:           pids,
		PIDRIDMapping:  pidRid,
		HPOID:          hpoID,
		DisplayQueries: displayQuery,
		Out:            os.Stdout,
	}
	if err := retractor.Run(targets); err != nil {
		log.Fatalln(err)
	}

	log.Println("retraction complete")
}
