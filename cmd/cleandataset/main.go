// cleandataset applies cleaning rules to an OMOP dataset. Rules are named on
// the command line and run in the order given; each sandboxes the rows it
// removes into the dataset's sandbox.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/lledezma/curation/bqutil"
	_ "github.com/lledezma/curation/buildinfoprint"
	"github.com/lledezma/curation/cleaner"
	"github.com/lledezma/curation/cleaner/rules"
)

func main() {
	var project, credentials, dataset string
	var ruleNames string
	var combinedDataset, lookupTable, issues, truncationDate string
	var ehrOnly, displayQuery, dropEmptySandboxTables bool

	flag.StringVar(&project, "project", "", "Google Cloud project holding the dataset")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&dataset, "dataset", "", "Dataset id to clean")
	flag.StringVar(&ruleNames, "rules", "", "Comma-separated cleaning rules to run, in order: "+strings.Join(knownRules(), ", "))
	flag.StringVar(&combinedDataset, "combined-dataset", "", "Combined dataset id, required by remove_fitbit_max_age")
	flag.StringVar(&lookupTable, "lookup-table", "", "Sandbox table of person_ids to remove, required by remove_person_rows")
	flag.StringVar(&issues, "issues", "", "Comma-separated issue ids for remove_person_rows sandbox naming")
	flag.StringVar(&truncationDate, "truncation-date", "", "Cutoff date for truncate_fitbit, any common layout")
	flag.BoolVar(&ehrOnly, "ehr-only", false, "Restrict remove_person_rows to site-submitted rows")
	flag.BoolVar(&displayQuery, "display-query", false, "Print the rule queries instead of executing them")
	flag.BoolVar(&dropEmptySandboxTables, "drop-empty-sandbox-tables", false, "Drop sandbox tables that ended up empty after the run")
	flag.Parse()

	if project == "" || dataset == "" || ruleNames == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	sandboxDataset := cleaner.SandboxDatasetID(dataset)
	tableNamer := cleaner.TableNamer(dataset)

	var toRun []cleaner.Rule
	for _, name := range strings.Split(ruleNames, ",") {
		rule, err := ruleByName(strings.TrimSpace(name), ruleConfig{
			project:         project,
			dataset:         dataset,
			sandboxDataset:  sandboxDataset,
			tableNamer:      tableNamer,
			combinedDataset: combinedDataset,
			lookupTable:     lookupTable,
			issues:          issues,
			truncationDate:  truncationDate,
			ehrOnly:         ehrOnly,
		})
		if err != nil {
			log.Fatalln(err)
		}
		toRun = append(toRun, rule)
	}

	ctx := context.Background()
	bq, err := bqutil.Connect(ctx, project, credentials)
	if err != nil {
		log.Fatalln(err)
	}
	defer bq.Close()

	if !displayQuery {
		if err := bq.EnsureDataset(sandboxDataset, "Sandbox for "+dataset, nil); err != nil {
			log.Fatalln(err)
		}
	}

	runner := &cleaner.Runner{
		BQ:             bq,
		Dataset:        dataset,
		SandboxDataset: sandboxDataset,
		JobIDPrefix:    "clean_",
		DisplayQueries: displayQuery,
		Out:            os.Stdout,
	}

	if err := runner.Clean(toRun...); err != nil {
		log.Fatalln(err)
	}
	if dropEmptySandboxTables {
		if err := runner.DropEmptySandboxTables(toRun...); err != nil {
			log.Fatalln(err)
		}
	}
}

type ruleConfig struct {
	project         string
	dataset         string
	sandboxDataset  string
	tableNamer      string
	combinedDataset string
	lookupTable     string
	issues          string
	truncationDate  string
	ehrOnly         bool
}

func knownRules() []string {
	return []string{
		"remove_person_rows",
		"clean_mapping_ext",
		"truncate_fitbit",
		"remove_fitbit_max_age",
		"drop_extreme_measurements",
		"remove_extra_tables",
		"repopulate_person",
		"store_expected_ct_list",
	}
}

func ruleByName(name string, cfg ruleConfig) (cleaner.Rule, error) {
	switch name {
	case "remove_person_rows":
		if cfg.lookupTable == "" || cfg.issues == "" {
			return nil, fmt.Errorf("remove_person_rows requires -lookup-table and -issues")
		}
		return &rules.RemovePersonRows{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
			LookupTable:    cfg.lookupTable,
			Issues:         strings.Split(cfg.issues, ","),
			EHROnly:        cfg.ehrOnly,
		}, nil
	case "clean_mapping_ext":
		return &rules.CleanMappingExtTables{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
		}, nil
	case "truncate_fitbit":
		if cfg.truncationDate == "" {
			return nil, fmt.Errorf("truncate_fitbit requires -truncation-date")
		}
		date, err := rules.ParseTruncationDate(cfg.truncationDate)
		if err != nil {
			return nil, err
		}
		return &rules.TruncateFitbitData{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
			TruncationDate: date,
		}, nil
	case "remove_fitbit_max_age":
		if cfg.combinedDataset == "" {
			return nil, fmt.Errorf("remove_fitbit_max_age requires -combined-dataset")
		}
		return &rules.RemoveFitbitMaxAge{
			Project:         cfg.project,
			Dataset:         cfg.dataset,
			CombinedDataset: cfg.combinedDataset,
			SandboxDataset:  cfg.sandboxDataset,
			TableNamer:      cfg.tableNamer,
		}, nil
	case "drop_extreme_measurements":
		return &rules.DropExtremeMeasurements{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
		}, nil
	case "remove_extra_tables":
		return &rules.RemoveExtraTables{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
		}, nil
	case "repopulate_person":
		return &rules.RepopulatePersonPostDeid{
			Project: cfg.project,
			Dataset: cfg.dataset,
		}, nil
	case "store_expected_ct_list":
		return &rules.StoreExpectedCTList{
			Project:        cfg.project,
			Dataset:        cfg.dataset,
			SandboxDataset: cfg.sandboxDataset,
			TableNamer:     cfg.tableNamer,
		}, nil
	}

	return nil, fmt.Errorf("unknown cleaning rule %q, expected one of: %s", name, strings.Join(knownRules(), ", "))
}
