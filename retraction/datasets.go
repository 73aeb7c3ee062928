// Package retraction removes deactivated participants from the datasets of a
// project. Each targeted dataset gets its rows sandboxed before deletion, in
// the same sandbox-then-remove pattern the cleaning rules follow.
package retraction

import (
	"log"
	"strings"

	"github.com/lledezma/curation/bqutil"
)

// DatasetType classifies a dataset by the conventions encoded in its id.
type DatasetType string

const (
	Combined   DatasetType = "combined"
	UnionedEHR DatasetType = "unioned_ehr"
	RDR        DatasetType = "rdr"
	EHR        DatasetType = "ehr"
	Fitbit     DatasetType = "fitbit"
	Deid       DatasetType = "deid"
	Other      DatasetType = "other"
)

// AllDatasets is the sentinel dataset id expanding to every dataset in the
// project.
const AllDatasets = "all_datasets"

// DatasetTypeOf classifies a dataset id. Release datasets embed their type in
// the id; anything unrecognized is Other and excluded from retraction.
func DatasetTypeOf(datasetID string) DatasetType {
	switch {
	case strings.Contains(datasetID, "combined") && !strings.Contains(datasetID, "deid"):
		return Combined
	case strings.Contains(datasetID, "unioned_ehr"):
		return UnionedEHR
	case strings.Contains(datasetID, "rdr"):
		return RDR
	case strings.Contains(datasetID, "ehr"):
		return EHR
	case strings.Contains(datasetID, "fitbit"):
		return Fitbit
	case IsDeidDataset(datasetID):
		return Deid
	}
	return Other
}

// IsDeidDataset reports whether a dataset id names a deidentified dataset.
// Deid Fitbit releases carry no 'deid' in the id; they are prefixed with the
// tier letter instead.
func IsDeidDataset(datasetID string) bool {
	if strings.Contains(datasetID, "deid") {
		return true
	}
	return strings.Contains(datasetID, "fitbit") &&
		(strings.HasPrefix(datasetID, "C") || strings.HasPrefix(datasetID, "R"))
}

func IsSandboxDataset(datasetID string) bool {
	return strings.Contains(datasetID, "sandbox")
}

// deidLabel marks deidentified datasets in BigQuery metadata. The label wins
// over the id when present.
const deidLabel = "de_identified"

// IsDeidLabelOrID checks the dataset's labels for the deid marker and falls
// back to the dataset id when unlabeled.
func IsDeidLabelOrID(bq *bqutil.WrappedBigQuery, datasetID string) (bool, error) {
	labels, err := bq.DatasetLabels(datasetID)
	if err != nil {
		return false, err
	}
	if v, ok := labels[deidLabel]; ok {
		return v == "true", nil
	}
	return IsDeidDataset(datasetID), nil
}

// DatasetsToTarget resolves the requested dataset ids against the project.
// The all_datasets sentinel expands to every dataset; requested ids missing
// from the project are logged and skipped. Sandbox and unclassifiable
// datasets are always excluded.
func DatasetsToTarget(bq *bqutil.WrappedBigQuery, requested []string) ([]string, error) {
	all, err := bq.ListDatasetIDs()
	if err != nil {
		return nil, err
	}

	var candidates []string
	if len(requested) == 1 && requested[0] == AllDatasets {
		candidates = all
	} else {
		exists := make(map[string]bool, len(all))
		for _, id := range all {
			exists[id] = true
		}
		for _, id := range requested {
			if !exists[id] {
				log.Printf("dataset %s not found in project %s, skipping\n", id, bq.Project)
				continue
			}
			candidates = append(candidates, id)
		}
	}

	var out []string
	for _, id := range candidates {
		if IsSandboxDataset(id) || DatasetTypeOf(id) == Other {
			continue
		}
		out = append(out, id)
	}

	return out, nil
}

// MappingType reports which provenance convention a dataset follows, judged
// by whichever kind of table is more numerous.
func MappingType(tables []string) string {
	var mapping, ext int
	for _, table := range tables {
		if strings.Contains(table, "_mapping_") {
			mapping++
		}
		if strings.Contains(table, "_ext") {
			ext++
		}
	}

	if mapping >= ext {
		return "mapping"
	}
	return "ext"
}

// SrcIDColumn returns the source id column used by the dataset's provenance
// tables.
func SrcIDColumn(mappingType string) string {
	if mappingType == "mapping" {
		return "src_hpo_id"
	}
	return "src_id"
}
