package bqutil

import (
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
)

// QuerySpec is one rendered SQL statement together with how to execute it.
// Specs are generated in list order and must be executed in list order: later
// statements (deletes) depend on earlier ones (sandboxing).
type QuerySpec struct {
	SQL                string
	DestinationDataset string
	DestinationTable   string
	Disposition        bigquery.TableWriteDisposition
}

// RunQuery submits the spec as a query job and waits for it to complete,
// returning the BigQuery job id. Failures carry the offending SQL so a run
// can be resumed manually.
func (bq *WrappedBigQuery) RunQuery(spec QuerySpec, jobIDPrefix string) (string, error) {
	q := bq.Client.Query(spec.SQL)
	if spec.DestinationTable != "" {
		q.QueryConfig.Dst = bq.Client.DatasetInProject(bq.Project, spec.DestinationDataset).Table(spec.DestinationTable)
		disposition := spec.Disposition
		if disposition == "" {
			disposition = bigquery.WriteEmpty
		}
		q.QueryConfig.WriteDisposition = disposition
	}
	if jobIDPrefix != "" {
		q.JobIDConfig = bigquery.JobIDConfig{JobID: jobIDPrefix, AddJobIDSuffix: true}
	}

	job, err := q.Run(bq.Context)
	if err != nil {
		return "", pfx.Err(fmt.Errorf("submitting query: %v\n%s", err, spec.SQL))
	}

	status, err := job.Wait(bq.Context)
	if err != nil {
		return job.ID(), pfx.Err(fmt.Errorf("waiting on job %s: %v\n%s", job.ID(), err, spec.SQL))
	}
	if err := status.Err(); err != nil {
		return job.ID(), pfx.Err(fmt.Errorf("job %s failed: %v\n%s", job.ID(), err, spec.SQL))
	}

	return job.ID(), nil
}
