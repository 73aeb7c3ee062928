// Package bqutil wraps the BigQuery client with the small amount of plumbing
// shared by every tool in this repository: connecting, running rendered
// queries with optional destination tables, and introspecting dataset
// metadata.
package bqutil

import (
	"context"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	curation "github.com/lledezma/curation"
)

type WrappedBigQuery struct {
	Context context.Context
	Client  *bigquery.Client
	Project string
	Dataset string
}

// Connect creates a BigQuery client for the project. If credentialsPath is
// empty, application default credentials are used.
func Connect(ctx context.Context, project, credentialsPath string) (*WrappedBigQuery, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(curation.ExpandHome(credentialsPath)))
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return &WrappedBigQuery{
		Context: ctx,
		Client:  client,
		Project: project,
	}, nil
}

// Close releases the underlying client connection.
func (bq *WrappedBigQuery) Close() error {
	return bq.Client.Close()
}

// ListDatasetIDs returns the ids of every dataset in the project.
func (bq *WrappedBigQuery) ListDatasetIDs() ([]string, error) {
	var out []string

	it := bq.Client.Datasets(bq.Context)
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}
		out = append(out, ds.DatasetID)
	}

	return out, nil
}

// ListTableIDs returns the ids of every table in the dataset.
func (bq *WrappedBigQuery) ListTableIDs(datasetID string) ([]string, error) {
	var out []string

	it := bq.Client.Dataset(datasetID).Tables(bq.Context)
	for {
		tbl, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}
		out = append(out, tbl.TableID)
	}

	return out, nil
}

// DatasetLabels fetches the labels attached to a dataset.
func (bq *WrappedBigQuery) DatasetLabels(datasetID string) (map[string]string, error) {
	md, err := bq.Client.Dataset(datasetID).Metadata(bq.Context)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return md.Labels, nil
}

// EnsureDataset creates the dataset if it does not already exist.
func (bq *WrappedBigQuery) EnsureDataset(datasetID, description string, labels map[string]string) error {
	ds := bq.Client.Dataset(datasetID)
	if _, err := ds.Metadata(bq.Context); err == nil {
		return nil
	}

	md := &bigquery.DatasetMetadata{
		Description: description,
		Labels:      labels,
		Location:    "US",
	}
	if err := ds.Create(bq.Context, md); err != nil {
		return pfx.Err(err)
	}

	return nil
}
