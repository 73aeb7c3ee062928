package vocab

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

const fieldDelimiter = "\t"

// TableFilename returns the bundle filename for a vocabulary table.
func TableFilename(table string) string {
	return strings.ToUpper(table) + ".csv"
}

// FilenameToTable recovers the table name from a bundle filename.
func FilenameToTable(filename string) string {
	return strings.ToLower(strings.TrimSuffix(filename, ".csv"))
}

// StagingDatasetID names the staging dataset paired with a destination
// dataset.
func StagingDatasetID(dstDatasetID string) string {
	return dstDatasetID + "_staging"
}

// Loader stages an Athena bundle through GCS into BigQuery.
type Loader struct {
	BQ     *bqutil.WrappedBigQuery
	GCS    *storage.Client
	Bucket string
}

// UploadBundle copies the bundle's vocabulary files into the bucket. Every
// vocabulary table must have its file present in the directory.
func (l *Loader) UploadBundle(ctx context.Context, bundleDir string) error {
	for _, table := range curation.VocabularyTables {
		filename := TableFilename(table)
		path := filepath.Join(bundleDir, filename)

		f, err := os.Open(path)
		if err != nil {
			return pfx.Err(err)
		}

		w := l.GCS.Bucket(l.Bucket).Object(filename).NewWriter(ctx)
		if _, err := io.Copy(w, f); err != nil {
			f.Close()
			w.Close()
			return pfx.Err(err)
		}
		f.Close()
		if err := w.Close(); err != nil {
			return pfx.Err(err)
		}
		log.Printf("uploaded %s to gs://%s/%s\n", path, l.Bucket, filename)
	}

	return nil
}

// EnsureStagingDataset creates the staging dataset if absent.
func (l *Loader) EnsureStagingDataset(dstDatasetID string) (string, error) {
	stagingID := StagingDatasetID(dstDatasetID)
	err := l.BQ.EnsureDataset(stagingID,
		fmt.Sprintf("Vocabulary loaded from gs://%s", l.Bucket),
		map[string]string{"type": "vocabulary", "phase": "staging"})
	if err != nil {
		return "", err
	}

	return stagingID, nil
}

// LoadStage loads each vocabulary file from the bucket into the staging
// dataset, with date columns held as strings.
func (l *Loader) LoadStage(stagingDatasetID string) error {
	for _, table := range curation.VocabularyTables {
		schema, ok := SafeSchema(table)
		if !ok {
			return fmt.Errorf("no schema for vocabulary table %s", table)
		}

		ref := bigquery.NewGCSReference("gs://" + l.Bucket + "/" + TableFilename(table))
		ref.SourceFormat = bigquery.CSV
		ref.FieldDelimiter = fieldDelimiter
		ref.SkipLeadingRows = 1
		ref.Quote = ""
		ref.MaxBadRecords = 0
		ref.Schema = schema

		loader := l.BQ.Client.DatasetInProject(l.BQ.Project, stagingDatasetID).Table(table).LoaderFrom(ref)
		loader.WriteDisposition = bigquery.WriteTruncate

		job, err := loader.Run(l.BQ.Context)
		if err != nil {
			return pfx.Err(err)
		}
		log.Printf("loading %s.%s: job %s\n", stagingDatasetID, table, job.ID())

		status, err := job.Wait(l.BQ.Context)
		if err != nil {
			return pfx.Err(err)
		}
		if err := status.Err(); err != nil {
			return pfx.Err(err)
		}
	}

	return nil
}

// FinalSelectSQL renders the query rewriting a staged table into its final
// form, parsing the %Y%m%d date strings.
func FinalSelectSQL(project, stagingDatasetID, table string) (string, error) {
	schema, ok := TableSchema(table)
	if !ok {
		return "", fmt.Errorf("no schema for vocabulary table %s", table)
	}

	cols := make([]string, 0, len(schema))
	for _, field := range schema {
		if field.Type == bigquery.DateFieldType {
			cols = append(cols, fmt.Sprintf("PARSE_DATE('%%Y%%m%%d', %s) AS %s", field.Name, field.Name))
			continue
		}
		cols = append(cols, field.Name)
	}

	return fmt.Sprintf("SELECT\n  %s\nFROM `%s.%s.%s`",
		strings.Join(cols, ",\n  "), project, stagingDatasetID, table), nil
}

// Finalize creates the destination dataset and rewrites each staged table
// into it with dates parsed.
func (l *Loader) Finalize(stagingDatasetID, dstDatasetID string) error {
	err := l.BQ.EnsureDataset(dstDatasetID,
		fmt.Sprintf("Vocabulary cleaned and loaded from %s", stagingDatasetID),
		map[string]string{"type": "vocabulary"})
	if err != nil {
		return err
	}

	for _, table := range curation.VocabularyTables {
		sql, err := FinalSelectSQL(l.BQ.Project, stagingDatasetID, table)
		if err != nil {
			return err
		}

		jobID, err := l.BQ.RunQuery(bqutil.QuerySpec{
			SQL:                sql,
			DestinationDataset: dstDatasetID,
			DestinationTable:   table,
			Disposition:        bigquery.WriteTruncate,
		}, "load_vocab_")
		if err != nil {
			return err
		}
		log.Printf("finalizing %s.%s: job %s done\n", dstDatasetID, table, jobID)
	}

	return nil
}

// Load runs the full pipeline: upload the bundle, stage it, and finalize the
// destination dataset.
func (l *Loader) Load(ctx context.Context, bundleDir, dstDatasetID string) error {
	if err := l.UploadBundle(ctx, bundleDir); err != nil {
		return err
	}

	stagingID, err := l.EnsureStagingDataset(dstDatasetID)
	if err != nil {
		return err
	}
	if err := l.LoadStage(stagingID); err != nil {
		return err
	}

	return l.Finalize(stagingID, dstDatasetID)
}
