// loadvocab loads an Athena vocabulary bundle into BigQuery through a GCS
// staging bucket.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"cloud.google.com/go/storage"

	"github.com/lledezma/curation/bqutil"
	_ "github.com/lledezma/curation/buildinfoprint"
	"github.com/lledezma/curation/vocab"
)

func main() {
	var project, credentials string
	var bucket, bundleDir, dstDataset, releaseDate string

	flag.StringVar(&project, "project", "", "Google Cloud project to load the vocabulary into")
	flag.StringVar(&credentials, "credentials", "", "Path to a service account credentials file (optional)")
	flag.StringVar(&bucket, "bucket", "", "GCS bucket for staging the bundle files")
	flag.StringVar(&bundleDir, "bundle", "", "Directory containing the Athena CSV files")
	flag.StringVar(&dstDataset, "dataset", "", "Destination dataset id; defaults to vocabulary<release-date>")
	flag.StringVar(&releaseDate, "release-date", "", "Vocabulary release date as yyyymmdd; defaults to today")
	flag.Parse()

	if project == "" || bucket == "" || bundleDir == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	if dstDataset == "" {
		if releaseDate == "" {
			releaseDate = time.Now().Format("20060102")
		}
		dstDataset = "vocabulary" + releaseDate
	}

	ctx := context.Background()
	bq, err := bqutil.Connect(ctx, project, credentials)
	if err != nil {
		log.Fatalln(err)
	}
	defer bq.Close()

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		log.Fatalln(err)
	}
	defer gcs.Close()

	loader := &vocab.Loader{
		BQ:     bq,
		GCS:    gcs,
		Bucket: bucket,
	}
	if err := loader.Load(ctx, bundleDir, dstDataset); err != nil {
		log.Fatalln(err)
	}

	log.Printf("vocabulary loaded into %s.%s\n", project, dstDataset)
}
