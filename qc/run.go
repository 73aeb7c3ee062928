package qc

import (
	"fmt"
	"io"
	"log"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"

	"github.com/lledezma/curation/bqutil"
)

// Runner executes rendered check queries against one BigQuery connection.
// When DisplayQueries is set, queries are printed instead of executed, the
// same way the cleaning tools expose their SQL for review.
type Runner struct {
	BQ             *bqutil.WrappedBigQuery
	DisplayQueries bool
	Out            io.Writer
}

// failures executes a query yielding FailureRow rows and returns the sum of
// their failure counts.
func (r *Runner) failures(query string) (int64, error) {
	if r.DisplayQueries {
		fmt.Fprintln(r.Out, query)
		return 0, nil
	}

	itr, err := r.BQ.Client.Query(query).Read(r.BQ.Context)
	if err != nil {
		return 0, pfx.Err(fmt.Errorf("%v\n%s", err, query))
	}

	var total int64
	for {
		var v FailureRow
		err := itr.Next(&v)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, pfx.Err(err)
		}
		if v.RowCountFailures > 0 {
			log.Printf("%s.%s: %d failing rows\n", v.TableName, v.ColumnName, v.RowCountFailures)
		}
		total += v.RowCountFailures
	}

	return total, nil
}

// printRows executes a query and writes its full result set as
// tab-separated text, returning the number of rows printed. Used by the
// informational comparisons that have no pass/fail semantics.
func (r *Runner) printRows(query string) (int64, error) {
	if r.DisplayQueries {
		fmt.Fprintln(r.Out, query)
		return 0, nil
	}

	itr, err := r.BQ.Client.Query(query).Read(r.BQ.Context)
	if err != nil {
		return 0, pfx.Err(fmt.Errorf("%v\n%s", err, query))
	}

	var n int64
	wroteHeader := false
	for {
		var v []bigquery.Value
		err := itr.Next(&v)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, pfx.Err(err)
		}

		if !wroteHeader {
			names := make([]string, 0, len(itr.Schema))
			for _, f := range itr.Schema {
				names = append(names, f.Name)
			}
			fmt.Fprintln(r.Out, strings.Join(names, "\t"))
			wroteHeader = true
		}

		fields := make([]string, 0, len(v))
		for _, val := range v {
			fields = append(fields, fmt.Sprintf("%v", val))
		}
		fmt.Fprintln(r.Out, strings.Join(fields, "\t"))
		n++
	}

	return n, nil
}
