package curation

import (
	"strconv"
	"strings"
	"text/template"
)

// mkMap allows you to create a map within a template, so that you can pass
// more than one parameter to a template block. Inspired by
// https://stackoverflow.com/a/25013152/199475 .
func mkMap(args ...interface{}) map[interface{}]interface{} {
	out := make(map[interface{}]interface{})
	for k, v := range args {
		if k%2 == 0 {
			continue
		}
		out[args[k-1]] = v
	}
	return out
}

// RenderSQL populates a SQL text template with the given fields. Every query
// in this repository is assembled this way so that tests can assert the exact
// SQL that will be submitted to BigQuery.
func RenderSQL(tpl string, fields map[string]interface{}) (string, error) {
	t, err := template.New("").
		Funcs(template.FuncMap{"mkMap": mkMap}).
		Parse(tpl)
	if err != nil {
		return "", err
	}

	populated := &strings.Builder{}
	if err := t.Execute(populated, fields); err != nil {
		return "", err
	}

	return populated.String(), nil
}

// SQLIntList formats concept ids for interpolation into an IN (...) clause.
func SQLIntList(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ", ")
}
