package hpo

import (
	"io"
	"log"

	"cloud.google.com/go/bigquery"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"

	curation "github.com/lledezma/curation"
	"github.com/lledezma/curation/bqutil"
)

var defaultDisplayOrderSQL = `SELECT MAX(Display_Order) + 1 AS display_order
FROM ` + "`{{.project}}.{{.lookupDataset}}.{{.mappingsTable}}`" + ``

var shiftDisplayOrderSQL = `UPDATE ` + "`{{.project}}.{{.lookupDataset}}.{{.mappingsTable}}`" + `
SET Display_Order = Display_Order + 1
WHERE Display_Order >= {{.displayOrder}}`

var addSiteMappingSQL = `SELECT
  '{{.orgID}}' AS Org_ID,
  '{{.hpoID}}' AS HPO_ID,
  '{{.siteName}}' AS Site_Name,
  {{.displayOrder}} AS Display_Order`

var addBucketNameSQL = `SELECT
  '{{.hpoID}}' AS hpo_id,
  '{{.bucketName}}' AS bucket_name,
  '{{.service}}' AS service`

// New sites get an unused three-digit masking id, assigned in random order so
// src_ids do not leak registration order.
var updateSiteMaskingsSQL = `INSERT INTO ` + "`{{.project}}.{{.pipelineDataset}}.{{.maskingsTable}}`" + ` (hpo_id, src_id)
WITH available_new_src_ids AS (
  SELECT
    ROW_NUMBER() OVER(ORDER BY GENERATE_UUID()) AS temp_key,
    CONCAT('EHR site ', new_id) AS src_id
  FROM UNNEST(GENERATE_ARRAY(100, 999)) AS new_id
  WHERE new_id NOT IN (
    SELECT CAST(SUBSTR(src_id, -3) AS INT64)
    FROM ` + "`{{.project}}.{{.pipelineDataset}}.{{.maskingsTable}}`" + `
    WHERE hpo_id != 'rdr'
  )
),
hpos_not_in_site_maskings AS (
  SELECT
    ROW_NUMBER() OVER() AS temp_key,
    hpo_id
  FROM ` + "`{{.project}}.{{.lookupDataset}}.{{.mappingsTable}}`" + `
  WHERE hpo_id IS NOT NULL
  AND hpo_id != ''
  AND LOWER(hpo_id) NOT IN (
    SELECT LOWER(hpo_id) FROM ` + "`{{.project}}.{{.pipelineDataset}}.{{.maskingsTable}}`" + `
  )
)
SELECT LOWER(h.hpo_id), a.src_id
FROM available_new_src_ids AS a
JOIN hpos_not_in_site_maskings AS h
ON a.temp_key = h.temp_key`

var lookupHPOIDsSQL = `SELECT LOWER(HPO_ID) AS hpo_id
FROM ` + "`{{.project}}.{{.lookupDataset}}.{{.mappingsTable}}`" + `
WHERE HPO_ID IS NOT NULL AND HPO_ID != ''`

// DefaultDisplayOrderSQL renders the query computing the next display order.
func DefaultDisplayOrderSQL(project string) (string, error) {
	return curation.RenderSQL(defaultDisplayOrderSQL, lookupFields(project, nil))
}

// ShiftDisplayOrderSQL renders the update pushing sites at or after the given
// display order down by one.
func ShiftDisplayOrderSQL(project string, displayOrder int) (string, error) {
	return curation.RenderSQL(shiftDisplayOrderSQL, lookupFields(project, map[string]interface{}{
		"displayOrder": displayOrder,
	}))
}

// AddSiteMappingSQL renders the row appended to hpo_site_id_mappings.
func AddSiteMappingSQL(site *Site) (string, error) {
	return curation.RenderSQL(addSiteMappingSQL, map[string]interface{}{
		"orgID":        site.OrgID,
		"hpoID":        site.HPOID,
		"siteName":     site.SiteName,
		"displayOrder": site.DisplayOrder,
	})
}

// AddBucketNameSQL renders the row appended to hpo_id_bucket_name.
func AddBucketNameSQL(hpoID, bucketName, service string) (string, error) {
	return curation.RenderSQL(addBucketNameSQL, map[string]interface{}{
		"hpoID":      hpoID,
		"bucketName": bucketName,
		"service":    service,
	})
}

// UpdateSiteMaskingsSQL renders the insert assigning masked src_ids to every
// site missing from site_maskings.
func UpdateSiteMaskingsSQL(project string) (string, error) {
	return curation.RenderSQL(updateSiteMaskingsSQL, lookupFields(project, nil))
}

func lookupFields(project string, extra map[string]interface{}) map[string]interface{} {
	fields := map[string]interface{}{
		"project":         project,
		"lookupDataset":   curation.LookupTablesDataset,
		"mappingsTable":   curation.HPOSiteIDMappingsTable,
		"pipelineDataset": curation.PipelineTablesDataset,
		"maskingsTable":   curation.SiteMaskingTable,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return fields
}

// Registrar applies site additions to the BigQuery lookup tables.
type Registrar struct {
	BQ *bqutil.WrappedBigQuery

	DisplayQueries bool
	Out            io.Writer
}

// LookupHPOIDs reads the lowercased hpo ids currently in the lookup table.
func (r *Registrar) LookupHPOIDs() ([]string, error) {
	query, err := curation.RenderSQL(lookupHPOIDsSQL, lookupFields(r.BQ.Project, nil))
	if err != nil {
		return nil, err
	}

	itr, err := r.BQ.Client.Query(query).Read(r.BQ.Context)
	if err != nil {
		return nil, pfx.Err(err)
	}

	var out []string
	for {
		var v struct {
			HPOID string `bigquery:"hpo_id"`
		}
		err := itr.Next(&v)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(err)
		}
		out = append(out, v.HPOID)
	}

	return out, nil
}

// DefaultDisplayOrder computes MAX(Display_Order) + 1 from the lookup table.
func (r *Registrar) DefaultDisplayOrder() (int, error) {
	query, err := DefaultDisplayOrderSQL(r.BQ.Project)
	if err != nil {
		return 0, err
	}

	itr, err := r.BQ.Client.Query(query).Read(r.BQ.Context)
	if err != nil {
		return 0, pfx.Err(err)
	}

	var v struct {
		DisplayOrder int64 `bigquery:"display_order"`
	}
	if err := itr.Next(&v); err != nil {
		return 0, pfx.Err(err)
	}

	return int(v.DisplayOrder), nil
}

// AddLookups registers the site in hpo_site_id_mappings and
// hpo_id_bucket_name. A zero display order appends the site last; otherwise
// existing orders are shifted first.
func (r *Registrar) AddLookups(site *Site, bucketName, service string) error {
	if site.DisplayOrder == 0 {
		order, err := r.DefaultDisplayOrder()
		if err != nil {
			return err
		}
		site.DisplayOrder = order
	} else {
		shiftSQL, err := ShiftDisplayOrderSQL(r.BQ.Project, site.DisplayOrder)
		if err != nil {
			return err
		}
		if err := r.run(bqutil.QuerySpec{SQL: shiftSQL}); err != nil {
			return err
		}
	}

	mappingSQL, err := AddSiteMappingSQL(site)
	if err != nil {
		return err
	}
	if err := r.run(bqutil.QuerySpec{
		SQL:                mappingSQL,
		DestinationDataset: curation.LookupTablesDataset,
		DestinationTable:   curation.HPOSiteIDMappingsTable,
		Disposition:        bigquery.WriteAppend,
	}); err != nil {
		return err
	}

	bucketSQL, err := AddBucketNameSQL(site.HPOID, bucketName, service)
	if err != nil {
		return err
	}
	return r.run(bqutil.QuerySpec{
		SQL:                bucketSQL,
		DestinationDataset: curation.LookupTablesDataset,
		DestinationTable:   curation.HPOIDBucketNameTable,
		Disposition:        bigquery.WriteAppend,
	})
}

// UpdateSiteMaskings assigns masked src_ids to every site not yet in
// site_maskings.
func (r *Registrar) UpdateSiteMaskings() error {
	query, err := UpdateSiteMaskingsSQL(r.BQ.Project)
	if err != nil {
		return err
	}
	return r.run(bqutil.QuerySpec{SQL: query})
}

func (r *Registrar) run(spec bqutil.QuerySpec) error {
	if r.DisplayQueries {
		_, err := io.WriteString(r.Out, spec.SQL+"\n")
		return err
	}

	jobID, err := r.BQ.RunQuery(spec, "add_hpo_")
	if err != nil {
		return err
	}
	log.Printf("add_hpo: job %s done\n", jobID)

	return nil
}
