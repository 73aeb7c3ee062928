// Package vocab loads an Athena vocabulary bundle into BigQuery. The bundle's
// tab-delimited files are staged in GCS, loaded into a staging dataset with
// date columns held as strings, then rewritten into the final dataset with
// the dates parsed.
package vocab

import "cloud.google.com/go/bigquery"

// Athena date columns use the %Y%m%d layout, which BigQuery cannot load as
// DATE directly. Staging loads them as strings and the final select parses
// them.
var tableSchemas = map[string]bigquery.Schema{
	"concept": {
		{Name: "concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "concept_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "domain_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "vocabulary_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "concept_class_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "standard_concept", Type: bigquery.StringFieldType},
		{Name: "concept_code", Type: bigquery.StringFieldType, Required: true},
		{Name: "valid_start_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "valid_end_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "invalid_reason", Type: bigquery.StringFieldType},
	},
	"concept_ancestor": {
		{Name: "ancestor_concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "descendant_concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "min_levels_of_separation", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "max_levels_of_separation", Type: bigquery.IntegerFieldType, Required: true},
	},
	"concept_class": {
		{Name: "concept_class_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "concept_class_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "concept_class_concept_id", Type: bigquery.IntegerFieldType, Required: true},
	},
	"concept_relationship": {
		{Name: "concept_id_1", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "concept_id_2", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "relationship_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "valid_start_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "valid_end_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "invalid_reason", Type: bigquery.StringFieldType},
	},
	"concept_synonym": {
		{Name: "concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "concept_synonym_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "language_concept_id", Type: bigquery.IntegerFieldType, Required: true},
	},
	"domain": {
		{Name: "domain_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "domain_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "domain_concept_id", Type: bigquery.IntegerFieldType, Required: true},
	},
	"drug_strength": {
		{Name: "drug_concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "ingredient_concept_id", Type: bigquery.IntegerFieldType, Required: true},
		{Name: "amount_value", Type: bigquery.FloatFieldType},
		{Name: "amount_unit_concept_id", Type: bigquery.IntegerFieldType},
		{Name: "numerator_value", Type: bigquery.FloatFieldType},
		{Name: "numerator_unit_concept_id", Type: bigquery.IntegerFieldType},
		{Name: "denominator_value", Type: bigquery.FloatFieldType},
		{Name: "denominator_unit_concept_id", Type: bigquery.IntegerFieldType},
		{Name: "box_size", Type: bigquery.IntegerFieldType},
		{Name: "valid_start_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "valid_end_date", Type: bigquery.DateFieldType, Required: true},
		{Name: "invalid_reason", Type: bigquery.StringFieldType},
	},
	"relationship": {
		{Name: "relationship_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "relationship_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "is_hierarchical", Type: bigquery.StringFieldType, Required: true},
		{Name: "defines_ancestry", Type: bigquery.StringFieldType, Required: true},
		{Name: "reverse_relationship_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "relationship_concept_id", Type: bigquery.IntegerFieldType, Required: true},
	},
	"vocabulary": {
		{Name: "vocabulary_id", Type: bigquery.StringFieldType, Required: true},
		{Name: "vocabulary_name", Type: bigquery.StringFieldType, Required: true},
		{Name: "vocabulary_reference", Type: bigquery.StringFieldType},
		{Name: "vocabulary_version", Type: bigquery.StringFieldType},
		{Name: "vocabulary_concept_id", Type: bigquery.IntegerFieldType, Required: true},
	},
}

// TableSchema returns the canonical schema for a vocabulary table.
func TableSchema(table string) (bigquery.Schema, bool) {
	schema, ok := tableSchemas[table]
	return schema, ok
}

// SafeSchema returns the table's schema with date columns downgraded to
// strings, suitable for the staging load.
func SafeSchema(table string) (bigquery.Schema, bool) {
	schema, ok := tableSchemas[table]
	if !ok {
		return nil, false
	}

	out := make(bigquery.Schema, 0, len(schema))
	for _, field := range schema {
		copied := *field
		if copied.Type == bigquery.DateFieldType {
			copied.Type = bigquery.StringFieldType
		}
		out = append(out, &copied)
	}

	return out, true
}
