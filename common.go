// Package curation holds the OMOP vocabulary of table names, concept ids, and
// naming conventions shared by the QC and cleaning tools in this repository.
package curation

// CDMTables lists the OMOP common data model tables this pipeline touches.
// Tables discovered via INFORMATION_SCHEMA are filtered against this list so
// that lookup and bookkeeping tables are never cleaned by accident.
var CDMTables = []string{
	"care_site",
	"condition_era",
	"condition_occurrence",
	"death",
	"device_exposure",
	"dose_era",
	"drug_era",
	"drug_exposure",
	"fact_relationship",
	"location",
	"measurement",
	"note",
	"observation",
	"observation_period",
	"person",
	"procedure_occurrence",
	"provider",
	"specimen",
	"survey_conduct",
	"visit_detail",
	"visit_occurrence",
}

// VocabularyTables are loaded from an Athena bundle and are never cleaned.
var VocabularyTables = []string{
	"concept",
	"concept_ancestor",
	"concept_class",
	"concept_relationship",
	"concept_synonym",
	"domain",
	"drug_strength",
	"relationship",
	"vocabulary",
}

// Domain tables carrying EHR rows whose participants must have granted EHR
// consent before release.
var EHRConsentTables = []string{
	"observation",
	"measurement",
	"condition_occurrence",
	"device_exposure",
	"drug_exposure",
	"visit_occurrence",
}

// Fitbit tables keyed by their truncation field. Activity and sleep tables
// carry DATE columns; the minute-level tables carry DATETIMEs.
var (
	FitbitDateTables = map[string]string{
		"activity_summary":    "date",
		"heart_rate_summary":  "date",
		"sleep_daily_summary": "sleep_date",
		"sleep_level":         "sleep_date",
	}
	FitbitDatetimeTables = map[string]string{
		"heart_rate_minute_level": "datetime",
		"steps_intraday":          "datetime",
	}
)

// FitbitTables returns every fitbit table name in a stable order.
func FitbitTables() []string {
	return []string{
		"activity_summary",
		"heart_rate_summary",
		"sleep_daily_summary",
		"sleep_level",
		"heart_rate_minute_level",
		"steps_intraday",
	}
}

// Naming conventions for provenance tables. Pre-deid datasets pair each domain
// table with a _mapping_ prefix table; deid datasets use an _ext suffix table.
const (
	MappingPrefix = "_mapping_"
	ExtSuffix     = "_ext"
)

// Pipeline bookkeeping datasets and tables.
const (
	PipelineTablesDataset    = "pipeline_tables"
	LookupTablesDataset      = "lookup_tables"
	SiteMaskingTable         = "site_maskings"
	HPOSiteIDMappingsTable   = "hpo_site_id_mappings"
	HPOIDBucketNameTable     = "hpo_id_bucket_name"
	PrimaryPIDRIDMapping     = "primary_pid_rid_mapping"
	DeactivatedParticipants  = "_deactivated_participants"
	DeidMapTable             = "_deid_map"
	DeidentifiedDatasetLabel = "de_identified"
)

// Well-known concept ids referenced by the privacy and consent rules.
const (
	// EHR Consent PII: Consent Permission question and its "yes" answer.
	EHRConsentQuestionConceptID = 1586099
	EHRConsentYesConceptID      = 1586100

	// Survey question concepts for demographics repopulation.
	GenderConceptID    = 1585838
	RaceConceptID      = 1586140
	EthnicityConceptID = 1586147

	// Custom concept assigned when no race is indicated.
	NoneIndicatedConceptID = 2100000001

	// The Basics survey module ancestor concept.
	TheBasicsAncestorConceptID = 1586134
)

// ObservationExemptConceptIDs are the observation concepts allowed to carry
// implausible dates: rows dated on the participant's birth date are reset to
// the CDR cutoff date instead of being dropped, and the after-death check
// skips them.
var ObservationExemptConceptIDs = []int64{4013886, 4135376, 4271761}

// MotorVehicleAccidentAncestorConceptIDs root the condition hierarchy that
// must be absent from controlled-tier condition_occurrence data.
var MotorVehicleAccidentAncestorConceptIDs = []int64{4054924, 141771}

// MappingTableFor returns the _mapping_ provenance table for a domain table.
func MappingTableFor(table string) string {
	return MappingPrefix + table
}

// ExtTableFor returns the _ext provenance table for a domain table.
func ExtTableFor(table string) string {
	return table + ExtSuffix
}

// TableID returns the primary key column for an OMOP domain table.
func TableID(table string) string {
	return table + "_id"
}

// IsCDMTable reports whether table is part of the common data model.
func IsCDMTable(table string) bool {
	for _, t := range CDMTables {
		if t == table {
			return true
		}
	}
	return false
}
