package constants

import "time"

// Application constants
const (
	// Application metadata
	AppName        = "deident-cli"
	AppDescription = "Rule-driven de-identification with k-anonymity and l-diversity certification"
	AppVersion     = "0.1.0"

	// Logging defaults
	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"

	// Privacy targets
	DefaultTargetK = 5
	DefaultTargetL = 2

	// MaxExampleGroups bounds the offending QI tuples reported per phase.
	MaxExampleGroups = 5

	// MissingValueToken stands in for an undefined cell inside a QI tuple.
	MissingValueToken = "NA_VALUE"

	// DefaultMapFallback is used when a generalize_map rule omits its default.
	DefaultMapFallback = "Other"

	// Storage defaults
	DefaultStorageTimeout = 30 * time.Second
	DefaultReportTTL      = 7 * 24 * time.Hour
	DefaultReportPrefix   = "deident"
	DefaultCSVDelimiter   = ','
)

// Validation phases
const (
	PhasePIIAbsence = "pii_absence"
	PhaseKAnonymity = "k_anonymity"
	PhaseLDiversity = "l_diversity"
)

// Phase statuses
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Storage types, matched against location URI schemes
const (
	StorageTypeFile     = "file"
	StorageTypeS3       = "s3"
	StorageTypePostgres = "postgres"
	StorageTypeRedis    = "redis"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// MissingValueSpellings are the cell spellings read as undefined on load.
var MissingValueSpellings = []string{"", "NA", "N/A", "NaN", "nan", "null", "NULL", "None"}

// DefaultPIIColumns is the forbidden direct-identifier list used when none is configured.
var DefaultPIIColumns = []string{
	"Name",
	"Doctor",
	"Hospital",
	"Room Number",
	"Blood Type",
	"Discharge Date",
	"Date of Admission",
	"SSN",
	"Phone",
	"Email",
}
