package core

import "time"

// ColumnType is the inferred semantic type of one imported column.
type ColumnType string

// Column types produced by the schema inferencer. The upper-case values
// mirror SQL type names; date and datetime stay lower-case because they
// describe string-encoded temporal values, not storage types.
const (
	TypeText     ColumnType = "TEXT"
	TypeInteger  ColumnType = "INTEGER"
	TypeReal     ColumnType = "REAL"
	TypeBoolean  ColumnType = "BOOLEAN"
	TypeDate     ColumnType = "date"
	TypeDatetime ColumnType = "datetime"
)

// ColumnSpec describes one inferred column: the raw field name it came from
// and the type the inferencer settled on.
type ColumnSpec struct {
	OriginalName string     `json:"original_name"`
	Type         ColumnType `json:"type"`
}

// ColumnStructure maps sanitized (safe) column names to their specs. It is
// the authoritative schema descriptor for a dataset: set once per full
// import and reused, not re-inferred, on append.
type ColumnStructure map[string]ColumnSpec

// NameMapping inverts the structure into original name → safe name, which
// is the lookup direction the normalizer needs.
func (cs ColumnStructure) NameMapping() map[string]string {
	m := make(map[string]string, len(cs))
	for safe, spec := range cs {
		m[spec.OriginalName] = safe
	}
	return m
}

// ProcessStatus is the lifecycle state of an ImportProcess.
type ProcessStatus string

const (
	StatusActive     ProcessStatus = "active"
	StatusInactive   ProcessStatus = "inactive"
	StatusProcessing ProcessStatus = "processing"
)

// ImportKind selects the data source of an import.
type ImportKind string

const (
	KindEndpoint ImportKind = "endpoint"
	KindFile     ImportKind = "file"
)

// ImportProcess tracks one dataset's ingestion lifecycle. TableName is
// globally unique and immutable once chosen; ColumnStructure keys are
// always valid identifiers.
type ImportProcess struct {
	ID              int64
	TableName       string
	Source          string // endpoint URL or "file:<name>" tag
	Status          ProcessStatus
	RecordCount     int
	ColumnStructure ColumnStructure
	ErrorMessage    string
	Owner           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ImportedRecord is one normalized, deduplicated row. Records are owned by
// their process and deleted with it. RowHash is unique within a process.
type ImportedRecord struct {
	ID        int64
	ProcessID int64
	RowHash   string
	Data      Record
}

// JobStatus is the lifecycle state of an AsyncJob.
type JobStatus string

const (
	JobStarted  JobStatus = "started"
	JobSuccess  JobStatus = "success"
	JobFailed   JobStatus = "failed"
	JobRetrying JobStatus = "retrying"
)

// AsyncJob is the bookkeeping record for an import executed on the worker
// queue. ProcessID stays zero until the process is known.
type AsyncJob struct {
	ID          string
	Label       string
	Status      JobStatus
	Progress    int
	ProcessID   int64
	Result      *ImportStats
	Error       string
	Owner       string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// ImportStats reports the outcome of one normalization/insert pass.
// Total always equals Inserted + Duplicates + Errors.
type ImportStats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Errors     int `json:"errors"`
	Total      int `json:"total"`
}
