package model

import "time"

// StorageClass is an ordered cost/latency bucket for archived data.
// Records only ever move forward through the sequence, never backward.
type StorageClass string

const (
	ClassHot      StorageClass = "hot"
	ClassWarmIA   StorageClass = "warm-ia"
	ClassCold     StorageClass = "cold"
	ClassDeepCold StorageClass = "deep-cold"
)

// tierOrder maps each class to its position in the tier sequence.
var tierOrder = map[StorageClass]int{
	ClassHot:      0,
	ClassWarmIA:   1,
	ClassCold:     2,
	ClassDeepCold: 3,
}

// Valid reports whether c is a known storage class.
func (c StorageClass) Valid() bool {
	_, ok := tierOrder[c]
	return ok
}

// Next returns the following tier and true, or c and false if c is the
// final tier (or unknown).
func (c StorageClass) Next() (StorageClass, bool) {
	switch c {
	case ClassHot:
		return ClassWarmIA, true
	case ClassWarmIA:
		return ClassCold, true
	case ClassCold:
		return ClassDeepCold, true
	default:
		return c, false
	}
}

// Before reports whether c comes strictly earlier than other in the tier
// sequence. Unknown classes compare as earliest so a bad value can never
// mask a forward transition.
func (c StorageClass) Before(other StorageClass) bool {
	return tierOrder[c] < tierOrder[other]
}

// Cold reports whether data in this class needs an asynchronous retrieval
// job before it can be downloaded.
func (c StorageClass) Cold() bool {
	return c == ClassCold || c == ClassDeepCold
}

// Repository is a source repository discovered for protection.
// Re-discovery upserts by name.
type Repository struct {
	Name          string     `json:"name"`
	CloneURL      string     `json:"clone_url"`
	DefaultBranch string     `json:"default_branch,omitempty"`
	Private       bool       `json:"private"`
	Archived      bool       `json:"archived"`
	SizeKB        int64      `json:"size_kb"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	DiscoveredAt  time.Time  `json:"discovered_at"`
}

// BackupRecord is one archived version of a repository. The composite key
// is (Repository, Version); versions sort lexicographically by creation
// time. Size and Checksum never change after creation; only StorageClass
// is mutated, and only forward.
type BackupRecord struct {
	Repository   string       `json:"repository"`
	Version      string       `json:"version"`
	Key          string       `json:"key"`
	SizeBytes    int64        `json:"size_bytes"`
	Checksum     string       `json:"checksum"`
	StorageClass StorageClass `json:"storage_class"`
	CreatedAt    time.Time    `json:"created_at"`
}

// EventCategory classifies audit events.
type EventCategory string

const (
	CategoryDiscovery EventCategory = "discovery"
	CategoryBackup    EventCategory = "backup"
	CategoryArchival  EventCategory = "archival"
	CategoryDownload  EventCategory = "download"
	CategoryAuth      EventCategory = "auth"
)

// Outcome is the result recorded on an audit event.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// AuditEvent is an immutable, append-only record of an operation.
// Subject is a repository name or a session id depending on category.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Category  EventCategory  `json:"category"`
	Subject   string         `json:"subject"`
	Outcome   Outcome        `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RetrievalTier selects the external restore speed/cost trade-off.
// It affects latency only, never the state machine shape.
type RetrievalTier string

const (
	TierExpedited RetrievalTier = "expedited"
	TierStandard  RetrievalTier = "standard"
	TierBulk      RetrievalTier = "bulk"
)

// Valid reports whether t is a known retrieval tier.
func (t RetrievalTier) Valid() bool {
	switch t {
	case TierExpedited, TierStandard, TierBulk:
		return true
	}
	return false
}

// RetrievalStatus is the state of an asynchronous cold-storage retrieval.
// Transitions are strictly forward: Requested → InProgress → a terminal
// state. Completed, Failed and Expired are terminal.
type RetrievalStatus string

const (
	RetrievalRequested  RetrievalStatus = "Requested"
	RetrievalInProgress RetrievalStatus = "InProgress"
	RetrievalCompleted  RetrievalStatus = "Completed"
	RetrievalFailed     RetrievalStatus = "Failed"
	RetrievalExpired    RetrievalStatus = "Expired"
)

// Terminal reports whether the status admits no further transitions.
func (s RetrievalStatus) Terminal() bool {
	switch s {
	case RetrievalCompleted, RetrievalFailed, RetrievalExpired:
		return true
	}
	return false
}

// RetrievalJob tracks one asynchronous restore from a cold tier.
// A job not collected before ExpiresAt is logically Expired even if not
// yet observed as such.
type RetrievalJob struct {
	ID          string          `json:"id"`
	Repository  string          `json:"repository"`
	Version     string          `json:"version"`
	Tier        RetrievalTier   `json:"tier"`
	Status      RetrievalStatus `json:"status"`
	Handle      string          `json:"handle,omitempty"` // external restore handle (object key)
	Reason      string          `json:"reason,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// DownloadStatus is the state of a client download operation.
type DownloadStatus string

const (
	DownloadRequested  DownloadStatus = "requested"
	DownloadInProgress DownloadStatus = "in_progress"
	DownloadCompleted  DownloadStatus = "completed"
	DownloadFailed     DownloadStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadCompleted || s == DownloadFailed
}

// DownloadOperation tracks a client request for a backup. Hot-tier
// requests complete synchronously with a presigned URL; cold-tier
// requests link a RetrievalJob and complete when it does.
type DownloadOperation struct {
	ID             string         `json:"id"`
	Repository     string         `json:"repository"`
	Version        string         `json:"version"`
	Subject        string         `json:"subject"`
	Status         DownloadStatus `json:"status"`
	RetrievalJobID string         `json:"retrieval_job_id,omitempty"`
	URL            string         `json:"url,omitempty"`
	URLExpiresAt   *time.Time     `json:"url_expires_at,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

// Session is an issued bearer credential. Immutable; it ends by explicit
// revocation or natural expiry, never by mutation.
type Session struct {
	TokenID   string    `json:"token_id"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TaskFailure describes one fanned-out item that exhausted its retries.
type TaskFailure struct {
	Item     string `json:"item"`
	Reason   string `json:"reason"` // error class
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
	Skipped  bool   `json:"skipped,omitempty"` // not-found items are recorded, not propagated
}

// RunSummary aggregates a fan-out run. Succeeded+Failed always equals
// Total; every item appears exactly once.
type RunSummary struct {
	Kind       string        `json:"kind"` // "backup" or "archival"
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Failures   []TaskFailure `json:"failures,omitempty"`
}
