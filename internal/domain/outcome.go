package domain

// ImportStatus is the result of submitting one region for import.
type ImportStatus string

const (
	ImportSuccess ImportStatus = "success"
	ImportNoData  ImportStatus = "no_data"
)

// ImportOutcome summarises one ImportByRegion call. Queued counts records
// attempted, not records confirmed by the broker; Failed counts the submissions
// that returned an error.
type ImportOutcome struct {
	Status ImportStatus `json:"status"`
	Queued int          `json:"queued"`
	Failed int          `json:"failed"`
}

// ProcessStatus classifies the effect of one worker delivery on the store.
type ProcessStatus string

const (
	ProcessCreated  ProcessStatus = "created"
	ProcessUpdated  ProcessStatus = "updated"
	ProcessNoChange ProcessStatus = "no_change"
)

// ProcessOutcome is the result of processing a single job.
type ProcessOutcome struct {
	Status     ProcessStatus `json:"status"`
	ExternalID int64         `json:"externalId"`
}

// ClassifyUpsert maps an upsert result onto the three mutually exclusive
// outcomes: created, updated, no_change.
func ClassifyUpsert(r UpsertResult) ProcessStatus {
	switch {
	case r.Created:
		return ProcessCreated
	case r.Modified:
		return ProcessUpdated
	default:
		return ProcessNoChange
	}
}
