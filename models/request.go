package models

// RunRequest is the payload for POST /api/v1/runs.
type RunRequest struct {
	// Date selects the report day: "yesterday" (default), "today" or YYYY-MM-DD.
	Date string `json:"date,omitempty"`

	// StoreID restricts the run to a single configured store.
	StoreID string `json:"store_id,omitempty"`

	// DryRun scrapes but skips the spreadsheet write.
	DryRun bool `json:"dry_run,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *RunRequest) Defaults() {
	if r.Date == "" {
		r.Date = "yesterday"
	}
}
