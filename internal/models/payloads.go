package models

// These structs define the JSON payloads exchanged between the host, the
// Cloud Workflow acting as job runner and the worker Cloud Functions.

// ExtractOcrRequest is the input for the extract-ocr function.
type ExtractOcrRequest struct {
	JobID    string `json:"job_id,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Override bool   `json:"override,omitempty"`
	ItemID   int    `json:"item_id,omitempty"`
	ItemIDs  string `json:"item_ids,omitempty"`
	BaseURI  string `json:"base_uri,omitempty"`
	Manual   bool   `json:"manual,omitempty"`
}

// ExtractOcrResponse is the output of the extract-ocr function.
type ExtractOcrResponse struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// ExtractTocRequest is the input for the extract-toc function.
type ExtractTocRequest struct {
	ItemID  int    `json:"itemId"`
	MediaID int    `json:"mediaId"`
	IiifURL string `json:"iiifUrl"`
}

// ExtractTocResponse is the output of the extract-toc function.
type ExtractTocResponse struct {
	Status     string `json:"status"`
	RangeCount int    `json:"rangeCount"`
}

// ItemEvent is the data of the CloudEvent the host emits after an item is
// created or updated.
type ItemEvent struct {
	ItemID int    `json:"itemId"`
	Action string `json:"action"`
}

// Job is the status document of one extraction run, stored in Firestore.
type Job struct {
	Status       string `firestore:"status,omitempty"`
	ErrorDetails string `firestore:"errorDetails,omitempty"`
	Processed    int    `firestore:"processed,omitempty"`
	Total        int    `firestore:"total,omitempty"`
}

// Job statuses. JobStopping is written by an operator to request a stop.
const (
	JobInProgress = "IN_PROGRESS"
	JobStopping   = "STOPPING"
	JobStopped    = "STOPPED"
	JobCompleted  = "COMPLETED"
	JobFailed     = "FAILED"
)
