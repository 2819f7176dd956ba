package models

// These structs define the JSON payloads for HTTP requests and responses
// between Cloud Workflows, the orchestrator and the worker Cloud Functions.

// ProcessRangeRequest is the input for the range-worker function.
type ProcessRangeRequest struct {
	DocumentID       string    `json:"documentId"`
	ObjectID         string    `json:"objectId"`
	ExecutionID      string    `json:"executionId"`
	WorkRange        WorkRange `json:"workRange"`
	LastModifiedDate string    `json:"lastModifiedDate,omitempty"`
}

// Failure classes reported by the range-worker function.
const (
	ErrorKindTransient = "transient"
	ErrorKindMalformed = "malformed"
)

// ProcessRangeResponse is the output of the range-worker function.
type ProcessRangeResponse struct {
	Status string      `json:"status"`
	Result RangeResult `json:"result"`
	// ErrorKind is set on failure.
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CombineRequest is the input for the combiner function.
type CombineRequest struct {
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId"`
}

// CombineResponse is the output of the combiner function.
type CombineResponse struct {
	Status           string `json:"status"`
	ArtifactURI      string `json:"artifactUri"`
	ChunkCount       int    `json:"chunkCount"`
	TotalComments    int    `json:"totalComments"`
	TotalAttachments int    `json:"totalAttachments"`
}

// AdvanceRequest is sent by Cloud Workflows to the orchestrator on each loop.
type AdvanceRequest struct {
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId"`
}

// AdvanceResponse tells the calling workflow whether to sleep and call again.
type AdvanceResponse struct {
	DocumentID   string `json:"documentId"`
	Phase        Phase  `json:"phase"`
	Done         bool   `json:"done"`
	WaitSeconds  int64  `json:"waitSeconds"`
	CurrentBatch int    `json:"currentBatch"`
	TotalBatches int    `json:"totalBatches"`
	Progress     int    `json:"progress"`
}

// SubmissionRequest is the body of a POST to the submission function.
type SubmissionRequest struct {
	DocumentIDs []string `json:"documentIds"`
}

// SubmissionResult is the per-document outcome of a submission.
type SubmissionResult struct {
	DocumentID  string `json:"documentId"`
	ExecutionID string `json:"executionId,omitempty"`
	Status      Status `json:"status"`
	Error       string `json:"error,omitempty"`
}

// SubmissionResponse is returned by the submission function.
type SubmissionResponse struct {
	Message string             `json:"message"`
	Results []SubmissionResult `json:"results"`
}

// StatusResponse is returned for a status lookup.
type StatusResponse struct {
	DocumentID string `json:"documentId"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	Analysis   string `json:"analysis,omitempty"`
}

// AnalyzeRequest is the input for the analyzer function.
type AnalyzeRequest struct {
	DocumentID  string `json:"documentId"`
	ArtifactURI string `json:"artifactUri"`
	ExecutionID string `json:"executionId"`
}

// AnalyzeResponse is the output of the analyzer function.
type AnalyzeResponse struct {
	Status string `json:"status"`
}

// ConnectionRequest is sent by the websocket gateway on connect and disconnect.
type ConnectionRequest struct {
	EventType    string `json:"eventType"` // CONNECT or DISCONNECT
	ConnectionID string `json:"connectionId"`
}

// ConnectionResponse is returned to the websocket gateway.
type ConnectionResponse struct {
	ConnectionID string `json:"connectionId"`
	Status       string `json:"status"`
}
