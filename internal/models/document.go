package models

import "time"

// Status is the lifecycle state of an ingestion job.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transitions are expected for the status.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Document represents the main record for one ingestion job in Firestore.
// It tracks the overall status and metadata of the upstream document.
type Document struct {
	DocumentID          string    `firestore:"documentId" json:"documentId"`
	ObjectID            string    `firestore:"objectId,omitempty" json:"objectId,omitempty"`
	Title               string    `firestore:"title,omitempty" json:"title,omitempty"`
	TotalItems          int       `firestore:"totalItems" json:"totalItems"`
	Status              Status    `firestore:"status" json:"status"`
	Progress            int       `firestore:"progress" json:"progress"`
	ErrorDetails        string    `firestore:"errorDetails,omitempty" json:"errorDetails,omitempty"`
	ArtifactURI         string    `firestore:"artifactUri,omitempty" json:"artifactUri,omitempty"`
	Analysis            string    `firestore:"analysis,omitempty" json:"analysis,omitempty"`
	WorkflowExecutionID string    `firestore:"workflowExecutionId,omitempty" json:"workflowExecutionId,omitempty"` // For traceability
	CreatedAt           time.Time `firestore:"createdAt,omitempty" json:"createdAt"`
	UpdatedAt           time.Time `firestore:"updatedAt,omitempty" json:"updatedAt"`
}
