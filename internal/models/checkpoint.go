package models

import "time"

// Checkpoint marks one WorkRange of a Document as completed. It is stored
// under (DocumentID, ChunkID) and overwritten when the range is re-run.
type Checkpoint struct {
	DocumentID         string    `firestore:"documentId" json:"documentId"`
	ChunkID            string    `firestore:"chunkId" json:"chunkId"`
	Start              int       `firestore:"start" json:"start"`
	End                int       `firestore:"end" json:"end"`
	LastModifiedMarker string    `firestore:"lastModifiedMarker" json:"lastModifiedMarker"`
	ItemCount          int       `firestore:"itemCount" json:"itemCount"`
	AttachmentCount    int       `firestore:"attachmentCount" json:"attachmentCount"`
	HasMore            bool      `firestore:"hasMore" json:"hasMore"`
	BlobKey            string    `firestore:"blobKey" json:"blobKey"`
	ExpireAt           time.Time `firestore:"expireAt" json:"expireAt"`
}

// Connection is one live progress subscriber.
type Connection struct {
	ConnectionID string    `firestore:"connectionId" json:"connectionId"`
	ConnectedAt  time.Time `firestore:"connectedAt" json:"connectedAt"`
	ExpireAt     time.Time `firestore:"expireAt" json:"expireAt"`
}
