package models

// Comment is one normalized upstream item.
type Comment struct {
	CommentID           string       `json:"commentId"`
	Text                string       `json:"text"`
	PostedDate          string       `json:"postedDate"`
	LastModifiedDate    string       `json:"lastModifiedDate"`
	CommentOnDocumentID string       `json:"commentOnDocumentId"`
	Attachments         []Attachment `json:"attachments,omitempty"`
}

// Attachment is the metadata of a file attached to a comment.
type Attachment struct {
	CommentID    string `json:"commentId"`
	DocumentID   string `json:"documentId"`
	AttachmentID string `json:"attachmentId"`
	DocOrder     int    `json:"docOrder"`
	Title        string `json:"title"`
	ModifyDate   string `json:"modifyDate"`
	FileFormat   string `json:"fileFormat"`
	FileURL      string `json:"fileUrl"`
	Size         int64  `json:"size"`
}

// Chunk is the blob written by a worker for one range.
type Chunk struct {
	DocumentID         string    `json:"documentId"`
	ChunkID            string    `json:"chunkId"`
	Start              int       `json:"start"`
	End                int       `json:"end"`
	LastModifiedMarker string    `json:"lastModifiedMarker"`
	Comments           []Comment `json:"comments"`
}
