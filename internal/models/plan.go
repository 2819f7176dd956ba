package models

import (
	"fmt"
	"time"
)

// WorkRange is a contiguous slice [Start, End) of the upstream item space.
// Set and Page locate the slice in upstream pagination terms: Page is the
// 1-based page number inside Set, which is read with the set's cursor.
type WorkRange struct {
	WorkerID  int  `firestore:"workerId" json:"workerId"`
	Start     int  `firestore:"start" json:"start"`
	End       int  `firestore:"end" json:"end"`
	Set       int  `firestore:"set" json:"set"`
	Page      int  `firestore:"page" json:"page"`
	PageSize  int  `firestore:"pageSize" json:"pageSize"`
	LastInSet bool `firestore:"lastInSet" json:"lastInSet"`
}

// ChunkID is the storage identifier of the range's output.
func (r WorkRange) ChunkID() string {
	return fmt.Sprintf("chunk-%d-%d", r.Start, r.End)
}

// Len is the number of items the range covers.
func (r WorkRange) Len() int {
	return r.End - r.Start
}

// WorkBatch is an ordered group of ranges processed under one concurrency cap.
type WorkBatch struct {
	BatchIndex int         `firestore:"batchIndex" json:"batchIndex"`
	Set        int         `firestore:"set" json:"set"`
	Workers    []WorkRange `firestore:"workers" json:"workers"`
}

// Phase is a state of the batch scheduler.
type Phase string

const (
	PhaseInit            Phase = "INIT"
	PhasePartitioned     Phase = "PARTITIONED"
	PhaseSelectBatch     Phase = "SELECT_BATCH"
	PhaseDispatch        Phase = "DISPATCH"
	PhaseAwaitCompletion Phase = "AWAIT_COMPLETION"
	PhaseDecide          Phase = "DECIDE"
	PhaseWait            Phase = "WAIT"
	PhaseCombine         Phase = "COMBINE"
	PhaseDone            Phase = "DONE"
	PhaseFailed          Phase = "FAILED"
)

// Terminal reports whether the phase ends the execution.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// RangeResult is what a worker reported for one range of the active batch.
type RangeResult struct {
	ChunkID            string        `firestore:"chunkId" json:"chunkId"`
	Start              int           `firestore:"start" json:"start"`
	End                int           `firestore:"end" json:"end"`
	LastModifiedMarker string        `firestore:"lastModifiedMarker,omitempty" json:"lastModifiedMarker,omitempty"`
	ItemCount          int           `firestore:"itemCount" json:"itemCount"`
	HasMore            bool          `firestore:"hasMore" json:"hasMore"`
	RetryAfter         time.Duration `firestore:"retryAfter" json:"retryAfter"`
	Skipped            bool          `firestore:"skipped" json:"skipped"`
}

// Plan is the persisted execution state of one Document's workflow. Every
// scheduler step reads a Plan, computes the next one and stores it whole.
type Plan struct {
	DocumentID       string        `firestore:"documentId" json:"documentId"`
	ObjectID         string        `firestore:"objectId" json:"objectId"`
	TotalComments    int           `firestore:"totalComments" json:"totalComments"`
	WorkBatches      []WorkBatch   `firestore:"workBatches" json:"workBatches"`
	CurrentBatch     int           `firestore:"currentBatch" json:"currentBatch"`
	TotalBatches     int           `firestore:"totalBatches" json:"totalBatches"`
	ExpectedSets     int           `firestore:"expectedSets" json:"expectedSets"`
	LastModifiedDate string        `firestore:"lastModifiedDate,omitempty" json:"lastModifiedDate,omitempty"`
	Phase            Phase         `firestore:"phase" json:"phase"`
	BatchesCompleted int           `firestore:"batchesCompleted" json:"batchesCompleted"`
	BatchResults     []RangeResult `firestore:"batchResults,omitempty" json:"batchResults,omitempty"`
	Progress         int           `firestore:"progress" json:"progress"`
	Extensions       int           `firestore:"extensions" json:"extensions"`
	WaitUntil        time.Time     `firestore:"waitUntil,omitempty" json:"waitUntil"`
	Error            string        `firestore:"error,omitempty" json:"error,omitempty"`
	FailedPhase      Phase         `firestore:"failedPhase,omitempty" json:"failedPhase,omitempty"`
	ExecutionID      string        `firestore:"executionId,omitempty" json:"executionId,omitempty"`
	UpdatedAt        time.Time     `firestore:"updatedAt" json:"updatedAt"`
}

// Batch returns the batch at CurrentBatch, if any.
func (p *Plan) Batch() (WorkBatch, bool) {
	if p.CurrentBatch < 0 || p.CurrentBatch >= len(p.WorkBatches) {
		return WorkBatch{}, false
	}
	return p.WorkBatches[p.CurrentBatch], true
}

// Clone returns a copy that shares no slices with p.
func (p Plan) Clone() Plan {
	c := p
	c.WorkBatches = make([]WorkBatch, len(p.WorkBatches))
	for i, b := range p.WorkBatches {
		b.Workers = append([]WorkRange(nil), b.Workers...)
		c.WorkBatches[i] = b
	}
	c.BatchResults = append([]RangeResult(nil), p.BatchResults...)
	return c
}
