package mock

import (
	"context"
	"sync"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// Notifier records every progress event it is given.
type Notifier struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	// Err, when set, is returned by Notify after recording the event.
	Err error
}

func (n *Notifier) Notify(_ context.Context, event models.ProgressEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.Err
}

// Events returns the recorded events in order.
func (n *Notifier) Events() []models.ProgressEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.ProgressEvent(nil), n.events...)
}

// Progress returns the percentages of the ProgressUpdate events recorded
// for documentID, in order.
func (n *Notifier) Progress(documentID string) []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []int
	for _, e := range n.events {
		if u, ok := e.(models.ProgressUpdate); ok && u.DocumentID == documentID {
			out = append(out, u.Progress)
		}
	}
	return out
}

// Failures returns the Failure events recorded for documentID.
func (n *Notifier) Failures(documentID string) []models.Failure {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []models.Failure
	for _, e := range n.events {
		if f, ok := e.(models.Failure); ok && f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out
}
