package orchestrator

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"google.golang.org/api/idtoken"
)

// EventSource is the CloudEvents source of every event the scheduler emits.
const EventSource = "/comment-ingest/orchestrator"

// EventNotifier publishes progress events as CloudEvents over HTTP.
type EventNotifier struct {
	client cloudevents.Client
}

var _ Notifier = (*EventNotifier)(nil)

// NewEventNotifier returns a notifier posting to target with an ID token
// for it.
func NewEventNotifier(ctx context.Context, target string) (*EventNotifier, error) {
	httpClient, err := idtoken.NewClient(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated client for %s: %w", target, err)
	}
	return newEventNotifier(target, httpClient)
}

func newEventNotifier(target string, httpClient *http.Client) (*EventNotifier, error) {
	opts := []cehttp.Option{cloudevents.WithTarget(target)}
	if httpClient != nil {
		opts = append(opts, cehttp.WithClient(*httpClient))
	}
	p, err := cloudevents.NewHTTP(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents protocol: %w", err)
	}
	c, err := cloudevents.NewClient(p, cloudevents.WithTimeNow(), cloudevents.WithUUIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to create cloudevents client: %w", err)
	}
	return &EventNotifier{client: c}, nil
}

// Notify implements Notifier.
func (n *EventNotifier) Notify(ctx context.Context, e models.ProgressEvent) error {
	event := cloudevents.NewEvent()
	event.SetSource(EventSource)
	event.SetSubject(e.DocID())
	switch e.(type) {
	case models.Failure:
		event.SetType(models.EventTypeFailure)
	default:
		event.SetType(models.EventTypeProgress)
	}
	if err := event.SetData(cloudevents.ApplicationJSON, e); err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type(), err)
	}
	if res := n.client.Send(ctx, event); !cloudevents.IsACK(res) {
		return fmt.Errorf("failed to send %s event: %w", event.Type(), res)
	}
	return nil
}
