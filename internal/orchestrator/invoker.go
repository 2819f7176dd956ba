package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/avast/retry-go"
	"google.golang.org/api/idtoken"
)

// ErrRemoteRejected is returned when a worker function answered with a
// client error. The call is not retried.
var ErrRemoteRejected = errors.New("orchestrator: remote function rejected the request")

// invoker posts JSON to an authenticated Cloud Function, retrying transport
// errors, throttling and 5xx responses.
type invoker struct {
	url      string
	client   *http.Client
	attempts uint
	delay    time.Duration
}

func newInvoker(url string, client *http.Client, attempts int, delay time.Duration) invoker {
	if client == nil {
		client = http.DefaultClient
	}
	return invoker{url: url, client: client, attempts: uint(max(attempts, 1)), delay: delay}
}

func (i invoker) post(ctx context.Context, in any) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out []byte
	err = retry.Do(
		func() error {
			var err error
			out, err = i.postOnce(ctx, body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(i.attempts),
		retry.Delay(i.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, ErrRemoteRejected) }),
	)
	return out, err
}

func (i invoker) postOnce(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", i.url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response of %s: %w", i.url, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return data, nil
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout, code >= 500:
		return nil, fmt.Errorf("%s answered %d: %s", i.url, code, errorMessage(data))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRemoteRejected, code, errorMessage(data))
	}
}

// errorMessage pulls the error field out of a JSON error body, falling back
// to the body text.
func errorMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}

// RemoteWorker runs ranges on the range-worker Cloud Function.
type RemoteWorker struct {
	inv invoker
}

var _ RangeProcessor = (*RemoteWorker)(nil)

// NewRemoteWorker returns a RemoteWorker that calls url with an ID token
// for it.
func NewRemoteWorker(ctx context.Context, url string, attempts int, delay time.Duration) (*RemoteWorker, error) {
	client, err := idtoken.NewClient(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated client for %s: %w", url, err)
	}
	return &RemoteWorker{inv: newInvoker(url, client, attempts, delay)}, nil
}

// ProcessRange implements RangeProcessor.
func (w *RemoteWorker) ProcessRange(ctx context.Context, req models.ProcessRangeRequest) (models.RangeResult, error) {
	data, err := w.inv.post(ctx, req)
	if err != nil {
		return models.RangeResult{}, err
	}
	var resp models.ProcessRangeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return models.RangeResult{}, fmt.Errorf("%w: decoding worker response: %v", ErrRemoteRejected, err)
	}
	if resp.Result.ChunkID != req.WorkRange.ChunkID() {
		return models.RangeResult{}, fmt.Errorf("%w: worker answered for %q, want %q", ErrRemoteRejected, resp.Result.ChunkID, req.WorkRange.ChunkID())
	}
	return resp.Result, nil
}

// RemoteCombiner runs the combiner Cloud Function.
type RemoteCombiner struct {
	inv invoker
}

var _ Combiner = (*RemoteCombiner)(nil)

func NewRemoteCombiner(ctx context.Context, url string, attempts int, delay time.Duration) (*RemoteCombiner, error) {
	client, err := idtoken.NewClient(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticated client for %s: %w", url, err)
	}
	return &RemoteCombiner{inv: newInvoker(url, client, attempts, delay)}, nil
}

// Combine implements Combiner.
func (c *RemoteCombiner) Combine(ctx context.Context, documentID, executionID string) (string, error) {
	data, err := c.inv.post(ctx, models.CombineRequest{DocumentID: documentID, ExecutionID: executionID})
	if err != nil {
		return "", err
	}
	var resp models.CombineResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("%w: decoding combiner response: %v", ErrRemoteRejected, err)
	}
	return resp.ArtifactURI, nil
}
