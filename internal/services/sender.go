package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Lllllllleong/commentingestflow/internal/models"
)

// HTTPSender posts messages to a websocket gateway's connection callback,
// {endpoint}/@connections/{connectionId}.
type HTTPSender struct {
	endpoint string
	client   *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender returns a sender for endpoint. client carries the gateway's
// authentication.
func NewHTTPSender(endpoint string, client *http.Client) *HTTPSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSender{endpoint: strings.TrimSuffix(endpoint, "/"), client: client}
}

// Send implements Sender.
func (s *HTTPSender) Send(ctx context.Context, connectionID string, msg models.OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	target := s.endpoint + "/@connections/" + url.PathEscape(connectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to %s: %w", connectionID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusGone, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s (status %d)", ErrConnectionGone, connectionID, resp.StatusCode)
	default:
		return fmt.Errorf("delivery to %s failed with status %d", connectionID, resp.StatusCode)
	}
}
