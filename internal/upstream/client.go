package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the regulations.gov v4 API.
const DefaultBaseURL = "https://api.regulations.gov/v4"

const (
	cursorLayout    = "2006-01-02T15:04:05Z"
	apiFilterLayout = "2006-01-02 15:04:05"
	countPageSize   = 5
)

// Client reads the regulations.gov JSON:API comment feed. Requests are
// paced by a token bucket holding one hour of the configured budget.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

var _ Source = (*Client)(nil)

// NewClient creates a client. requestsPerHour <= 0 disables local pacing.
// A nil httpClient uses one with a 30 second timeout.
func NewClient(baseURL, apiKey string, requestsPerHour int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerHour > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerHour)/3600), requestsPerHour)
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

type resource struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

type listResponse struct {
	Data []resource `json:"data"`
	Meta struct {
		TotalElements int  `json:"totalElements"`
		HasNextPage   bool `json:"hasNextPage"`
	} `json:"meta"`
}

type singleResponse struct {
	Data     resource   `json:"data"`
	Included []resource `json:"included"`
}

type documentAttributes struct {
	ObjectID string `json:"objectId"`
	Title    string `json:"title"`
}

type commentAttributes struct {
	Comment             string `json:"comment"`
	PostedDate          string `json:"postedDate"`
	ModifyDate          string `json:"modifyDate"`
	LastModifiedDate    string `json:"lastModifiedDate"`
	CommentOnDocumentID string `json:"commentOnDocumentId"`
}

type attachmentAttributes struct {
	DocOrder    int    `json:"docOrder"`
	Title       string `json:"title"`
	ModifyDate  string `json:"modifyDate"`
	FileFormats []struct {
		Format  string `json:"format"`
		FileURL string `json:"fileUrl"`
		Size    int64  `json:"size"`
	} `json:"fileFormats"`
}

// Describe implements Source.
func (c *Client) Describe(ctx context.Context, documentID string) (DocumentInfo, error) {
	var doc singleResponse
	if err := c.get(ctx, "/documents/"+url.PathEscape(documentID), nil, &doc); err != nil {
		return DocumentInfo{}, fmt.Errorf("document %s: %w", documentID, err)
	}
	var attrs documentAttributes
	if err := decodeAttributes(doc.Data, &attrs); err != nil {
		return DocumentInfo{}, fmt.Errorf("document %s: %w", documentID, err)
	}
	if attrs.ObjectID == "" {
		return DocumentInfo{}, fmt.Errorf("document %s has no objectId: %w", documentID, ErrMalformed)
	}

	total, err := c.Count(ctx, attrs.ObjectID)
	if err != nil {
		return DocumentInfo{}, err
	}
	return DocumentInfo{
		DocumentID: documentID,
		ObjectID:   attrs.ObjectID,
		Title:      attrs.Title,
		TotalItems: total,
	}, nil
}

// Count implements Source.
func (c *Client) Count(ctx context.Context, objectID string) (int, error) {
	params := url.Values{}
	params.Set("filter[commentOnId]", objectID)
	params.Set("page[size]", strconv.Itoa(countPageSize))
	params.Set("page[number]", "1")

	var list listResponse
	if err := c.get(ctx, "/comments", params, &list); err != nil {
		return 0, fmt.Errorf("count comments on %s: %w", objectID, err)
	}
	if list.Meta.TotalElements < 0 {
		return 0, fmt.Errorf("count comments on %s: negative totalElements: %w", objectID, ErrMalformed)
	}
	return list.Meta.TotalElements, nil
}

// FetchPage implements Source. Each listed comment is re-read with its
// attachments. A comment that disappeared between the list and the detail
// call is skipped; any other detail failure fails the page.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	params := url.Values{}
	params.Set("filter[commentOnId]", req.ObjectID)
	params.Set("page[size]", strconv.Itoa(req.PageSize))
	params.Set("page[number]", strconv.Itoa(req.Page))
	params.Set("sort", "lastModifiedDate,documentId")
	if req.Since != "" {
		since, err := formatCursor(req.Since)
		if err != nil {
			return Page{}, err
		}
		params.Set("filter[lastModifiedDate][ge]", since)
	}

	var list listResponse
	hdr, err := c.do(ctx, "/comments", params, &list)
	if err != nil {
		return Page{}, fmt.Errorf("page %d of %s: %w", req.Page, req.ObjectID, err)
	}

	page := Page{HasMore: list.Meta.HasNextPage}
	if hdr.Get("X-RateLimit-Remaining") == "0" {
		page.RetryAfter = parseRetryAfter(hdr)
	}
	for _, item := range list.Data {
		if item.ID == "" {
			return Page{}, fmt.Errorf("page %d of %s: comment without id: %w", req.Page, req.ObjectID, ErrMalformed)
		}
		var listed commentAttributes
		if err := decodeAttributes(item, &listed); err != nil {
			return Page{}, fmt.Errorf("comment %s: %w", item.ID, err)
		}
		if listed.LastModifiedDate > page.LastModified {
			page.LastModified = listed.LastModifiedDate
		}

		comment, err := c.fetchComment(ctx, item.ID)
		if errors.Is(err, ErrNotFound) {
			slog.Warn("Comment vanished between list and detail; skipping.", "commentId", item.ID)
			continue
		}
		if err != nil {
			return Page{}, err
		}
		if comment.LastModifiedDate == "" {
			comment.LastModifiedDate = listed.LastModifiedDate
		}
		page.Comments = append(page.Comments, comment)
	}
	return page, nil
}

func (c *Client) fetchComment(ctx context.Context, commentID string) (models.Comment, error) {
	params := url.Values{}
	params.Set("include", "attachments")

	var detail singleResponse
	if err := c.get(ctx, "/comments/"+url.PathEscape(commentID), params, &detail); err != nil {
		return models.Comment{}, fmt.Errorf("comment %s: %w", commentID, err)
	}
	var attrs commentAttributes
	if err := decodeAttributes(detail.Data, &attrs); err != nil {
		return models.Comment{}, fmt.Errorf("comment %s: %w", commentID, err)
	}

	comment := models.Comment{
		CommentID:           commentID,
		Text:                attrs.Comment,
		PostedDate:          attrs.PostedDate,
		LastModifiedDate:    firstNonEmpty(attrs.LastModifiedDate, attrs.ModifyDate),
		CommentOnDocumentID: attrs.CommentOnDocumentID,
	}
	for _, inc := range detail.Included {
		if inc.Type != "attachments" {
			continue
		}
		var a attachmentAttributes
		if err := decodeAttributes(inc, &a); err != nil {
			return models.Comment{}, fmt.Errorf("attachment %s of %s: %w", inc.ID, commentID, err)
		}
		if len(a.FileFormats) == 0 {
			continue
		}
		f := a.FileFormats[0]
		comment.Attachments = append(comment.Attachments, models.Attachment{
			CommentID:    commentID,
			DocumentID:   attrs.CommentOnDocumentID,
			AttachmentID: inc.ID,
			DocOrder:     a.DocOrder,
			Title:        a.Title,
			ModifyDate:   a.ModifyDate,
			FileFormat:   f.Format,
			FileURL:      f.FileURL,
			Size:         f.Size,
		})
	}
	return comment, nil
}

// get performs one paced request and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	_, err := c.do(ctx, path, params, out)
	return err
}

// do is get that also returns the response headers of a successful call.
func (c *Client) do(ctx context.Context, path string, params url.Values, out any) (http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/vnd.api+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, truncate(body, 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return resp.Header, nil
}

func decodeAttributes(r resource, out any) error {
	if len(r.Attributes) == 0 {
		return fmt.Errorf("%s %q has no attributes: %w", r.Type, r.ID, ErrMalformed)
	}
	if err := json.Unmarshal(r.Attributes, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// formatCursor converts an upstream ISO timestamp into the filter format the
// API expects.
func formatCursor(cursor string) (string, error) {
	t, err := time.Parse(cursorLayout, cursor)
	if err != nil {
		return "", fmt.Errorf("cursor %q: %w", cursor, ErrMalformed)
	}
	return t.Format(apiFilterLayout), nil
}

func parseRetryAfter(h http.Header) time.Duration {
	for _, key := range []string{"Retry-After", "X-RateLimit-Reset"} {
		if v := h.Get(key); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
