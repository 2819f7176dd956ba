package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
)

// Source is an in-memory upstream.Source. Pages are cut from Items, which
// are kept ordered by (LastModifiedDate, CommentID), after applying the
// request's Since cursor.
type Source struct {
	mu       sync.Mutex
	info     upstream.DocumentInfo
	items    []models.Comment
	counts   []int
	failures map[int][]error
	calls    map[int]int

	// DescribeErr, when set, is returned by Describe.
	DescribeErr error
}

var _ upstream.Source = (*Source)(nil)

// NewSource returns a source describing documentID under objectID.
func NewSource(documentID, objectID string, items ...models.Comment) *Source {
	s := &Source{
		info:     upstream.DocumentInfo{DocumentID: documentID, ObjectID: objectID, Title: "Document " + documentID},
		failures: make(map[int][]error),
		calls:    make(map[int]int),
	}
	s.Add(items...)
	return s
}

// Add appends items to the feed.
func (s *Source) Add(items ...models.Comment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	sort.SliceStable(s.items, func(i, j int) bool {
		if s.items[i].LastModifiedDate != s.items[j].LastModifiedDate {
			return s.items[i].LastModifiedDate < s.items[j].LastModifiedDate
		}
		return s.items[i].CommentID < s.items[j].CommentID
	})
}

// ScriptCounts makes the next Count calls return the given totals in order
// instead of the number of items held.
func (s *Source) ScriptCounts(totals ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = append(s.counts, totals...)
}

// FailPage makes the next len(errs) fetches of page number page fail with
// errs in order.
func (s *Source) FailPage(page int, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[page] = append(s.failures[page], errs...)
}

// Calls returns how many times page number page was fetched.
func (s *Source) Calls(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[page]
}

func (s *Source) Describe(ctx context.Context, documentID string) (upstream.DocumentInfo, error) {
	if s.DescribeErr != nil {
		return upstream.DocumentInfo{}, s.DescribeErr
	}
	if documentID != s.info.DocumentID {
		return upstream.DocumentInfo{}, upstream.ErrNotFound
	}
	total, err := s.Count(ctx, s.info.ObjectID)
	if err != nil {
		return upstream.DocumentInfo{}, err
	}
	info := s.info
	info.TotalItems = total
	return info, nil
}

func (s *Source) Count(_ context.Context, objectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if objectID != s.info.ObjectID {
		return 0, upstream.ErrNotFound
	}
	if len(s.counts) > 0 {
		n := s.counts[0]
		s.counts = s.counts[1:]
		return n, nil
	}
	return len(s.items), nil
}

func (s *Source) FetchPage(_ context.Context, req upstream.PageRequest) (upstream.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Page]++
	if errs := s.failures[req.Page]; len(errs) > 0 {
		s.failures[req.Page] = errs[1:]
		return upstream.Page{}, errs[0]
	}
	if req.ObjectID != s.info.ObjectID {
		return upstream.Page{}, upstream.ErrNotFound
	}

	var feed []models.Comment
	for _, c := range s.items {
		if req.Since == "" || c.LastModifiedDate >= req.Since {
			feed = append(feed, c)
		}
	}
	start := min((req.Page-1)*req.PageSize, len(feed))
	end := min(start+req.PageSize, len(feed))

	page := upstream.Page{HasMore: end < len(feed)}
	for _, c := range feed[start:end] {
		c.Attachments = append([]models.Attachment(nil), c.Attachments...)
		page.Comments = append(page.Comments, c)
		if c.LastModifiedDate > page.LastModified {
			page.LastModified = c.LastModifiedDate
		}
	}
	return page, nil
}
