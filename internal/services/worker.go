package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/commentingestflow/internal/gcp"
	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
	"github.com/avast/retry-go"
)

// WorkerConfig holds all configuration for the range worker.
type WorkerConfig struct {
	ProjectID       string
	RawDataBucket   string
	UpstreamBaseURL string
	UpstreamAPIKey  string
	RequestsPerHour int
	CheckpointTTL   time.Duration
	RetryAttempts   int
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
}

// WorkerFunction fetches one WorkRange from the upstream source and
// persists it as a chunk plus a checkpoint.
type WorkerFunction struct {
	source      upstream.Source
	blobs       store.Blobs
	checkpoints store.Checkpoints
	config      WorkerConfig
	now         func() time.Time
}

func loadWorkerConfig() (*WorkerConfig, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("RAW_DATA_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("RAW_DATA_BUCKET environment variable must be set")
	}
	apiKey := gcp.GetEnv("UPSTREAM_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY environment variable must be set")
	}
	ttl, err := gcp.GetEnvDuration("CHECKPOINT_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	attempts, err := gcp.GetEnvInt("RETRY_ATTEMPTS", 4)
	if err != nil {
		return nil, err
	}
	rph, err := gcp.GetEnvInt("UPSTREAM_REQUESTS_PER_HOUR", 1000)
	if err != nil {
		return nil, err
	}
	maxDelay, err := gcp.GetEnvDuration("RETRY_MAX_DELAY", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	return &WorkerConfig{
		ProjectID:       projectID,
		RawDataBucket:   bucket,
		UpstreamBaseURL: gcp.GetEnv("UPSTREAM_BASE_URL", upstream.DefaultBaseURL),
		UpstreamAPIKey:  apiKey,
		RequestsPerHour: rph,
		CheckpointTTL:   ttl,
		RetryAttempts:   attempts,
		RetryDelay:      time.Second,
		MaxRetryDelay:   maxDelay,
	}, nil
}

// NewWorker creates a WorkerFunction backed by GCS, Firestore and the
// regulations.gov client.
func NewWorker(ctx context.Context) (*WorkerFunction, error) {
	config, err := loadWorkerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	stores, _, err := gcp.NewFirestoreStores(ctx, config.ProjectID)
	if err != nil {
		return nil, err
	}
	source := upstream.NewClient(config.UpstreamBaseURL, config.UpstreamAPIKey, config.RequestsPerHour, nil)

	return NewWorkerWithDeps(source, gcp.NewBlobStore(storageClient, config.RawDataBucket), stores.Checkpoints, *config), nil
}

// NewWorkerWithDeps creates a WorkerFunction over the given collaborators.
func NewWorkerWithDeps(source upstream.Source, blobs store.Blobs, checkpoints store.Checkpoints, config WorkerConfig) *WorkerFunction {
	if config.RetryAttempts < 1 {
		config.RetryAttempts = 1
	}
	return &WorkerFunction{
		source:      source,
		blobs:       blobs,
		checkpoints: checkpoints,
		config:      config,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ChunkKey is the blob key of a range's output.
func ChunkKey(documentID, chunkID string) string {
	return fmt.Sprintf("%s/chunks/%s.json", documentID, chunkID)
}

// Process handles one range. Running it again for the same range rewrites
// the same chunk and checkpoint.
func (f *WorkerFunction) Process(ctx context.Context, req *models.ProcessRangeRequest) (*models.ProcessRangeResponse, error) {
	w := req.WorkRange
	logCtx := slog.With("documentId", req.DocumentID, "executionId", req.ExecutionID, "chunkId", w.ChunkID())

	if req.DocumentID == "" || req.ObjectID == "" {
		return nil, fmt.Errorf("%w: documentId and objectId are required", ErrInvalidRequest)
	}
	if w.Len() <= 0 || w.Page < 1 || w.PageSize <= 0 {
		return nil, fmt.Errorf("%w: range [%d,%d) page %d size %d", ErrInvalidRequest, w.Start, w.End, w.Page, w.PageSize)
	}
	logCtx.Info("Starting range.", "set", w.Set, "page", w.Page, "since", req.LastModifiedDate)

	page, observed, err := f.fetch(ctx, logCtx, upstream.PageRequest{
		ObjectID: req.ObjectID,
		Page:     w.Page,
		PageSize: w.PageSize,
		Since:    req.LastModifiedDate,
	})
	if err != nil {
		logCtx.Error("Failed to fetch range", "error", err, "kind", ErrorKind(err))
		return nil, fmt.Errorf("range [%d,%d): %w", w.Start, w.End, err)
	}

	comments := normalize(req.DocumentID, page.Comments)
	marker := page.LastModified
	if marker == "" {
		marker = req.LastModifiedDate
	}
	chunk := models.Chunk{
		DocumentID:         req.DocumentID,
		ChunkID:            w.ChunkID(),
		Start:              w.Start,
		End:                w.End,
		LastModifiedMarker: marker,
		Comments:           comments,
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chunk %s: %w", chunk.ChunkID, err)
	}
	key := ChunkKey(req.DocumentID, chunk.ChunkID)
	if err := f.blobs.Write(ctx, key, "application/json", data); err != nil {
		logCtx.Error("Failed to write chunk", "error", err, "object", key)
		return nil, err
	}

	attachments := 0
	for _, c := range comments {
		attachments += len(c.Attachments)
	}
	cp := models.Checkpoint{
		DocumentID:         req.DocumentID,
		ChunkID:            chunk.ChunkID,
		Start:              w.Start,
		End:                w.End,
		LastModifiedMarker: marker,
		ItemCount:          len(comments),
		AttachmentCount:    attachments,
		HasMore:            page.HasMore,
		BlobKey:            key,
		ExpireAt:           f.now().Add(f.config.CheckpointTTL),
	}
	if err := f.checkpoints.Put(ctx, cp); err != nil {
		logCtx.Error("Failed to write checkpoint", "error", err)
		return nil, err
	}

	logCtx.Info("Range complete.", "items", len(comments), "attachments", attachments, "marker", marker, "hasMore", page.HasMore)
	return &models.ProcessRangeResponse{
		Status: "success",
		Result: models.RangeResult{
			ChunkID:            chunk.ChunkID,
			Start:              w.Start,
			End:                w.End,
			LastModifiedMarker: marker,
			ItemCount:          len(comments),
			HasMore:            page.HasMore,
			RetryAfter:         max(observed, page.RetryAfter),
		},
	}, nil
}

// ProcessRange runs Process in-process for the scheduler.
func (f *WorkerFunction) ProcessRange(ctx context.Context, req models.ProcessRangeRequest) (models.RangeResult, error) {
	res, err := f.Process(ctx, &req)
	if err != nil {
		return models.RangeResult{}, err
	}
	return res.Result, nil
}

// fetch reads one page, retrying transient failures with exponential
// backoff. A rate-limit answer is waited out for the time the upstream
// asked for, capped at MaxRetryDelay. The longest such hint is returned.
func (f *WorkerFunction) fetch(ctx context.Context, logCtx *slog.Logger, req upstream.PageRequest) (upstream.Page, time.Duration, error) {
	var (
		page     upstream.Page
		observed time.Duration
	)
	err := retry.Do(
		func() error {
			p, err := f.source.FetchPage(ctx, req)
			if err != nil {
				return err
			}
			page = p
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.config.RetryAttempts)),
		retry.Delay(f.config.RetryDelay),
		retry.MaxDelay(f.config.MaxRetryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(upstream.IsRetryable),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			if d := upstream.RetryAfter(err); d > 0 {
				return d
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.OnRetry(func(n uint, err error) {
			observed = max(observed, upstream.RetryAfter(err))
			logCtx.Warn("Fetch failed, will retry.", "attempt", n+1, "maxAttempts", f.config.RetryAttempts, "error", err)
		}),
	)
	return page, observed, err
}

// normalize trims comment text, fills in the parent document and orders
// attachments by their position on the comment.
func normalize(documentID string, in []models.Comment) []models.Comment {
	out := make([]models.Comment, 0, len(in))
	for _, c := range in {
		c.Text = strings.TrimSpace(c.Text)
		if c.CommentOnDocumentID == "" {
			c.CommentOnDocumentID = documentID
		}
		atts := append([]models.Attachment(nil), c.Attachments...)
		for i := range atts {
			atts[i].CommentID = c.CommentID
			if atts[i].DocumentID == "" {
				atts[i].DocumentID = c.CommentOnDocumentID
			}
		}
		sort.SliceStable(atts, func(i, j int) bool { return atts[i].DocOrder < atts[j].DocOrder })
		c.Attachments = atts
		out = append(out, c)
	}
	return out
}
