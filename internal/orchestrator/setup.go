package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/commentingestflow/internal/gcp"
	"github.com/Lllllllleong/commentingestflow/internal/services"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
)

// LoadConfig reads the scheduler configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	ints := []struct {
		key      string
		fallback int
		dst      *int
	}{
		{"PAGE_SIZE", 250, &cfg.PageSize},
		{"PAGES_PER_SET", 20, &cfg.PagesPerSet},
		{"WORKERS_PER_BATCH", 2, &cfg.WorkersPerBatch},
		{"MAX_EXTENSIONS", 3, &cfg.MaxExtensions},
		{"UPSTREAM_REQUESTS_PER_HOUR", 1000, &cfg.Wait.RequestsPerHour},
		{"RETRY_ATTEMPTS", 4, &cfg.RetryAttempts},
		{"COMBINE_ATTEMPTS", 3, &cfg.CombineAttempts},
	}
	for _, v := range ints {
		n, err := gcp.GetEnvInt(v.key, v.fallback)
		if err != nil {
			return Config{}, err
		}
		*v.dst = n
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"BATCH_COOLDOWN", time.Minute, &cfg.Wait.Cooldown},
		{"RETRY_DELAY", time.Second, &cfg.RetryDelay},
		{"COMBINE_RETRY_DELAY", 5 * time.Second, &cfg.CombineDelay},
	}
	for _, v := range durations {
		d, err := gcp.GetEnvDuration(v.key, v.fallback)
		if err != nil {
			return Config{}, err
		}
		*v.dst = d
	}

	if cfg.PageSize <= 0 || cfg.PagesPerSet <= 0 {
		return Config{}, fmt.Errorf("PAGE_SIZE and PAGES_PER_SET must be positive")
	}
	return cfg, nil
}

// NewFromEnv wires a Scheduler to Firestore, the upstream API and the
// worker functions. Without WORKER_URL or COMBINER_URL the range worker and
// combiner run in process. Progress events are published only when
// BROADCASTER_URL is set.
func NewFromEnv(ctx context.Context) (*Scheduler, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	apiKey := gcp.GetEnv("UPSTREAM_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("UPSTREAM_API_KEY environment variable must be set")
	}

	stores, _, err := gcp.NewFirestoreStores(ctx, projectID)
	if err != nil {
		return nil, err
	}
	deps := Deps{
		Documents:   stores.Documents,
		Plans:       stores.Plans,
		Checkpoints: stores.Checkpoints,
		Source:      upstream.NewClient(gcp.GetEnv("UPSTREAM_BASE_URL", upstream.DefaultBaseURL), apiKey, cfg.Wait.RequestsPerHour, nil),
	}

	if url := gcp.GetEnv("WORKER_URL", ""); url != "" {
		if deps.Workers, err = NewRemoteWorker(ctx, url, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
			return nil, err
		}
	} else {
		slog.Info("WORKER_URL not set; processing ranges in process.")
		if deps.Workers, err = services.NewWorker(ctx); err != nil {
			return nil, err
		}
	}

	if url := gcp.GetEnv("COMBINER_URL", ""); url != "" {
		if deps.Combiner, err = NewRemoteCombiner(ctx, url, cfg.RetryAttempts, cfg.RetryDelay); err != nil {
			return nil, err
		}
	} else {
		if deps.Combiner, err = services.NewCombiner(ctx); err != nil {
			return nil, err
		}
	}

	if url := gcp.GetEnv("BROADCASTER_URL", ""); url != "" {
		if deps.Notifier, err = NewEventNotifier(ctx, url); err != nil {
			return nil, err
		}
	}

	return New(cfg, deps)
}
