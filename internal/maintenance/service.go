package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dbchat/dbchat/internal/storage"
)

type Config struct {
	// ExportTTL is how long a stored export stays downloadable. Zero disables the sweep.
	ExportTTL         time.Duration
	RetentionInterval time.Duration
}

// Service removes expired export artifacts from the object store.
type Service struct {
	ObjectStore storage.ObjectStore
	Config      Config
	Logger      *slog.Logger
	Clock       func() time.Time
}

type RetentionSummary struct {
	ObjectsScanned int   `json:"objects_scanned"`
	ExpiredObjects int   `json:"expired_objects"`
	FilesDeleted   int   `json:"files_deleted"`
	BytesDeleted   int64 `json:"bytes_deleted"`
	Failures       int   `json:"failures"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()
	if s.Config.ExportTTL <= 0 {
		return nil
	}

	ticker := time.NewTicker(s.Config.RetentionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunRetentionOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "export retention cycle failed", slog.Any("error", err), slog.Any("summary", summary))
				}
				continue
			}
			if s.Logger != nil && summary.FilesDeleted > 0 {
				s.Logger.InfoContext(ctx, "export retention cycle completed", slog.Any("summary", summary))
			}
		}
	}
}

// RunRetentionOnce deletes every export last modified before now minus ExportTTL.
// Delete failures are counted and reported together after the sweep finishes.
func (s *Service) RunRetentionOnce(ctx context.Context) (RetentionSummary, error) {
	s.ensureDefaults()
	if s.ObjectStore == nil {
		return RetentionSummary{}, fmt.Errorf("object store is required")
	}
	if s.Config.ExportTTL <= 0 {
		return RetentionSummary{}, nil
	}

	objects, err := s.ObjectStore.List(ctx, storage.ExportPrefix())
	if err != nil {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return RetentionSummary{}, fmt.Errorf("list exports: %w", err)
	}

	summary := RetentionSummary{ObjectsScanned: len(objects)}
	cutoff := s.Clock().Add(-s.Config.ExportTTL)
	failures := make([]string, 0)

	expired := make([]storage.ObjectInfo, 0)
	for _, object := range objects {
		if object.LastModified.Before(cutoff) {
			expired = append(expired, object)
		}
	}
	summary.ExpiredObjects = len(expired)

	deleteErrs := s.deleteObjects(ctx, expired)
	for _, object := range expired {
		if err, failed := deleteErrs[object.Key]; failed {
			summary.Failures++
			failures = append(failures, fmt.Sprintf("delete %s: %v", object.Key, err))
			continue
		}
		summary.FilesDeleted++
		summary.BytesDeleted += object.Size
	}

	exportsDeletedTotal.Add(float64(summary.FilesDeleted))
	exportBytesDeletedTotal.Add(float64(summary.BytesDeleted))
	if len(failures) > 0 {
		retentionRunsTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("retention encountered %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	retentionRunsTotal.WithLabelValues("completed").Inc()
	return summary, nil
}

// deleteObjects uses one batch call when the store supports it and returns per-key failures.
func (s *Service) deleteObjects(ctx context.Context, objects []storage.ObjectInfo) map[string]error {
	if len(objects) == 0 {
		return nil
	}
	keys := make([]string, 0, len(objects))
	for _, object := range objects {
		keys = append(keys, object.Key)
	}
	if batch, ok := s.ObjectStore.(storage.BatchDeleter); ok {
		return batch.DeleteMany(ctx, keys)
	}
	failures := map[string]error{}
	for _, key := range keys {
		if err := s.ObjectStore.Delete(ctx, key); err != nil {
			failures[key] = err
		}
	}
	return failures
}

func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.Config.RetentionInterval <= 0 {
		s.Config.RetentionInterval = 10 * time.Minute
	}
}
