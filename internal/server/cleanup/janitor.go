// Package cleanup sweeps the upload bucket on a cron schedule. Session files
// normally leave with their session; the janitor catches what a crash or a
// failed delete left behind, plus merged artifacts past their retention.
package cleanup

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/printrelay/internal/logging"
	"github.com/dmitrijs2005/printrelay/internal/server/storage"
	"github.com/robfig/cron/v3"
	"gocloud.dev/blob"
)

const (
	DefaultSchedule = "0 */12 * * *"
	DefaultMaxAge   = 12 * time.Hour
)

type SessionChecker interface {
	Exists(id string) bool
}

type Janitor struct {
	bucket   *blob.Bucket
	sessions SessionChecker
	maxAge   time.Duration
	now      func() time.Time
	log      logging.Logger
}

func NewJanitor(bucket *blob.Bucket, sessions SessionChecker, maxAge time.Duration, logger logging.Logger) *Janitor {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{
		bucket:   bucket,
		sessions: sessions,
		maxAge:   maxAge,
		now:      time.Now,
		log:      logger.With("module", "janitor"),
	}
}

// orphaned reports whether key should go: old enough, and either an artifact
// or a file whose session is gone.
func (j *Janitor) orphaned(key string, modTime time.Time) bool {
	if j.now().Sub(modTime) < j.maxAge {
		return false
	}
	if strings.HasPrefix(key, storage.ArtifactKey("")) {
		return true
	}
	sessionID, _, ok := strings.Cut(key, "/")
	if !ok {
		return true
	}
	return !j.sessions.Exists(sessionID)
}

// Sweep deletes orphaned objects and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	var stale []string

	iter := j.bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, err
		}
		if obj.IsDir {
			continue
		}
		if j.orphaned(obj.Key, obj.ModTime) {
			stale = append(stale, obj.Key)
		}
	}

	if err := storage.Delete(ctx, j.bucket, stale...); err != nil {
		return 0, err
	}
	return len(stale), nil
}

// Run sweeps on the cron schedule until ctx is done, then waits for a sweep
// in progress to finish.
func (j *Janitor) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		n, err := j.Sweep(ctx)
		if err != nil {
			j.log.Error(ctx, "sweep failed", "error", err)
			return
		}
		if n > 0 {
			j.log.Info(ctx, "removed orphaned objects", "count", n)
		}
	})
	if err != nil {
		return err
	}

	j.log.Info(ctx, "janitor started", "schedule", schedule, "max_age", j.maxAge)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
