package redisclient

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// JobRunner runs scheduled jobs so that only one worker replica executes a
// given job at a time.
type JobRunner struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewJobRunner(client *redis.Client, expiry time.Duration) *JobRunner {
	return &JobRunner{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
	}
}

// Run executes fn under the job's mutex. A job already held elsewhere is
// skipped, not waited for.
func (j *JobRunner) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	mutex := j.rs.NewMutex(
		"lock:job:"+name,
		redsync.WithExpiry(j.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			log.Printf("job=%s skipped: held by another worker", name)
			return nil
		}
		return err
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			log.Printf("job=%s unlock failed: %v", name, err)
		}
	}()

	jobCtx, cancel := context.WithTimeout(ctx, j.expiry)
	defer cancel()

	return fn(jobCtx)
}
