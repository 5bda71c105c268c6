package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hadylab/slipstream/internal/models"
)

// downloadPercentCap reserves the progress tail for assembly.
const downloadPercentCap = 95

// downloadSegments runs the batch scheduler: segments are processed in
// fixed-size windows of the configured concurrency, and the whole window
// settles before the next one starts. Failed segments leave their result
// slot nil and bump the job's failed counter; they never halt the job.
func (e *Engine) downloadSegments(ctx context.Context, job *Job, crypto *cryptoContext, emit progressFunc) error {
	total := len(job.Segments)
	limit := e.cfg.Concurrency
	if limit < 1 {
		limit = 1
	}

	fetcher := NewFetcher(e.client, job.headers, e.cfg.RetryAttempts, e.cfg.RetryDelay, e.cfg.RequestTimeout, e.log)
	start := time.Now()

	for winStart := 0; winStart < total; winStart += limit {
		winEnd := winStart + limit
		if winEnd > total {
			winEnd = total
		}

		var wg sync.WaitGroup
		for i := winStart; i < winEnd; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()

				data, err := fetcher.Fetch(ctx, job.Segments[i])
				if err != nil {
					job.failed.Add(1)
					e.log.Warn().Int("segment", i).Str("url", job.Segments[i]).Err(err).
						Msg("segment permanently failed")
					return
				}
				if crypto != nil {
					data = crypto.decryptSegment(data, i)
				}
				// Each goroutine owns exactly one slot, written once.
				job.Results[i] = data
			}(i)
		}
		wg.Wait()

		if err := ctx.Err(); err != nil {
			return err
		}

		completed := winEnd
		percent := completed * 100 / total
		if percent > downloadPercentCap {
			percent = downloadPercentCap
		}

		emit(models.ProgressEvent{
			JobURL:  job.Request.SourceURL,
			State:   models.StateDownloadingSegments,
			Message: segmentProgressMessage(completed, total, time.Since(start)),
			Percent: models.Pct(percent),
		})
	}

	return nil
}

func segmentProgressMessage(completed, total int, elapsed time.Duration) string {
	speed, eta, known := progressStats(float64(completed), float64(total), elapsed)
	if !known {
		return fmt.Sprintf("Downloading segments %d/%d", completed, total)
	}
	return fmt.Sprintf("Downloading segments %d/%d (%.1f seg/s, ETA %s)",
		completed, total, speed, eta.Truncate(time.Second))
}

// progressStats computes speed and ETA from completed work. known is
// false when elapsed or speed is zero and the ETA would divide by zero.
func progressStats(completed, total float64, elapsed time.Duration) (speed float64, eta time.Duration, known bool) {
	secs := elapsed.Seconds()
	if secs <= 0 || completed <= 0 {
		return 0, 0, false
	}
	speed = completed / secs
	eta = time.Duration((total - completed) / speed * float64(time.Second))
	return speed, eta, true
}
