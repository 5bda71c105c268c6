package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hadylab/slipstream/internal/models"
)

// directChunkSize is the read granularity for the direct fetch path.
const directChunkSize = 64 * 1024

// progressInterval throttles streaming progress events.
const progressInterval = 500 * time.Millisecond

// fetchDirect streams a single non-playlist media URL. When the response
// declares a total size, percent/speed/ETA are reported like the segment
// scheduler does; otherwise only cumulative bytes with indeterminate
// progress. The accumulated chunks feed the same assembly path as
// segmented jobs.
func (e *Engine) fetchDirect(ctx context.Context, job *Job, emit progressFunc) ([][]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.Request.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range job.headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, fmt.Errorf("fetch media: HTTP %d", resp.StatusCode)
	}

	total := resp.ContentLength // -1 when unknown
	start := time.Now()
	lastEmit := start

	var chunks [][]byte
	var received int64

	for {
		buf := make([]byte, directChunkSize)
		n, readErr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			chunks = append(chunks, buf[:n])
			received += int64(n)
		}

		now := time.Now()
		done := readErr == io.EOF || readErr == io.ErrUnexpectedEOF
		if done || now.Sub(lastEmit) >= progressInterval {
			emit(streamProgressEvent(job.Request.SourceURL, received, total, now.Sub(start)))
			lastEmit = now
		}

		if done {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read media stream: %w", readErr)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	return chunks, nil
}

func streamProgressEvent(jobURL string, received, total int64, elapsed time.Duration) models.ProgressEvent {
	ev := models.ProgressEvent{
		JobURL: jobURL,
		State:  models.StateDownloadingSegments,
	}

	if total <= 0 {
		ev.Message = fmt.Sprintf("Downloading %s", formatBytes(received))
		return ev
	}

	percent := int(received * 100 / total)
	if percent > downloadPercentCap {
		percent = downloadPercentCap
	}
	ev.Percent = models.Pct(percent)

	speed, eta, known := progressStats(float64(received), float64(total), elapsed)
	if known {
		ev.Message = fmt.Sprintf("Downloading %s/%s (%s/s, ETA %s)",
			formatBytes(received), formatBytes(total), formatBytes(int64(speed)), eta.Truncate(time.Second))
	} else {
		ev.Message = fmt.Sprintf("Downloading %s/%s", formatBytes(received), formatBytes(total))
	}
	return ev
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
