package engine

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadylab/slipstream/internal/config"
	"github.com/hadylab/slipstream/internal/decryptor"
	"github.com/hadylab/slipstream/internal/models"
)

// captureSink records the artifact payload instead of writing a file.
type captureSink struct {
	filename string
	data     []byte
}

func (s *captureSink) Save(_ context.Context, artifact *Artifact) error {
	data, err := artifact.Bytes()
	if err != nil {
		return err
	}
	s.filename = artifact.Filename
	s.data = append([]byte(nil), data...)
	artifact.Release()
	return nil
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func collectEvents(events *[]models.ProgressEvent) progressFunc {
	return func(ev models.ProgressEvent) {
		*events = append(*events, ev)
	}
}

func TestRunMasterPlaylist(t *testing.T) {
	segments := map[string]string{
		"/hd/seg0.ts": "first-",
		"/hd/seg1.ts": "second-",
		"/hd/seg2.ts": "third",
	}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/master.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=500000\nlow/index.m3u8\n"+
				"#EXT-X-STREAM-INF:BANDWIDTH=1200000\nhd/index.m3u8\n")
		case "/hd/index.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n#EXTINF:4,\n%s/hd/seg0.ts\n#EXTINF:4,\n%s/hd/seg1.ts\n#EXTINF:4,\n%s/hd/seg2.ts\n",
				srv.URL, srv.URL, srv.URL)
		case "/low/index.m3u8":
			t.Error("low-bandwidth variant fetched, selection is broken")
		default:
			if body, ok := segments[r.URL.Path]; ok {
				w.Write([]byte(body))
				return
			}
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/master.m3u8"},
		collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []byte("first-second-third"), sink.data)
	assert.Equal(t, "master.ts", sink.filename)

	var states []models.JobState
	for _, ev := range events {
		if len(states) == 0 || states[len(states)-1] != ev.State {
			states = append(states, ev.State)
		}
	}
	assert.Equal(t, []models.JobState{
		models.StateFetchingManifest,
		models.StateSelectingVariant,
		models.StateFetchingManifest,
		models.StateDownloadingSegments,
		models.StateAssembling,
		models.StateComplete,
	}, states)

	final := events[len(events)-1]
	require.NotNil(t, final.Percent)
	assert.Equal(t, 100, *final.Percent)
	assert.Equal(t, "Download complete", final.Message)

	for _, ev := range events {
		if ev.State == models.StateDownloadingSegments && ev.Percent != nil {
			assert.LessOrEqual(t, *ev.Percent, 95, "download progress must stay below the assembly band")
		}
	}
}

func TestRunEncryptedPlaylist(t *testing.T) {
	key := []byte("0123456789abcdef")
	const mediaSequence = 7
	plain := []string{"segment-zero", "segment-one"}

	encrypt := func(plaintext []byte, index int) []byte {
		iv := decryptor.DeriveIV(mediaSequence, index)
		padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
		padded := append(append([]byte(nil), plaintext...), make([]byte, padLen)...)
		for i := len(plaintext); i < len(padded); i++ {
			padded[i] = byte(padLen)
		}
		block, _ := aes.NewCipher(key)
		out := make([]byte, len(padded))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
		return out
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprintf(w, "#EXTM3U\n#EXT-X-MEDIA-SEQUENCE:%d\n"+
				"#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n"+
				"#EXTINF:4,\nseg0.ts\n#EXTINF:4,\nseg1.ts\n", mediaSequence)
		case "/key.bin":
			w.Write(key)
		case "/seg0.ts":
			w.Write(encrypt([]byte(plain[0]), 0))
		case "/seg1.ts":
			w.Write(encrypt([]byte(plain[1]), 1))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/index.m3u8"},
		collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []byte("segment-zerosegment-one"), sink.data)

	var sawKeyState bool
	for _, ev := range events {
		if ev.State == models.StateFetchingKey {
			sawKeyState = true
		}
	}
	assert.True(t, sawKeyState, "encrypted jobs must pass through the key-fetch state")
}

func TestRunEmptyPlaylist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-ENDLIST\n")
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/index.m3u8"},
		collectEvents(&events))
	assert.ErrorIs(t, err, ErrManifestEmpty)

	final := events[len(events)-1]
	assert.Equal(t, models.StateFailed, final.State)
	assert.True(t, strings.HasPrefix(final.Message, "Error: "), "terminal message = %q", final.Message)
	assert.Nil(t, final.Percent, "failure progress is indeterminate")
	assert.Nil(t, sink.data, "nothing reaches the sink on failure")
}

func TestRunMasterWithoutVariants(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Stream-info tag with no following URI line yields a master with
		// zero usable variants.
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=500000\n")
	}))
	defer srv.Close()

	eng := New(testConfig(), &captureSink{}, zerolog.Nop())
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/master.m3u8"}, nil)
	assert.ErrorIs(t, err, ErrManifestEmpty)
}

func TestRunAllSegmentsGone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:4,\nseg0.ts\n#EXTINF:4,\nseg1.ts\n")
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/index.m3u8"},
		collectEvents(&events))
	assert.ErrorIs(t, err, ErrAllSegmentsFailed)

	final := events[len(events)-1]
	assert.Equal(t, models.StateFailed, final.State)
	assert.Nil(t, sink.data)
}

func TestRunPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.m3u8":
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:4,\nseg0.ts\n#EXTINF:4,\nseg1.ts\n#EXTINF:4,\nseg2.ts\n")
		case "/seg1.ts":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.Write([]byte(strings.TrimSuffix(r.URL.Path, ".ts")))
		}
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/index.m3u8"},
		collectEvents(&events))
	require.NoError(t, err, "per-segment failure must not abort the job")

	assert.Equal(t, []byte("/seg0/seg2"), sink.data, "failed slot omitted, order preserved")

	final := events[len(events)-1]
	assert.Equal(t, models.StateComplete, final.State)
	assert.Contains(t, final.Message, "1/3 segments failed")
}

func TestRunDirectURL(t *testing.T) {
	payload := strings.Repeat("x", 200*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	var events []models.ProgressEvent
	err := eng.Run(context.Background(), models.JobRequest{SourceURL: srv.URL + "/clip.mp4"},
		collectEvents(&events))
	require.NoError(t, err)

	assert.Equal(t, []byte(payload), sink.data)
	assert.Equal(t, "clip.mp4", sink.filename)

	for _, ev := range events {
		if ev.State == models.StateDownloadingSegments && ev.Percent != nil {
			assert.LessOrEqual(t, *ev.Percent, 95)
		}
	}
	final := events[len(events)-1]
	assert.Equal(t, models.StateComplete, final.State)
}

func TestRunSuggestedFilenameWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:4,\nseg0.ts\n")
			return
		}
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	sink := &captureSink{}
	eng := New(testConfig(), sink, zerolog.Nop())

	err := eng.Run(context.Background(), models.JobRequest{
		SourceURL:         srv.URL + "/index.m3u8",
		SuggestedFilename: "episode-01.ts",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "episode-01.ts", sink.filename)
}

func TestRunSendsReferer(t *testing.T) {
	var manifestReferer, segmentReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			manifestReferer = r.Header.Get("Referer")
			fmt.Fprint(w, "#EXTM3U\n#EXTINF:4,\nseg0.ts\n")
			return
		}
		segmentReferer = r.Header.Get("Referer")
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	eng := New(testConfig(), &captureSink{}, zerolog.Nop())
	err := eng.Run(context.Background(), models.JobRequest{
		SourceURL:      srv.URL + "/index.m3u8",
		PageContextURL: "https://watch.example.com/page",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://watch.example.com/page", manifestReferer)
	assert.Equal(t, "https://watch.example.com/page", segmentReferer)
}

func TestSuggestedFilename(t *testing.T) {
	tests := []struct {
		name string
		req  models.JobRequest
		want string
	}{
		{"explicit", models.JobRequest{SourceURL: "https://a/b.m3u8", SuggestedFilename: "given.ts"}, "given.ts"},
		{"manifest url", models.JobRequest{SourceURL: "https://a/video.m3u8"}, "video.ts"},
		{"media url", models.JobRequest{SourceURL: "https://a/clip.mp4"}, "clip.mp4"},
		{"bare host", models.JobRequest{SourceURL: "https://a"}, "download"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, suggestedFilename(tt.req))
		})
	}
}
