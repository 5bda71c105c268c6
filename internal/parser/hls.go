package parser

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hadylab/slipstream/internal/models"
)

// ManifestFetchError reports a failed playlist fetch. Status is zero for
// transport-level failures.
type ManifestFetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *ManifestFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetch manifest %s: HTTP %d", e.URL, e.Status)
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

// HLSParser fetches and parses HLS (m3u8) playlists.
type HLSParser struct {
	client *http.Client
}

// NewHLSParser creates a parser backed by the given HTTP client.
func NewHLSParser(client *http.Client) *HLSParser {
	if client == nil {
		client = http.DefaultClient
	}
	return &HLSParser{client: client}
}

// FetchAndParse downloads a playlist and parses it. Master playlists are
// returned as-is; resolving the chosen variant is the caller's job.
func (p *HLSParser) FetchAndParse(ctx context.Context, urlStr string, headers map[string]string) (*models.Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &ManifestFetchError{URL: urlStr, Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ManifestFetchError{URL: urlStr, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ManifestFetchError{URL: urlStr, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ManifestFetchError{URL: urlStr, Err: err}
	}

	return Parse(string(body), urlStr), nil
}

// Parse parses playlist text. baseURL is the URL the text was fetched
// from; every URI in the playlist resolves against it. Parse is a pure
// function of its inputs.
func Parse(content, baseURL string) *models.Manifest {
	base, _ := url.Parse(baseURL)

	manifest := &models.Manifest{URL: baseURL}
	var pending *models.Variant

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "#EXT-X-STREAM-INF:"):
			manifest.IsMaster = true
			pending = parseStreamInf(line[len("#EXT-X-STREAM-INF:"):])

		case strings.HasPrefix(upper, "#EXT-X-MEDIA-SEQUENCE:"):
			raw := strings.TrimSpace(line[len("#EXT-X-MEDIA-SEQUENCE:"):])
			seq, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				seq = 0
			}
			manifest.MediaSequence = seq

		case strings.HasPrefix(upper, "#EXT-X-KEY:"):
			applyKeyTag(manifest, line[len("#EXT-X-KEY:"):], base)

		case strings.HasPrefix(line, "#"):
			// Comment or unhandled tag.

		case pending != nil:
			// URI line belonging to the previous stream-info tag.
			pending.URL = resolveURL(base, line)
			manifest.Variants = append(manifest.Variants, *pending)
			pending = nil

		default:
			manifest.Segments = append(manifest.Segments, resolveURL(base, line))
		}
	}

	return manifest
}

// parseStreamInf reads the variant attributes from a stream-info tag.
// The variant URL comes from the following line.
func parseStreamInf(attrList string) *models.Variant {
	attrs := parseAttributes(attrList)
	v := &models.Variant{}
	if bw, ok := attrs["BANDWIDTH"]; ok {
		v.Bandwidth, _ = strconv.ParseUint(bw, 10, 64)
	}
	if res, ok := attrs["RESOLUTION"]; ok {
		v.Resolution = res
	}
	return v
}

// applyKeyTag updates the manifest's encryption context from a key tag.
// METHOD=NONE clears any previously seen context. Methods other than
// AES-128 are not recognized and leave the context untouched, so such
// content flows through the pipeline as if unencrypted.
func applyKeyTag(manifest *models.Manifest, attrList string, base *url.URL) {
	attrs := parseAttributes(attrList)

	switch strings.ToUpper(attrs["METHOD"]) {
	case "NONE":
		manifest.Encryption = nil
	case "AES-128":
		uri, ok := attrs["URI"]
		if !ok || uri == "" {
			return
		}
		manifest.Encryption = &models.EncryptionInfo{
			Method: models.EncryptionAES128,
			KeyURL: resolveURL(base, uri),
			IVHex:  attrs["IV"],
		}
	}
}
