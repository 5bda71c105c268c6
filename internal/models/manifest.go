// Package models defines core data structures for segmented media jobs.
package models

import "strings"

// EncryptionMethod identifies how segment payloads are encrypted.
type EncryptionMethod int

const (
	EncryptionNone EncryptionMethod = iota
	EncryptionAES128
)

func (m EncryptionMethod) String() string {
	switch m {
	case EncryptionAES128:
		return "AES-128"
	default:
		return "NONE"
	}
}

// EncryptionInfo holds the active encryption context declared by a playlist.
type EncryptionInfo struct {
	Method EncryptionMethod
	KeyURL string

	// IVHex is the raw IV attribute value, empty when the playlist omits
	// it. An explicit IV overrides per-segment derivation and is reused
	// for every segment.
	IVHex string
}

// Variant is one quality option listed in a master playlist.
type Variant struct {
	Bandwidth  uint64
	Resolution string
	URL        string
}

// Manifest is a parsed playlist: either a master listing variants or a
// media playlist listing segment URLs. Segment and variant URLs are
// always absolute, resolved against the URL of the playlist they were
// read from.
type Manifest struct {
	URL           string
	IsMaster      bool
	Variants      []Variant
	Segments      []string
	Encryption    *EncryptionInfo
	MediaSequence uint64
}

// LooksLikeManifest reports whether a URL plausibly points at an HLS
// playlist rather than a single media file.
func LooksLikeManifest(urlStr string) bool {
	lower := strings.ToLower(urlStr)
	return strings.Contains(lower, ".m3u8") || strings.Contains(lower, "format=m3u8")
}
