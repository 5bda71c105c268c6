// Package parser turns HLS playlist text into structured manifests.
package parser

import (
	"net/url"
	"regexp"
	"strings"
)

// attrRe matches KEY=VALUE pairs inside a tag, where VALUE may be quoted.
var attrRe = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// parseAttributes parses an HLS attribute list into a map. Keys are
// upper-cased by the grammar; surrounding quotes are stripped from
// quoted values.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		if len(m) >= 3 {
			attrs[m[1]] = strings.Trim(m[2], `"`)
		}
	}
	return attrs
}

// resolveURL resolves a possibly relative reference against a base URL.
// Resolution always uses the URL of the playlist currently being parsed,
// so variant segments resolve against the variant's own URL.
func resolveURL(base *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if base == nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
