package goswcache

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// Extensions the build pipeline emits with a content hash in the filename.
// A URL carrying one of these never changes content, so it is always safe to
// serve from cache without revalidation.
var staticExtensions = map[string]struct{}{
	".js": {}, ".mjs": {}, ".css": {}, ".map": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".webp": {}, ".avif": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".otf": {}, ".eot": {},
	".json": {}, ".txt": {}, ".xml": {}, ".wasm": {},
	".mp3": {}, ".mp4": {}, ".webm": {}, ".ogg": {},
	".pdf": {}, ".zip": {},
}

// isDocumentLike reports whether a URL names a navigable HTML entry point
// (which must support live updates) rather than an immutable hashed build
// asset. The four heuristics are applied in a fixed precedence, first match
// wins:
//
//  1. the path ends in "/"
//  2. the final path segment is "index.html"
//  3. the cached response's Content-Type is in the text/html family
//  4. the URL is same-origin, at most one path segment deep, and its final
//     segment carries no recognized static-asset extension
//
// Rule 4 is the conservative fallback: an ambiguous shallow path is treated
// as a document, trading an occasional unnecessary background fetch for
// update-detection correctness.
func isDocumentLike(u *url.URL, origin string, cached *Entry) bool {
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}

	base := path.Base(p)
	if base == "index.html" {
		return true
	}

	if cached != nil && isHTMLContentType(cached.ContentType()) {
		return true
	}

	if sameOrigin(u, origin) && pathDepth(p) <= 1 {
		if _, static := staticExtensions[strings.ToLower(path.Ext(base))]; !static {
			return true
		}
	}

	return false
}

func isHTMLContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func sameOrigin(u *url.URL, origin string) bool {
	if origin == "" {
		return false
	}
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Scheme == o.Scheme && u.Host == o.Host
}

func pathDepth(p string) int {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}
