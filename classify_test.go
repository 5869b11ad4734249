package goswcache

import (
	"net/http"
	"net/url"
	"testing"
)

func TestIsDocumentLike(t *testing.T) {
	t.Parallel()

	const origin = "https://app.example.test"

	htmlEntry := &Entry{Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}}
	jsonEntry := &Entry{Header: http.Header{"Content-Type": []string{"application/json"}}}

	tests := []struct {
		name     string
		url      string
		cached   *Entry
		document bool
	}{
		{
			name:     "trailing slash is a document",
			url:      origin + "/",
			document: true,
		},
		{
			name:     "nested trailing slash is a document",
			url:      origin + "/settings/account/",
			document: true,
		},
		{
			name:     "index.html is a document",
			url:      origin + "/some/deep/path/index.html",
			document: true,
		},
		{
			name:     "cached html content-type wins over extension",
			url:      origin + "/report.json",
			cached:   htmlEntry,
			document: true,
		},
		{
			name:     "shallow same-origin path without extension is a document",
			url:      origin + "/about",
			document: true,
		},
		{
			name:     "shallow same-origin path with unknown extension is a document",
			url:      origin + "/app.v2",
			document: true,
		},
		{
			name:     "hashed asset is static",
			url:      origin + "/app.abc123.js",
			document: false,
		},
		{
			name:     "hashed asset stays static with a non-html cached entry",
			url:      origin + "/data.abc123.json",
			cached:   jsonEntry,
			document: false,
		},
		{
			name:     "deep asset path is static",
			url:      origin + "/static/img/logo.png",
			document: false,
		},
		{
			name:     "deep extensionless path is static",
			url:      origin + "/api/v1/users",
			document: false,
		},
		{
			name:     "cross-origin shallow path is static",
			url:      "https://cdn.example.test/lib",
			document: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, err := url.Parse(tt.url)
			if err != nil {
				t.Fatalf("parse url: %v", err)
			}
			if got := isDocumentLike(u, origin, tt.cached); got != tt.document {
				t.Errorf("isDocumentLike(%q) = %v, want %v", tt.url, got, tt.document)
			}
		})
	}
}

func TestPathDepth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path  string
		depth int
	}{
		{"/", 0},
		{"/about", 1},
		{"/about/", 1},
		{"/a/b", 2},
		{"/static/img/logo.png", 3},
	}

	for _, tt := range tests {
		if got := pathDepth(tt.path); got != tt.depth {
			t.Errorf("pathDepth(%q) = %d, want %d", tt.path, got, tt.depth)
		}
	}
}
