package utils

import (
	"path/filepath"
	"strings"

	"go.lsp.dev/uri"
)

// FilePathToURI converts a file system path to a file:// URI.
// Relative paths are made absolute first so the URI is always rooted.
func FilePathToURI(path string) uri.URI {
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return uri.File(filepath.Clean(path))
}

// URIToFilePath converts a file:// URI back to a file system path.
// Non-file URIs are returned verbatim rather than panicking.
func URIToFilePath(u uri.URI) string {
	s := string(u)
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	fn, err := filename(u)
	if err != nil {
		return strings.TrimPrefix(s, "file://")
	}
	return fn
}

// filename recovers from the panic uri.URI.Filename raises on URIs that
// carry a non-file scheme or are otherwise malformed.
func filename(u uri.URI) (fn string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errMalformedURI
		}
	}()
	return u.Filename(), nil
}

type uriError string

func (e uriError) Error() string { return string(e) }

const errMalformedURI = uriError("malformed file URI")
