package utils

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectMimeAndExt analyzes a byte slice to determine both its MIME type and standard extension.
// It returns ("application/octet-stream", ".bin") if identification fails.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := "application/octet-stream"
	if len(data) > 0 {
		probe := data
		if len(probe) > 512 {
			probe = probe[:512]
		}
		mimeType = http.DetectContentType(probe)
	}
	if idx := strings.IndexByte(mimeType, ';'); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType, mimeToExt(mimeType)
}

// mimeToExt converts a MIME type to its first standard extension, defaulting to ".bin".
func mimeToExt(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

// IsImageMime reports whether the MIME type denotes a directly renderable image.
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// SafeFilename strips path components and control characters from an
// uploaded or downloaded filename, keeping only the base name.
func SafeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "" {
		return "file"
	}
	return base
}
