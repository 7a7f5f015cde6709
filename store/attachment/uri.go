// Package attachment holds helpers shared by the attachment file stores.
package attachment

import (
	"fmt"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// ObjectKey returns a unique, date-partitioned object key for filename.
func ObjectKey(prefix, filename string) string {
	return path.Join(prefix, time.Now().UTC().Format("2006/01/02"), uuid.New().String(), SanitizeFilename(filename))
}

// SanitizeFilename strips path components and control characters.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == "/" || name == ".." {
		return "attachment"
	}
	return name
}

// FormatURI returns scheme://bucket/key.
func FormatURI(scheme, bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", scheme, bucket, key)
}

// ParseURI splits a scheme://bucket/key URI.
func ParseURI(scheme, uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("invalid %s uri: %s", scheme, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid %s uri (no key): %s", scheme, uri)
	}
	return bucket, key, nil
}
