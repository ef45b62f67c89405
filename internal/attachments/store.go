// Package attachments stores uploaded image bytes under collision-resistant
// keys and hands out references that messages can point at.
package attachments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

const keyPrefix = "images/"

var (
	ErrNotFound    = errors.New("attachment not found")
	ErrKeyConflict = errors.New("attachment key already holds different content")
	ErrInvalidKey  = errors.New("invalid attachment key")
)

// Ref is a durable handle to stored bytes. It is the key the bytes were
// stored under.
type Ref string

type Blob struct {
	Ref         Ref
	ContentType string
	Data        []byte
}

type Store interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (Ref, error)
	Open(ctx context.Context, ref Ref) (*Blob, error)
	// Resolve turns a reference into a URL clients can fetch.
	Resolve(ref Ref) (string, error)
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// NewKey builds the storage key for an upload: creation time, a digest of the
// content and the sanitized original file name.
func NewKey(now time.Time, name string, data []byte) string {
	sum := blake2b.Sum256(data)
	digest := hex.EncodeToString(sum[:16])

	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "image"
	}
	if len(base) > 96 {
		base = base[len(base)-96:]
	}

	return fmt.Sprintf("%s%d_%s_%s", keyPrefix, now.UnixMilli(), digest, base)
}

func ValidateKey(key string) error {
	if !strings.HasPrefix(key, keyPrefix) || len(key) == len(keyPrefix) {
		return ErrInvalidKey
	}
	rest := key[len(keyPrefix):]
	if strings.Contains(rest, "/") || unsafeName.MatchString(rest) {
		return ErrInvalidKey
	}
	return nil
}

type urlResolver struct {
	baseURL string
}

func (r urlResolver) Resolve(ref Ref) (string, error) {
	if err := ValidateKey(string(ref)); err != nil {
		return "", err
	}
	return strings.TrimRight(r.baseURL, "/") + "/attachments/" + string(ref), nil
}
