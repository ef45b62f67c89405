package attachments

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/golang/glog"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("attachments")

// Bolt keeps attachments in a single bbolt file. Each value is a 2-byte
// content type length, the content type, then the raw bytes.
type Bolt struct {
	urlResolver
	db *bolt.DB
}

func OpenBolt(path, baseURL string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open attachment db %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}

	glog.Infof("attachment store: bolt file %s", path)
	return &Bolt{urlResolver: urlResolver{baseURL: baseURL}, db: db}, nil
}

func (s *Bolt) Close() error {
	return s.db.Close()
}

func encodeBlob(contentType string, data []byte) []byte {
	out := make([]byte, 2+len(contentType)+len(data))
	binary.BigEndian.PutUint16(out, uint16(len(contentType)))
	copy(out[2:], contentType)
	copy(out[2+len(contentType):], data)
	return out
}

func decodeBlob(raw []byte) (string, []byte, error) {
	if len(raw) < 2 {
		return "", nil, fmt.Errorf("attachment record too short")
	}
	n := int(binary.BigEndian.Uint16(raw))
	if len(raw) < 2+n {
		return "", nil, fmt.Errorf("attachment record truncated")
	}
	data := make([]byte, len(raw)-2-n)
	copy(data, raw[2+n:])
	return string(raw[2 : 2+n]), data, nil
}

func (s *Bolt) Put(ctx context.Context, key string, contentType string, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if len(contentType) > 0xffff {
		return "", fmt.Errorf("content type too long")
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if existing := b.Get([]byte(key)); existing != nil {
			_, old, err := decodeBlob(existing)
			if err != nil {
				return err
			}
			if bytes.Equal(old, data) {
				return nil
			}
			return ErrKeyConflict
		}
		return b.Put([]byte(key), encodeBlob(contentType, data))
	})
	if err != nil {
		return "", err
	}
	return Ref(key), nil
}

func (s *Bolt) Open(ctx context.Context, ref Ref) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateKey(string(ref)); err != nil {
		return nil, err
	}

	var blob *Blob
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketName).Get([]byte(ref))
		if raw == nil {
			return ErrNotFound
		}
		contentType, data, err := decodeBlob(raw)
		if err != nil {
			return err
		}
		blob = &Blob{Ref: ref, ContentType: contentType, Data: data}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}
