package attachments

import (
	"bytes"
	"context"
	"sync"
)

type Memory struct {
	urlResolver
	mu    sync.RWMutex
	blobs map[Ref]Blob
}

func NewMemory(baseURL string) *Memory {
	return &Memory{
		urlResolver: urlResolver{baseURL: baseURL},
		blobs:       make(map[Ref]Blob),
	}
}

func (s *Memory) Put(ctx context.Context, key string, contentType string, data []byte) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ref := Ref(key)
	if existing, ok := s.blobs[ref]; ok {
		if bytes.Equal(existing.Data, data) {
			return ref, nil
		}
		return "", ErrKeyConflict
	}
	s.blobs[ref] = Blob{
		Ref:         ref,
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
	}
	return ref, nil
}

func (s *Memory) Open(ctx context.Context, ref Ref) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	blob.Data = append([]byte(nil), blob.Data...)
	return &blob, nil
}

func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
