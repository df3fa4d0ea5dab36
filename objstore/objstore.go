package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ErrNotFound is returned for objects absent from the local store.
var ErrNotFound = errors.New("object not found")

// Stat describes a stored object.
type Stat struct {
	Size uint64
}

// Store is the IPFS-like content-addressed object store the engine consumes.
// Callers bound Stat and Read with their own context deadlines.
type Store interface {
	Stat(ctx context.Context, c cid.Cid) (Stat, error)
	Read(ctx context.Context, c cid.Cid) (io.ReadCloser, error)
	Put(ctx context.Context, data []byte) (cid.Cid, error)
	Has(ctx context.Context, c cid.Cid) (bool, error)
}

// MemStore keeps objects in memory, addressed by blake2b-256 raw CIDs.
type MemStore struct {
	mu      sync.RWMutex
	objects map[cid.Cid][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[cid.Cid][]byte)}
}

func (s *MemStore) Stat(ctx context.Context, c cid.Cid) (Stat, error) {
	if err := ctx.Err(); err != nil {
		return Stat{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[c]
	if !ok {
		return Stat{}, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return Stat{Size: uint64(len(data))}, nil
}

func (s *MemStore) Read(ctx context.Context, c cid.Cid) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) Put(ctx context.Context, data []byte) (cid.Cid, error) {
	if err := ctx.Err(); err != nil {
		return cid.Undef, err
	}
	digest, err := mh.Sum(data, mh.BLAKE2B_MIN+31, -1)
	if err != nil {
		return cid.Undef, err
	}
	c := cid.NewCidV1(cid.Raw, digest)

	s.mu.Lock()
	s.objects[c] = append([]byte(nil), data...)
	s.mu.Unlock()
	return c, nil
}

func (s *MemStore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[c]
	return ok, nil
}
