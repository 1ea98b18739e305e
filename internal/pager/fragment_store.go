package pager

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// fragmentStore is the append-only backing file pages are durably written
// to. Every page is stored as a 4-byte little-endian length prefix
// followed by its bytes; a PageReference's PageKey is the byte offset of
// that length prefix, so resolving a reference is a single positioned
// read (spec.md §6's on-disk format).
type fragmentStore struct {
	mu sync.Mutex
	f  *os.File
}

func openFragmentStore(path string) (*fragmentStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pager: open fragment store: %w", err)
	}
	return &fragmentStore{f: f}, nil
}

// Append writes data to the end of the store and returns the offset of
// its length prefix, usable directly as a PageReference.PageKey.
func (s *fragmentStore) Append(data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("pager: seek fragment store: %w", err)
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := s.f.Write(lenBuf[:]); err != nil {
		return 0, fmt.Errorf("pager: write length prefix: %w", err)
	}
	if _, err := s.f.Write(data); err != nil {
		return 0, fmt.Errorf("pager: write page bytes: %w", err)
	}
	return off, nil
}

// Read returns the page bytes stored at pageKey.
func (s *fragmentStore) Read(pageKey int64) ([]byte, error) {
	if pageKey == NullPageKey {
		return nil, fmt.Errorf("pager: read of null page key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var lenBuf [4]byte
	if _, err := s.f.ReadAt(lenBuf[:], pageKey); err != nil {
		return nil, fmt.Errorf("pager: read length prefix at %d: %w", pageKey, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := s.f.ReadAt(data, pageKey+4); err != nil {
		return nil, fmt.Errorf("pager: read page body at %d: %w", pageKey, err)
	}
	return data, nil
}

func (s *fragmentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
