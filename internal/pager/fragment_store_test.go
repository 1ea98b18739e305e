package pager

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestFragmentStoreAppendReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.db")
	store, err := openFragmentStore(path)
	if err != nil {
		t.Fatalf("openFragmentStore: %v", err)
	}
	defer store.Close()

	first := []byte("first fragment")
	second := bytes.Repeat([]byte{0xAB}, 300)

	off1, err := store.Append(first)
	if err != nil {
		t.Fatalf("Append first: %v", err)
	}
	off2, err := store.Append(second)
	if err != nil {
		t.Fatalf("Append second: %v", err)
	}
	if off1 == off2 {
		t.Fatal("expected distinct offsets for sequential appends")
	}
	if want := off1 + 4 + int64(len(first)); off2 != want {
		t.Fatalf("second offset = %d, want %d (sequential layout)", off2, want)
	}

	got1, err := store.Read(off1)
	if err != nil {
		t.Fatalf("Read first: %v", err)
	}
	if !bytes.Equal(got1, first) {
		t.Fatalf("first fragment = %q, want %q", got1, first)
	}
	got2, err := store.Read(off2)
	if err != nil {
		t.Fatalf("Read second: %v", err)
	}
	if !bytes.Equal(got2, second) {
		t.Fatal("second fragment bytes differ after round trip")
	}
}

func TestFragmentStoreReadNullKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.db")
	store, err := openFragmentStore(path)
	if err != nil {
		t.Fatalf("openFragmentStore: %v", err)
	}
	defer store.Close()

	if _, err := store.Read(NullPageKey); err == nil {
		t.Fatal("expected an error reading the null page key")
	}
}

func TestFragmentStoreReadPastEndFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fragments.db")
	store, err := openFragmentStore(path)
	if err != nil {
		t.Fatalf("openFragmentStore: %v", err)
	}
	defer store.Close()

	if _, err := store.Append([]byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := store.Read(1 << 30); err == nil {
		t.Fatal("expected an error reading beyond the end of the store")
	}
}
