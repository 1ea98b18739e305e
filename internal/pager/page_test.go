package pager

import "testing"

func TestPageHeaderRoundTrip(t *testing.T) {
	cases := []PageHeader{
		{Kind: PageKindKeyValueLeaf, Version: CurrentFormatVersion, RecordPageKey: 0, Revision: 0, IndexType: IndexTypeDocument},
		{Kind: PageKindIndirect, Version: CurrentFormatVersion, RecordPageKey: 1 << 40, Revision: 77, IndexType: IndexTypePath},
		{Kind: PageKindRevisionRoot, Version: CurrentFormatVersion, RecordPageKey: 123456789, Revision: 2, IndexType: IndexTypeCAS},
	}
	for _, want := range cases {
		buf := make([]byte, 64)
		n := MarshalHeader(&want, buf)
		got, m := UnmarshalHeader(buf)
		if n != m {
			t.Fatalf("header length mismatch: wrote %d read %d", n, m)
		}
		if got.Kind != want.Kind || got.Version != want.Version ||
			got.RecordPageKey != want.RecordPageKey ||
			got.Revision != want.Revision || got.IndexType != want.IndexType {
			t.Fatalf("header round trip: got %+v want %+v", got, want)
		}
	}
}

func TestPageCRCDetectsCorruption(t *testing.T) {
	hdr := PageHeader{Kind: PageKindKeyValueLeaf, Version: CurrentFormatVersion, RecordPageKey: 5, Revision: 1, IndexType: IndexTypeDocument}
	buf := make([]byte, 128)
	hlen := MarshalHeader(&hdr, buf)
	for i := hlen; i < len(buf); i++ {
		buf[i] = byte(i)
	}
	SetPageCRC(buf, hlen)
	if err := VerifyPageCRC(buf, hlen); err != nil {
		t.Fatalf("VerifyPageCRC on pristine page: %v", err)
	}

	buf[hlen+10] ^= 0xFF
	if err := VerifyPageCRC(buf, hlen); err == nil {
		t.Fatal("expected CRC mismatch after flipping a body byte")
	}
}

func TestPageKindStrings(t *testing.T) {
	if PageKindKeyValueLeaf.String() != "KeyValueLeaf" {
		t.Fatalf("unexpected string for leaf kind: %s", PageKindKeyValueLeaf)
	}
	if got := PageKind(0xEE).String(); got != "Unknown(0xee)" {
		t.Fatalf("unexpected string for unknown kind: %s", got)
	}
}
