package cryptoutil

import (
	"bytes"
	"testing"
)

func TestWrapUnwrapShareRoundTrip(t *testing.T) {
	share := []byte{0x01, 0x02, 0x03, 0xff, 0x00, 0xab}

	wrapped, err := WrapShare(share, "correct horse battery staple")
	if err != nil {
		t.Fatalf("WrapShare: %v", err)
	}

	got, err := UnwrapShare(wrapped, "correct horse battery staple")
	if err != nil {
		t.Fatalf("UnwrapShare: %v", err)
	}
	if !bytes.Equal(got, share) {
		t.Errorf("round trip mismatch: got %v want %v", got, share)
	}
}

func TestUnwrapShareRejectsWrongPassphrase(t *testing.T) {
	wrapped, err := WrapShare([]byte("share-data"), "correct-passphrase")
	if err != nil {
		t.Fatalf("WrapShare: %v", err)
	}

	if _, err := UnwrapShare(wrapped, "wrong-passphrase"); err == nil {
		t.Fatal("expected UnwrapShare to fail under the wrong passphrase")
	}
}

func TestMarshalUnmarshalWrappedShareRoundTrip(t *testing.T) {
	wrapped, err := WrapShare([]byte("share-data"), "pass")
	if err != nil {
		t.Fatalf("WrapShare: %v", err)
	}

	data, err := MarshalWrappedShare(wrapped)
	if err != nil {
		t.Fatalf("MarshalWrappedShare: %v", err)
	}

	parsed, err := UnmarshalWrappedShare(data)
	if err != nil {
		t.Fatalf("UnmarshalWrappedShare: %v", err)
	}

	got, err := UnwrapShare(parsed, "pass")
	if err != nil {
		t.Fatalf("UnwrapShare after JSON round trip: %v", err)
	}
	if string(got) != "share-data" {
		t.Errorf("got %q, want share-data", got)
	}
}
