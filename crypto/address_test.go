package crypto

import (
	"bytes"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0x42}, AddressLength)
	addr := NewAddress(AccountPrefix, raw)

	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %q", decoded.Prefix())
	}
	if !decoded.Equal(addr) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), addr.Bytes())
	}
}

func TestAddressIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("empty address should be zero")
	}
	if !NewAddress(AssetPrefix, make([]byte, AddressLength)).IsZero() {
		t.Fatalf("all-zero address should be zero")
	}
	if NewAddress(AssetPrefix, bytes.Repeat([]byte{1}, AddressLength)).IsZero() {
		t.Fatalf("non-zero address reported as zero")
	}
}

func TestNewAddressCopiesInput(t *testing.T) {
	raw := bytes.Repeat([]byte{0x07}, AddressLength)
	addr := NewAddress(AccountPrefix, raw)
	raw[0] = 0xFF
	if addr.Bytes()[0] != 0x07 {
		t.Fatalf("address shares caller buffer")
	}
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.PubKey().Address().Equal(key.PubKey().Address()) {
		t.Fatalf("restored key derived a different address")
	}
}

func TestAddressTextMarshal(t *testing.T) {
	addr := NewAddress(AssetPrefix, bytes.Repeat([]byte{0x09}, AddressLength))
	text, err := addr.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Address
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(addr) || out.Prefix() != AssetPrefix {
		t.Fatalf("unexpected decoded address %s", out)
	}
}
