package c4gh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// buildTestHeader assembles a header with the given number of packets,
// each sealed for a freshly generated recipient, and returns the
// recipient key pairs alongside.
func buildTestHeader(t *testing.T, packets int) (*Header, []*KeyPair, *SessionKey) {
	t.Helper()

	session := &SessionKey{
		DataMethod: DataMethodChaCha20IETFPoly1305,
		key:        bytes.Repeat([]byte{0xAB}, SessionKeySize),
	}

	header := &Header{Version: Version}
	readers := make([]*KeyPair, 0, packets)
	for i := 0; i < packets; i++ {
		reader, err := GenerateKeyPair()
		if err != nil {
			t.Fatalf("failed to generate key pair: %v", err)
		}
		packet, err := Wrap(session, reader.Public)
		if err != nil {
			t.Fatalf("failed to wrap session key: %v", err)
		}
		header.Packets = append(header.Packets, *packet)
		readers = append(readers, reader)
	}
	return header, readers, session
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	header, _, _ := buildTestHeader(t, 3)
	encoded := header.Encode()

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if len(decoded.Packets) != 3 {
		t.Fatalf("expected 3 packets, got %d", len(decoded.Packets))
	}

	reencoded := decoded.Encode()
	if !bytes.Equal(encoded, reencoded) {
		t.Fatal("re-encoded header is not byte-identical to the original")
	}
	if decoded.EncodedSize() != len(encoded) {
		t.Fatalf("EncodedSize() = %d, want %d", decoded.EncodedSize(), len(encoded))
	}
}

func TestDecodePrefixWithTrailingPayload(t *testing.T) {
	header, _, _ := buildTestHeader(t, 2)
	encoded := header.Encode()
	payload := bytes.Repeat([]byte{0xEE}, 512)

	decoded, consumed, err := DecodePrefix(append(append([]byte(nil), encoded...), payload...))
	if err != nil {
		t.Fatalf("DecodePrefix() failed: %v", err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed = %d, want %d", consumed, len(encoded))
	}
	if len(decoded.Packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(decoded.Packets))
	}
}

func TestDecodePreservesPacketOrder(t *testing.T) {
	header, _, _ := buildTestHeader(t, 4)
	encoded := header.Encode()

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	for i := range header.Packets {
		if header.Packets[i].WriterKey != decoded.Packets[i].WriterKey {
			t.Fatalf("packet %d out of order after round trip", i)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	valid, _, _ := buildTestHeader(t, 1)
	encoded := valid.Encode()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name: "bad magic",
			mutate: func(b []byte) []byte {
				b[0] = 'x'
				return b
			},
		},
		{
			name: "unsupported version",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[8:], 2)
				return b
			},
		},
		{
			name: "zero packet count",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[12:], 0)
				return b
			},
		},
		{
			name: "excessive packet count",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[12:], MaxPackets+1)
				return b
			},
		},
		{
			name: "packet length beyond data",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[16:], uint32(len(b)))
				return b
			},
		},
		{
			name: "packet length below minimum",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[16:], 8)
				return b
			},
		},
		{
			name: "truncated preamble",
			mutate: func(b []byte) []byte {
				return b[:10]
			},
		},
		{
			name: "truncated packet",
			mutate: func(b []byte) []byte {
				return b[:len(b)-4]
			},
		},
		{
			name: "trailing garbage",
			mutate: func(b []byte) []byte {
				return append(b, 0xFF, 0xFF)
			},
		},
		{
			name: "unknown packet method",
			mutate: func(b []byte) []byte {
				binary.LittleEndian.PutUint32(b[20:], 7)
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := tt.mutate(append([]byte(nil), encoded...))
			_, err := Decode(data)
			if err == nil {
				t.Fatal("Decode() expected error, got nil")
			}
			var malformedErr *MalformedHeaderError
			if !errors.As(err, &malformedErr) {
				t.Fatalf("expected MalformedHeaderError, got %T: %v", err, err)
			}
		})
	}
}
