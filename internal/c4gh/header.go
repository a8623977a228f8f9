// Package c4gh implements parsing, validation, and re-encryption of
// Crypt4GH file headers. Only the header region of a file is ever
// handled here; payload bytes never pass through this package.
package c4gh

import (
	"encoding/binary"
	"fmt"
)

const (
	// MagicBytes is the fixed 8-byte prefix of every Crypt4GH file.
	MagicBytes = "crypt4gh"

	// Version is the only supported Crypt4GH container version.
	Version = 1

	// HeaderMethodX25519ChaCha20Poly1305 is the only defined header
	// packet encryption method (X25519 key exchange, ChaCha20-Poly1305
	// authenticated encryption).
	HeaderMethodX25519ChaCha20Poly1305 = 0

	// PacketTypeDataKey marks a decrypted packet carrying session key material.
	PacketTypeDataKey = 0
	// PacketTypeEditList marks a decrypted packet carrying an edit list.
	PacketTypeEditList = 1

	// DataMethodChaCha20IETFPoly1305 is the payload encryption method
	// recorded inside a data key packet.
	DataMethodChaCha20IETFPoly1305 = 0

	// SessionKeySize is the size of the symmetric payload key in bytes.
	SessionKeySize = 32

	// MinHeaderSize is the smallest conceivable header region: magic
	// bytes, version and packet count. Anything shorter is malformed
	// before a single packet is read.
	MinHeaderSize = magicSize + 8

	// MaxPackets bounds the packet count field so a corrupt header
	// cannot trigger an enormous allocation.
	MaxPackets = 256

	magicSize     = 8
	writerKeySize = 32
	nonceSize     = 12
	tagSize       = 16

	// minPacketLength is the smallest valid encrypted packet: length
	// prefix, method, writer key, nonce, and an authentication tag
	// over an empty body.
	minPacketLength = 4 + 4 + writerKeySize + nonceSize + tagSize
)

// MalformedHeaderError indicates that header bytes could not be parsed.
// It is permanent: a malformed header never becomes valid on retry.
type MalformedHeaderError struct {
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed header: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &MalformedHeaderError{Reason: fmt.Sprintf(format, args...)}
}

// Packet is a single encrypted header packet. The ciphertext seals the
// packet content (data key or edit list) for exactly one recipient.
type Packet struct {
	Method    uint32
	WriterKey [writerKeySize]byte
	Nonce     [nonceSize]byte
	// Ciphertext holds the encrypted packet content followed by the
	// 16-byte Poly1305 tag.
	Ciphertext []byte
}

// encodedLength returns the on-wire packet length, including the
// 4-byte length prefix itself.
func (p *Packet) encodedLength() int {
	return 4 + 4 + writerKeySize + nonceSize + len(p.Ciphertext)
}

// Header is a decoded Crypt4GH header: an ordered sequence of
// encrypted packets. Order is significant and preserved on re-encoding.
type Header struct {
	Version uint32
	Packets []Packet
}

// Decode parses a complete Crypt4GH header from data. Trailing bytes
// after the final packet are rejected, so callers must pass exactly
// the header region. All parse failures are *MalformedHeaderError.
func Decode(data []byte) (*Header, error) {
	header, consumed, err := DecodePrefix(data)
	if err != nil {
		return nil, err
	}
	if consumed != len(data) {
		return nil, malformed("%d trailing bytes after final packet", len(data)-consumed)
	}
	return header, nil
}

// DecodePrefix parses a header from the start of data, tolerating
// trailing bytes, and returns the number of bytes the header occupies.
// Callers that range-read a bounded prefix of an object use this to
// locate the payload offset.
func DecodePrefix(data []byte) (*Header, int, error) {
	if len(data) < MinHeaderSize {
		return nil, 0, malformed("truncated preamble: %d bytes", len(data))
	}
	if string(data[:magicSize]) != MagicBytes {
		return nil, 0, malformed("bad magic bytes")
	}
	version := binary.LittleEndian.Uint32(data[magicSize:])
	if version != Version {
		return nil, 0, malformed("unsupported version %d", version)
	}
	count := binary.LittleEndian.Uint32(data[magicSize+4:])
	if count == 0 {
		return nil, 0, malformed("header contains no packets")
	}
	if count > MaxPackets {
		return nil, 0, malformed("packet count %d exceeds limit", count)
	}

	header := &Header{
		Version: version,
		Packets: make([]Packet, 0, count),
	}
	consumed := magicSize + 8
	for i := uint32(0); i < count; i++ {
		rest := data[consumed:]
		if len(rest) < 4 {
			return nil, 0, malformed("truncated length prefix in packet %d", i)
		}
		length := int(binary.LittleEndian.Uint32(rest))
		if length < minPacketLength {
			return nil, 0, malformed("packet %d length %d below minimum", i, length)
		}
		if length > len(rest) {
			return nil, 0, malformed("packet %d length %d exceeds remaining %d bytes", i, length, len(rest))
		}
		body := rest[4:length]
		consumed += length

		method := binary.LittleEndian.Uint32(body)
		if method != HeaderMethodX25519ChaCha20Poly1305 {
			return nil, 0, malformed("packet %d uses unknown encryption method %d", i, method)
		}

		var packet Packet
		packet.Method = method
		copy(packet.WriterKey[:], body[4:4+writerKeySize])
		copy(packet.Nonce[:], body[4+writerKeySize:4+writerKeySize+nonceSize])
		packet.Ciphertext = append([]byte(nil), body[4+writerKeySize+nonceSize:]...)
		header.Packets = append(header.Packets, packet)
	}
	return header, consumed, nil
}

// Encode serializes the header back to its binary form. Encoding a
// header produced by Decode without modification yields byte-identical
// output.
func (h *Header) Encode() []byte {
	size := magicSize + 8
	for i := range h.Packets {
		size += h.Packets[i].encodedLength()
	}

	out := make([]byte, 0, size)
	out = append(out, MagicBytes...)
	out = binary.LittleEndian.AppendUint32(out, h.Version)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(h.Packets)))
	for i := range h.Packets {
		p := &h.Packets[i]
		out = binary.LittleEndian.AppendUint32(out, uint32(p.encodedLength()))
		out = binary.LittleEndian.AppendUint32(out, p.Method)
		out = append(out, p.WriterKey[:]...)
		out = append(out, p.Nonce[:]...)
		out = append(out, p.Ciphertext...)
	}
	return out
}

// EncodedSize returns the number of bytes Encode will produce.
func (h *Header) EncodedSize() int {
	size := magicSize + 8
	for i := range h.Packets {
		size += h.Packets[i].encodedLength()
	}
	return size
}
