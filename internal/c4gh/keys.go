package c4gh

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

const keySize = 32

// KeyPair holds an X25519 key pair used for header packet encryption.
type KeyPair struct {
	Private [keySize]byte
	Public  [keySize]byte
}

// GenerateKeyPair creates a fresh X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	public, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(kp.Public[:], public)
	return &kp, nil
}

// ParsePrivateKey decodes a base64-encoded 32-byte X25519 private key
// and derives its public half. The input may also name a file holding
// the base64 text, indicated by a "file://" prefix.
func ParsePrivateKey(value string) (*KeyPair, error) {
	if path, ok := strings.CutPrefix(value, "file://"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key file: %w", err)
		}
		value = strings.TrimSpace(string(data))
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(raw) != keySize {
		return nil, fmt.Errorf("invalid private key size: expected %d bytes, got %d", keySize, len(raw))
	}

	var kp KeyPair
	copy(kp.Private[:], raw)
	public, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(kp.Public[:], public)
	return &kp, nil
}

// ParsePublicKey decodes a base64-encoded 32-byte X25519 public key.
func ParsePublicKey(value string) ([keySize]byte, error) {
	var public [keySize]byte
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return public, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(raw) != keySize {
		return public, fmt.Errorf("invalid public key size: expected %d bytes, got %d", keySize, len(raw))
	}
	copy(public[:], raw)
	return public, nil
}

// SessionKey is the symmetric payload key recovered from a data key
// packet. It lives only in process memory; callers must Destroy it as
// soon as it has been re-wrapped.
type SessionKey struct {
	// DataMethod records the payload encryption method declared in the
	// source packet.
	DataMethod uint32
	key        []byte
}

// NewSessionKey copies raw key material into a SessionKey ready for
// sealing into a data key packet.
func NewSessionKey(dataMethod uint32, key []byte) *SessionKey {
	buf := make([]byte, len(key))
	copy(buf, key)
	return &SessionKey{DataMethod: dataMethod, key: buf}
}

// Bytes exposes the raw key material.
func (s *SessionKey) Bytes() []byte {
	return s.key
}

// Destroy zeroes the key material in place. The SessionKey must not be
// used afterwards.
func (s *SessionKey) Destroy() {
	for i := range s.key {
		s.key[i] = 0
	}
	s.key = nil
}

// PacketContent is the decrypted body of a header packet.
type PacketContent struct {
	Type uint32
	// SessionKey is set for data key packets.
	SessionKey *SessionKey
	// EditList holds the raw edit list body for edit list packets.
	EditList []byte
}

// deriveSharedKey computes the symmetric key protecting a header
// packet. Both sides hash the X25519 shared secret together with the
// writer and reader public keys (BLAKE2b-512) and use the upper half,
// matching libsodium's crypto_kx derivation with the writer in the
// client role.
func deriveSharedKey(shared, writerPublic, readerPublic []byte) ([]byte, error) {
	h, err := blake2b.New512(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize BLAKE2b: %w", err)
	}
	h.Write(shared)
	h.Write(writerPublic)
	h.Write(readerPublic)
	digest := h.Sum(nil)
	return digest[32:], nil
}

// TryUnwrap attempts authenticated decryption of one header packet
// with the reader's key pair. A false result means the packet is
// sealed for a different recipient or has been tampered with; that is
// an expected per-packet outcome, not an error. Errors are reserved
// for broken key material.
func TryUnwrap(p *Packet, reader *KeyPair) (*PacketContent, bool, error) {
	shared, err := curve25519.X25519(reader.Private[:], p.WriterKey[:])
	if err != nil {
		return nil, false, fmt.Errorf("X25519 key exchange failed: %w", err)
	}
	key, err := deriveSharedKey(shared, p.WriterKey[:], reader.Public[:])
	if err != nil {
		return nil, false, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create cipher: %w", err)
	}

	body, err := aead.Open(nil, p.Nonce[:], p.Ciphertext, nil)
	if err != nil {
		// Authentication failure: not our packet.
		return nil, false, nil
	}
	return parsePacketContent(body)
}

// parsePacketContent interprets the decrypted packet body.
func parsePacketContent(body []byte) (*PacketContent, bool, error) {
	if len(body) < 4 {
		return nil, false, malformed("decrypted packet body too short")
	}
	packetType := binary.LittleEndian.Uint32(body)
	switch packetType {
	case PacketTypeDataKey:
		if len(body) != 4+4+SessionKeySize {
			return nil, false, malformed("data key packet has invalid size %d", len(body))
		}
		dataMethod := binary.LittleEndian.Uint32(body[4:])
		if dataMethod != DataMethodChaCha20IETFPoly1305 {
			return nil, false, malformed("unsupported data encryption method %d", dataMethod)
		}
		return &PacketContent{
			Type: packetType,
			SessionKey: &SessionKey{
				DataMethod: dataMethod,
				key:        append([]byte(nil), body[8:]...),
			},
		}, true, nil
	case PacketTypeEditList:
		return &PacketContent{
			Type:     packetType,
			EditList: append([]byte(nil), body[4:]...),
		}, true, nil
	default:
		return nil, false, malformed("unknown packet type %d", packetType)
	}
}

// Wrap seals session key material for a new recipient. A fresh
// ephemeral writer key pair and nonce are generated per call, so
// wrapping the same key twice never produces the same ciphertext.
func Wrap(session *SessionKey, recipientPublic [keySize]byte) (*Packet, error) {
	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephemeral.Private[:], recipientPublic[:])
	if err != nil {
		return nil, fmt.Errorf("X25519 key exchange failed: %w", err)
	}
	key, err := deriveSharedKey(shared, ephemeral.Public[:], recipientPublic[:])
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	body := make([]byte, 0, 8+SessionKeySize)
	body = binary.LittleEndian.AppendUint32(body, PacketTypeDataKey)
	body = binary.LittleEndian.AppendUint32(body, session.DataMethod)
	body = append(body, session.Bytes()...)

	packet := &Packet{Method: HeaderMethodX25519ChaCha20Poly1305}
	copy(packet.WriterKey[:], ephemeral.Public[:])
	if _, err := io.ReadFull(rand.Reader, packet.Nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	packet.Ciphertext = aead.Seal(nil, packet.Nonce[:], body, nil)

	// The plaintext body held the session key.
	for i := range body {
		body[i] = 0
	}
	return packet, nil
}
