package c4gh

import "errors"

// ErrHeaderRejected indicates that no data key packet in a header
// decrypts under the service key. Like a malformed header, this is a
// permanent condition for the object.
var ErrHeaderRejected = errors.New("header rejected: no data key packet decrypts with the service key")

// Rewrap produces a new header granting the recipient access to the
// session key(s) found in the source header.
//
// Packet policy: data key packets that decrypt under the reader key
// are replaced in place by packets sealed for the recipient. Edit list
// packets that decrypt are carried over unmodified; their content is
// not needed for re-encryption. Packets that do not decrypt are
// dropped, since the emitted header is addressed exclusively to the
// new recipient. Relative order of the surviving packets is preserved.
//
// The session keys recovered along the way are zeroed before Rewrap
// returns.
func Rewrap(header *Header, reader *KeyPair, recipientPublic [keySize]byte) (*Header, error) {
	out := &Header{Version: header.Version}
	rewrapped := 0

	for i := range header.Packets {
		packet := &header.Packets[i]
		content, ok, err := TryUnwrap(packet, reader)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Sealed for someone else; drop it.
			continue
		}

		switch content.Type {
		case PacketTypeDataKey:
			replacement, err := Wrap(content.SessionKey, recipientPublic)
			content.SessionKey.Destroy()
			if err != nil {
				return nil, err
			}
			out.Packets = append(out.Packets, *replacement)
			rewrapped++
		case PacketTypeEditList:
			out.Packets = append(out.Packets, *packet)
		}
	}

	if rewrapped == 0 {
		return nil, ErrHeaderRejected
	}
	return out, nil
}

// ExtractSessionKey returns the session key from the first data key
// packet that decrypts under the reader key. The caller owns the
// returned key and must Destroy it.
func ExtractSessionKey(header *Header, reader *KeyPair) (*SessionKey, error) {
	for i := range header.Packets {
		content, ok, err := TryUnwrap(&header.Packets[i], reader)
		if err != nil {
			return nil, err
		}
		if !ok || content.Type != PacketTypeDataKey {
			continue
		}
		return content.SessionKey, nil
	}
	return nil, ErrHeaderRejected
}
