// Package flagcodec implements the keyed binary flag token format: a 16-byte
// identity payload authenticated with HMAC-SHA1 and rendered in one of two
// interchangeable wire encodings.
package flagcodec

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Encoding selects the wire representation of an authenticated flag block.
type Encoding string

const (
	// EncodingLegacy is the printable form: "ENO" + standard base64 of the
	// 36-byte authenticated block.
	EncodingLegacy Encoding = "legacy"
	// EncodingStego hides the block in Unicode combining marks distributed
	// across four buckets marked F/L/A/G behind an emoji banner.
	EncodingStego Encoding = "stego"
)

// IsValid reports whether e is a known encoding.
func (e Encoding) IsValid() bool {
	return e == EncodingLegacy || e == EncodingStego
}

const (
	legacyPrefix = "ENO"

	payloadLen = 16
	digestLen  = sha1.Size // 20
	blockLen   = payloadLen + digestLen
)

// ErrInvalidFlag is returned by Parse for any token that does not decode to
// an authentic flag: wrong length, unknown symbols, bad base64, or digest
// mismatch. Callers treat it as a normal "invalid submission" outcome.
var ErrInvalidFlag = errors.New("flagcodec: invalid flag")

// Identity is the immutable 4-tuple a flag token authenticates.
// The zero value is a valid (if meaningless) identity.
type Identity struct {
	ServiceID  uint32
	VariantIdx uint32
	OwnerID    uint32
	RoundID    uint32
}

// String renders the identity for log lines. The signing digest is never
// part of it.
func (id Identity) String() string {
	return fmt.Sprintf("flag(service=%d variant=%d owner=%d round=%d)",
		id.ServiceID, id.VariantIdx, id.OwnerID, id.RoundID)
}

// payload serializes the identity as 16 little-endian bytes in the fixed
// field order serviceId, variantIndex, ownerTeamId, roundId.
func (id Identity) payload() [payloadLen]byte {
	var p [payloadLen]byte
	binary.LittleEndian.PutUint32(p[0:4], id.ServiceID)
	binary.LittleEndian.PutUint32(p[4:8], id.VariantIdx)
	binary.LittleEndian.PutUint32(p[8:12], id.OwnerID)
	binary.LittleEndian.PutUint32(p[12:16], id.RoundID)
	return p
}

func identityFromPayload(p []byte) Identity {
	return Identity{
		ServiceID:  binary.LittleEndian.Uint32(p[0:4]),
		VariantIdx: binary.LittleEndian.Uint32(p[4:8]),
		OwnerID:    binary.LittleEndian.Uint32(p[8:12]),
		RoundID:    binary.LittleEndian.Uint32(p[12:16]),
	}
}

// authenticatedBlock returns payload || HMAC-SHA1(key, payload), 36 bytes.
func authenticatedBlock(id Identity, key []byte) []byte {
	p := id.payload()
	mac := hmac.New(sha1.New, key)
	mac.Write(p[:])
	return mac.Sum(p[:])
}

// Encode renders the identity as a flag token string under the given key and
// encoding. The only error condition is an unknown encoding.
func Encode(id Identity, key []byte, enc Encoding) (string, error) {
	block := authenticatedBlock(id, key)
	switch enc {
	case EncodingLegacy:
		return legacyPrefix + base64.StdEncoding.EncodeToString(block), nil
	case EncodingStego:
		return stegoEncode(block), nil
	default:
		return "", fmt.Errorf("flagcodec: unknown encoding %q", enc)
	}
}

// Parse validates a raw token against the key and recovers its identity.
// Every malformed or tampered token yields ErrInvalidFlag; Parse never
// panics on arbitrary input.
func Parse(token []byte, key []byte, enc Encoding) (Identity, error) {
	var (
		block []byte
		err   error
	)
	switch enc {
	case EncodingLegacy:
		block, err = legacyDecode(token)
	case EncodingStego:
		block, err = stegoDecode(token)
	default:
		return Identity{}, fmt.Errorf("flagcodec: unknown encoding %q", enc)
	}
	if err != nil {
		return Identity{}, err
	}
	if len(block) != blockLen {
		return Identity{}, ErrInvalidFlag
	}

	payload := block[:payloadLen]
	claimed := block[payloadLen:]
	mac := hmac.New(sha1.New, key)
	mac.Write(payload)
	if !hmac.Equal(claimed, mac.Sum(nil)) {
		return Identity{}, ErrInvalidFlag
	}
	return identityFromPayload(payload), nil
}

func legacyDecode(token []byte) ([]byte, error) {
	s := strings.TrimSpace(string(token))
	if !strings.HasPrefix(s, legacyPrefix) {
		return nil, ErrInvalidFlag
	}
	block, err := base64.StdEncoding.DecodeString(s[len(legacyPrefix):])
	if err != nil {
		return nil, ErrInvalidFlag
	}
	return block, nil
}
