// Package codec implements nexachain's wire encoding (C1): every message is
// a 3-byte ASCII tag followed by a deterministic encoding of an ordered
// key-value map. The map encoding is canonical JSON (encoding/json sorts
// map[string]any keys alphabetically), the same approach the teacher
// codebase already used for its own canonical transaction payloads — see
// DESIGN.md for why no third-party serialisation library was introduced
// for this concern.
package codec

import (
	"encoding/json"
	"fmt"

	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// Tag identifies the kind of a wire message. Tags are always exactly 3
// ASCII bytes, matching §4.1.
type Tag string

const (
	TagTransaction       Tag = "TXN"
	TagBlock             Tag = "BLK"
	TagGenesisBlock      Tag = "GLK"
	TagHello             Tag = "HEY"
	TagHelloAck          Tag = "ACK"
	TagBlockHeightReq    Tag = "RBH"
	TagBlockHeightResp   Tag = "BLH"
	TagBlockListReq      Tag = "RBL"
	TagBlockListResp     Tag = "ABL"
	TagLeaderReq         Tag = "LRQ"
	TagLeaderResp        Tag = "LRS"
)

const tagLength = 3

// Encode writes tag + the canonical encoding of fields into a single frame
// payload (without the outer length prefix, which is the peer transport's
// concern per §6).
func Encode(tag Tag, fields map[string]any) ([]byte, error) {
	if len(tag) != tagLength {
		return nil, fmt.Errorf("%w: tag %q is not %d bytes", internalerrors.ErrBadTag, tag, tagLength)
	}
	body, err := CanonicalEncode(fields)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, tagLength+len(body))
	out = append(out, tag...)
	out = append(out, body...)
	return out, nil
}

// CanonicalEncode serialises fields as canonical JSON. encoding/json sorts
// map[string]V keys lexicographically, which satisfies §4.1/§4.2's
// "canonicalise keys by sorted order before encoding" requirement without
// a bespoke encoder.
func CanonicalEncode(fields map[string]any) ([]byte, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return body, nil
}

// Decode splits a frame payload into its tag and canonical map, verifying
// the tag matches want. Passing an empty want skips the check (used by
// dispatchers that need to read the tag before picking a target type).
func Decode(payload []byte, want Tag) (Tag, map[string]any, error) {
	if len(payload) < tagLength {
		return "", nil, fmt.Errorf("%w: payload shorter than tag", internalerrors.ErrBadTag)
	}
	got := Tag(payload[:tagLength])
	if want != "" && got != want {
		return got, nil, fmt.Errorf("%w: got %q want %q", internalerrors.ErrBadTag, got, want)
	}
	var fields map[string]any
	if err := json.Unmarshal(payload[tagLength:], &fields); err != nil {
		return got, nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return got, fields, nil
}

// PeekTag reads only the tag from a frame payload, for dispatch decisions
// (e.g. Block deserialisation choosing between BLK and GLK per §4.1).
func PeekTag(payload []byte) (Tag, error) {
	if len(payload) < tagLength {
		return "", fmt.Errorf("%w: payload shorter than tag", internalerrors.ErrBadTag)
	}
	return Tag(payload[:tagLength]), nil
}
