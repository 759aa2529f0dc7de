package core

import (
	"encoding/json"
	"fmt"

	"nexachain.dev/nexachain/internal/codec"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// Hello is the initiator's handshake message (§6): on TCP connect, the
// initiator sends HEY{address, request_id}.
type Hello struct {
	Address   string `json:"address"`
	RequestID string `json:"request_id"`
}

// HelloAck is the responder's handshake acknowledgement (§6).
type HelloAck struct {
	Address   string `json:"address"`
	RequestID string `json:"request_id"`
}

// BlockHeightRequest is RBH{my_height} (§4.8 boot-time sync protocol).
type BlockHeightRequest struct {
	RequestID string `json:"request_id"`
	Height    uint64 `json:"height"`
	Address   string `json:"address"`
}

// BlockHeightResponse is BLH{height, address} (§4.8).
type BlockHeightResponse struct {
	RequestID string `json:"request_id"`
	Height    uint64 `json:"height"`
	Address   string `json:"address"`
}

// BlockListRequest is RBL{start_from} (§4.8).
type BlockListRequest struct {
	RequestID string `json:"request_id"`
	StartFrom uint64 `json:"start_from"`
}

// BlockListResponse is ABL{blocks} (§4.8).
type BlockListResponse struct {
	RequestID string   `json:"request_id"`
	Blocks    []*Block `json:"blocks"`
}

// LeaderElectionRequest is LRQ{my_address} (§4.8 miner sub-FSM).
type LeaderElectionRequest struct {
	RequestID string `json:"request_id"`
	Address   string `json:"address"`
}

// LeaderElectionResponse is LRS{its_address} (§4.8).
type LeaderElectionResponse struct {
	RequestID string `json:"request_id"`
	Address   string `json:"address"`
}

// marshalFields round-trips v through JSON into a plain map[string]any so it
// can be handed to codec.Encode, and back again on decode. This mirrors
// Transaction/Block's own ToFields/From helpers for the smaller envelope
// messages, which don't warrant hand-written field lists.
func marshalFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return fields, nil
}

func unmarshalFields(fields map[string]any, v any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return nil
}

func serializeTagged(tag codec.Tag, v any) ([]byte, error) {
	fields, err := marshalFields(v)
	if err != nil {
		return nil, err
	}
	return codec.Encode(tag, fields)
}

// Serialize implementations for each envelope, paired with package-level
// Deserialize* functions below. Kept mechanical on purpose: these carry no
// business logic beyond tagging.

func (m *Hello) Serialize() ([]byte, error)                   { return serializeTagged(codec.TagHello, m) }
func (m *HelloAck) Serialize() ([]byte, error)                { return serializeTagged(codec.TagHelloAck, m) }
func (m *BlockHeightRequest) Serialize() ([]byte, error)      { return serializeTagged(codec.TagBlockHeightReq, m) }
func (m *BlockHeightResponse) Serialize() ([]byte, error)     { return serializeTagged(codec.TagBlockHeightResp, m) }
func (m *BlockListRequest) Serialize() ([]byte, error)        { return serializeTagged(codec.TagBlockListReq, m) }
func (m *BlockListResponse) Serialize() ([]byte, error)       { return serializeTagged(codec.TagBlockListResp, m) }
func (m *LeaderElectionRequest) Serialize() ([]byte, error)   { return serializeTagged(codec.TagLeaderReq, m) }
func (m *LeaderElectionResponse) Serialize() ([]byte, error)  { return serializeTagged(codec.TagLeaderResp, m) }

func DeserializeHello(payload []byte) (*Hello, error) {
	_, fields, err := codec.Decode(payload, codec.TagHello)
	if err != nil {
		return nil, err
	}
	var m Hello
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeHelloAck(payload []byte) (*HelloAck, error) {
	_, fields, err := codec.Decode(payload, codec.TagHelloAck)
	if err != nil {
		return nil, err
	}
	var m HelloAck
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeBlockHeightRequest(payload []byte) (*BlockHeightRequest, error) {
	_, fields, err := codec.Decode(payload, codec.TagBlockHeightReq)
	if err != nil {
		return nil, err
	}
	var m BlockHeightRequest
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeBlockHeightResponse(payload []byte) (*BlockHeightResponse, error) {
	_, fields, err := codec.Decode(payload, codec.TagBlockHeightResp)
	if err != nil {
		return nil, err
	}
	var m BlockHeightResponse
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeBlockListRequest(payload []byte) (*BlockListRequest, error) {
	_, fields, err := codec.Decode(payload, codec.TagBlockListReq)
	if err != nil {
		return nil, err
	}
	var m BlockListRequest
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeBlockListResponse(payload []byte) (*BlockListResponse, error) {
	_, fields, err := codec.Decode(payload, codec.TagBlockListResp)
	if err != nil {
		return nil, err
	}
	var m BlockListResponse
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeLeaderElectionRequest(payload []byte) (*LeaderElectionRequest, error) {
	_, fields, err := codec.Decode(payload, codec.TagLeaderReq)
	if err != nil {
		return nil, err
	}
	var m LeaderElectionRequest
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func DeserializeLeaderElectionResponse(payload []byte) (*LeaderElectionResponse, error) {
	_, fields, err := codec.Decode(payload, codec.TagLeaderResp)
	if err != nil {
		return nil, err
	}
	var m LeaderElectionResponse
	if err := unmarshalFields(fields, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
