package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/sankey-copier/relay-server/internal/apperr"
	"github.com/vmihailenco/msgpack/v5"
)

// maxFrameLen bounds the outer length prefix against pathological/garbage
// input before an allocation is attempted.
const maxFrameLen = 16 << 20 // 16 MiB

// EncodeFrame serializes v (one of the message structs in messages.go) to a
// named-field MessagePack map and prefixes it with a 4-byte big-endian
// length.
func EncodeFrame(v any) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(body)))
	copy(frame[4:], body)
	return frame, nil
}

// EncodeBody serializes v without the length prefix, for transports (like
// the websocket gateway) that already frame individual messages.
func EncodeBody(v any) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return body, nil
}

// DecodeFrame strips and validates the length prefix, then decodes the
// discriminator and dispatches to the matching typed decoder. Returns
// apperr.KindDecode errors: MalformedFrame-equivalent for a bad length,
// UnknownMessageType for an unrecognized discriminator, FieldDecode for a
// field-level type mismatch.
func DecodeFrame(raw []byte) (MessageType, any, error) {
	if len(raw) < 4 {
		return "", nil, apperr.Decodef("MalformedFrame", "frame shorter than length prefix: %d bytes", len(raw))
	}
	declared := binary.BigEndian.Uint32(raw[0:4])
	body := raw[4:]
	if declared > maxFrameLen || int(declared) != len(body) {
		return "", nil, apperr.Decodef("MalformedFrame", "declared length %d does not match body length %d", declared, len(body))
	}
	return DecodeBody(body)
}

// DecodeBody decodes a message from its raw MessagePack body (no length
// prefix), used by transports that already frame whole messages.
func DecodeBody(body []byte) (MessageType, any, error) {
	var env Envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return "", nil, apperr.Wrap(apperr.KindDecode, "FieldDecode", "decode envelope", err)
	}

	var (
		out any
		err error
	)

	switch env.MessageType {
	case TypeHeartbeat:
		var m Heartbeat
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeRequestConfig:
		var m RequestConfig
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeRegister:
		var m Register
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeUnregister:
		var m Unregister
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeTradeSignal:
		var m TradeSignal
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypePositionSnapshot:
		var m PositionSnapshot
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeSyncRequest:
		var m SyncRequest
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeMasterConfig:
		var m MasterConfig
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeSlaveConfig:
		var m SlaveConfig
		err = msgpack.Unmarshal(body, &m)
		out = &m
	case TypeVLogsConfig:
		var m VLogsConfig
		err = msgpack.Unmarshal(body, &m)
		out = &m
	default:
		return "", nil, apperr.Decodef("UnknownMessageType", "unknown message_type: %q", env.MessageType)
	}

	if err != nil {
		return "", nil, apperr.Wrap(apperr.KindDecode, "FieldDecode", "decode "+string(env.MessageType)+" body", err)
	}
	return env.MessageType, out, nil
}
