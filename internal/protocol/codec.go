package protocol

import (
	"bytes"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/alis2001/chat-service/internal/merr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses one text frame. It fails with merr.ErrProtocol when the
// frame is not a JSON object or has no type.
func Decode(raw []byte) (Inbound, error) {
	var in Inbound
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return in, merr.Wrap(merr.ErrProtocol, "frame is not a json object")
	}
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return in, merr.Wrapf(merr.ErrProtocol, "decode frame: %v", err)
	}
	if in.Type == "" {
		return in, merr.Wrap(merr.ErrProtocol, "frame has no type")
	}
	return in, nil
}

// Encode marshals an outbound envelope.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return data, nil
}

// MustEncode is Encode for envelopes built from plain strings and structs,
// which cannot fail to marshal.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ErrorFrame builds an error envelope with text.
func ErrorFrame(text string) []byte {
	return MustEncode(ErrorEnvelope{Type: TypeError, Error: text})
}

// AuthErrorFrame builds an auth_error envelope with text.
func AuthErrorFrame(text string) []byte {
	return MustEncode(ErrorEnvelope{Type: TypeAuthError, Error: text})
}
