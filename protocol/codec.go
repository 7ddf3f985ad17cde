package protocol

import (
	"bytes"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance
var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrMalformedFrame is returned for frames that are not valid JSON objects
	// or lack a known action.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownAction wraps ErrMalformedFrame for well-formed frames with an
	// action nobody handles.
	ErrUnknownAction = fmt.Errorf("%w: unknown action", ErrMalformedFrame)
)

// Wire format: {"action": "...", "data": {...}}. The login request carries
// its email next to the action instead of inside data.
type envelope struct {
	Action string              `json:"action"`
	Email  string              `json:"email,omitempty"`
	Data   jsoniter.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Action string `json:"action"`
	Data   any    `json:"data"`
}

// ActionOf extracts the action of a raw frame, or "" when it cannot be parsed.
func ActionOf(raw []byte) string {
	return json.Get(raw, "action").ToString()
}

// DecodeInbound parses a client frame. It never validates field contents;
// handlers do that so they can answer with a typed error.
func DecodeInbound(raw []byte) (Inbound, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Action {
	case ActionLogin:
		req := LoginRequest{Email: env.Email}
		if req.Email == "" && len(env.Data) > 0 {
			if err := decodeData(env, &req); err != nil {
				return nil, err
			}
		}
		return req, nil
	case ActionSendMessage:
		var req SendMessageRequest
		if err := decodeData(env, &req); err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, env.Action)
	}
}

// DecodeOutbound parses a server frame.
func DecodeOutbound(raw []byte) (Outbound, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Action {
	case ActionLoginResponse:
		return decodeAs[LoginResponse](env)
	case ActionSendMessageResponse:
		return decodeAs[SendMessageResponse](env)
	case ActionMessage:
		return decodeAs[ChatMessage](env)
	case ActionPresence:
		return decodeAs[PresenceEvent](env)
	case ActionSessionEvicted:
		return decodeAs[SessionEvicted](env)
	case ActionError:
		return decodeAs[ErrorResponse](env)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownAction, env.Action)
	}
}

func decodeAs[T Outbound](env *envelope) (Outbound, error) {
	var v T
	if err := decodeData(env, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Encode serializes a server frame.
func Encode(msg Outbound) ([]byte, error) {
	return encodeFrame(outFrame{Action: msg.Action(), Data: msg})
}

// EncodeInbound serializes a client frame.
func EncodeInbound(msg Inbound) ([]byte, error) {
	switch m := msg.(type) {
	case LoginRequest:
		return encodeFrame(envelope{Action: ActionLogin, Email: m.Email})
	default:
		return encodeFrame(outFrame{Action: msg.Action(), Data: msg})
	}
}

func encodeFrame(v any) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}

	// The pooled buffer is reused, so hand out a copy without the trailing newline
	return bytes.Clone(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Action == "" {
		return nil, fmt.Errorf("%w: missing action", ErrMalformedFrame)
	}
	return &env, nil
}

func decodeData(env *envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s frame without data", ErrMalformedFrame, env.Action)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedFrame, env.Action, err)
	}
	return nil
}
