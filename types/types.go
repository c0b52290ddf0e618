package types

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Record tags carried in the "type" field of every frame.
const (
	TypeText        = "text"
	TypeReset       = "reset"
	TypeAudio       = "audio"
	TypeUserMessage = "user_message"
	TypeTextError   = "text_error"
)

type envelope struct {
	Type string `json:"type"`
}

// Inbound is a record sent by the agent to the client.
type Inbound interface {
	InboundType() string
}

// Outbound is a record sent by the client to the agent.
type Outbound interface {
	OutboundType() string
}

// AudioMessage is an agent reply: text, base64 audio and an optional avatar image.
type AudioMessage struct {
	Text           string `json:"text"`
	Data           string `json:"data"`
	AvatarImageURL string `json:"avatar_image_url,omitempty"`
}

// UserMessage echoes what the agent understood the user said.
type UserMessage struct {
	Text string `json:"text"`
}

// TextError carries a text-only apology when the agent could not produce audio.
type TextError struct {
	Text string `json:"text"`
}

// UnknownMessage is any record whose tag this client does not handle.
type UnknownMessage struct {
	Type string
	Raw  json.RawMessage
}

// TextRequest sends a transcribed utterance to the agent.
type TextRequest struct {
	Text string `json:"text"`
}

// ResetRequest asks the agent to start a new session.
type ResetRequest struct{}

func (AudioMessage) InboundType() string     { return TypeAudio }
func (UserMessage) InboundType() string      { return TypeUserMessage }
func (TextError) InboundType() string        { return TypeTextError }
func (m UnknownMessage) InboundType() string { return m.Type }

func (TextRequest) OutboundType() string  { return TypeText }
func (ResetRequest) OutboundType() string { return TypeReset }

func (m AudioMessage) MarshalJSON() ([]byte, error) {
	type alias AudioMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeAudio, alias(m)})
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	type alias UserMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeUserMessage, alias(m)})
}

func (m TextError) MarshalJSON() ([]byte, error) {
	type alias TextError
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeTextError, alias(m)})
}

func (m TextRequest) MarshalJSON() ([]byte, error) {
	type alias TextRequest
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{TypeText, alias(m)})
}

func (ResetRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{Type: TypeReset})
}

// DecodeInbound parses an agent frame. Unrecognized tags decode to
// UnknownMessage rather than an error so callers can choose to ignore them.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "decode inbound envelope")
	}

	switch env.Type {
	case TypeAudio:
		var m AudioMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "decode audio message")
		}
		return m, nil
	case TypeUserMessage:
		var m UserMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "decode user message")
		}
		return m, nil
	case TypeTextError:
		var m TextError
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "decode text error")
		}
		return m, nil
	default:
		return UnknownMessage{Type: env.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

// DecodeOutbound parses a client frame on the agent side.
func DecodeOutbound(raw []byte) (Outbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrap(err, "decode outbound envelope")
	}

	switch env.Type {
	case TypeText:
		var m TextRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, errors.Wrap(err, "decode text request")
		}
		return m, nil
	case TypeReset:
		return ResetRequest{}, nil
	default:
		return nil, errors.Errorf("unknown outbound type %q", env.Type)
	}
}
