package infrastructure

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"reliefWs/internal/modules/alerts/domain"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// FrameCodec encodes outbound frames and decodes inbound commands for one wire format.
type FrameCodec interface {
	Name() string
	MessageType() int
	Encode(msg *domain.Message) ([]byte, error)
	DecodeCommand(data []byte) (Command, error)
}

// CodecFor picks the codec of a ?format= query value. Unknown formats fall back to JSON.
func CodecFor(format string) FrameCodec {
	if strings.EqualFold(strings.TrimSpace(format), FormatMsgpack) {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

type JSONCodec struct{}

func (JSONCodec) Name() string     { return FormatJSON }
func (JSONCodec) MessageType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msg *domain.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) DecodeCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

// MsgpackCodec speaks msgpack with the same field names as the JSON format.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string     { return FormatMsgpack }
func (MsgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msg *domain.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.SetOmitEmpty(true)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type msgpackCommand struct {
	Action  string             `json:"action"`
	Topic   string             `json:"topic,omitempty"`
	Payload msgpack.RawMessage `json:"payload,omitempty"`
}

// DecodeCommand converts the msgpack payload to JSON so command handlers see one representation.
func (MsgpackCodec) DecodeCommand(data []byte) (Command, error) {
	var raw msgpackCommand
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&raw); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	cmd := Command{Action: raw.Action, Topic: raw.Topic}
	if len(raw.Payload) == 0 {
		return cmd, nil
	}
	var payload any
	if err := msgpack.Unmarshal(raw.Payload, &payload); err != nil {
		return Command{}, fmt.Errorf("decode command payload: %w", err)
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("decode command payload: %w", err)
	}
	cmd.Payload = encoded
	return cmd, nil
}
