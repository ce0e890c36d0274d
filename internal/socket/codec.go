package socket

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// A codec encodes and decodes push channel frames. Frames are an
// envelope of event name plus payload; regardless of the wire encoding,
// Decode hands payloads to handlers as JSON bytes so handler code never
// depends on the deployment's frame format.
type codec interface {
	Name() string
	MessageType() int
	Encode(event string, payload any) ([]byte, error)
	Decode(data []byte) (event string, payload []byte, err error)
}

func newCodec(name string) (codec, error) {
	switch name {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", name)
	}
}

type jsonEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return "json" }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(event string, payload any) ([]byte, error) {
	env := jsonEnvelope{Event: event}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func (jsonCodec) Decode(data []byte) (string, []byte, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Event, env.Data, nil
}

type msgpackEnvelope struct {
	Event string             `msgpack:"event"`
	Data  msgpack.RawMessage `msgpack:"data,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return "msgpack" }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(event string, payload any) ([]byte, error) {
	env := struct {
		Event string `msgpack:"event"`
		Data  any    `msgpack:"data,omitempty"`
	}{Event: event, Data: payload}
	return msgpack.Marshal(env)
}

func (msgpackCodec) Decode(data []byte) (string, []byte, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	if len(env.Data) == 0 {
		return env.Event, nil, nil
	}
	// Transcode the payload to JSON for handlers.
	var v any
	if err := msgpack.Unmarshal(env.Data, &v); err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return env.Event, payload, nil
}
