package socket

import (
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
)

func TestNewCodec(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		if _, err := newCodec(name); err != nil {
			t.Errorf("wire format %q rejected: %v", name, err)
		}
	}
	if _, err := newCodec("xml"); err == nil {
		t.Error("unknown wire format must be rejected")
	}
}

func TestJSONCodecRoundtrip(t *testing.T) {
	c := jsonCodec{}
	if c.MessageType() != websocket.TextMessage {
		t.Error("json frames must be text frames")
	}

	data, err := c.Encode("user-typing", map[string]any{"chatId": "c1", "isTyping": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event, payload, err := c.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "user-typing" {
		t.Errorf("unexpected event: %s", event)
	}

	var decoded struct {
		ChatID   string `json:"chatId"`
		IsTyping bool   `json:"isTyping"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.ChatID != "c1" || !decoded.IsTyping {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestJSONCodecNoPayload(t *testing.T) {
	c := jsonCodec{}
	data, err := c.Encode("ping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	event, payload, err := c.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "ping" {
		t.Errorf("unexpected event: %s", event)
	}
	if len(payload) != 0 {
		t.Errorf("expected empty payload, got %s", payload)
	}
}

func TestMsgpackCodecDeliversJSONPayload(t *testing.T) {
	c := msgpackCodec{}
	if c.MessageType() != websocket.BinaryMessage {
		t.Error("msgpack frames must be binary frames")
	}

	data, err := c.Encode("user-status-changed", map[string]any{"userId": "u2", "isOnline": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event, payload, err := c.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event != "user-status-changed" {
		t.Errorf("unexpected event: %s", event)
	}

	// Handlers always receive JSON, whatever the wire encoding.
	var decoded struct {
		UserID   string `json:"userId"`
		IsOnline bool   `json:"isOnline"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if decoded.UserID != "u2" || !decoded.IsOnline {
		t.Errorf("unexpected payload: %+v", decoded)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	if _, _, err := (jsonCodec{}).Decode([]byte("{nope")); err == nil {
		t.Error("expected json decode error")
	}
	if _, _, err := (msgpackCodec{}).Decode([]byte{0xc1}); err == nil {
		t.Error("expected msgpack decode error")
	}
}
