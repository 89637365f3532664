package broadcast

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// envelope is the wire form of a Message.
type envelope struct {
	ID        string `cbor:"id"`
	Topic     string `cbor:"topic"`
	Origin    string `cbor:"origin"`
	SentAt    int64  `cbor:"sent_at"` // unix millis
	UserID    string `cbor:"user_id,omitempty"`
	SessionID string `cbor:"session_id,omitempty"`
	Reason    string `cbor:"reason,omitempty"`
}

// encMode uses Core Deterministic Encoding so equal messages encode to
// identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("broadcast: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("broadcast: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode serialises msg as base64url CBOR, suitable for a string store.
func Encode(msg Message) (string, error) {
	data, err := encMode.Marshal(envelope{
		ID:        msg.ID,
		Topic:     string(msg.Topic),
		Origin:    msg.Origin,
		SentAt:    msg.SentAt.UnixMilli(),
		UserID:    msg.UserID,
		SessionID: msg.SessionID,
		Reason:    msg.Reason,
	})
	if err != nil {
		return "", fmt.Errorf("[broadcast Encode] %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a value produced by Encode.
func Decode(value string) (Message, error) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return Message{}, fmt.Errorf("[broadcast Decode] base64: %w", err)
	}
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("[broadcast Decode] cbor: %w", err)
	}
	if env.ID == "" || env.Topic == "" {
		return Message{}, fmt.Errorf("[broadcast Decode] incomplete message")
	}
	return Message{
		ID:     env.ID,
		Topic:  Topic(env.Topic),
		Origin: env.Origin,
		SentAt: time.UnixMilli(env.SentAt),
		Payload: Payload{
			UserID:    env.UserID,
			SessionID: env.SessionID,
			Reason:    env.Reason,
		},
	}, nil
}
