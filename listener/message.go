package listener

import (
	"encoding/json"
	"fmt"

	"github.com/justapithecus/livewatch/transport"
)

// message is one stream payload. The server sends {"auth": bool} after
// the handshake and {"new": [ids]} for each notification.
type message struct {
	New  []string `json:"new"`
	Auth *bool    `json:"auth"`
}

// decodeMessage cleans and decodes a raw stream payload. ok is false for
// payloads without a JSON value, which are ignored.
func decodeMessage(raw []byte) (msg message, ok bool, err error) {
	cleaned := transport.CleanFrame(raw)
	if len(cleaned) == 0 {
		return message{}, false, nil
	}
	if err := json.Unmarshal(cleaned, &msg); err != nil {
		return message{}, false, fmt.Errorf("decode stream message: %w", err)
	}
	return msg, true, nil
}

// authRejected reports an explicit auth-false message.
func (m message) authRejected() bool {
	return m.Auth != nil && !*m.Auth
}
