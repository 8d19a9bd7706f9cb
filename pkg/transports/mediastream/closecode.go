package mediastream

import (
	"errors"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
)

// maxCloseReason is the room left for a reason in a close frame payload.
const maxCloseReason = 123

// CloseCode maps a session start failure onto a WebSocket close code.
// Credential and provider-selection problems are policy violations so the
// gateway can tell them apart from internal faults.
func CloseCode(err error) int {
	switch {
	case err == nil:
		return websocket.CloseNormalClosure
	case stt.IsMissingCredentials(err), errorsx.HasReason(err, errorsx.ReasonUnsupportedProvider):
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseInternalServerErr
	}
}

// CloseReason truncates msg to fit a close frame without splitting a rune.
func CloseReason(msg string) string {
	if len(msg) <= maxCloseReason {
		return msg
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func closeWith(conn *websocket.Conn, code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, CloseReason(reason))
	err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return nil
}
