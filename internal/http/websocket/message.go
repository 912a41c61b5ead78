package websocket

import (
	"fmt"

	"github.com/google/uuid"
)

type SocketMessageType int

const (
	Update SocketMessageType = iota
	Command
	Response
	ErrorResponse
	Welcome
)

// SocketMessage is the envelope exchanged with connected clients. The
// Id is echoed back on replies so clients can correlate responses;
// Origin/Target identify the sending/receiving client and never leave
// the server.
type SocketMessage struct {
	Title  string                 `json:"title"`
	Body   map[string]interface{} `json:"arguments"`
	Id     int                    `json:"id"`
	Type   SocketMessageType      `json:"type"`
	Origin *uuid.UUID             `json:"-"`
	Target *uuid.UUID             `json:"-"`
}

// ValidateArguments checks the message body contains each required key
// with a value of the expected primitive type.
func (message *SocketMessage) ValidateArguments(required map[string]string) error {
	const errFmt = "failed to validate key '%v' with type '%v' - %#v"

	for key, expected := range required {
		value, ok := message.Body[key]
		if !ok {
			return fmt.Errorf("failed to validate key '%v' - key is missing", key)
		}

		switch expected {
		case "number", "int":
			if _, ok := value.(float64); !ok {
				return fmt.Errorf(errFmt, key, expected, value)
			}
		case "string":
			if fmt.Sprintf("%v", value) == "" {
				return fmt.Errorf(errFmt, key, expected, value)
			}
		default:
			return fmt.Errorf(errFmt, key, expected, "unknown type")
		}
	}

	return nil
}

// FormReply creates a new message addressed back at this messages
// origin, carrying the same correlation id.
func (message *SocketMessage) FormReply(replyTitle string, replyBody map[string]interface{}, replyType SocketMessageType) *SocketMessage {
	if replyBody != nil {
		replyBody["command"] = message.Body
	}

	return &SocketMessage{
		Title:  replyTitle,
		Body:   replyBody,
		Type:   replyType,
		Id:     message.Id,
		Target: message.Origin,
	}
}
