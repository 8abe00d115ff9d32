package hublink

import (
	"encoding/json"
	"strings"
)

// Inbound frame types.
const (
	frameAuthRequired = "auth_required"
	frameAuthOK       = "auth_ok"
	frameAuthInvalid  = "auth_invalid"
	frameResult       = "result"
	frameEvent        = "event"
)

// defaultCommandErrorMessage is used when the hub rejects a command without a message.
const defaultCommandErrorMessage = "command failed"

// Frame is one classified inbound message. The concrete type is one of
// AuthRequired, AuthOK, AuthInvalid, ResultFrame, EventFrame or Unrecognized.
type Frame interface {
	frame()
}

// AuthRequired is sent by the hub when a socket opens.
type AuthRequired struct{}

// AuthOK accepts the credentials.
type AuthOK struct{}

// AuthInvalid rejects the credentials.
type AuthInvalid struct {
	Message string
}

// ResultFrame completes the command with the same ID.
type ResultFrame struct {
	ID      int64
	Success bool
	Result  json.RawMessage
	Error   *RemoteError
}

// RemoteError is the error object of a failed result.
type RemoteError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// EventFrame carries one event for the subscription with the same ID.
type EventFrame struct {
	ID    int64
	Event json.RawMessage
}

// Unrecognized is any well-formed frame with an unknown or missing type.
type Unrecognized struct {
	Type string
	Raw  string
}

func (AuthRequired) frame() {}
func (AuthOK) frame()       {}
func (AuthInvalid) frame()  {}
func (ResultFrame) frame()  {}
func (EventFrame) frame()   {}
func (Unrecognized) frame() {}

// envelope is the union of every inbound field.
type envelope struct {
	Type    string          `json:"type"`
	ID      int64           `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
	Event   json.RawMessage `json:"event"`
	Message string          `json:"message"`
}

// ParseFrame decodes and classifies one inbound text frame.
// Malformed JSON returns an ErrCodeProtocol error.
func ParseFrame(raw string) (Frame, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, NewErrorWithCause(ErrCodeProtocol, "malformed frame", err)
	}

	switch env.Type {
	case frameAuthRequired:
		return AuthRequired{}, nil
	case frameAuthOK:
		return AuthOK{}, nil
	case frameAuthInvalid:
		return AuthInvalid{Message: env.Message}, nil
	case frameResult:
		return ResultFrame{ID: env.ID, Success: env.Success, Result: env.Result, Error: env.Error}, nil
	case frameEvent:
		return EventFrame{ID: env.ID, Event: env.Event}, nil
	default:
		return Unrecognized{Type: env.Type, Raw: raw}, nil
	}
}

// Err converts a failed result into a *CommandError. It returns nil for
// successful results.
func (r ResultFrame) Err() error {
	if r.Success {
		return nil
	}
	cmdErr := &CommandError{Message: defaultCommandErrorMessage}
	if r.Error != nil {
		cmdErr.Code = r.Error.Code
		cmdErr.Data = r.Error.Data
		if strings.TrimSpace(r.Error.Message) != "" {
			cmdErr.Message = r.Error.Message
		}
	}
	return cmdErr
}

// Command is an outgoing request. Fields are merged into the envelope
// next to "id" and "type".
type Command struct {
	Type   string
	Fields map[string]any
}

// SubscribeEvents builds a subscribe_events command. An empty eventType
// subscribes to every event.
func SubscribeEvents(eventType string) Command {
	cmd := Command{Type: "subscribe_events"}
	if eventType != "" {
		cmd.Fields = map[string]any{"event_type": eventType}
	}
	return cmd
}

// UnsubscribeEvents builds an unsubscribe_events command.
func UnsubscribeEvents(subscriptionID int64) Command {
	return Command{
		Type:   "unsubscribe_events",
		Fields: map[string]any{"subscription": subscriptionID},
	}
}

// encodeCommand renders cmd as {id, type, ...fields}. The id and type
// always win over a field of the same name.
func encodeCommand(id int64, cmd Command) (string, error) {
	msg := make(map[string]any, len(cmd.Fields)+2)
	for k, v := range cmd.Fields {
		msg[k] = v
	}
	msg["id"] = id
	msg["type"] = cmd.Type

	b, err := json.Marshal(msg)
	if err != nil {
		return "", NewErrorWithCause(ErrCodeValidation, "failed to encode "+cmd.Type, err)
	}
	return string(b), nil
}

// encodeAuth renders the credentials frame sent in reply to auth_required.
func encodeAuth(token string) string {
	b, _ := json.Marshal(struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}{Type: "auth", AccessToken: token})
	return string(b)
}
