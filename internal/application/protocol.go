package application

import "encoding/json"

// InitMessage is the required first client frame.
type InitMessage struct {
	SystemInstruction     string `json:"system_instruction"`
	VoiceName             string `json:"voice_name"`
	EnableAffectiveDialog bool   `json:"enable_affective_dialog"`
	EnableProactiveAudio  bool   `json:"enable_proactive_audio"`
}

// ControlMessage is a text frame sent by the client while the session is active.
type ControlMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Client control message types.
const (
	ControlStop  = "stop"
	ControlText  = "text"
	ControlPing  = "ping"
	ControlClose = "close"
)

// Server-to-client notifications. One struct per wire shape.

type StatusNote struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Model  string `json:"model"`
}

type PongNote struct {
	Type string `json:"type"`
}

type ToolCallNote struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type ToolResultNote struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Result map[string]any `json:"result"`
}

type InterruptNote struct {
	Type string `json:"type"`
}

type TranscriptNote struct {
	Type  string `json:"type"` // transcript_in or transcript_out
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type TurnCompleteNote struct {
	Type string `json:"type"`
}

type ErrorNote struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Frame is one message read from the client connection.
type Frame struct {
	Binary bool
	Data   []byte
}

// ParseControl decodes a text frame into a control message.
func ParseControl(data []byte) (ControlMessage, bool) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, false
	}
	return msg, true
}

// ClientConn is the client-facing connection as seen by the relay. ReadFrame
// blocks until the next frame; Close unblocks it. Send methods must be safe
// for concurrent use; the relay treats sends as best-effort at most call
// sites (a failed notification never outlives the teardown it precedes).
type ClientConn interface {
	ReadFrame() (Frame, error)
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close() error
}
