package application

import (
	"context"

	"voicebridge/internal/domain"
)

// SessionConfig is the configuration used to open a remote streaming session.
// The tool registry is always attached by the relay.
type SessionConfig struct {
	SystemInstruction string
	VoiceName         string
	AffectiveDialog   bool
	ProactiveAudio    bool
	Tools             []ToolDeclaration
}

// ToolDeclaration describes one callable tool in a transport-neutral form;
// the session adapter converts it to the remote protocol's function schema.
type ToolDeclaration struct {
	Name        string
	Description string
	Params      []ToolParam
}

// ToolParam is one parameter of a tool declaration.
type ToolParam struct {
	Name        string
	Description string
	Enum        []string
	Required    bool
}

// ToolCall is a request from the remote session to run a named local tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse carries one dispatched tool result back to the remote session.
type ToolResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// Transcript is a fragment of input or output speech transcription.
type Transcript struct {
	Text  string
	Final bool
}

// SessionEvent is one decoded message from the remote session. Fields are
// independent: a single event may carry a transcript and audio at once.
type SessionEvent struct {
	ToolCalls        []ToolCall
	Interrupted      bool
	InputTranscript  *Transcript
	OutputTranscript *Transcript
	Audio            []byte
	TurnComplete     bool
}

// LiveSession is an open bidirectional streaming session with the remote
// conversational endpoint. Receive blocks until the next event; Close
// unblocks it. Implementations must allow concurrent senders.
type LiveSession interface {
	SendAudio(chunk []byte) error
	SendAudioStreamEnd() error
	SendText(text string) error
	SendToolResponses(responses []ToolResponse) error
	Receive() (*SessionEvent, error)
	Close() error
}

// LiveConnector opens remote streaming sessions.
type LiveConnector interface {
	Connect(ctx context.Context, cfg SessionConfig) (LiveSession, error)
}

// DeviceService is the device-control API boundary: read the catalog,
// flip a device. Snapshots are never cached across calls.
type DeviceService interface {
	FetchDevices(ctx context.Context) (domain.Snapshot, error)
	SetDevice(ctx context.Context, deviceType, id string, on bool) error
}
