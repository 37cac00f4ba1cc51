package gemini

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"voicebridge/internal/application"
)

const inputAudioMIME = "audio/pcm;rate=16000"

// Connector opens Gemini Live sessions over the genai SDK.
type Connector struct {
	apiKey string
	model  string
}

func NewConnector(apiKey, model string) *Connector {
	return &Connector{apiKey: apiKey, model: model}
}

// Connect dials the Live API with the given session configuration. Affective
// dialog and proactive audio are only available on the v1alpha surface, so the
// API version is switched when either is requested.
func (c *Connector) Connect(ctx context.Context, cfg application.SessionConfig) (application.LiveSession, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.AffectiveDialog || cfg.ProactiveAudio {
		clientCfg.HTTPOptions = genai.HTTPOptions{APIVersion: "v1alpha"}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	live, err := client.Live.Connect(ctx, c.model, liveConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("connecting live session: %w", err)
	}

	return &session{live: live}, nil
}

// liveConfig maps the transport-neutral session configuration onto the Live
// API connect payload.
func liveConfig(cfg application.SessionConfig) *genai.LiveConnectConfig {
	out := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	if cfg.SystemInstruction != "" {
		out.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if cfg.VoiceName != "" {
		out.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.VoiceName},
			},
		}
	}
	if cfg.AffectiveDialog {
		out.EnableAffectiveDialog = genai.Ptr(true)
	}
	if cfg.ProactiveAudio {
		out.Proactivity = &genai.ProactivityConfig{ProactiveAudio: genai.Ptr(true)}
	}
	if len(cfg.Tools) > 0 {
		out.Tools = []*genai.Tool{{FunctionDeclarations: declarations(cfg.Tools)}}
	}

	return out
}

// declarations converts the tool registry into Live API function schemas.
func declarations(tools []application.ToolDeclaration) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Params) > 0 {
			schema := &genai.Schema{
				Type:       genai.TypeObject,
				Properties: make(map[string]*genai.Schema, len(tool.Params)),
			}
			for _, param := range tool.Params {
				prop := &genai.Schema{
					Type:        genai.TypeString,
					Description: param.Description,
				}
				if len(param.Enum) > 0 {
					prop.Enum = param.Enum
				}
				schema.Properties[param.Name] = prop
				if param.Required {
					schema.Required = append(schema.Required, param.Name)
				}
			}
			decl.Parameters = schema
		}
		out = append(out, decl)
	}
	return out
}

// session adapts one open Live connection. Sends are serialized: the SDK
// session is not safe for concurrent writers.
type session struct {
	live    *genai.Session
	writeMu sync.Mutex
}

func (s *session) SendAudio(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: chunk, MIMEType: inputAudioMIME},
	})
}

func (s *session) SendAudioStreamEnd() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
}

func (s *session) SendText(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

func (s *session) SendToolResponses(responses []application.ToolResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, resp := range responses {
		out = append(out, &genai.FunctionResponse{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Result,
		})
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: out})
}

func (s *session) Receive() (*application.SessionEvent, error) {
	msg, err := s.live.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving message: %w", err)
	}
	return eventFromMessage(msg), nil
}

func (s *session) Close() error {
	return s.live.Close()
}

// eventFromMessage decodes one server message into a session event. Unknown
// or empty messages come out as an empty event the relay ignores.
func eventFromMessage(msg *genai.LiveServerMessage) *application.SessionEvent {
	ev := &application.SessionEvent{}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			ev.ToolCalls = append(ev.ToolCalls, application.ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	sc := msg.ServerContent
	if sc == nil {
		return ev
	}

	ev.Interrupted = sc.Interrupted
	ev.TurnComplete = sc.TurnComplete
	if t := sc.InputTranscription; t != nil {
		ev.InputTranscript = &application.Transcript{Text: t.Text, Final: t.Finished}
	}
	if t := sc.OutputTranscription; t != nil {
		ev.OutputTranscript = &application.Transcript{Text: t.Text, Final: t.Finished}
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				ev.Audio = append(ev.Audio, part.InlineData.Data...)
			}
		}
	}

	return ev
}
