package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"voicebridge/internal/metrics"
)

// DefaultSystemInstruction is used when the init message omits one.
const DefaultSystemInstruction = "You are a helpful and friendly AI assistant."

// ErrClientClosed marks a clean client shutdown: a normal websocket close, a
// dropped connection, or an explicit {"type":"close"} control message.
var ErrClientClosed = errors.New("client closed connection")

// RelayOptions tune one relay session.
type RelayOptions struct {
	Model         string
	QueueCapacity int
	InitTimeout   time.Duration
}

// Relay owns the lifecycle of one client connection: handshake, the remote
// streaming session, and the three pipelines that move audio and events
// between them.
type Relay struct {
	client    ClientConn
	connector LiveConnector
	tools     *Dispatcher
	opts      RelayOptions
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewRelay(client ClientConn, connector LiveConnector, tools *Dispatcher, opts RelayOptions, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 20
	}
	if opts.InitTimeout <= 0 {
		opts.InitTimeout = 5 * time.Second
	}
	return &Relay{
		client:    client,
		connector: connector,
		tools:     tools,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// Run drives the connection from handshake to teardown. It returns nil for
// clean client-initiated shutdowns and the first pipeline error otherwise.
func (r *Relay) Run(ctx context.Context) error {
	defer r.client.Close()

	init, err := r.handshake(ctx)
	if err != nil {
		_ = r.client.SendJSON(ErrorNote{Type: "error", Message: "Expected init JSON as first message."})
		return fmt.Errorf("handshake: %w", err)
	}

	cfg := SessionConfig{
		SystemInstruction: strings.TrimSpace(init.SystemInstruction),
		VoiceName:         strings.TrimSpace(init.VoiceName),
		AffectiveDialog:   init.EnableAffectiveDialog,
		ProactiveAudio:    init.EnableProactiveAudio,
		Tools:             r.tools.Declarations(),
	}
	if cfg.SystemInstruction == "" {
		cfg.SystemInstruction = DefaultSystemInstruction
	}

	session, err := r.connector.Connect(ctx, cfg)
	if err != nil {
		_ = r.client.SendJSON(ErrorNote{Type: "error", Message: fmt.Sprintf("connecting session: %v", err)})
		return fmt.Errorf("connecting session: %w", err)
	}
	defer session.Close()

	r.metrics.SessionStarted()
	defer r.metrics.SessionEnded()

	_ = r.client.SendJSON(StatusNote{Type: "status", Status: "connected", Model: r.opts.Model})

	queue := NewAudioQueue(r.opts.QueueCapacity)

	g, gctx := errgroup.WithContext(ctx)
	// The three pipelines live and die as one unit: the first to exit cancels
	// the group, and closing both endpoints unblocks the other two.
	stop := context.AfterFunc(gctx, func() {
		_ = session.Close()
		_ = r.client.Close()
	})
	defer stop()

	g.Go(func() error { return r.readClient(session, queue) })
	g.Go(func() error { return r.forwardAudio(gctx, session, queue) })
	g.Go(func() error { return r.pumpSession(gctx, session) })

	err = g.Wait()

	switch {
	case errors.Is(err, ErrClientClosed):
		r.logger.Info("session closed", "reason", "client disconnect")
		return nil
	case errors.Is(err, context.Canceled):
		r.logger.Info("session closed", "reason", "shutdown")
		return nil
	default:
		r.logger.Error("session failed", "error", err)
		return err
	}
}

// handshake reads and validates the init message, bounded by InitTimeout.
func (r *Relay) handshake(ctx context.Context) (*InitMessage, error) {
	hctx, cancel := context.WithTimeout(ctx, r.opts.InitTimeout)
	defer cancel()
	stop := context.AfterFunc(hctx, func() { _ = r.client.Close() })

	frame, err := r.client.ReadFrame()
	if !stop() {
		return nil, fmt.Errorf("no init message within %s", r.opts.InitTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("reading init: %w", err)
	}
	if frame.Binary {
		return nil, errors.New("first message must be init JSON, got binary frame")
	}
	var init InitMessage
	if err := json.Unmarshal(frame.Data, &init); err != nil {
		return nil, fmt.Errorf("parsing init: %w", err)
	}
	return &init, nil
}

// readClient moves client frames inbound: binary audio onto the bounded
// queue, text frames into control handling. Unblocked by closing the conn.
func (r *Relay) readClient(session LiveSession, queue *AudioQueue) error {
	for {
		frame, err := r.client.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrClientClosed) {
				return ErrClientClosed
			}
			return fmt.Errorf("client read: %w", err)
		}

		if frame.Binary {
			dropped := queue.Push(frame.Data)
			r.metrics.AudioIn(dropped)
			if dropped {
				r.logger.Debug("audio queue full, dropped oldest chunk")
			}
			continue
		}

		msg, ok := ParseControl(frame.Data)
		if !ok {
			continue
		}
		switch msg.Type {
		case ControlStop:
			// Best effort: end-of-stream races with the session's own teardown.
			_ = session.SendAudioStreamEnd()
		case ControlText:
			if text := strings.TrimSpace(msg.Text); text != "" {
				if err := session.SendText(text); err != nil {
					return fmt.Errorf("sending text: %w", err)
				}
			}
		case ControlPing:
			_ = r.client.SendJSON(PongNote{Type: "pong"})
		case ControlClose:
			return ErrClientClosed
		}
	}
}

// forwardAudio drains the queue into the remote session, one chunk at a time.
func (r *Relay) forwardAudio(ctx context.Context, session LiveSession, queue *AudioQueue) error {
	for {
		chunk, err := queue.Pop(ctx)
		if err != nil {
			return err
		}
		if err := session.SendAudio(chunk); err != nil {
			r.notifyError(ctx, fmt.Sprintf("forwarding audio: %v", err))
			return fmt.Errorf("forwarding audio: %w", err)
		}
	}
}

// pumpSession forwards remote events to the client and routes tool calls
// through the dispatcher back into the session.
func (r *Relay) pumpSession(ctx context.Context, session LiveSession) error {
	for {
		ev, err := session.Receive()
		if err != nil {
			r.notifyError(ctx, fmt.Sprintf("session receive: %v", err))
			return fmt.Errorf("session receive: %w", err)
		}

		if len(ev.ToolCalls) > 0 {
			responses := make([]ToolResponse, 0, len(ev.ToolCalls))
			for _, call := range ev.ToolCalls {
				_ = r.client.SendJSON(ToolCallNote{Type: "tool_call", Name: call.Name, Args: call.Args})
				result := r.tools.Dispatch(ctx, call.Name, call.Args)
				_ = r.client.SendJSON(ToolResultNote{Type: "tool_result", Name: call.Name, Result: result})
				responses = append(responses, ToolResponse{ID: call.ID, Name: call.Name, Result: result})
			}
			// One response set per batch, submitted only after every call in
			// the batch has been answered.
			if err := session.SendToolResponses(responses); err != nil {
				r.notifyError(ctx, fmt.Sprintf("sending tool responses: %v", err))
				return fmt.Errorf("sending tool responses: %w", err)
			}
			continue
		}

		if ev.Interrupted {
			_ = r.client.SendJSON(InterruptNote{Type: "interrupt"})
			continue
		}
		if t := ev.InputTranscript; t != nil {
			_ = r.client.SendJSON(TranscriptNote{Type: "transcript_in", Text: t.Text, Final: t.Final})
		}
		if t := ev.OutputTranscript; t != nil {
			_ = r.client.SendJSON(TranscriptNote{Type: "transcript_out", Text: t.Text, Final: t.Final})
		}
		if len(ev.Audio) > 0 {
			if err := r.client.SendBinary(ev.Audio); err == nil {
				r.metrics.AudioOut()
			}
		}
		if ev.TurnComplete {
			_ = r.client.SendJSON(TurnCompleteNote{Type: "turn_complete"})
		}
	}
}

// notifyError sends a best-effort error notification, skipped when the group
// is already tearing down (the first failure has been reported).
func (r *Relay) notifyError(ctx context.Context, msg string) {
	if ctx.Err() != nil {
		return
	}
	_ = r.client.SendJSON(ErrorNote{Type: "error", Message: msg})
}
