package application_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"voicebridge/internal/application"
	"voicebridge/internal/domain"
)

type fakeConn struct {
	frames    chan application.Frame
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	jsons []any
	bins  [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan application.Frame, 64),
		done:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (application.Frame, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return application.Frame{}, application.ErrClientClosed
		}
		return frame, nil
	case <-c.done:
		return application.Frame{}, application.ErrClientClosed
	}
}

func (c *fakeConn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jsons = append(c.jsons, v)
	return nil
}

func (c *fakeConn) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bins = append(c.bins, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) queueText(t *testing.T, s string) {
	t.Helper()
	select {
	case c.frames <- application.Frame{Data: []byte(s)}:
	default:
		t.Fatal("frame buffer full")
	}
}

func (c *fakeConn) queueBinary(t *testing.T, data []byte) {
	t.Helper()
	select {
	case c.frames <- application.Frame{Binary: true, Data: data}:
	default:
		t.Fatal("frame buffer full")
	}
}

func (c *fakeConn) disconnect() { close(c.frames) }

func (c *fakeConn) notes() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.jsons...)
}

func (c *fakeConn) binCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bins)
}

type fakeSession struct {
	events    chan *application.SessionEvent
	done      chan struct{}
	closeOnce sync.Once

	mu          sync.Mutex
	audio       [][]byte
	texts       []string
	streamEnded bool
	toolBatches [][]application.ToolResponse
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events: make(chan *application.SessionEvent, 16),
		done:   make(chan struct{}),
	}
}

func (s *fakeSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, append([]byte(nil), chunk...))
	return nil
}

func (s *fakeSession) SendAudioStreamEnd() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamEnded = true
	return nil
}

func (s *fakeSession) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSession) SendToolResponses(responses []application.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolBatches = append(s.toolBatches, responses)
	return nil
}

// Receive blocks on an idle event channel until Close, like a real stream.
func (s *fakeSession) Receive() (*application.SessionEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		return nil, errors.New("session closed")
	}
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *fakeSession) emit(t *testing.T, ev *application.SessionEvent) {
	t.Helper()
	select {
	case s.events <- ev:
	default:
		t.Fatal("event buffer full")
	}
}

func (s *fakeSession) audioCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.audio)
}

func (s *fakeSession) wasStreamEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamEnded
}

func (s *fakeSession) sentTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

func (s *fakeSession) batches() [][]application.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]application.ToolResponse(nil), s.toolBatches...)
}

type fakeConnector struct {
	mu      sync.Mutex
	session *fakeSession
	err     error
	cfg     application.SessionConfig
	called  bool
}

func (f *fakeConnector) Connect(_ context.Context, cfg application.SessionConfig) (application.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeConnector) config() (application.SessionConfig, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.called
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func newTestRelay(conn *fakeConn, connector *fakeConnector, svc *fakeDeviceService) *application.Relay {
	tools := application.NewDispatcher(svc, domain.DefaultResolverParams(), nil, discardLogger())
	opts := application.RelayOptions{Model: "test-model", QueueCapacity: 8, InitTimeout: time.Second}
	return application.NewRelay(conn, connector, tools, opts, nil, discardLogger())
}

func runRelay(r *application.Relay) chan error {
	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	return done
}

func waitErr(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not terminate")
		return nil
	}
}

func TestRelay_ForwardsAudioAndStop(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{"system_instruction":"be nice","voice_name":"Puck"}`)
	conn.queueBinary(t, []byte{1})
	conn.queueBinary(t, []byte{2})
	conn.queueBinary(t, []byte{3})
	conn.queueText(t, `{"type":"stop"}`)

	done := runRelay(relay)
	waitFor(t, func() bool { return sess.audioCount() == 3 && sess.wasStreamEnded() })

	conn.disconnect()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg, called := connector.config()
	if !called {
		t.Fatal("connector was never invoked")
	}
	if cfg.SystemInstruction != "be nice" || cfg.VoiceName != "Puck" {
		t.Errorf("session config = %+v", cfg)
	}
	if len(cfg.Tools) != 2 {
		t.Errorf("got %d tool declarations, want 2", len(cfg.Tools))
	}

	notes := conn.notes()
	if len(notes) == 0 {
		t.Fatal("no notifications sent")
	}
	status, ok := notes[0].(application.StatusNote)
	if !ok {
		t.Fatalf("first note is %T, want StatusNote", notes[0])
	}
	if status.Status != "connected" || status.Model != "test-model" {
		t.Errorf("status note = %+v", status)
	}
}

func TestRelay_DefaultsSystemInstruction(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{}`)
	done := runRelay(relay)
	waitFor(t, func() bool { _, called := connector.config(); return called })

	conn.disconnect()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	cfg, _ := connector.config()
	if cfg.SystemInstruction != application.DefaultSystemInstruction {
		t.Errorf("system instruction = %q", cfg.SystemInstruction)
	}
}

func TestRelay_ToolCallRoundtrip(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	svc := &fakeDeviceService{devices: testCatalog()}
	relay := newTestRelay(conn, connector, svc)

	conn.queueText(t, `{}`)
	sess.emit(t, &application.SessionEvent{ToolCalls: []application.ToolCall{{
		ID:   "fc1",
		Name: application.ToolControlDevice,
		Args: map[string]any{"action": "on", "target": "bedroom bulb"},
	}}})
	sess.emit(t, &application.SessionEvent{Audio: []byte{9, 9}})
	sess.emit(t, &application.SessionEvent{TurnComplete: true})

	done := runRelay(relay)
	waitFor(t, func() bool { return len(sess.batches()) == 1 && conn.binCount() == 1 })
	waitFor(t, func() bool {
		for _, n := range conn.notes() {
			if _, ok := n.(application.TurnCompleteNote); ok {
				return true
			}
		}
		return false
	})

	conn.disconnect()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}

	batch := sess.batches()[0]
	if len(batch) != 1 {
		t.Fatalf("got %d responses, want 1", len(batch))
	}
	if batch[0].ID != "fc1" || batch[0].Name != application.ToolControlDevice {
		t.Errorf("response = %+v", batch[0])
	}
	if ok, _ := batch[0].Result["ok"].(bool); !ok {
		t.Fatalf("tool result not ok: %v", batch[0].Result)
	}
	dev := batch[0].Result["device"].(map[string]any)
	if dev["status_after"] != true {
		t.Errorf("status_after = %v, want true", dev["status_after"])
	}

	calls := svc.calls()
	if len(calls) != 1 || calls[0] != (setCall{deviceType: "bulb", id: "b2", on: true}) {
		t.Errorf("control calls = %+v", calls)
	}

	callIdx, resultIdx := -1, -1
	for i, n := range conn.notes() {
		switch n.(type) {
		case application.ToolCallNote:
			callIdx = i
		case application.ToolResultNote:
			resultIdx = i
		}
	}
	if callIdx == -1 || resultIdx == -1 || callIdx > resultIdx {
		t.Errorf("tool notes out of order: call=%d result=%d", callIdx, resultIdx)
	}
}

func TestRelay_ForwardsTranscriptsAndInterrupt(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{}`)
	sess.emit(t, &application.SessionEvent{InputTranscript: &application.Transcript{Text: "turn on", Final: false}})
	sess.emit(t, &application.SessionEvent{OutputTranscript: &application.Transcript{Text: "Sure.", Final: true}})
	sess.emit(t, &application.SessionEvent{Interrupted: true})

	done := runRelay(relay)
	waitFor(t, func() bool {
		var in, out, intr bool
		for _, n := range conn.notes() {
			switch note := n.(type) {
			case application.TranscriptNote:
				if note.Type == "transcript_in" && note.Text == "turn on" {
					in = true
				}
				if note.Type == "transcript_out" && note.Final {
					out = true
				}
			case application.InterruptNote:
				intr = true
			}
		}
		return in && out && intr
	})

	conn.disconnect()
	if err := waitErr(t, done); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRelay_PingPongAndText(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{}`)
	conn.queueText(t, `{"type":"ping"}`)
	conn.queueText(t, `{"type":"text","text":"hello there"}`)

	done := runRelay(relay)
	waitFor(t, func() bool {
		if len(sess.sentTexts()) != 1 {
			return false
		}
		for _, n := range conn.notes() {
			if _, ok := n.(application.PongNote); ok {
				return true
			}
		}
		return false
	})

	conn.queueText(t, `{"type":"close"}`)
	if err := waitErr(t, done); err != nil {
		t.Fatalf("run after close control: %v", err)
	}

	if texts := sess.sentTexts(); texts[0] != "hello there" {
		t.Errorf("forwarded text = %q", texts[0])
	}
}

func TestRelay_RejectsBinaryInit(t *testing.T) {
	conn := newFakeConn()
	connector := &fakeConnector{session: newFakeSession()}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueBinary(t, []byte{1, 2, 3})
	done := runRelay(relay)

	if err := waitErr(t, done); err == nil {
		t.Fatal("binary first frame should fail the handshake")
	}
	if _, called := connector.config(); called {
		t.Error("connector must not be invoked after a failed handshake")
	}

	notes := conn.notes()
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(notes))
	}
	errNote, ok := notes[0].(application.ErrorNote)
	if !ok {
		t.Fatalf("note is %T, want ErrorNote", notes[0])
	}
	if errNote.Message != "Expected init JSON as first message." {
		t.Errorf("message = %q", errNote.Message)
	}
}

func TestRelay_RejectsMalformedInit(t *testing.T) {
	conn := newFakeConn()
	connector := &fakeConnector{session: newFakeSession()}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{not json`)
	done := runRelay(relay)

	if err := waitErr(t, done); err == nil {
		t.Fatal("malformed init should fail the handshake")
	}
}

func TestRelay_InitTimeout(t *testing.T) {
	conn := newFakeConn()
	connector := &fakeConnector{session: newFakeSession()}
	tools := application.NewDispatcher(&fakeDeviceService{}, domain.DefaultResolverParams(), nil, discardLogger())
	opts := application.RelayOptions{Model: "test-model", InitTimeout: 30 * time.Millisecond}
	relay := application.NewRelay(conn, connector, tools, opts, nil, discardLogger())

	done := runRelay(relay)
	if err := waitErr(t, done); err == nil {
		t.Fatal("missing init message should time out")
	}
}

func TestRelay_ConnectFailure(t *testing.T) {
	conn := newFakeConn()
	connector := &fakeConnector{err: errors.New("quota exceeded")}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{}`)
	done := runRelay(relay)

	if err := waitErr(t, done); err == nil {
		t.Fatal("connector failure should fail the run")
	}

	notes := conn.notes()
	if len(notes) != 1 {
		t.Fatalf("got %d notes, want 1", len(notes))
	}
	if _, ok := notes[0].(application.ErrorNote); !ok {
		t.Errorf("note is %T, want ErrorNote", notes[0])
	}
}

func TestRelay_SessionFailureNotifiesClient(t *testing.T) {
	conn := newFakeConn()
	sess := newFakeSession()
	connector := &fakeConnector{session: sess}
	relay := newTestRelay(conn, connector, &fakeDeviceService{})

	conn.queueText(t, `{}`)
	done := runRelay(relay)
	waitFor(t, func() bool { _, called := connector.config(); return called })

	// Remote stream dies while the client is still attached.
	sess.Close()

	if err := waitErr(t, done); err == nil {
		t.Fatal("session failure should surface as a run error")
	}

	found := false
	for _, n := range conn.notes() {
		if _, ok := n.(application.ErrorNote); ok {
			found = true
		}
	}
	if !found {
		t.Error("client was not told about the session failure")
	}
}

func TestRelay_InitMessageJSON(t *testing.T) {
	var init application.InitMessage
	raw := `{"system_instruction":"x","voice_name":"Kore","enable_affective_dialog":true,"enable_proactive_audio":true}`
	if err := json.Unmarshal([]byte(raw), &init); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !init.EnableAffectiveDialog || !init.EnableProactiveAudio || init.VoiceName != "Kore" {
		t.Errorf("init = %+v", init)
	}
}
