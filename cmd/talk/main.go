package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// talk is a terminal voice client for the bridge: it streams microphone
// audio to /ws and plays back whatever the assistant says.

type note struct {
	Type    string          `json:"type"`
	Status  string          `json:"status"`
	Model   string          `json:"model"`
	Name    string          `json:"name"`
	Text    string          `json:"text"`
	Final   bool            `json:"final"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "bridge websocket URL")
	voice := flag.String("voice", "", "prebuilt voice name")
	system := flag.String("system", "", "system instruction override")
	affective := flag.Bool("affective", false, "enable affective dialog")
	proactive := flag.Bool("proactive", false, "enable proactive audio")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	audio, err := startAudio()
	if err != nil {
		logger.Error("starting audio", "error", err)
		os.Exit(1)
	}
	defer audio.Close()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Error("dialing bridge", "error", err, "url", *url)
		os.Exit(1)
	}
	defer conn.Close()

	init := map[string]any{
		"system_instruction":      *system,
		"voice_name":              *voice,
		"enable_affective_dialog": *affective,
		"enable_proactive_audio":  *proactive,
	}
	if err := conn.WriteJSON(init); err != nil {
		logger.Error("sending init", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType == websocket.BinaryMessage {
				if err := audio.Play(data); err != nil {
					logger.Error("playing audio", "error", err)
				}
				continue
			}
			printNote(data)
		}
	}()

	go func() {
		for {
			chunk, err := audio.ReadChunk()
			if err != nil {
				logger.Error("capturing audio", "error", err)
				return
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		_ = conn.WriteJSON(map[string]string{"type": "close"})
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	case <-done:
	}
}

func printNote(data []byte) {
	var n note
	if err := json.Unmarshal(data, &n); err != nil {
		return
	}

	switch n.Type {
	case "status":
		fmt.Printf("[connected to %s]\n", n.Model)
	case "transcript_in":
		fmt.Printf("you: %s\n", n.Text)
	case "transcript_out":
		fmt.Printf("assistant: %s\n", n.Text)
	case "tool_call":
		fmt.Printf("[tool call: %s]\n", n.Name)
	case "tool_result":
		fmt.Printf("[tool result: %s %s]\n", n.Name, n.Result)
	case "interrupt":
		fmt.Println("[interrupted]")
	case "turn_complete":
		fmt.Println("[turn complete]")
	case "error":
		fmt.Printf("[error: %s]\n", n.Message)
	}
}
