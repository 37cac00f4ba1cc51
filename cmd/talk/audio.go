//go:build portaudio
// +build portaudio

package main

import (
	"encoding/binary"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

const (
	captureRate     = 16000
	playbackRate    = 24000
	framesPerBuffer = 1024
)

// audioIO owns the capture and playback streams. The bridge expects 16kHz
// PCM in and produces 24kHz PCM out, both mono signed 16-bit little-endian.
type audioIO struct {
	in        *portaudio.Stream
	out       *portaudio.Stream
	inBuffer  []int16
	outBuffer []int16
}

func startAudio() (*audioIO, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	a := &audioIO{
		inBuffer:  make([]int16, framesPerBuffer),
		outBuffer: make([]int16, framesPerBuffer),
	}

	in, err := portaudio.OpenDefaultStream(1, 0, float64(captureRate), framesPerBuffer, a.inBuffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening capture stream: %w", err)
	}
	a.in = in

	out, err := portaudio.OpenDefaultStream(0, 1, float64(playbackRate), framesPerBuffer, a.outBuffer)
	if err != nil {
		in.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("opening playback stream: %w", err)
	}
	a.out = out

	if err := a.in.Start(); err != nil {
		a.Close()
		return nil, fmt.Errorf("starting capture: %w", err)
	}
	if err := a.out.Start(); err != nil {
		a.Close()
		return nil, fmt.Errorf("starting playback: %w", err)
	}

	return a, nil
}

// ReadChunk blocks for one capture buffer and returns it as PCM bytes.
func (a *audioIO) ReadChunk() ([]byte, error) {
	if err := a.in.Read(); err != nil {
		return nil, fmt.Errorf("reading from microphone: %w", err)
	}
	chunk := make([]byte, len(a.inBuffer)*2)
	for i, sample := range a.inBuffer {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
	}
	return chunk, nil
}

// Play writes PCM bytes to the playback stream, one buffer at a time.
func (a *audioIO) Play(data []byte) error {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	for len(samples) > 0 {
		n := copy(a.outBuffer, samples)
		for i := n; i < len(a.outBuffer); i++ {
			a.outBuffer[i] = 0
		}
		if err := a.out.Write(); err != nil {
			return fmt.Errorf("writing to speaker: %w", err)
		}
		samples = samples[n:]
	}
	return nil
}

func (a *audioIO) Close() error {
	if a.in != nil {
		a.in.Stop()
		a.in.Close()
	}
	if a.out != nil {
		a.out.Stop()
		a.out.Close()
	}
	portaudio.Terminate()
	return nil
}
