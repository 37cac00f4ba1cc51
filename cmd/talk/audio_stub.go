//go:build !portaudio
// +build !portaudio

package main

import "fmt"

// audioIO stub when portaudio is not available.
type audioIO struct{}

func startAudio() (*audioIO, error) {
	return nil, fmt.Errorf("audio not available: rebuild with -tags portaudio")
}

func (a *audioIO) ReadChunk() ([]byte, error) {
	return nil, fmt.Errorf("audio not available")
}

func (a *audioIO) Play(_ []byte) error {
	return fmt.Errorf("audio not available")
}

func (a *audioIO) Close() error {
	return nil
}
