package application

import "context"

// AudioQueue is a capacity-bounded buffer between the client reader and the
// session audio forwarder. When full, Push evicts the single oldest chunk
// before enqueuing the new one: small gaps in input audio are preferable to
// unbounded latency growth. Single producer, single consumer.
type AudioQueue struct {
	ch chan []byte
}

// NewAudioQueue returns a queue holding at most capacity chunks.
func NewAudioQueue(capacity int) *AudioQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &AudioQueue{ch: make(chan []byte, capacity)}
}

// Push enqueues chunk, evicting the oldest entry if the queue is full.
// It reports whether an eviction happened.
func (q *AudioQueue) Push(chunk []byte) (dropped bool) {
	for {
		select {
		case q.ch <- chunk:
			return dropped
		default:
			select {
			case <-q.ch:
				dropped = true
			default:
			}
		}
	}
}

// Pop dequeues the oldest chunk, blocking while the queue is empty.
func (q *AudioQueue) Pop(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-q.ch:
		return chunk, nil
	}
}

// Len returns the number of buffered chunks.
func (q *AudioQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *AudioQueue) Cap() int { return cap(q.ch) }
