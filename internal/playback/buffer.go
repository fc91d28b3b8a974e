package playback

import "sync"

// AudioBuffer accumulates streamed audio for gapless playback. Data is
// append-only from the consumer's point of view; when the buffer grows
// past its capacity only the already-played prefix is evicted, so
// unplayed audio is never dropped.
type AudioBuffer struct {
	mu       sync.Mutex
	data     []byte
	played   int // bytes the player has consumed
	evicted  int // bytes trimmed from the front
	capacity int
}

// NewAudioBuffer creates a buffer that starts evicting played data once
// total retained bytes exceed capacity. A non-positive capacity keeps
// everything.
func NewAudioBuffer(capacity int) *AudioBuffer {
	return &AudioBuffer{capacity: capacity}
}

// Append adds a streamed chunk to the end of the buffer.
func (b *AudioBuffer) Append(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, chunk...)
	b.evict()
}

// Advance records that the player consumed n more bytes.
func (b *AudioBuffer) Advance(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.played += n
	if total := b.evicted + len(b.data); b.played > total {
		b.played = total
	}
	b.evict()
}

// evict trims played leading data while the buffer exceeds capacity.
// Caller holds the lock.
func (b *AudioBuffer) evict() {
	if b.capacity <= 0 {
		return
	}
	playedInBuffer := b.played - b.evicted
	for len(b.data) > b.capacity && playedInBuffer > 0 {
		trim := len(b.data) - b.capacity
		if trim > playedInBuffer {
			trim = playedInBuffer
		}
		b.data = b.data[trim:]
		b.evicted += trim
		playedInBuffer -= trim
	}
}

// Unplayed returns a copy of the bytes not yet consumed by the player.
func (b *AudioBuffer) Unplayed() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := b.played - b.evicted
	if start < 0 {
		start = 0
	}
	if start > len(b.data) {
		start = len(b.data)
	}
	out := make([]byte, len(b.data)-start)
	copy(out, b.data[start:])
	return out
}

// Len returns the number of retained bytes.
func (b *AudioBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Total returns the number of bytes ever appended.
func (b *AudioBuffer) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evicted + len(b.data)
}
