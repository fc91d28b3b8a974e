package playback

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"narrator-server/internal/models"
)

// Lookahead compensates for the delay between a highlight decision and
// the frame it reaches the screen.
const defaultLookahead = 30 * time.Millisecond

// Word is one display unit of the narration text. Hidden words are
// bracketed stage directions the narrator voices but the screen omits.
type Word struct {
	Text   string
	Start  int // first character offset in the narration text
	End    int // one past the last character offset
	Hidden bool
}

// Synchronizer is the host-client state machine that turns the server's
// event stream into a synchronized display: growing narration text, an
// audio buffer, character alignment and the current highlight position.
// It is safe for concurrent use by the event reader and the render loop.
type Synchronizer struct {
	mu          sync.Mutex
	partialText string
	finalText   string
	finalSet    bool
	alignment   models.AudioAlignment
	buffer      *AudioBuffer
	imageURL    string
	partials    []string
	audioDone   bool
	turnDone    bool
	lookahead   time.Duration
}

// NewSynchronizer creates a synchronizer with the given audio buffer
// capacity in bytes.
func NewSynchronizer(audioCapacity int) *Synchronizer {
	return &Synchronizer{
		buffer:    NewAudioBuffer(audioCapacity),
		lookahead: defaultLookahead,
	}
}

// HandleEvent consumes one named event from the turn stream. Unknown
// events are ignored so the client stays forward compatible.
func (s *Synchronizer) HandleEvent(event string, data []byte) error {
	switch event {
	case models.EventContinuationChunk:
		var payload models.TextPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", event, err)
		}
		s.mu.Lock()
		// Each chunk carries the whole narration so far, so later
		// chunks replace earlier ones.
		s.partialText = payload.Text
		s.mu.Unlock()

	case models.EventContinuationComplete:
		var payload models.TextPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", event, err)
		}
		s.mu.Lock()
		// The final text supersedes anything assembled from chunks.
		s.finalText = payload.Text
		s.finalSet = true
		s.mu.Unlock()

	case models.EventAudioChunk:
		var chunk models.AudioChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("bad %s payload: %w", event, err)
		}
		audio, err := base64.StdEncoding.DecodeString(chunk.AudioB64)
		if err != nil {
			return fmt.Errorf("bad audio chunk encoding: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.buffer.Append(audio)
		return s.alignment.Append(chunk.Alignment)

	case models.EventAudioComplete:
		s.mu.Lock()
		s.audioDone = true
		s.mu.Unlock()

	case models.EventImagePartial:
		var payload models.ImagePartialPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", event, err)
		}
		s.mu.Lock()
		s.partials = append(s.partials, payload.Image)
		s.mu.Unlock()

	case models.EventImageComplete:
		var payload models.ImageCompletePayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("bad %s payload: %w", event, err)
		}
		if payload.Image != nil {
			s.mu.Lock()
			s.imageURL = payload.Image.URL
			s.mu.Unlock()
		}

	case models.EventTurnComplete:
		s.mu.Lock()
		s.turnDone = true
		s.mu.Unlock()
	}
	return nil
}

// Text returns the narration text to display: the final text once known,
// otherwise whatever streamed in so far.
func (s *Synchronizer) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalSet {
		return s.finalText
	}
	return s.partialText
}

// ImageURL returns the final illustration URL, empty until it arrives.
func (s *Synchronizer) ImageURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageURL
}

// Buffer exposes the audio buffer for the player.
func (s *Synchronizer) Buffer() *AudioBuffer {
	return s.buffer
}

// TurnDone reports whether turn_complete arrived.
func (s *Synchronizer) TurnDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnDone
}

// SpokenCharacters returns how many aligned characters have been voiced
// at the given playback position, with a small lookahead so highlights
// land on time. With no alignment it returns 0.
func (s *Synchronizer) SpokenCharacters(playbackPos time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := playbackPos + s.lookahead
	secs := pos.Seconds()

	// A character counts as voiced once its end time has passed. End
	// times can wobble slightly around chunk boundaries, so every entry
	// is checked instead of binary searching.
	ends := s.alignment.CharacterEndTimesSecs
	count := 0
	for i := 0; i < len(ends); i++ {
		if ends[i] <= secs {
			count = i + 1
		}
	}
	return count
}

// Words segments the narration text into display words with character
// ranges. Bracketed stage directions become hidden words so highlight
// positions stay aligned with the voiced text.
func (s *Synchronizer) Words() []Word {
	text := s.Text()
	var words []Word

	i := 0
	for i < len(text) {
		// Skip whitespace.
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}

		start := i
		hidden := false
		if text[i] == '[' {
			// A stage direction runs to the matching bracket, or to the
			// end of the text while it is still streaming in.
			hidden = true
			for i < len(text) && text[i] != ']' {
				i++
			}
			if i < len(text) {
				i++
			}
		} else {
			for i < len(text) && !isSpace(text[i]) && text[i] != '[' {
				i++
			}
		}
		words = append(words, Word{
			Text:   text[start:i],
			Start:  start,
			End:    i,
			Hidden: hidden,
		})
	}
	return words
}

// HighlightedWord returns the index into Words of the word being voiced
// at the playback position. It returns -1 when nothing should be
// highlighted: before playback starts or when no alignment arrived at
// all (audio failed), in which case the client shows plain text.
func (s *Synchronizer) HighlightedWord(playbackPos time.Duration) int {
	spoken := s.SpokenCharacters(playbackPos)
	if spoken == 0 {
		return -1
	}

	words := s.Words()
	charPos := spoken - 1
	highlight := -1
	for i, w := range words {
		if w.Start > charPos {
			break
		}
		if !w.Hidden {
			highlight = i
		}
	}
	return highlight
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
