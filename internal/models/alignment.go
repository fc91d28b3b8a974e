package models

import "fmt"

// AudioAlignment maps spoken characters to playback timestamps. The three
// slices are parallel and always equal length; end times never decrease.
// Slices arrive incrementally with each speech chunk and are merged with
// Append on the consuming side.
type AudioAlignment struct {
	Characters              []string  `json:"characters"`
	CharacterStartTimesSecs []float64 `json:"characterStartTimesSeconds"`
	CharacterEndTimesSecs   []float64 `json:"characterEndTimesSeconds"`
}

// Len returns the number of aligned characters.
func (a *AudioAlignment) Len() int {
	return len(a.Characters)
}

// Validate checks the parallel-array invariant and the monotonicity of end
// times.
func (a *AudioAlignment) Validate() error {
	if len(a.Characters) != len(a.CharacterStartTimesSecs) || len(a.Characters) != len(a.CharacterEndTimesSecs) {
		return fmt.Errorf("%w: characters=%d starts=%d ends=%d", ErrAlignmentMismatch,
			len(a.Characters), len(a.CharacterStartTimesSecs), len(a.CharacterEndTimesSecs))
	}
	for i := 1; i < len(a.CharacterEndTimesSecs); i++ {
		if a.CharacterEndTimesSecs[i] < a.CharacterEndTimesSecs[i-1] {
			return fmt.Errorf("%w: end time decreased at index %d", ErrAlignmentMismatch, i)
		}
	}
	return nil
}

// Append merges an incoming alignment slice into the running copy. Slices
// that fail validation are rejected so one bad chunk cannot corrupt the
// accumulated table.
func (a *AudioAlignment) Append(slice *AudioAlignment) error {
	if slice == nil {
		return nil
	}
	if err := slice.Validate(); err != nil {
		return err
	}
	a.Characters = append(a.Characters, slice.Characters...)
	a.CharacterStartTimesSecs = append(a.CharacterStartTimesSecs, slice.CharacterStartTimesSecs...)
	a.CharacterEndTimesSecs = append(a.CharacterEndTimesSecs, slice.CharacterEndTimesSecs...)
	return a.Validate()
}

// SpokenText returns the concatenation of aligned characters. It is
// expected to be a prefix of the narration text but consumers must tolerate
// divergence.
func (a *AudioAlignment) SpokenText() string {
	out := make([]byte, 0, len(a.Characters))
	for _, c := range a.Characters {
		out = append(out, c...)
	}
	return string(out)
}

// AudioChunk is one streamed speech unit: encoded audio plus the alignment
// slice covering it. Index is assigned by the orchestrator and increases
// monotonically within a turn.
type AudioChunk struct {
	Audio               []byte          `json:"-"`
	AudioB64            string          `json:"chunk"`
	Index               int             `json:"index"`
	Alignment           *AudioAlignment `json:"alignment,omitempty"`
	NormalizedAlignment *AudioAlignment `json:"normalizedAlignment,omitempty"`
}
