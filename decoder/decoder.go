// Package decoder turns media sources into surfaces of a surface.Context.
//
// A decoder moves through Unopened, Opened, Playing and Closed. Read yields one
// pool-managed image per decoded frame, strictly in decode order, and returns
// false at end of stream or on a pipeline failure, after which Err reports the
// failure (nil for a clean end of stream).
package decoder

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/surface"
)

// ErrInvalidState is returned for transitions that the current state does not
// allow, such as Play before Open.
var ErrInvalidState = errors.New("invalid decoder state")

// State is the lifecycle state of a decoder.
type State int

const (
	// StateUnopened is the state of a new decoder.
	StateUnopened State = iota
	// StateOpened means the pipeline is built and negotiated.
	StateOpened
	// StatePlaying means frames can be read.
	StatePlaying
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpened:
		return "opened"
	case StatePlaying:
		return "playing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Decoder produces hardware images from a media source.
type Decoder interface {
	// Open builds the decode pipeline for path.
	Open(path string) error
	// Play starts decoding.
	Play() error
	// Read returns the next frame. The caller closes the image. false means the
	// stream ended or failed; see Err.
	Read() (*surface.Image, bool)
	// Err returns the failure that ended the stream, if any.
	Err() error
	// FPS returns the source frame rate, known after the first successful Read.
	FPS() float64
	// Context returns the context frames are bound to.
	Context() *surface.Context
	// State returns the lifecycle state.
	State() State
	// Close tears the pipeline down. It may be called in any state and is
	// idempotent.
	Close() error
}

// Config holds the output negotiation of a decoder.
type Config struct {
	// Width of the yielded frames, 0 keeps the source width.
	Width int `json:"width" yaml:"width" mapstructure:"width"`
	// Height of the yielded frames, 0 keeps the source height.
	Height int `json:"height" yaml:"height" mapstructure:"height"`
	// FrameRate of sources without timing information.
	FrameRate float64 `json:"frame_rate" yaml:"frame_rate" mapstructure:"frame_rate"`
	// Frames produced by a synthetic source when the path does not say.
	Frames int `json:"frames" yaml:"frames" mapstructure:"synthetic_frames"`
}

// DefaultConfig returns the default decoder configuration.
func DefaultConfig() Config {
	return Config{
		FrameRate: 30,
		Frames:    10,
	}
}

// machine is the state machine shared by the decoders.
type machine struct {
	mu    sync.Mutex
	state State
	err   error
}

// transition moves from one state to another, or fails with ErrInvalidState.
func (m *machine) transition(op string, from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return errors.Wrapf(ErrInvalidState, "%s in state %s", op, m.state)
	}
	m.state = to
	return nil
}

// State returns the lifecycle state.
func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure that ended the stream.
func (m *machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// readable reports whether Read may pull a frame. Reading outside Playing
// records ErrInvalidState, except after Close which is a quiet end of stream.
func (m *machine) readable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StatePlaying:
		return true
	case StateClosed:
		return false
	default:
		if m.err == nil {
			m.err = errors.Wrapf(ErrInvalidState, "read in state %s", m.state)
		}
		return false
	}
}

// finish moves to Closed and records err if it is the first failure. It
// reports whether this call performed the transition.
func (m *machine) finish(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil && m.err == nil {
		m.err = err
	}
	if m.state == StateClosed {
		return false
	}
	m.state = StateClosed
	return true
}
