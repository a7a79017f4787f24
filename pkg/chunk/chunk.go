// Package chunk implements the chunked-packet wire layer that fragments
// oversized logical packets into chunk-sized frames and reassembles them on
// the inbound side, per spec.md §4.1 / §6.3.
//
// The control-frame format and the ≤N-byte threshold are bit-exact with
// spec.md: a literal 'C' followed by a compact JSON array of the fragment
// counts per original frame, with no whitespace. The encoder omits the
// control frame entirely when every frame already fits within the chunk
// size, for compatibility with peers that don't understand chunking.
package chunk

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Frame is one wire-level message: either a text frame (string) or a
// binary frame ([]byte). The zero value is an empty binary frame.
type Frame struct {
	Text   string
	Binary []byte
	IsText bool
}

// TextFrame constructs a text Frame.
func TextFrame(s string) Frame { return Frame{Text: s, IsText: true} }

// BinaryFrame constructs a binary Frame.
func BinaryFrame(b []byte) Frame { return Frame{Binary: b, IsText: false} }

// Len returns the byte length of the frame's payload.
func (f Frame) Len() int {
	if f.IsText {
		return len(f.Text)
	}
	return len(f.Binary)
}

const controlPrefix = 'C'

// Encode splits a logical packet (one or more frames) into ≤chunkSize
// pieces, prefixed by a control frame, unless every frame already fits —
// in which case frames is returned unchanged. chunkSize must be positive.
func Encode(frames []Frame, chunkSize int) ([]Frame, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk: chunkSize must be positive, got %d", chunkSize)
	}

	needsChunking := false
	for _, f := range frames {
		if f.Len() > chunkSize {
			needsChunking = true
			break
		}
	}
	if !needsChunking {
		return frames, nil
	}

	counts := make([]int, len(frames))
	var pieces []Frame
	for i, f := range frames {
		split := splitFrame(f, chunkSize)
		counts[i] = len(split)
		pieces = append(pieces, split...)
	}

	header, err := json.Marshal(counts)
	if err != nil {
		return nil, fmt.Errorf("chunk: encoding control header: %w", err)
	}

	out := make([]Frame, 0, len(pieces)+1)
	out = append(out, TextFrame(string(controlPrefix)+string(header)))
	out = append(out, pieces...)
	return out, nil
}

func splitFrame(f Frame, chunkSize int) []Frame {
	var pieces []Frame
	if f.IsText {
		for offset := 0; offset < len(f.Text); offset += chunkSize {
			end := min(offset+chunkSize, len(f.Text))
			pieces = append(pieces, TextFrame(f.Text[offset:end]))
		}
		if len(f.Text) == 0 {
			pieces = append(pieces, TextFrame(""))
		}
		return pieces
	}

	for offset := 0; offset < len(f.Binary); offset += chunkSize {
		end := min(offset+chunkSize, len(f.Binary))
		pieces = append(pieces, BinaryFrame(f.Binary[offset:end]))
	}
	if len(f.Binary) == 0 {
		pieces = append(pieces, BinaryFrame(nil))
	}
	return pieces
}

// Reassembler holds the stateful, per-connection reassembly of a chunked
// logical packet. It assumes in-order delivery of frames belonging to one
// logical packet and does not interleave with a second packet's frames
// while reassembly is in progress (spec.md §9's chunking-atomicity note).
type Reassembler struct {
	mu      sync.Mutex
	pending []int   // remaining fragment counts, one entry per reconstructed frame
	buffer  []Frame // fragments accumulated for the frame currently being assembled
}

// NewReassembler creates an idle Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Feed processes one inbound frame. If the frame completes a (possibly
// trivial, unchunked) logical frame, it returns that frame and true. If
// more fragments are still needed, it returns the zero Frame and false.
// A malformed control header or a mixed-type chunk is a ProtocolError; per
// spec.md §4.1, the caller should drop reassembly state and close the
// connection.
func (r *Reassembler) Feed(f Frame) (Frame, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == nil {
		if f.IsText && len(f.Text) > 0 && f.Text[0] == controlPrefix {
			counts, err := parseControlHeader(f.Text[1:])
			if err != nil {
				return Frame{}, false, err
			}
			r.pending = counts
			r.buffer = nil
			return Frame{}, false, nil
		}
		// Not reassembling and not a control frame: pass through untouched.
		return f, true, nil
	}

	r.buffer = append(r.buffer, f)
	if len(r.buffer) < r.pending[0] {
		return Frame{}, false, nil
	}

	reassembled, err := concatFrames(r.buffer)
	if err != nil {
		r.reset()
		return Frame{}, false, err
	}

	r.pending = r.pending[1:]
	r.buffer = nil
	if len(r.pending) == 0 {
		r.pending = nil
	}

	return reassembled, true, nil
}

// reset drops all in-progress reassembly state. Call after a protocol
// error, before forcing the transport session closed.
func (r *Reassembler) reset() {
	r.pending = nil
	r.buffer = nil
}

// Reset is the exported, lock-guarded form of reset, for transport-layer
// callers that force-close a session after a ProtocolError.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

func parseControlHeader(data string) ([]int, error) {
	var counts []int
	if err := json.Unmarshal([]byte(data), &counts); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed chunking control header: %v", err)}
	}
	if len(counts) == 0 {
		return nil, &ProtocolError{Reason: "chunking control header is empty"}
	}
	for _, c := range counts {
		if c <= 0 {
			return nil, &ProtocolError{Reason: fmt.Sprintf("chunking control header has a non-positive count: %d", c)}
		}
	}
	return counts, nil
}

func concatFrames(frames []Frame) (Frame, error) {
	allText := true
	allBinary := true
	for _, f := range frames {
		if f.IsText {
			allBinary = false
		} else {
			allText = false
		}
	}

	switch {
	case allText:
		var sb []byte
		for _, f := range frames {
			sb = append(sb, f.Text...)
		}
		return TextFrame(string(sb)), nil
	case allBinary:
		var buf []byte
		for _, f := range frames {
			buf = append(buf, f.Binary...)
		}
		return BinaryFrame(buf), nil
	default:
		return Frame{}, &ProtocolError{Reason: "received a mixed-type chunk set"}
	}
}

// ProtocolError marks a chunking-layer wire violation: malformed control
// header, non-positive count, or mixed-type chunk. Per spec.md §4.1/§7,
// these force-close the owning transport session.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "chunk: protocol error: " + e.Reason
}
