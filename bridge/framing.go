package bridge

import "bytes"

// Framer converts between the wire byte stream and discrete message
// frames. The correlation logic only ever sees whole frames, so the
// framing scheme can change without touching it.
//
// Contract:
// - Encode returns one self-contained frame ready to write to the stream.
// - Split consumes buffered bytes, returning every complete frame plus
//   the unconsumed trailing fragment. It must never block and never drop
//   partial data.
type Framer interface {
	Encode(msg []byte) []byte
	Split(buf []byte) (frames [][]byte, rest []byte)
}

// LineFramer frames messages as newline-delimited JSON: one self-contained
// object per line, terminated by a single newline, with no embedded
// literal newlines.
type LineFramer struct{}

// Encode appends the line terminator.
func (LineFramer) Encode(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+1)
	out = append(out, msg...)
	return append(out, '\n')
}

// Split returns complete lines and retains the trailing incomplete
// fragment. Blank lines are skipped; a trailing carriage return is
// stripped.
func (LineFramer) Split(buf []byte) ([][]byte, []byte) {
	var frames [][]byte
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return frames, buf
		}
		line := bytes.TrimSuffix(buf[:i], []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			frames = append(frames, line)
		}
		buf = buf[i+1:]
	}
}
