package telemetry

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
)

// jsonFrame mirrors RawFrame's shape for wire decoding.
type jsonFrame struct {
	Session SessionInfo `json:"session"`
	Drivers []Driver    `json:"drivers"`
}

// JSONSource is a Source reading newline-delimited JSON frames from r. No
// vendor binding for the simulator's shared-memory API exists in this
// module; a real deployment points this at a bridge process's stdout pipe
// or a replay file recorded from one, one RawFrame per line.
type JSONSource struct {
	scanner *bufio.Scanner
}

// NewJSONSource wraps r. The scanner's buffer is sized generously since a
// full-grid frame can exceed bufio's 64KB default token size.
func NewJSONSource(r io.Reader) *JSONSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONSource{scanner: scanner}
}

// Poll reads and decodes the next line as a RawFrame. It returns io.EOF
// once the underlying reader is exhausted.
func (s *JSONSource) Poll() (RawFrame, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return RawFrame{}, fmt.Errorf("telemetry: read frame: %w", err)
		}
		return RawFrame{}, io.EOF
	}
	var jf jsonFrame
	if err := json.Unmarshal(s.scanner.Bytes(), &jf); err != nil {
		return RawFrame{}, fmt.Errorf("telemetry: decode frame: %w", err)
	}
	return RawFrame{Session: jf.Session, Drivers: jf.Drivers}, nil
}
