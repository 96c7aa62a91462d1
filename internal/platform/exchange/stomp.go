package exchange

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-stomp/stomp/v3/frame"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// Each websocket message carries whole STOMP frames. These helpers adapt
// the go-stomp frame codec to that framing.

// encodeFrame renders f as one websocket message.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("exchange: encode %s frame: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// decodeFrames splits a websocket message into frames. Bare EOLs between
// frames are heart-beats and yield no frame.
func decodeFrames(raw []byte) ([]*frame.Frame, error) {
	if rest := bytes.TrimRight(raw, "\r\n"); len(rest) > 0 && rest[len(rest)-1] != 0 {
		return nil, fmt.Errorf("exchange: stomp frame not terminated: %w", domain.ErrMalformedMessage)
	}

	r := frame.NewReader(bytes.NewReader(raw))
	var frames []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return frames, fmt.Errorf("exchange: stomp frame: %w: %v", domain.ErrMalformedMessage, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
}
