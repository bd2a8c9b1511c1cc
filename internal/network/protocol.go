package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// maxFrameSize is the largest accepted frame payload (16 MB).
const maxFrameSize = 16 << 20

var ErrFrameTooLarge = errors.New("frame too large")

// writeFrame writes [4B big-endian length][payload].
func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), maxFrameSize)
	}

	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxFrameSize)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}
