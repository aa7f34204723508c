package frame

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineLength bounds a single received line.
const DefaultMaxLineLength = 1024

// minBufferSize mirrors the bufio minimum.
const minBufferSize = 16

// Reader splits a byte stream into lines.
//
// It is NOT goroutine-safe; the transport read loop is its only user.
type Reader struct {
	r   *bufio.Reader
	max int
}

// NewReader returns a Reader on r that rejects lines longer than maxLen bytes.
// A maxLen below 16 selects DefaultMaxLineLength.
func NewReader(r io.Reader, maxLen int) *Reader {
	if maxLen < minBufferSize {
		maxLen = DefaultMaxLineLength
	}

	return &Reader{r: bufio.NewReaderSize(r, maxLen), max: maxLen}
}

// ReadLine returns the next line without its line terminator.
//
// A final line without terminator is returned before io.EOF. A line longer
// than the limit is discarded up to and including its terminator, and
// ErrLineTooLong is returned; the reader stays usable.
func (lr *Reader) ReadLine() ([]byte, error) {
	line, err := lr.r.ReadSlice(Terminator)

	switch {
	case err == nil:
		return trimEOL(line), nil

	case errors.Is(err, bufio.ErrBufferFull):
		if derr := lr.discardLine(); derr != nil && !errors.Is(derr, io.EOF) {
			return nil, derr
		}

		return nil, ErrLineTooLong

	case errors.Is(err, io.EOF) && len(line) > 0:
		return trimEOL(line), nil

	default:
		return nil, err
	}
}

func (lr *Reader) discardLine() error {
	for {
		_, err := lr.r.ReadSlice(Terminator)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimRight(line, "\r\n")
	out := make([]byte, len(line))
	copy(out, line)

	return out
}
