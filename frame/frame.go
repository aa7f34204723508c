// Package frame implements the line-oriented wire framing spoken over the
// serial link.
//
// A frame carries a correlation id and a body between double brackets and
// is terminated by a newline:
//
//	[[<fullId> <body>]]\n
//
// Lines that do not start with the opening delimiter are not frames; they
// are unsolicited device text and are reported as [ErrNotFrame] by Decode.
package frame

import (
	"errors"
	"fmt"
	"strings"
)

// Frame delimiters.
const (
	OpenDelim  = "[["
	CloseDelim = "]]"
	Terminator = '\n'
)

// Sentinel errors for frame encoding and decoding.
var (
	// ErrNotFrame means the line is plain device text, not a framed message.
	ErrNotFrame = errors.New("frame: line is not a frame")
	// ErrMalformed means the line opens a frame but cannot be decoded.
	ErrMalformed = errors.New("frame: malformed frame")
	// ErrInvalidID means the correlation id cannot be put on the wire.
	ErrInvalidID = errors.New("frame: invalid correlation id")
	// ErrInvalidBody means the body would break line framing.
	ErrInvalidBody = errors.New("frame: invalid body")
	// ErrLineTooLong means a received line exceeded the reader limit.
	ErrLineTooLong = errors.New("frame: line too long")
)

// Frame is one decoded wire unit.
type Frame struct {
	ID   string
	Body string
}

// String returns the wire form of f without the terminator.
func (f Frame) String() string {
	return OpenDelim + f.ID + " " + f.Body + CloseDelim
}

// Encode returns the wire bytes for fullID and body, terminator included.
func Encode(fullID, body string) ([]byte, error) {
	if err := validateID(fullID); err != nil {
		return nil, err
	}
	if strings.ContainsAny(body, "\r\n") {
		return nil, fmt.Errorf("%w: body contains a line break", ErrInvalidBody)
	}

	buf := make([]byte, 0, len(OpenDelim)+len(fullID)+1+len(body)+len(CloseDelim)+1)
	buf = append(buf, OpenDelim...)
	buf = append(buf, fullID...)
	buf = append(buf, ' ')
	buf = append(buf, body...)
	buf = append(buf, CloseDelim...)
	buf = append(buf, Terminator)

	return buf, nil
}

// Decode parses one received line. Trailing CR/LF and surrounding blanks
// are ignored.
//
// It returns ErrNotFrame for lines without the opening delimiter and
// ErrMalformed for lines that open a frame but have no closing delimiter
// or no id.
func Decode(line []byte) (Frame, error) {
	s := strings.TrimSpace(string(line))

	if !strings.HasPrefix(s, OpenDelim) {
		return Frame{}, ErrNotFrame
	}
	if len(s) < len(OpenDelim)+len(CloseDelim) || !strings.HasSuffix(s, CloseDelim) {
		return Frame{}, fmt.Errorf("%w: missing %q in %q", ErrMalformed, CloseDelim, s)
	}

	inner := s[len(OpenDelim) : len(s)-len(CloseDelim)]
	id, body, _ := strings.Cut(inner, " ")
	if id == "" {
		return Frame{}, fmt.Errorf("%w: empty id in %q", ErrMalformed, s)
	}

	return Frame{ID: id, Body: body}, nil
}

// IsFrame reports whether line opens a frame, well formed or not.
func IsFrame(line []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(line)), OpenDelim)
}

func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidID, id)
	}

	return nil
}
