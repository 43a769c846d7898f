// Package wire frames the transfer protocol: one JSON header per line, an
// optional DATA: marker line, then exactly size raw payload bytes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type Command string

const (
	CommandSend    Command = "Send"
	CommandRequest Command = "Request"
	CommandListDir Command = "ListDir"
	CommandError   Command = "Error"
)

// DataMarker is the line separating a Send header from its payload.
const DataMarker = "DATA:"

const (
	// MaxHeaderLength bounds a command or response header line.
	MaxHeaderLength = 64 << 10
	// MaxListingLength bounds a directory listing response line.
	MaxListingLength = 64 << 20
)

// ErrClosed is returned by ReadLine when the peer closed the stream before
// a line terminator arrived. It is distinct from reading an empty line.
var ErrClosed = errors.New("connection closed before end of line")

// ProtocolError reports a malformed or unexpected header or data marker.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Reason, e.Err)
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Message is one of Send, Request, ListDir or Failure.
type Message interface {
	Command() Command
}

// Send announces a payload of Size bytes for Filename. It is followed by the
// data marker and the payload.
type Send struct {
	Filename string
	Size     int64
}

// Request asks the peer to send the file at Path.
type Request struct {
	Path string
}

// ListDir asks the peer to enumerate the directory at Path. An empty Path is
// the served root.
type ListDir struct {
	Path string
}

// Failure is an Error response. It doubles as an error value on the
// initiating side.
type Failure struct {
	Message string
}

func (Send) Command() Command    { return CommandSend }
func (Request) Command() Command { return CommandRequest }
func (ListDir) Command() Command { return CommandListDir }
func (Failure) Command() Command { return CommandError }

func (f Failure) Error() string { return f.Message }

// header is the flat JSON shape on the wire. Fields that do not belong to
// the command are omitted.
type header struct {
	Command      Command `json:"command"`
	Filename     string  `json:"filename,omitempty"`
	Size         *int64  `json:"size,omitempty"`
	Path         *string `json:"path,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func toHeader(m Message) (header, error) {
	switch m := m.(type) {
	case Send:
		size := m.Size
		return header{Command: CommandSend, Filename: m.Filename, Size: &size}, nil
	case Request:
		p := m.Path
		return header{Command: CommandRequest, Path: &p}, nil
	case ListDir:
		p := m.Path
		return header{Command: CommandListDir, Path: &p}, nil
	case Failure:
		return header{Command: CommandError, ErrorMessage: m.Message}, nil
	default:
		return header{}, fmt.Errorf("unsupported message type %T", m)
	}
}

func parseCommand(c Command) (Command, bool) {
	for _, known := range []Command{CommandSend, CommandRequest, CommandListDir, CommandError} {
		if strings.EqualFold(string(c), string(known)) {
			return known, true
		}
	}
	return "", false
}

// Encode renders m as a single header line including the trailing newline.
func Encode(m Message) ([]byte, error) {
	h, err := toHeader(m)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one header line.
func Decode(line string) (Message, error) {
	var h header
	if err := json.Unmarshal([]byte(line), &h); err != nil {
		return nil, &ProtocolError{Reason: "malformed header", Err: err}
	}

	cmd, ok := parseCommand(h.Command)
	if !ok {
		return nil, &ProtocolError{Reason: fmt.Sprintf("unknown command %q", h.Command)}
	}

	switch cmd {
	case CommandSend:
		if h.Filename == "" {
			return nil, &ProtocolError{Reason: "send without filename"}
		}
		if h.Size == nil || *h.Size < 0 {
			return nil, &ProtocolError{Reason: "send without a valid size"}
		}
		return Send{Filename: h.Filename, Size: *h.Size}, nil
	case CommandRequest:
		return Request{Path: deref(h.Path)}, nil
	case CommandListDir:
		return ListDir{Path: deref(h.Path)}, nil
	default:
		return Failure{Message: h.ErrorMessage}, nil
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// WriteMessage writes m as one header line with a single Write call.
func WriteMessage(w io.Writer, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteSend writes a Send header followed by the data marker.
func WriteSend(w io.Writer, m Send) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	data = append(data, DataMarker+"\n"...)
	_, err = w.Write(data)
	return err
}

// ReadLine reads bytes one at a time up to and including '\n', dropping '\r'.
// It never reads past the terminator, so a payload that follows stays
// unread. Header lines only; payloads must go through a buffered copy.
func ReadLine(r io.Reader, limit int) (string, error) {
	var (
		line []byte
		b    [1]byte
	)
	for {
		n, err := r.Read(b[:])
		if n == 1 {
			switch b[0] {
			case '\n':
				return strings.TrimSpace(string(line)), nil
			case '\r':
			default:
				if len(line) >= limit {
					return "", &ProtocolError{Reason: fmt.Sprintf("line exceeds %d bytes", limit)}
				}
				line = append(line, b[0])
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return "", ErrClosed
		}
		if err != nil {
			return "", err
		}
	}
}

// ReadMessage reads and decodes one header line.
func ReadMessage(r io.Reader) (Message, error) {
	line, err := ReadLine(r, MaxHeaderLength)
	if err != nil {
		return nil, err
	}
	return Decode(line)
}

// ReadDataMarker consumes the line following a Send header and checks that
// it is exactly the data marker.
func ReadDataMarker(r io.Reader) error {
	line, err := ReadLine(r, MaxHeaderLength)
	if err != nil {
		return err
	}
	if line != DataMarker {
		return &ProtocolError{Reason: fmt.Sprintf("expected %s separator, got %q", DataMarker, line)}
	}
	return nil
}
