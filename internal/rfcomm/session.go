package rfcomm

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// rawIO is the minimal transport a session needs. The production
// implementation (fdio.go) wraps a raw accepted RFCOMM file descriptor;
// tests substitute an in-memory fake. Close must be idempotent: the
// accept loop's own cleanup and the session's may both call it.
type rawIO interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

const sendRetryDelay = 500 * time.Millisecond

// session is one accepted RFCOMM client (§3 RFCOMM session). Exactly
// one session is served at a time (§4.F "one connection served at a
// time"). id is a random session identifier used only for log
// correlation; it is never part of the wire protocol.
type session struct {
	io       rawIO
	handler  *Handler
	remote   string
	id       uuid.UUID
	buf      []byte
	lastSent []byte
}

// newSession constructs a session with a fresh random id.
func newSession(io rawIO, handler *Handler, remote string) *session {
	return &session{io: io, handler: handler, remote: remote, id: uuid.New()}
}

// serve runs the per-client loop until the transport errors, the peer
// disconnects, or ctx is cancelled.
func (s *session) serve(ctx context.Context) {
	defer s.io.Close()
	log.Printf("rfcomm: session %s (%s) starting", s.id, s.remote)
	defer log.Printf("rfcomm: session %s (%s) ended", s.id, s.remote)
	read := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := s.io.Read(read)
		if err != nil {
			if errors.Is(err, errPollTimeout) {
				continue
			}
			log.Printf("rfcomm: session %s: read error: %v", s.remote, err)
			return
		}
		if n == 0 {
			return
		}
		s.buf = append(s.buf, read[:n]...)
		for {
			line, rest, ok := splitLine(s.buf)
			if !ok {
				break
			}
			s.buf = rest
			s.handleLine(ctx, line)
		}
	}
}

// splitLine extracts the first \n- or \r\n-terminated line from buf, if
// one is present.
func splitLine(buf []byte) (line, rest []byte, ok bool) {
	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		return nil, buf, false
	}
	line = buf[:idx]
	line = bytes.TrimSuffix(line, []byte("\r"))
	rest = buf[idx+1:]
	return line, rest, true
}

func (s *session) handleLine(ctx context.Context, line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	// Echo cancellation (§4.F, §9): some peer stacks echo transmitted
	// frames back to the sender. This must run against the raw received
	// line, before base64 decoding — our own responses are never
	// base64-wrapped, so the echo reaches us exactly as sent.
	if s.lastSent != nil && bytes.Equal(trimmed, bytes.TrimSpace(s.lastSent)) {
		return
	}

	payload := trimmed
	if decoded, err := base64.StdEncoding.DecodeString(string(trimmed)); err == nil {
		payload = decoded
	}

	resp := s.handler.Handle(ctx, payload)
	s.send(resp)
}

func (s *session) send(payload []byte) {
	line := append(append([]byte{}, payload...), '\n')
	if _, err := s.io.Write(line); err != nil {
		time.Sleep(sendRetryDelay)
		if _, err2 := s.io.Write(line); err2 != nil {
			log.Printf("rfcomm: session %s: send failed after retry: %v", s.remote, err2)
			return
		}
	}
	s.lastSent = payload
}
