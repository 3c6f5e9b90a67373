package auth

import (
	"bytes"
	"fmt"
	"io"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// MaxTokenSize bounds a single handshake frame. Kerberos tickets carrying a
// PAC can reach tens of kilobytes.
const MaxTokenSize = 64 * 1024

// maxFrameSize bounds the whole encoded frame: the token plus the mechanism
// name or rejection reason.
const maxFrameSize = MaxTokenSize + 1024

// initFrame is sent by the initiator: the mechanism it speaks and its
// initial context token.
type initFrame struct {
	Mechanism string
	Token     []byte
}

// replyFrame is the acceptor's verdict. Reason is only set on rejection.
type replyFrame struct {
	Accepted bool
	Reason   string
	Token    []byte
}

func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, v); err != nil {
		return fmt.Errorf("encode handshake frame: %w", err)
	}
	if buf.Len() > maxFrameSize {
		return fmt.Errorf("handshake frame too large: %d bytes", buf.Len())
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// readFrame decodes one frame from r. Length prefixes above MaxTokenSize are
// refused before anything is allocated for them.
func readFrame(r io.Reader, v any) error {
	if _, err := xdr.UnmarshalLimited(io.LimitReader(r, maxFrameSize), v, MaxTokenSize); err != nil {
		return fmt.Errorf("decode handshake frame: %w", err)
	}
	return nil
}
