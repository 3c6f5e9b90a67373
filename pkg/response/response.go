// Package response defines the single message a server sends to a client
// after the handshake, and its wire encoding.
package response

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/marmos91/gridauth/pkg/auth"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Status codes carried by a Message.
const (
	StatusSuccess int32 = 0
	StatusFailure int32 = 1

	// StatusUnset marks a Message that was never constructed. It is never
	// sent on the wire.
	StatusUnset int32 = math.MinInt32
)

// SuccessMessage is the text of every successful response.
const SuccessMessage = "Authentication successful"

// maxEncodedSize bounds how much Decode will read. A response carries two
// short strings.
const maxEncodedSize = 64 * 1024

var (
	// ErrUnsetStatus is returned when encoding or decoding a Message whose
	// status code is StatusUnset.
	ErrUnsetStatus = errors.New("response: status code is unset")

	// ErrMalformed is returned when the wire payload cannot be decoded.
	ErrMalformed = errors.New("response: malformed payload")

	// ErrNoResponse is returned when the stream ends before any byte of a
	// response arrives, which is how a server signals a rejected session.
	ErrNoResponse = errors.New("response: connection closed without a response")
)

// Message is the immutable response value. The zero value reports
// StatusUnset.
type Message struct {
	message       string
	identity      auth.LocalIdentity
	statusCode    int32
	isConstructed bool
}

// New constructs a Message.
func New(message string, localIdentity auth.LocalIdentity, statusCode int32) Message {
	return Message{
		message:       message,
		identity:      localIdentity,
		statusCode:    statusCode,
		isConstructed: true,
	}
}

// Success builds the response sent after a successful mapping.
func Success(localIdentity auth.LocalIdentity) Message {
	return New(SuccessMessage, localIdentity, StatusSuccess)
}

// Failure builds the response sent when a session fails after the handshake.
func Failure(cause error, localIdentity auth.LocalIdentity) Message {
	return New(fmt.Sprintf("authentication service error: %v", cause), localIdentity, StatusFailure)
}

// Message returns the human-readable status text.
func (m Message) Message() string {
	return m.message
}

// StatusCode returns 0 on success, another value on failure and StatusUnset
// for the zero Message.
func (m Message) StatusCode() int32 {
	if !m.isConstructed {
		return StatusUnset
	}
	return m.statusCode
}

// LocalIdentity returns the mapped identity, which may be absent.
func (m Message) LocalIdentity() auth.LocalIdentity {
	return m.identity
}

// Succeeded reports whether the status code is StatusSuccess.
func (m Message) Succeeded() bool {
	return m.StatusCode() == StatusSuccess
}

// String renders the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("response: status=%d local_identity=%s message=%q",
		m.StatusCode(), m.identity, m.message)
}

// wireMessage is the XDR schema. LocalIdentity holds zero or one element,
// the XDR encoding of optional data.
type wireMessage struct {
	Message       string
	StatusCode    int32
	LocalIdentity []string
}

// Encode writes m to w.
func (m Message) Encode(w io.Writer) error {
	if m.StatusCode() == StatusUnset {
		return ErrUnsetStatus
	}

	wire := wireMessage{Message: m.message, StatusCode: m.statusCode}
	if name, ok := m.identity.Get(); ok {
		wire.LocalIdentity = []string{name}
	}

	if _, err := xdr.Marshal(w, &wire); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	return nil
}

// Decode reads exactly one Message from r.
func Decode(r io.Reader) (Message, error) {
	var wire wireMessage
	n, err := xdr.UnmarshalLimited(io.LimitReader(r, maxEncodedSize), &wire, maxEncodedSize)
	if err != nil {
		if n == 0 {
			return Message{}, fmt.Errorf("%w: %v", ErrNoResponse, err)
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if wire.StatusCode == StatusUnset {
		return Message{}, ErrUnsetStatus
	}
	if len(wire.LocalIdentity) > 1 {
		return Message{}, fmt.Errorf("%w: %d local identities", ErrMalformed, len(wire.LocalIdentity))
	}

	identity := auth.None()
	if len(wire.LocalIdentity) == 1 {
		identity = auth.Some(wire.LocalIdentity[0])
	}
	return New(wire.Message, identity, wire.StatusCode), nil
}
