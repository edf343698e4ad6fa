// Package protocol defines the relay's Message value and its length-prefixed
// text framing. Nothing in this package performs I/O.
package protocol

import (
	"errors"
	"fmt"
)

// Kind is the fixed-width handle code that identifies a message's type.
type Kind string

const (
	KindHello     Kind = "HLO"
	KindQuit      Kind = "BYE"
	KindBroadcast Kind = "BCT"
)

// KindLength is the width of every handle code on the wire.
const KindLength = 3

// Known reports whether k is one of the kinds a session acts on.
func (k Kind) Known() bool {
	switch k {
	case KindHello, KindQuit, KindBroadcast:
		return true
	}
	return false
}

// Placeholder is what an absent field looks like on the wire.
const Placeholder = "--"

var ErrUnknownKind = errors.New("protocol: invalid kind code")

// Field is an optional message field. The zero value is absent.
type Field struct {
	value   string
	present bool
}

// Absent is the empty Field.
var Absent = Field{}

// Value returns a present field holding s. The placeholder itself cannot be
// carried as text, so Value(Placeholder) yields Absent.
func Value(s string) Field {
	if s == Placeholder {
		return Absent
	}
	return Field{value: s, present: true}
}

func (f Field) Present() bool { return f.present }

// Get returns the field text and whether it is present.
func (f Field) Get() (string, bool) { return f.value, f.present }

// String returns the text, or "" when absent.
func (f Field) String() string { return f.value }

// Message is an immutable protocol message. Messages compare with ==.
type Message struct {
	kind   Kind
	sender Field
	text   Field
}

// MakeLogin builds the simple login message carrying the client's name.
func MakeLogin(name string) Message {
	return Message{kind: KindHello, sender: Value(name)}
}

// MakeHello builds a login message whose name travels as text.
func MakeHello(text string) Message {
	return Message{kind: KindHello, text: Value(text)}
}

func MakeQuit(name string) Message {
	return Message{kind: KindQuit, sender: Value(name)}
}

func MakeBroadcast(sender, text Field) Message {
	return Message{kind: KindBroadcast, sender: sender, text: text}
}

// MakeFromWire builds a message from a decoded handle code. Codes this
// package does not know are accepted so that newer peers can introduce
// control kinds; they only need to be KindLength printable, non-space bytes.
func MakeFromWire(code string, sender, text Field) (Message, error) {
	if !validKind(code) {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, code)
	}
	return Message{kind: Kind(code), sender: sender, text: text}, nil
}

func validKind(code string) bool {
	if len(code) != KindLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] <= ' ' || code[i] > '~' {
			return false
		}
	}
	return true
}

func (m Message) Kind() Kind    { return m.kind }
func (m Message) Sender() Field { return m.sender }
func (m Message) Text() Field   { return m.text }

// IsInitialization reports whether m establishes a client's identity.
func (m Message) IsInitialization() bool { return m.kind == KindHello }

// Terminates reports whether m ends the sender's session.
func (m Message) Terminates() bool { return m.kind == KindQuit }

func (m Message) IsBroadcast() bool { return m.kind == KindBroadcast }

// Name returns the identity a login message carries: the sender when
// present, the text otherwise.
func (m Message) Name() string {
	if s, ok := m.sender.Get(); ok {
		return s
	}
	return m.text.String()
}

// String returns the wire form of m.
func (m Message) String() string {
	return string(Encode(m))
}
