package protocol

import (
	"errors"
	"fmt"
	"strconv"
)

// MaxFieldSize bounds a single field's declared length. Anything larger can
// never fit a connection's receive buffer.
const MaxFieldSize = 64 * 1024

var (
	// ErrIncomplete means the buffer ends before the frame does. It is not a
	// fault; the caller retries once more bytes arrive.
	ErrIncomplete = errors.New("protocol: incomplete frame")
	// ErrMalformed means the bytes can never form a frame.
	ErrMalformed = errors.New("protocol: malformed frame")
)

const separator = ' '

// Encode returns the wire form of m:
//
//	<KIND> <len1> <sender> <len2> <text>
//
// An absent field is written as the placeholder "--" with length 2.
func Encode(m Message) []byte {
	return AppendEncode(make([]byte, 0, encodedLen(m)), m)
}

// AppendEncode appends the wire form of m to dst.
func AppendEncode(dst []byte, m Message) []byte {
	dst = append(dst, m.kind...)
	dst = append(dst, separator)
	dst = appendField(dst, m.sender)
	dst = append(dst, separator)
	return appendField(dst, m.text)
}

func appendField(dst []byte, f Field) []byte {
	s := Placeholder
	if f.present {
		s = f.value
	}
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, separator)
	return append(dst, s...)
}

func encodedLen(m Message) int {
	fieldLen := func(f Field) int {
		n := len(Placeholder)
		if f.present {
			n = len(f.value)
		}
		return len(strconv.Itoa(n)) + 1 + n
	}
	return len(m.kind) + 1 + fieldLen(m.sender) + 1 + fieldLen(m.text)
}

// Decode extracts the first frame from buf and reports how many bytes it
// consumed, including any whitespace skipped ahead of it. On ErrIncomplete
// only that leading whitespace counts as consumed; the partial frame itself
// is left for a retry once more bytes arrive.
func Decode(buf []byte) (Message, int, error) {
	d := decoder{buf: buf}
	d.skipSpace()
	lead := d.pos
	m, err := d.frame()
	if errors.Is(err, ErrIncomplete) {
		return Message{}, lead, err
	}
	if err != nil {
		return Message{}, 0, err
	}
	return m, d.pos, nil
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) frame() (Message, error) {
	if len(d.buf)-d.pos < KindLength {
		return Message{}, ErrIncomplete
	}
	code := string(d.buf[d.pos : d.pos+KindLength])
	if !validKind(code) {
		return Message{}, fmt.Errorf("%w: bad kind %q at offset %d", ErrMalformed, code, d.pos)
	}
	d.pos += KindLength
	if err := d.expectSeparator(); err != nil {
		return Message{}, err
	}
	sender, err := d.field()
	if err != nil {
		return Message{}, err
	}
	if err := d.expectSeparator(); err != nil {
		return Message{}, err
	}
	text, err := d.field()
	if err != nil {
		return Message{}, err
	}
	return Message{kind: Kind(code), sender: sender, text: text}, nil
}

func (d *decoder) skipSpace() {
	for d.pos < len(d.buf) {
		switch d.buf[d.pos] {
		case ' ', '\r', '\n':
			d.pos++
		default:
			return
		}
	}
}

func (d *decoder) expectSeparator() error {
	if d.pos >= len(d.buf) {
		return ErrIncomplete
	}
	if d.buf[d.pos] != separator {
		return fmt.Errorf("%w: expected separator at offset %d, got %q", ErrMalformed, d.pos, d.buf[d.pos])
	}
	d.pos++
	return nil
}

// field reads "<len> <text>".
func (d *decoder) field() (Field, error) {
	n, digits := 0, 0
	for d.pos < len(d.buf) && isDigit(d.buf[d.pos]) {
		n = n*10 + int(d.buf[d.pos]-'0')
		if n > MaxFieldSize {
			return Field{}, fmt.Errorf("%w: field length exceeds %d", ErrMalformed, MaxFieldSize)
		}
		d.pos++
		digits++
	}
	if d.pos >= len(d.buf) {
		return Field{}, ErrIncomplete
	}
	if digits == 0 {
		return Field{}, fmt.Errorf("%w: expected length at offset %d, got %q", ErrMalformed, d.pos, d.buf[d.pos])
	}
	if err := d.expectSeparator(); err != nil {
		return Field{}, err
	}
	if len(d.buf)-d.pos < n {
		return Field{}, ErrIncomplete
	}
	s := string(d.buf[d.pos : d.pos+n])
	d.pos += n
	if s == Placeholder {
		return Absent, nil
	}
	return Field{value: s, present: true}, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
