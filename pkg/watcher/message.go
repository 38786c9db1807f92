package watcher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cuemby/paramd/pkg/types"
)

// Message header layout (16 bytes, little-endian):
// uint32 type      // MsgType
// uint32 id        // watcher group id
// uint32 size      // total message size, header included
// uint32 commit    // commit id of the value in NOTIFY_PARAM, else zero
//
// followed by uint16 name length, name bytes, uint16 value length and
// value bytes.
const HeaderSize = 16

// MsgType identifies a watcher message
type MsgType uint32

const (
	MsgAddWatcher  MsgType = 1
	MsgDelWatcher  MsgType = 2
	MsgNotifyParam MsgType = 3
)

func (t MsgType) String() string {
	switch t {
	case MsgAddWatcher:
		return "add_watcher"
	case MsgDelWatcher:
		return "del_watcher"
	case MsgNotifyParam:
		return "notify_param"
	default:
		return fmt.Sprintf("msg(%d)", uint32(t))
	}
}

// a prefix may carry ".*" on top of a full name
const maxNameField = types.NameLenMax + 2

// MaxMessageSize bounds every message on the wire
const MaxMessageSize = HeaderSize + 2 + maxNameField + 2 + types.ValueLenMax

// ErrMalformed is returned for messages that violate the framing
var ErrMalformed = errors.New("malformed watcher message")

// Message is one watcher protocol message. Name carries the key prefix in
// ADD_WATCHER and DEL_WATCHER and the parameter name in NOTIFY_PARAM.
type Message struct {
	Type   MsgType
	ID     uint32
	Commit uint32
	Name   string
	Value  string
}

// Size returns the encoded size of m
func (m Message) Size() int {
	return HeaderSize + 2 + len(m.Name) + 2 + len(m.Value)
}

// MarshalBinary encodes m
func (m Message) MarshalBinary() ([]byte, error) {
	if len(m.Name) > maxNameField {
		return nil, fmt.Errorf("%w: name of %d bytes", ErrMalformed, len(m.Name))
	}
	if len(m.Value) > types.ValueLenMax {
		return nil, fmt.Errorf("%w: value of %d bytes", ErrMalformed, len(m.Value))
	}
	b := make([]byte, m.Size())
	binary.LittleEndian.PutUint32(b[0:4], uint32(m.Type))
	binary.LittleEndian.PutUint32(b[4:8], m.ID)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(b)))
	binary.LittleEndian.PutUint32(b[12:16], m.Commit)
	off := HeaderSize
	binary.LittleEndian.PutUint16(b[off:], uint16(len(m.Name)))
	off += 2
	off += copy(b[off:], m.Name)
	binary.LittleEndian.PutUint16(b[off:], uint16(len(m.Value)))
	off += 2
	copy(b[off:], m.Value)
	return b, nil
}

// UnmarshalBinary decodes a complete message
func (m *Message) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize+4 {
		return fmt.Errorf("%w: %d bytes", ErrMalformed, len(b))
	}
	size := binary.LittleEndian.Uint32(b[8:12])
	if int(size) != len(b) {
		return fmt.Errorf("%w: header size %d, got %d bytes", ErrMalformed, size, len(b))
	}

	off := HeaderSize
	nameLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if nameLen > maxNameField || off+nameLen+2 > len(b) {
		return fmt.Errorf("%w: name length %d", ErrMalformed, nameLen)
	}
	name := string(b[off : off+nameLen])
	off += nameLen
	valueLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if valueLen > types.ValueLenMax || off+valueLen != len(b) {
		return fmt.Errorf("%w: value length %d", ErrMalformed, valueLen)
	}

	m.Type = MsgType(binary.LittleEndian.Uint32(b[0:4]))
	m.ID = binary.LittleEndian.Uint32(b[4:8])
	m.Commit = binary.LittleEndian.Uint32(b[12:16])
	m.Name = name
	m.Value = string(b[off : off+valueLen])
	return nil
}

// WriteMessage writes m to w in a single call
func WriteMessage(w io.Writer, m Message) error {
	b, err := m.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// frameReader splits a byte stream into messages. A read error leaves
// buffered bytes in place, so a read deadline that fires mid-message does
// not break the framing.
type frameReader struct {
	r   io.Reader
	buf []byte
	tmp [MaxMessageSize]byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r}
}

// Next returns the next complete message
func (f *frameReader) Next() (Message, error) {
	for {
		if len(f.buf) >= HeaderSize {
			size := int(binary.LittleEndian.Uint32(f.buf[8:12]))
			if size < HeaderSize+4 || size > MaxMessageSize {
				return Message{}, fmt.Errorf("%w: size %d", ErrMalformed, size)
			}
			if len(f.buf) >= size {
				var m Message
				err := m.UnmarshalBinary(f.buf[:size])
				f.buf = append(f.buf[:0], f.buf[size:]...)
				return m, err
			}
		}
		n, err := f.r.Read(f.tmp[:])
		f.buf = append(f.buf, f.tmp[:n]...)
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				continue
			}
			return Message{}, err
		}
	}
}

// reset drops any partial message, used after reconnecting
func (f *frameReader) reset(r io.Reader) {
	f.r = r
	f.buf = f.buf[:0]
}
