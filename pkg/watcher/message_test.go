package watcher

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/cuemby/paramd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEncoding(t *testing.T) {
	m := Message{Type: MsgNotifyParam, ID: 7, Name: "test.param", Value: "10"}
	b, err := m.MarshalBinary()
	require.NoError(t, err)

	assert.Len(t, b, HeaderSize+2+10+2+2)
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(b[4:8]))
	assert.Equal(t, uint32(len(b)), binary.LittleEndian.Uint32(b[8:12]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(b[12:16]))
	assert.Equal(t, uint16(10), binary.LittleEndian.Uint16(b[16:18]))
	assert.Equal(t, "test.param", string(b[18:28]))

	var got Message
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, m, got)
}

func TestMessageCarriesCommit(t *testing.T) {
	m := Message{Type: MsgNotifyParam, ID: 2, Commit: 0x01020304, Name: "a.b", Value: "v"}
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), binary.LittleEndian.Uint32(b[12:16]))

	var got Message
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, m, got)
}

func TestMessageLimits(t *testing.T) {
	_, err := Message{Name: strings.Repeat("n", maxNameField+1)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = Message{Name: "a", Value: strings.Repeat("v", types.ValueLenMax+1)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrMalformed)

	b, err := Message{Name: strings.Repeat("n", types.NameLenMax) + ".*", Value: strings.Repeat("v", types.ValueLenMax)}.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, b, MaxMessageSize)
}

func TestMessageMalformed(t *testing.T) {
	good, err := Message{Type: MsgAddWatcher, ID: 1, Name: "a.b"}.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input func() []byte
	}{
		{"short", func() []byte { return good[:10] }},
		{"size mismatch", func() []byte {
			b := bytes.Clone(good)
			binary.LittleEndian.PutUint32(b[8:12], uint32(len(b)+1))
			return b
		}},
		{"name overruns", func() []byte {
			b := bytes.Clone(good)
			binary.LittleEndian.PutUint16(b[16:18], 200)
			return b
		}},
		{"trailing bytes", func() []byte {
			b := append(bytes.Clone(good), 0)
			binary.LittleEndian.PutUint32(b[8:12], uint32(len(b)))
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Message
			assert.ErrorIs(t, m.UnmarshalBinary(tt.input()), ErrMalformed)
		})
	}
}

func TestFrameReaderSplitsStream(t *testing.T) {
	var buf bytes.Buffer
	msgs := []Message{
		{Type: MsgAddWatcher, ID: 1, Name: "test.*"},
		{Type: MsgNotifyParam, ID: 1, Name: "test.param", Value: "10"},
		{Type: MsgDelWatcher, ID: 1, Name: "test.*"},
	}
	for _, m := range msgs {
		require.NoError(t, WriteMessage(&buf, m))
	}

	fr := newFrameReader(iotest.OneByteReader(&buf))
	for _, want := range msgs {
		got, err := fr.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

// timeoutReader fails every other read with a timeout
type timeoutReader struct {
	r     io.Reader
	calls int
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (t *timeoutReader) Read(p []byte) (int, error) {
	t.calls++
	if t.calls%2 == 0 {
		return 0, timeoutErr{}
	}
	if len(p) > 5 {
		p = p[:5]
	}
	return t.r.Read(p)
}

func TestFrameReaderSurvivesTimeouts(t *testing.T) {
	var buf bytes.Buffer
	want := Message{Type: MsgNotifyParam, ID: 9, Name: "sys.boot", Value: "done"}
	require.NoError(t, WriteMessage(&buf, want))

	fr := newFrameReader(&timeoutReader{r: &buf})
	timeouts := 0
	for {
		got, err := fr.Next()
		if errors.As(err, new(timeoutErr)) {
			timeouts++
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, want, got)
		break
	}
	assert.Positive(t, timeouts)
}

func TestFrameReaderRejectsBadSize(t *testing.T) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[8:12], MaxMessageSize+1)
	fr := newFrameReader(bytes.NewReader(b))
	_, err := fr.Next()
	assert.ErrorIs(t, err, ErrMalformed)
}
