package media

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWriter struct {
	rtp, raw int
}

func (w *countingWriter) WriteRTP(_ *rtp.Header, payload []byte) (int, error) {
	w.rtp++
	return len(payload), nil
}

func (w *countingWriter) Write(b []byte) (int, error) {
	w.raw++
	return len(b), nil
}

func TestGatedWriterDropsWhileDisabled(t *testing.T) {
	track := newTrack(Microphone, nil)
	next := &countingWriter{}
	w := gatedWriter{next: next, track: track}

	header := &rtp.Header{Version: 2, SequenceNumber: 1}
	_, err := w.WriteRTP(header, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 1, next.rtp)

	track.enabled.Store(false)
	n, err := w.WriteRTP(header, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, header.MarshalSize()+3, n, "dropped writes still report success")
	_, err = w.Write([]byte{0x80})
	require.NoError(t, err)
	assert.Equal(t, 1, next.rtp)
	assert.Zero(t, next.raw)

	track.enabled.Store(true)
	_, err = w.Write([]byte{0x80})
	require.NoError(t, err)
	assert.Equal(t, 1, next.raw)
}
