package media

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Track is a handle on one acquired capture. It is itself a
// webrtc.TrackLocal so it can be attached to senders directly; while the
// track is disabled its RTP writes are dropped but capture keeps running.
type Track struct {
	source  Source
	capture CapturedTrack

	enabled  atomic.Bool
	released atomic.Bool

	ended   chan struct{}
	endOnce sync.Once
}

func newTrack(source Source, capture CapturedTrack) *Track {
	t := &Track{
		source:  source,
		capture: capture,
		ended:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

// Source reports which device the track captures.
func (t *Track) Source() Source { return t.source }

// Enabled reports whether media is currently being sent.
func (t *Track) Enabled() bool { return t.enabled.Load() }

// Released reports whether the capture has been stopped.
func (t *Track) Released() bool { return t.released.Load() }

// Ended is closed when the capture stops, either released or ended by the
// device itself.
func (t *Track) Ended() <-chan struct{} { return t.ended }

func (t *Track) markEnded() {
	t.endOnce.Do(func() { close(t.ended) })
}

func (t *Track) ID() string       { return t.capture.ID() }
func (t *Track) RID() string      { return t.capture.RID() }
func (t *Track) StreamID() string { return t.capture.StreamID() }

func (t *Track) Kind() webrtc.RTPCodecType { return t.capture.Kind() }

// Bind implements webrtc.TrackLocal.
func (t *Track) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return t.capture.Bind(gatedContext{TrackLocalContext: ctx, track: t})
}

// Unbind implements webrtc.TrackLocal.
func (t *Track) Unbind(ctx webrtc.TrackLocalContext) error {
	return t.capture.Unbind(gatedContext{TrackLocalContext: ctx, track: t})
}

// gatedContext hands the capture a writer that honours the track's
// enabled flag.
type gatedContext struct {
	webrtc.TrackLocalContext
	track *Track
}

func (c gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return gatedWriter{next: c.TrackLocalContext.WriteStream(), track: c.track}
}

type gatedWriter struct {
	next  webrtc.TrackLocalWriter
	track *Track
}

func (w gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.track.Enabled() {
		return header.MarshalSize() + len(payload), nil
	}
	return w.next.WriteRTP(header, payload)
}

func (w gatedWriter) Write(b []byte) (int, error) {
	if !w.track.Enabled() {
		return len(b), nil
	}
	return w.next.Write(b)
}

var _ webrtc.TrackLocal = (*Track)(nil)
