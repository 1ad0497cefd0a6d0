// Package mediatest provides a scripted media.Capturer for tests.
package mediatest

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/media"
)

// FakeTrack is a sample track that records whether it was closed.
type FakeTrack struct {
	*webrtc.TrackLocalStaticSample

	closed  atomic.Bool
	mu      sync.Mutex
	onEnded func(error)
}

// Close implements media.CapturedTrack.
func (f *FakeTrack) Close() error {
	f.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (f *FakeTrack) Closed() bool { return f.closed.Load() }

// OnEnded registers the end callback.
func (f *FakeTrack) OnEnded(fn func(error)) {
	f.mu.Lock()
	f.onEnded = fn
	f.mu.Unlock()
}

// End simulates the device stopping on its own.
func (f *FakeTrack) End(err error) {
	f.mu.Lock()
	fn := f.onEnded
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Capturer hands out FakeTracks. When Gate is non-nil each capture blocks
// until a value is received from or the channel is closed.
type Capturer struct {
	MicErr    error
	ScreenErr error
	Gate      chan struct{}

	mu       sync.Mutex
	captured []*FakeTrack
	seq      int
}

// CaptureMicrophone implements media.Capturer.
func (c *Capturer) CaptureMicrophone() (media.CapturedTrack, error) {
	return c.capture(c.MicErr, webrtc.MimeTypeOpus, "audio")
}

// CaptureScreen implements media.Capturer.
func (c *Capturer) CaptureScreen() (media.CapturedTrack, error) {
	return c.capture(c.ScreenErr, webrtc.MimeTypeVP8, "screen")
}

func (c *Capturer) capture(fail error, mime, prefix string) (media.CapturedTrack, error) {
	if c.Gate != nil {
		<-c.Gate
	}
	if fail != nil {
		return nil, fail
	}

	c.mu.Lock()
	c.seq++
	id := prefix + "-" + strconv.Itoa(c.seq)
	c.mu.Unlock()

	sample, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, id, "supportcall")
	if err != nil {
		return nil, err
	}
	t := &FakeTrack{TrackLocalStaticSample: sample}

	c.mu.Lock()
	c.captured = append(c.captured, t)
	c.mu.Unlock()
	return t, nil
}

// Captured returns every track handed out so far.
func (c *Capturer) Captured() []*FakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeTrack(nil), c.captured...)
}

var _ media.Capturer = (*Capturer)(nil)
