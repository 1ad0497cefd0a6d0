package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tphan267/supportcall/pkg/logger"
)

// Manager owns the tracks acquired for one call. At most one microphone
// track is live at a time.
type Manager struct {
	capturer Capturer
	logger   *logger.Logger

	mu     sync.Mutex
	tracks map[*Track]struct{}
}

// NewManager creates a Manager that opens devices through c.
func NewManager(c Capturer, log *logger.Logger) *Manager {
	return &Manager{
		capturer: c,
		logger:   log,
		tracks:   make(map[*Track]struct{}),
	}
}

// AcquireMicrophone opens the microphone, or returns the live microphone
// track if one is already held.
func (m *Manager) AcquireMicrophone(ctx context.Context) (*Track, error) {
	if t := m.live(Microphone); t != nil {
		return t, nil
	}
	return m.acquire(ctx, Microphone, m.capturer.CaptureMicrophone)
}

// AcquireScreen opens a display capture. A dismissed picker yields ErrCanceled.
func (m *Manager) AcquireScreen(ctx context.Context) (*Track, error) {
	return m.acquire(ctx, Screen, m.capturer.CaptureScreen)
}

type captureResult struct {
	capture CapturedTrack
	err     error
}

// acquire runs open in the background so ctx can abandon it. A capture that
// completes after ctx ended is closed as soon as it arrives.
func (m *Manager) acquire(ctx context.Context, source Source, open func() (CapturedTrack, error)) (*Track, error) {
	done := make(chan captureResult, 1)
	go func() {
		c, err := open()
		done <- captureResult{capture: c, err: err}
	}()

	var res captureResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			late := <-done
			if late.err == nil && late.capture != nil {
				m.logger.Debug("[Media] Closing %s capture that finished after cancel", source)
				late.capture.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %s: %v", ErrCanceled, source, ctx.Err())
	}

	if res.err != nil {
		return nil, classify(source, res.err)
	}
	if ctx.Err() != nil {
		res.capture.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrCanceled, source, ctx.Err())
	}

	m.mu.Lock()
	if source == Microphone {
		for t := range m.tracks {
			if t.source == Microphone {
				m.mu.Unlock()
				res.capture.Close()
				return t, nil
			}
		}
	}
	t := newTrack(source, res.capture)
	m.tracks[t] = struct{}{}
	m.mu.Unlock()

	if n, ok := res.capture.(endNotifier); ok {
		n.OnEnded(func(err error) {
			if err != nil {
				m.logger.Warn("[Media] %s capture ended: %v", source, err)
			}
			m.Release(t)
		})
	}

	m.logger.Info("[Media] Acquired %s track %s", source, t.ID())
	return t, nil
}

func classify(source Source, err error) error {
	if errors.Is(err, ErrCanceled) || errors.Is(err, ErrDeviceUnavailable) {
		return fmt.Errorf("%s: %w", source, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, source, err)
}

func (m *Manager) live(source Source) *Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	for t := range m.tracks {
		if t.source == source {
			return t
		}
	}
	return nil
}

// SetEnabled mutes or unmutes t without stopping its capture.
func (m *Manager) SetEnabled(t *Track, enabled bool) {
	t.enabled.Store(enabled)
}

// Release stops t's capture. Releasing a track twice is a no-op.
func (m *Manager) Release(t *Track) error {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return nil
	}

	m.mu.Lock()
	delete(m.tracks, t)
	m.mu.Unlock()

	err := t.capture.Close()
	t.markEnded()
	if err != nil {
		return fmt.Errorf("release %s: %w", t.source, err)
	}
	m.logger.Info("[Media] Released %s track %s", t.source, t.ID())
	return nil
}

// Tracks returns the live tracks.
func (m *Manager) Tracks() []*Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := make([]*Track, 0, len(m.tracks))
	for t := range m.tracks {
		tracks = append(tracks, t)
	}
	return tracks
}

// ReleaseAll stops every live track.
func (m *Manager) ReleaseAll() {
	for _, t := range m.Tracks() {
		if err := m.Release(t); err != nil {
			m.logger.Warn("[Media] %v", err)
		}
	}
}
