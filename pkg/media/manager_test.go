package media_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media"
	"github.com/tphan267/supportcall/pkg/media/mediatest"
)

func TestAcquireMicrophone(t *testing.T) {
	capturer := &mediatest.Capturer{}
	m := media.NewManager(capturer, logger.Discard())

	mic, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	assert.Equal(t, media.Microphone, mic.Source())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, mic.Kind())
	assert.True(t, mic.Enabled())

	again, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	assert.Same(t, mic, again, "one microphone track per manager")
	assert.Len(t, capturer.Captured(), 1)
}

func TestAcquireFailureIsDeviceUnavailable(t *testing.T) {
	m := media.NewManager(&mediatest.Capturer{MicErr: errors.New("permission denied")}, logger.Discard())

	_, err := m.AcquireMicrophone(context.Background())
	assert.ErrorIs(t, err, media.ErrDeviceUnavailable)
	assert.Empty(t, m.Tracks())
}

func TestScreenPickerDismissed(t *testing.T) {
	m := media.NewManager(&mediatest.Capturer{ScreenErr: media.ErrCanceled}, logger.Discard())

	_, err := m.AcquireScreen(context.Background())
	assert.ErrorIs(t, err, media.ErrCanceled)
	assert.NotErrorIs(t, err, media.ErrDeviceUnavailable)
}

func TestCancelMidAcquisitionReleasesLateCapture(t *testing.T) {
	capturer := &mediatest.Capturer{Gate: make(chan struct{})}
	m := media.NewManager(capturer, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.AcquireMicrophone(ctx)
		errCh <- err
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, media.ErrCanceled)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}

	close(capturer.Gate)
	require.Eventually(t, func() bool {
		captured := capturer.Captured()
		return len(captured) == 1 && captured[0].Closed()
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Tracks())
}

func TestSetEnabledKeepsCapture(t *testing.T) {
	capturer := &mediatest.Capturer{}
	m := media.NewManager(capturer, logger.Discard())

	mic, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)

	m.SetEnabled(mic, false)
	assert.False(t, mic.Enabled())
	assert.False(t, capturer.Captured()[0].Closed())

	m.SetEnabled(mic, true)
	assert.True(t, mic.Enabled())
}

func TestReleaseIsIdempotent(t *testing.T) {
	capturer := &mediatest.Capturer{}
	m := media.NewManager(capturer, logger.Discard())

	screen, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, screen.Kind())

	require.NoError(t, m.Release(screen))
	require.NoError(t, m.Release(screen))
	assert.True(t, screen.Released())
	assert.True(t, capturer.Captured()[0].Closed())

	select {
	case <-screen.Ended():
	default:
		t.Fatal("released track should report ended")
	}
}

func TestCaptureEndedByDevice(t *testing.T) {
	capturer := &mediatest.Capturer{}
	m := media.NewManager(capturer, logger.Discard())

	screen, err := m.AcquireScreen(context.Background())
	require.NoError(t, err)

	capturer.Captured()[0].End(nil)

	select {
	case <-screen.Ended():
	case <-time.After(time.Second):
		t.Fatal("track did not end")
	}
	assert.Empty(t, m.Tracks())
}

func TestReleaseAll(t *testing.T) {
	capturer := &mediatest.Capturer{}
	m := media.NewManager(capturer, logger.Discard())

	_, err := m.AcquireMicrophone(context.Background())
	require.NoError(t, err)
	_, err = m.AcquireScreen(context.Background())
	require.NoError(t, err)
	require.Len(t, m.Tracks(), 2)

	m.ReleaseAll()
	assert.Empty(t, m.Tracks())
	for _, c := range capturer.Captured() {
		assert.True(t, c.Closed())
	}
}
