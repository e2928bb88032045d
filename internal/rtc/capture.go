package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a minimal valid Opus frame decoding to silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const opusFrameDuration = 20 * time.Millisecond

// SyntheticCapture is a CaptureDevice producing an Opus silence stream.
// Real microphone capture belongs to the embedding platform; this device
// keeps the send path exercisable without hardware.
type SyntheticCapture struct{}

var _ CaptureDevice = SyntheticCapture{}

func (SyntheticCapture) AcquireAudio(ctx context.Context) (StreamHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MicError{Kind: MicDeviceBusy, Err: err}
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
	}, "audio", "stoop-mic")
	if err != nil {
		return nil, &MicError{Kind: MicPlatformUnsupported, Err: fmt.Errorf("create local track: %w", err)}
	}

	s := &syntheticStream{
		track: track,
		done:  make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type syntheticStream struct {
	track *webrtc.TrackLocalStaticSample

	closeOnce sync.Once
	done      chan struct{}
}

var _ StreamHandle = (*syntheticStream)(nil)
var _ LocalAudioProvider = (*syntheticStream)(nil)

func (s *syntheticStream) AudioTracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *syntheticStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	return nil
}

func (s *syntheticStream) pump() {
	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.track.WriteSample(media.Sample{Data: opusSilence, Duration: opusFrameDuration})
		case <-s.done:
			return
		}
	}
}

// DiscardPlayback is a PlaybackSink that reads and drops remote audio.
// Platform playback elements are external; this sink keeps receivers
// serviced so the transport's receive path stays healthy.
type DiscardPlayback struct{}

var _ PlaybackSink = DiscardPlayback{}

func (DiscardPlayback) Play(_ string, audio RemoteAudio) (func(), error) {
	reader, ok := audio.(interface{ Track() *webrtc.TrackRemote })
	if !ok {
		// Nothing to drain for non-pion tracks.
		return func() {}, nil
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		buf := make([]byte, 1500)
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, _, err := reader.Track().Read(buf); err != nil {
				return
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }, nil
}
