package peer

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
)

// LocalMedia is the single local capture of a session. Its tracks are
// shared by reference across every peer link; only the owning session flips
// the enabled flags, and it is stopped exactly once, on session end.
type LocalMedia struct {
	mu sync.Mutex

	audio *webrtc.TrackLocalStaticSample
	video *webrtc.TrackLocalStaticSample

	audioMuted bool
	videoMuted bool

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewLocalMedia allocates the audio and video tracks of a session. Both
// tracks belong to one stream id so receivers group them into a single
// remote stream.
func NewLocalMedia() (*LocalMedia, error) {
	streamID := uuid.New().String()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", streamID,
	)
	if err != nil {
		return nil, err
	}

	return &LocalMedia{
		audio:   audio,
		video:   video,
		stopped: make(chan struct{}),
	}, nil
}

// Tracks returns the local tracks to attach to a peer link. They must be
// attached before the link's first negotiation; renegotiation is not
// implemented.
func (m *LocalMedia) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{m.audio, m.video}
}

// ToggleAudio flips the local audio mute flag and reports the new value.
func (m *LocalMedia) ToggleAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioMuted = !m.audioMuted
	return m.audioMuted
}

// ToggleVideo flips the local video mute flag and reports the new value.
func (m *LocalMedia) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoMuted = !m.videoMuted
	return m.videoMuted
}

func (m *LocalMedia) AudioMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioMuted
}

func (m *LocalMedia) VideoMuted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoMuted
}

// WriteAudioSample feeds one sample into the shared audio track. Muted
// samples are swallowed; sample tracks have no enabled flag of their own.
func (m *LocalMedia) WriteAudioSample(sample media.Sample) error {
	if m.isStopped() || m.AudioMuted() {
		return nil
	}
	return m.audio.WriteSample(sample)
}

// WriteVideoSample feeds one sample into the shared video track.
func (m *LocalMedia) WriteVideoSample(sample media.Sample) error {
	if m.isStopped() || m.VideoMuted() {
		return nil
	}
	return m.video.WriteSample(sample)
}

// Stop ends the capture. Safe to call more than once; only the first call
// takes effect.
func (m *LocalMedia) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
	})
}

// Done is closed when the capture has been stopped.
func (m *LocalMedia) Done() <-chan struct{} {
	return m.stopped
}

func (m *LocalMedia) isStopped() bool {
	select {
	case <-m.stopped:
		return true
	default:
		return false
	}
}
