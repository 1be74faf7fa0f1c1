//go:build linux

package media

import (
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"github.com/visiontec/kioskcall/internal/util"
)

// NewProvider returns the mediadevices-backed capture provider (V4L2 camera
// and malgo microphone drivers).
func NewProvider() Provider {
	return &deviceProvider{}
}

type deviceProvider struct{}

// HasDevices reports whether any camera or microphone is registered.
func (p *deviceProvider) HasDevices() bool {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput || d.Kind == mediadevices.AudioInput {
			return true
		}
	}
	return false
}

// Capture opens the local camera and microphone with a VP8+Opus codec
// selector. GetUserMedia fails as a unit if either track cannot be opened,
// so video+audio is tried first, then video-only, then audio-only — a busy
// microphone must not prevent the camera from working and vice versa.
func (p *deviceProvider) Capture() (Stream, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	for _, d := range mediadevices.EnumerateDevices() {
		util.LogDebug("media: device — kind=%v label=%q", d.Kind, d.Label)
	}

	type attempt struct {
		video bool
		audio bool
		label string
	}
	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
				// that produces malformed JPEG frames, which poisons the
				// VP8 encoder. Raw formats only.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			util.LogWarning("media: GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		util.LogInfo("media: captured %s — %d tracks", a.label, len(stream.GetTracks()))
		return &deviceStream{selector: selector, stream: stream}, nil
	}

	return nil, lastErr
}

// deviceStream adapts a mediadevices.MediaStream to the Stream interface.
type deviceStream struct {
	selector *mediadevices.CodecSelector
	stream   mediadevices.MediaStream
}

func (s *deviceStream) RegisterCodecs(engine *webrtc.MediaEngine) {
	s.selector.Populate(engine)
}

func (s *deviceStream) Publish(pc *webrtc.PeerConnection) error {
	for _, track := range s.stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil {
				util.LogWarning("media: local track ended: %v", err)
			}
		})
		if _, err := pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

func (s *deviceStream) Close() {
	for _, track := range s.stream.GetTracks() {
		track.Close()
	}
}
