package call

import "github.com/visiontec/kioskcall/internal/signaling"

// channelSignaler carries locally generated SDP/ICE material out through the
// signaling channel. It is built per peer session with the channel and room
// captured, so pion callbacks never touch loop-owned fields.
type channelSignaler struct {
	ch   SignalChannel
	room string
}

func (c channelSignaler) SendOffer(sdp string) error {
	return c.ch.Send(signaling.NewOffer(c.room, sdp))
}

func (c channelSignaler) SendAnswer(sdp string) error {
	return c.ch.Send(signaling.NewAnswer(c.room, sdp))
}

func (c channelSignaler) SendCandidate(candidate []byte) error {
	return c.ch.Send(signaling.NewCandidate(c.room, candidate))
}
