package domain

// RoomID names a group of connections sharing playback and signaling.
type RoomID string

// SignalChannel separates independent negotiation sessions within a room.
type SignalChannel string

const (
	ChannelScreenShare SignalChannel = "screen-share"
	ChannelCall        SignalChannel = "call"
)

// AllChannels is the default subscription for a room member.
var AllChannels = []SignalChannel{ChannelScreenShare, ChannelCall}

func (c SignalChannel) Valid() bool {
	return c == ChannelScreenShare || c == ChannelCall
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalStop      SignalKind = "stop"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalCandidate, SignalStop:
		return true
	}
	return false
}

// ConferenceKind is a step of a managed conference invitation.
type ConferenceKind string

const (
	ConferenceRequest ConferenceKind = "request"
	ConferenceAccept  ConferenceKind = "accept"
	ConferenceReject  ConferenceKind = "reject"
	ConferenceEnd     ConferenceKind = "end"
)

func (k ConferenceKind) Valid() bool {
	switch k {
	case ConferenceRequest, ConferenceAccept, ConferenceReject, ConferenceEnd:
		return true
	}
	return false
}
