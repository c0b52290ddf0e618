package model

import "time"

// Speaker identifies who a transcript entry belongs to.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Label is the short tag shown next to a message.
func (s Speaker) Label() string {
	if s == SpeakerAgent {
		return "AV"
	}
	return "You"
}

// Entry is one rendered line of the conversation.
type Entry struct {
	Speaker Speaker
	Text    string
	At      time.Time
}

// ConnState is the controller's view of the agent connection.
type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnOpen
	// ConnClosed means the socket is gone and a reconnect is scheduled.
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed-pending-reconnect"
	default:
		return "unknown"
	}
}

// AvatarSlot is one of the mutually exclusive avatar presentations.
type AvatarSlot int

const (
	AvatarCircle AvatarSlot = iota
	AvatarAnimated
	// AvatarLegacy is kept for layout compatibility and never shown.
	AvatarLegacy
)

func (a AvatarSlot) String() string {
	switch a {
	case AvatarCircle:
		return "circle"
	case AvatarAnimated:
		return "animated"
	case AvatarLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}
