package transport

import "strings"

// Side identifies which half of a book a diff touches.
type Side int

const (
	SideUnknown Side = iota
	SideBid
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "bids"
	case SideAsk:
		return "asks"
	default:
		return "unknown"
	}
}

// ParseSide accepts the spellings used by the supported venues.
func ParseSide(raw string) Side {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bids", "bid", "buy", "b":
		return SideBid
	case "asks", "ask", "sell", "a":
		return SideAsk
	default:
		return SideUnknown
	}
}

// Diff replaces the resting size at one price level of one token.
// A non-positive Size removes the level.
type Diff struct {
	Channel string
	TokenID string
	Side    Side
	Price   float64
	Size    float64
}

// SubscribeRequest is sent once per tracked id after every (re)connect.
type SubscribeRequest struct {
	Action   string `json:"action"`
	Channel  string `json:"channel,omitempty"`
	MarketID string `json:"marketId,omitempty"`
	TokenID  string `json:"tokenId,omitempty"`
}

// Heartbeat keeps idle connections alive.
type Heartbeat struct {
	Action string `json:"action"`
}

const (
	ActionSubscribe = "SUBSCRIBE"
	ActionHeartbeat = "HEARTBEAT"
)
