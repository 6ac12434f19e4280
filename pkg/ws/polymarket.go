package ws

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

const (
	PlatformPolymarket = "polymarket"

	polymarketDefaultChannel = "book"
)

// polymarketAdapter handles price_change style records keyed by asset_id
// with BUY/SELL sides, delivered bare, as arrays, or wrapped in
// "price_changes" / "data". The generic tokenId/bids/asks fields are also
// accepted.
type polymarketAdapter struct {
	channel string
}

func NewPolymarketAdapter(channel string) Adapter {
	if channel == "" {
		channel = polymarketDefaultChannel
	}
	return &polymarketAdapter{channel: channel}
}

func (a *polymarketAdapter) Platform() string { return PlatformPolymarket }

func (a *polymarketAdapter) Endpoint(baseURL, _ string) (string, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return baseURL, nil
}

func (a *polymarketAdapter) Subscribe(id string) transport.SubscribeRequest {
	return transport.SubscribeRequest{Action: transport.ActionSubscribe, Channel: a.channel, TokenID: id}
}

func (a *polymarketAdapter) Heartbeat() transport.Heartbeat {
	return transport.Heartbeat{Action: transport.ActionHeartbeat}
}

func (a *polymarketAdapter) EnvelopeKeys() []string { return []string{"price_changes", "data"} }

func (a *polymarketAdapter) Decode(record json.RawMessage) (transport.Diff, error) {
	var wire struct {
		Channel   string           `json:"channel"`
		EventType string           `json:"event_type"`
		AssetID   string           `json:"asset_id"`
		TokenID   string           `json:"tokenId"`
		Side      string           `json:"side"`
		Price     *decimal.Decimal `json:"price"`
		Size      *decimal.Decimal `json:"size"`
	}
	if err := json.Unmarshal(record, &wire); err != nil {
		return transport.Diff{}, fmt.Errorf("decode record: %w", err)
	}
	token := wire.AssetID
	if token == "" {
		token = wire.TokenID
	}
	channel := wire.Channel
	if channel == "" {
		channel = wire.EventType
	}
	return toDiff(channel, token, wire.Side, wire.Price, wire.Size)
}
