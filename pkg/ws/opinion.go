package ws

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

const (
	PlatformOpinion = "opinion"

	opinionDefaultChannel = "market.depth.diff"
)

// opinionAdapter speaks the generic diff shape:
// {"channel":..., "tokenId":..., "side":"bids"|"asks", "price":..., "size":...}
// Subscriptions are per market id and the api key rides on the query string.
type opinionAdapter struct {
	channel string
}

func NewOpinionAdapter(channel string) Adapter {
	if channel == "" {
		channel = opinionDefaultChannel
	}
	return &opinionAdapter{channel: channel}
}

func (a *opinionAdapter) Platform() string { return PlatformOpinion }

func (a *opinionAdapter) Endpoint(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("apikey", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (a *opinionAdapter) Subscribe(id string) transport.SubscribeRequest {
	return transport.SubscribeRequest{Action: transport.ActionSubscribe, Channel: a.channel, MarketID: id}
}

func (a *opinionAdapter) Heartbeat() transport.Heartbeat {
	return transport.Heartbeat{Action: transport.ActionHeartbeat}
}

func (a *opinionAdapter) EnvelopeKeys() []string { return []string{"data"} }

func (a *opinionAdapter) Decode(record json.RawMessage) (transport.Diff, error) {
	var wire struct {
		Channel string           `json:"channel"`
		TokenID string           `json:"tokenId"`
		Side    string           `json:"side"`
		Price   *decimal.Decimal `json:"price"`
		Size    *decimal.Decimal `json:"size"`
	}
	if err := json.Unmarshal(record, &wire); err != nil {
		return transport.Diff{}, fmt.Errorf("decode record: %w", err)
	}
	return toDiff(wire.Channel, wire.TokenID, wire.Side, wire.Price, wire.Size)
}
