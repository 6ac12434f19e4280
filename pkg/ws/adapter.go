package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

// Adapter is the per-venue part of a feed: endpoint, outbound message
// shapes and how one inbound record maps onto a Diff. Everything else about
// the connection is shared.
type Adapter interface {
	Platform() string
	Endpoint(baseURL, apiKey string) (string, error)
	Subscribe(id string) transport.SubscribeRequest
	Heartbeat() transport.Heartbeat
	// EnvelopeKeys lists object fields that may wrap an array of records.
	EnvelopeKeys() []string
	Decode(record json.RawMessage) (transport.Diff, error)
}

var (
	errEmptyPayload = errors.New("empty payload")
	errNotJSON      = errors.New("payload is neither an object nor an array")
	errNoToken      = errors.New("missing token id")
	errBadSide      = errors.New("unknown side")
	errBadNumber    = errors.New("missing or non-finite price/size")
)

// splitPayload normalizes the three inbound shapes (a bare record, an array
// of records, or an object wrapping an array under one of envelopeKeys)
// into a flat list of records. For an envelope it also returns the channel
// named on the wrapper, which records without their own channel inherit.
func splitPayload(raw []byte, envelopeKeys []string) ([]json.RawMessage, string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, "", errEmptyPayload
	}
	switch raw[0] {
	case '[':
		var records []json.RawMessage
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, "", fmt.Errorf("decode array: %w", err)
		}
		return records, "", nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, "", fmt.Errorf("decode object: %w", err)
		}
		for _, key := range envelopeKeys {
			nested := bytes.TrimSpace(fields[key])
			if len(nested) == 0 || nested[0] != '[' {
				continue
			}
			var records []json.RawMessage
			if err := json.Unmarshal(nested, &records); err != nil {
				return nil, "", fmt.Errorf("decode %s: %w", key, err)
			}
			return records, envelopeChannel(fields), nil
		}
		return []json.RawMessage{raw}, "", nil
	default:
		return nil, "", errNotJSON
	}
}

func envelopeChannel(fields map[string]json.RawMessage) string {
	for _, key := range []string{"channel", "event_type"} {
		var name string
		if json.Unmarshal(fields[key], &name) == nil && name != "" {
			return name
		}
	}
	return ""
}

// toDiff validates decoded fields. Prices and sizes come in as JSON strings
// or numbers, which decimal accepts either way.
func toDiff(channel, tokenID, side string, price, size *decimal.Decimal) (transport.Diff, error) {
	if tokenID == "" {
		return transport.Diff{}, errNoToken
	}
	s := transport.ParseSide(side)
	if s == transport.SideUnknown {
		return transport.Diff{}, fmt.Errorf("%w %q", errBadSide, side)
	}
	if price == nil || size == nil {
		return transport.Diff{}, errBadNumber
	}
	p, q := price.InexactFloat64(), size.InexactFloat64()
	if math.IsInf(p, 0) || math.IsInf(q, 0) || math.IsNaN(p) || math.IsNaN(q) {
		return transport.Diff{}, errBadNumber
	}
	return transport.Diff{Channel: channel, TokenID: tokenID, Side: s, Price: p, Size: q}, nil
}

// dropReason maps a decode error onto a bounded metric label.
func dropReason(err error) string {
	switch {
	case errors.Is(err, errNoToken):
		return "no_token"
	case errors.Is(err, errBadSide):
		return "bad_side"
	case errors.Is(err, errBadNumber):
		return "bad_number"
	default:
		return "decode"
	}
}

// AdapterFor resolves a configured platform name.
func AdapterFor(platform, channel string) (Adapter, error) {
	switch platform {
	case PlatformPolymarket:
		return NewPolymarketAdapter(channel), nil
	case PlatformOpinion:
		return NewOpinionAdapter(channel), nil
	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}
