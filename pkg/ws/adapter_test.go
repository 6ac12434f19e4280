package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

func TestSplitPayloadShapes(t *testing.T) {
	keys := []string{"price_changes", "data"}
	cases := []struct {
		name    string
		raw     string
		want    int
		channel string
	}{
		{"bare object", `{"tokenId":"T","side":"bids","price":0.5,"size":1}`, 1, ""},
		{"array", `[{"tokenId":"T"},{"tokenId":"U"}]`, 2, ""},
		{"data envelope", `{"channel":"x","data":[{"tokenId":"T"},{"tokenId":"U"},{"tokenId":"V"}]}`, 3, "x"},
		{"second key", `{"event_type":"price_change","price_changes":[{"asset_id":"A"}]}`, 1, "price_change"},
		{"non-string channel ignored", `{"channel":7,"data":[{"tokenId":"T"}]}`, 1, ""},
		{"non-array envelope is a record", `{"data":{"tokenId":"T"}}`, 1, ""},
		{"empty array", `[]`, 0, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			records, channel, err := splitPayload([]byte(tc.raw), keys)
			require.NoError(t, err)
			assert.Len(t, records, tc.want)
			assert.Equal(t, tc.channel, channel)
		})
	}
}

func TestSplitPayloadRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "PONG", `"text"`, `{"data":`, `[1,`} {
		_, _, err := splitPayload([]byte(raw), []string{"data"})
		assert.Error(t, err, "payload %q", raw)
	}
}

func TestOpinionDecode(t *testing.T) {
	a := NewOpinionAdapter("")

	d, err := a.Decode(json.RawMessage(`{"channel":"market.depth.diff","tokenId":"T1","side":"asks","price":"0.61","size":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, transport.Diff{Channel: "market.depth.diff", TokenID: "T1", Side: transport.SideAsk, Price: 0.61, Size: 12.5}, d)

	_, err = a.Decode(json.RawMessage(`{"side":"asks","price":"0.61","size":1}`))
	assert.ErrorIs(t, err, errNoToken)
	assert.Equal(t, "no_token", dropReason(err))

	_, err = a.Decode(json.RawMessage(`{"tokenId":"T1","side":"middle","price":"0.61","size":1}`))
	assert.ErrorIs(t, err, errBadSide)

	_, err = a.Decode(json.RawMessage(`{"tokenId":"T1","side":"bids","price":1e400,"size":1}`))
	assert.ErrorIs(t, err, errBadNumber)

	_, err = a.Decode(json.RawMessage(`{"tokenId":"T1","side":"bids","size":1}`))
	assert.ErrorIs(t, err, errBadNumber)

	_, err = a.Decode(json.RawMessage(`{"tokenId":"T1","side":"bids","price":"abc","size":1}`))
	require.Error(t, err)
	assert.Equal(t, "decode", dropReason(err))
}

func TestPolymarketDecode(t *testing.T) {
	a := NewPolymarketAdapter("")

	d, err := a.Decode(json.RawMessage(`{"asset_id":"A1","side":"BUY","price":"0.42","size":"100"}`))
	require.NoError(t, err)
	assert.Equal(t, "A1", d.TokenID)
	assert.Equal(t, transport.SideBid, d.Side)
	assert.InDelta(t, 0.42, d.Price, 1e-12)

	d, err = a.Decode(json.RawMessage(`{"tokenId":"A2","side":"asks","price":0.5,"size":0}`))
	require.NoError(t, err)
	assert.Equal(t, transport.SideAsk, d.Side)
	assert.Zero(t, d.Size)
}

func TestAdapterMessages(t *testing.T) {
	op := NewOpinionAdapter("")
	raw, err := json.Marshal(op.Subscribe("m1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"SUBSCRIBE","channel":"market.depth.diff","marketId":"m1"}`, string(raw))

	pm := NewPolymarketAdapter("market")
	raw, err = json.Marshal(pm.Subscribe("tok"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"SUBSCRIBE","channel":"market","tokenId":"tok"}`, string(raw))

	raw, err = json.Marshal(pm.Heartbeat())
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"HEARTBEAT"}`, string(raw))
}

func TestEndpoint(t *testing.T) {
	op := NewOpinionAdapter("")
	u, err := op.Endpoint("wss://example.test/ws?x=1", "k3y")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/ws?apikey=k3y&x=1", u)

	u, err = op.Endpoint("wss://example.test/ws", "")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/ws", u)

	pm := NewPolymarketAdapter("")
	u, err = pm.Endpoint("wss://example.test/ws/market", "ignored")
	require.NoError(t, err)
	assert.Equal(t, "wss://example.test/ws/market", u)
}

func TestAdapterFor(t *testing.T) {
	a, err := AdapterFor("polymarket", "")
	require.NoError(t, err)
	assert.Equal(t, PlatformPolymarket, a.Platform())

	_, err = AdapterFor("kalshi", "")
	assert.Error(t, err)
}
