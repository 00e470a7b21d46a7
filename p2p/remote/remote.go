// Package remote implements the p2p HTTP protocol of spec.md §6 ("P2P
// remote protocol"), the remote leg of p2p.Plane's local/remote
// tagged-variant selection: Router and Scorer delegate to another
// senseid instance's gossip state instead of reading this process's own
// graph, per spec.md §4.4 ("the local gossip state is not read").
package remote

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sensei-labs/senseid/esenseid"
	"github.com/sensei-labs/senseid/p2p"
)

// Client implements p2p.Plane against a remote senseid instance's
// /v1/ldk/network/* endpoints.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

var _ p2p.Plane = (*Client)(nil)

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return esenseid.Wrap(esenseid.KindIo, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return esenseid.Wrap(esenseid.KindIo, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return esenseid.Wrap(esenseid.KindGeneric, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return esenseid.New(esenseid.KindGeneric, fmt.Sprintf("POST %s: status %d", path, resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return esenseid.Wrap(esenseid.KindIo, err)
	}
	return nil
}

func (c *Client) NodeInfo(ctx context.Context, pubKeyHex string) (*p2p.NodeInfo, error) {
	var out struct {
		Alias     string   `json:"alias"`
		Addresses []string `json:"addresses"`
	}
	if err := c.post(ctx, "/v1/ldk/network/node_info", map[string]string{"node_id_hex": pubKeyHex}, &out); err != nil {
		return nil, err
	}
	return &p2p.NodeInfo{PubKeyHex: pubKeyHex, Alias: out.Alias, Addresses: out.Addresses}, nil
}

// FindRoute blocks on the remote instance's pathfinder, per spec.md §4.4.
func (c *Client) FindRoute(ctx context.Context, params p2p.RouteParams) (*p2p.Route, error) {
	req := map[string]interface{}{
		"payer_hex":       hex.EncodeToString(params.Payer.SerializeCompressed()),
		"destination_hex": hex.EncodeToString(params.Destination.SerializeCompressed()),
		"amount_msat":     params.AmountMsat,
		"final_cltv":      params.FinalCLTV,
		"payment_hash":    hex.EncodeToString(params.PaymentHash[:]),
	}
	var out struct {
		Route string `json:"route"`
	}
	if err := c.post(ctx, "/v1/ldk/network/route", req, &out); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(out.Route)
	if err != nil {
		return nil, esenseid.Wrap(esenseid.KindGeneric, err)
	}
	return &p2p.Route{Raw: raw}, nil
}

// ChannelPenaltyMsat is unreachable against a remote backend: routing
// happens on the remote instance, so this process never needs (and
// cannot correctly compute) a penalty for a channel it doesn't score.
func (c *Client) ChannelPenaltyMsat(ctx context.Context, shortChanID uint64, amtMsat int64) (int64, error) {
	return 0, esenseid.New(esenseid.KindGeneric, "channel_penalty_msat is unreachable on a remote p2p plane")
}

// PaymentPathFailed forwards fire-and-forget, per spec.md §4.4: a failed
// POST here must never fail the payment retry loop that called it.
func (c *Client) PaymentPathFailed(ctx context.Context, route *p2p.Route, failedChanID uint64) error {
	go func() {
		body := map[string]interface{}{
			"route_hex":      hex.EncodeToString(route.Raw),
			"failed_chan_id": failedChanID,
		}
		if err := c.post(context.Background(), "/v1/ldk/network/path/failed", body, nil); err != nil {
			_ = err
		}
	}()
	return nil
}

// PaymentPathSuccessful forwards fire-and-forget, symmetric with
// PaymentPathFailed.
func (c *Client) PaymentPathSuccessful(ctx context.Context, route *p2p.Route) error {
	go func() {
		body := map[string]interface{}{"route_hex": hex.EncodeToString(route.Raw)}
		if err := c.post(context.Background(), "/v1/ldk/network/path/successful", body, nil); err != nil {
			_ = err
		}
	}()
	return nil
}
