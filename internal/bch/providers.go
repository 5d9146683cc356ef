package bch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const providerTimeout = 15 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: providerTimeout}
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RESTProvider speaks the rest.bch-style API: flat satoshi fields, one
// resource per path segment.
type RESTProvider struct {
	name       string
	baseURL    string
	networks   []Network
	httpClient *http.Client
}

func NewRESTProvider(name, baseURL string, networks ...Network) *RESTProvider {
	return &RESTProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		networks:   networks,
		httpClient: newHTTPClient(),
	}
}

func (p *RESTProvider) Name() string { return p.name }

func (p *RESTProvider) Supports(network Network) bool {
	for _, n := range p.networks {
		if n == network {
			return true
		}
	}
	return false
}

func (p *RESTProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return decodeJSON(resp, out)
}

func (p *RESTProvider) Balance(ctx context.Context, address string) (*Balance, error) {
	var body struct {
		Confirmed   int64 `json:"confirmed"`
		Unconfirmed int64 `json:"unconfirmed"`
	}
	if err := p.get(ctx, "/address/"+address+"/balance", &body); err != nil {
		return nil, err
	}
	return &Balance{ConfirmedSats: body.Confirmed, UnconfirmedSats: body.Unconfirmed}, nil
}

func (p *RESTProvider) History(ctx context.Context, address string) ([]TxRecord, error) {
	var body []struct {
		TxID          string `json:"txid"`
		Confirmations int    `json:"confirmations"`
		Value         int64  `json:"value"`
		BlockHeight   *int64 `json:"blockHeight"`
	}
	if err := p.get(ctx, "/address/"+address+"/transactions", &body); err != nil {
		return nil, err
	}
	records := make([]TxRecord, 0, len(body))
	for _, tx := range body {
		records = append(records, TxRecord{
			TxID:          tx.TxID,
			Confirmations: tx.Confirmations,
			ValueSats:     tx.Value,
			BlockHeight:   tx.BlockHeight,
		})
	}
	return records, nil
}

func (p *RESTProvider) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var body []struct {
		TxID     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Satoshis int64  `json:"satoshis"`
		Height   int64  `json:"height"`
	}
	if err := p.get(ctx, "/address/"+address+"/utxo", &body); err != nil {
		return nil, err
	}
	utxos := make([]UTXO, 0, len(body))
	for _, u := range body {
		utxos = append(utxos, UTXO{TxHash: u.TxID, Index: u.Vout, ValueSats: u.Satoshis, Height: u.Height})
	}
	return utxos, nil
}

func (p *RESTProvider) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"rawTx": rawTxHex})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tx/broadcast", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	var body struct {
		TxID string `json:"txid"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return "", err
	}
	if body.TxID == "" {
		return "", fmt.Errorf("%s returned empty txid", p.name)
	}
	return body.TxID, nil
}

// InsightProvider speaks the insight-style API: balances nested under the
// address resource, satoshi fields suffixed with Sat.
type InsightProvider struct {
	name       string
	baseURL    string
	networks   []Network
	httpClient *http.Client
}

func NewInsightProvider(name, baseURL string, networks ...Network) *InsightProvider {
	return &InsightProvider{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		networks:   networks,
		httpClient: newHTTPClient(),
	}
}

func (p *InsightProvider) Name() string { return p.name }

func (p *InsightProvider) Supports(network Network) bool {
	for _, n := range p.networks {
		if n == network {
			return true
		}
	}
	return false
}

func (p *InsightProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return decodeJSON(resp, out)
}

func (p *InsightProvider) Balance(ctx context.Context, address string) (*Balance, error) {
	var body struct {
		BalanceSat            int64 `json:"balanceSat"`
		UnconfirmedBalanceSat int64 `json:"unconfirmedBalanceSat"`
	}
	if err := p.get(ctx, "/addr/"+address+"?noTxList=1", &body); err != nil {
		return nil, err
	}
	return &Balance{ConfirmedSats: body.BalanceSat, UnconfirmedSats: body.UnconfirmedBalanceSat}, nil
}

func (p *InsightProvider) History(ctx context.Context, address string) ([]TxRecord, error) {
	var body struct {
		Txs []struct {
			TxID          string `json:"txid"`
			Confirmations int    `json:"confirmations"`
			ValueOutSat   int64  `json:"valueOutSat"`
			BlockHeight   int64  `json:"blockheight"`
		} `json:"txs"`
	}
	if err := p.get(ctx, "/txs?address="+address, &body); err != nil {
		return nil, err
	}
	records := make([]TxRecord, 0, len(body.Txs))
	for _, tx := range body.Txs {
		rec := TxRecord{
			TxID:          tx.TxID,
			Confirmations: tx.Confirmations,
			ValueSats:     tx.ValueOutSat,
		}
		if tx.BlockHeight > 0 {
			h := tx.BlockHeight
			rec.BlockHeight = &h
		}
		records = append(records, rec)
	}
	return records, nil
}

func (p *InsightProvider) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var body []struct {
		TxID     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Satoshis int64  `json:"satoshis"`
		Height   int64  `json:"height"`
	}
	if err := p.get(ctx, "/addr/"+address+"/utxo", &body); err != nil {
		return nil, err
	}
	utxos := make([]UTXO, 0, len(body))
	for _, u := range body {
		utxos = append(utxos, UTXO{TxHash: u.TxID, Index: u.Vout, ValueSats: u.Satoshis, Height: u.Height})
	}
	return utxos, nil
}

func (p *InsightProvider) Broadcast(ctx context.Context, rawTxHex string) (string, error) {
	payload, _ := json.Marshal(map[string]string{"rawtx": rawTxHex})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tx/send", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	var body struct {
		TxID string `json:"txid"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return "", err
	}
	if body.TxID == "" {
		return "", fmt.Errorf("%s returned empty txid", p.name)
	}
	return body.TxID, nil
}
