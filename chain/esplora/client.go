// Package esplora implements chain.Backend against an Esplora-compatible
// HTTP API, polling for new blocks rather than receiving a push.
// Grounded on the REST-client shape of chantools' chain/api.go (a simple
// net/http + encoding/json client with no third-party HTTP library),
// extended with a token-bucket rate limiter and an optional Boltz
// alternate-broadcast endpoint per spec.md §4.4/§6.
package esplora

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// log is the package-wide logger, set by the daemon's startup via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by esplora.
func UseLogger(logger btclog.Logger) { log = logger }

// Config configures an Esplora-backed chain.Backend.
type Config struct {
	BaseURL string
	// BoltzBroadcastURL, if set, routes broadcasts to Boltz's alternate
	// endpoint instead of Esplora's own tx submission endpoint.
	BoltzBroadcastURL string
	// RequestsPerSecond bounds outgoing request rate; burst equals the
	// same value. Zero disables rate limiting.
	RequestsPerSecond int
	PollInterval      time.Duration
	HTTPClient        *http.Client
}

// Client is a chain.Backend backed by an Esplora HTTP API.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	limiter *rateLimiter

	txCh    chan *wireformat.Tx // live, unused: Esplora has no mempool push
	blockCh chan *chain.Block

	cancel context.CancelFunc
}

// Connect starts the background poll loop after an initial block_count
// read succeeds (the only fatal startup condition per spec.md §4.4).
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}

	c := &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		limiter: newRateLimiter(cfg.RequestsPerSecond),
		txCh:    make(chan *wireformat.Tx),
		blockCh: make(chan *chain.Block, 32),
	}

	last, err := c.BlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("esplora liveness probe (block_count): %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.pollLoop(pollCtx, last)

	log.Infof("connected to esplora at %s, tip height %d", c.baseURL, last)

	return c, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	c.limiter.take(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", path, parseHTTPError(resp.StatusCode, body))
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	c.limiter.take(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: %s", url, parseHTTPError(resp.StatusCode, respBody))
	}
	return respBody, nil
}

// parseHTTPError locates the first '{' in the response body and decodes
// a {"message": string} envelope, falling back to a generic status-code
// message when the body isn't shaped that way.
func parseHTTPError(status int, body []byte) string {
	if idx := bytes.IndexByte(body, '{'); idx >= 0 {
		var env struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(bytes.NewReader(body[idx:])).Decode(&env); err == nil && env.Message != "" {
			return env.Message
		}
	}
	return "HTTP status code " + strconv.Itoa(status)
}

func (c *Client) NetworkInfo(_ context.Context) (chain.NetworkInfo, error) {
	return chain.NetworkInfo{Subversion: "esplora"}, nil
}

func (c *Client) BlockCount(ctx context.Context) (uint64, error) {
	body, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block height: %w", err)
	}
	return height, nil
}

func (c *Client) BlockHash(ctx context.Context, height uint64) (chainhash.Hash, error) {
	body, err := c.get(ctx, "/block-height/"+strconv.FormatUint(height, 10))
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.NewHashFromStr(strings.TrimSpace(string(body)))
}

func (c *Client) Block(ctx context.Context, hash chainhash.Hash) (*chain.Block, error) {
	body, err := c.get(ctx, "/block/"+hash.String()+"/raw")
	if err != nil {
		return nil, err
	}
	if len(body) < 80 {
		return nil, fmt.Errorf("block too short: %d bytes", len(body))
	}
	_, txs, err := wireformat.DecodeBlockTransactions(body[80:])
	if err != nil {
		return nil, fmt.Errorf("decode block transactions: %w", err)
	}
	return &chain.Block{Hash: hash, Transactions: txs}, nil
}

func (c *Client) Transaction(ctx context.Context, txid chainhash.Hash) (*wireformat.Tx, error) {
	body, err := c.get(ctx, "/tx/"+txid.String()+"/raw")
	if err != nil {
		return nil, err
	}
	return wireformat.DecodeBytes(body)
}

// Broadcast posts the raw hex to Esplora's tx endpoint, or to the
// configured Boltz endpoint instead when set.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (chainhash.Hash, error) {
	rawHex := hex.EncodeToString(rawTx)

	var body []byte
	var err error
	if c.cfg.BoltzBroadcastURL != "" {
		payload, mErr := json.Marshal(map[string]string{"hex": rawHex})
		if mErr != nil {
			return chainhash.Hash{}, mErr
		}
		body, err = c.post(ctx, c.cfg.BoltzBroadcastURL, payload)
	} else {
		body, err = c.post(ctx, c.baseURL+"/tx", []byte(rawHex))
	}
	if err != nil {
		return chainhash.Hash{}, &chain.BroadcastError{Message: err.Error()}
	}

	txidHex := strings.TrimSpace(string(body))
	if idx := bytes.IndexByte(body, '{'); idx >= 0 {
		var env struct {
			TxID string `json:"txid"`
		}
		if err := json.Unmarshal(body[idx:], &env); err == nil && env.TxID != "" {
			txidHex = env.TxID
		}
	}
	return chainhash.NewHashFromStr(txidHex)
}

func (c *Client) TxStream() <-chan *wireformat.Tx  { return c.txCh }
func (c *Client) BlockStream() <-chan *chain.Block { return c.blockCh }

func (c *Client) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// pollLoop fetches block_count every PollInterval; when it advances,
// each new height's hash + raw block is fetched and pushed to
// block_stream. Transient errors are logged and simply retried next
// tick.
func (c *Client) pollLoop(ctx context.Context, lastKnown uint64) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		latest, err := c.BlockCount(ctx)
		if err != nil {
			log.Warnf("esplora poll: block_count: %v", err)
			continue
		}
		for h := lastKnown + 1; h <= latest; h++ {
			hash, err := c.BlockHash(ctx, h)
			if err != nil {
				log.Warnf("esplora poll: block_hash %d: %v", h, err)
				break
			}
			block, err := c.Block(ctx, hash)
			if err != nil {
				log.Warnf("esplora poll: block %s: %v", hash, err)
				break
			}
			block.Height = h
			select {
			case c.blockCh <- block:
			case <-ctx.Done():
				return
			}
			lastKnown = h
		}
	}
}
