// Package elementsrpc implements chain.Backend against an Elements node:
// a JSON-RPC client authenticated from its cookie file, paired with a ZMQ
// subscriber for rawtx/rawblock push notifications. Grounded on the
// rpcclient.ConnConfig usage in itest/bitcoind_harness.go, generalized
// from a Bitcoin test harness to a long-lived Elements client and
// switched from user/pass to cookie-file auth per spec.md §4.3.
package elementsrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btclog"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// log is the package-wide logger, set by the daemon's startup via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by elementsrpc.
func UseLogger(logger btclog.Logger) { log = logger }

// Config configures a node-RPC backend connection.
type Config struct {
	Host           string
	CookieFilePath string
	// ZMQRawTxEndpoint and ZMQRawBlockEndpoint are tcp:// endpoints for
	// the corresponding ZMQ publishers. Both must be configured; either
	// being empty is a fatal startup error (spec.md §4.3).
	ZMQRawTxEndpoint    string
	ZMQRawBlockEndpoint string
}

// Client is a chain.Backend backed by an Elements node's JSON-RPC
// interface plus its ZMQ publisher sockets.
type Client struct {
	rpc *rpcclient.Client

	txCh    chan *wireformat.Tx
	blockCh chan *chain.Block
	zmq     *zmqSubscriber
}

// Connect reads the cookie file once, opens the RPC connection, and
// starts the ZMQ subscriber. Both ZMQ endpoints are required.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ZMQRawTxEndpoint == "" || cfg.ZMQRawBlockEndpoint == "" {
		return nil, fmt.Errorf("elementsrpc: both rawtx and rawblock zmq endpoints are required")
	}

	cookie, err := os.ReadFile(cfg.CookieFilePath)
	if err != nil {
		return nil, fmt.Errorf("read rpc cookie: %w", err)
	}
	user, pass, ok := strings.Cut(strings.TrimSpace(string(cookie)), ":")
	if !ok {
		return nil, fmt.Errorf("malformed rpc cookie file %s", cfg.CookieFilePath)
	}

	rpc, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	c := &Client{
		rpc:     rpc,
		txCh:    make(chan *wireformat.Tx, 256),
		blockCh: make(chan *chain.Block, 32),
	}

	if _, err := c.NetworkInfo(ctx); err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("rpc liveness probe: %w", err)
	}

	sub, err := newZMQSubscriber(cfg.ZMQRawTxEndpoint, cfg.ZMQRawBlockEndpoint, c.txCh, c.blockCh)
	if err != nil {
		rpc.Shutdown()
		return nil, fmt.Errorf("zmq subscribe: %w", err)
	}
	c.zmq = sub
	go sub.run(ctx)

	log.Infof("connected to elements node at %s", cfg.Host)

	return c, nil
}

func (c *Client) call(method string, params ...any) (json.RawMessage, error) {
	raw := make([]json.RawMessage, len(params))
	for i, p := range params {
		enc, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal param %d for %s: %w", i, method, err)
		}
		raw[i] = enc
	}
	return c.rpc.RawRequest(method, raw)
}

// NetworkInfo calls getnetworkinfo as a startup liveness probe.
func (c *Client) NetworkInfo(_ context.Context) (chain.NetworkInfo, error) {
	resp, err := c.call("getnetworkinfo")
	if err != nil {
		return chain.NetworkInfo{}, err
	}
	var result struct {
		Subversion string `json:"subversion"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return chain.NetworkInfo{}, fmt.Errorf("decode getnetworkinfo: %w", err)
	}
	return chain.NetworkInfo{Subversion: result.Subversion}, nil
}

func (c *Client) BlockCount(_ context.Context) (uint64, error) {
	resp, err := c.call("getblockcount")
	if err != nil {
		return 0, err
	}
	var height uint64
	if err := json.Unmarshal(resp, &height); err != nil {
		return 0, fmt.Errorf("decode getblockcount: %w", err)
	}
	return height, nil
}

func (c *Client) BlockHash(_ context.Context, height uint64) (chainhash.Hash, error) {
	resp, err := c.call("getblockhash", height)
	if err != nil {
		return chainhash.Hash{}, err
	}
	var hashHex string
	if err := json.Unmarshal(resp, &hashHex); err != nil {
		return chainhash.Hash{}, fmt.Errorf("decode getblockhash: %w", err)
	}
	return chainhash.NewHashFromStr(hashHex)
}

// Block fetches the block at verbosity 0 (raw hex) and consensus-decodes
// it into a sequence of Elements transactions.
func (c *Client) Block(_ context.Context, hash chainhash.Hash) (*chain.Block, error) {
	resp, err := c.call("getblock", hash.String(), 0)
	if err != nil {
		return nil, err
	}
	var blockHex string
	if err := json.Unmarshal(resp, &blockHex); err != nil {
		return nil, fmt.Errorf("decode getblock: %w", err)
	}
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("decode block hex: %w", err)
	}
	return decodeBlock(raw)
}

func (c *Client) Transaction(_ context.Context, txid chainhash.Hash) (*wireformat.Tx, error) {
	resp, err := c.call("getrawtransaction", txid.String())
	if err != nil {
		return nil, err
	}
	var txHex string
	if err := json.Unmarshal(resp, &txHex); err != nil {
		return nil, fmt.Errorf("decode getrawtransaction: %w", err)
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx hex: %w", err)
	}
	return wireformat.DecodeBytes(raw)
}

func (c *Client) Broadcast(_ context.Context, rawTx []byte) (chainhash.Hash, error) {
	resp, err := c.call("sendrawtransaction", hex.EncodeToString(rawTx))
	if err != nil {
		return chainhash.Hash{}, &chain.BroadcastError{Message: rpcErrorMessage(err)}
	}
	var txidHex string
	if err := json.Unmarshal(resp, &txidHex); err != nil {
		return chainhash.Hash{}, fmt.Errorf("decode sendrawtransaction: %w", err)
	}
	return chainhash.NewHashFromStr(txidHex)
}

// rpcErrorMessage extracts the human-readable error text from an RPC
// error, falling back to its Go error string.
func rpcErrorMessage(err error) string {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}

func (c *Client) TxStream() <-chan *wireformat.Tx { return c.txCh }
func (c *Client) BlockStream() <-chan *chain.Block { return c.blockCh }

func (c *Client) Close() error {
	if c.zmq != nil {
		c.zmq.close()
	}
	c.rpc.Shutdown()
	return nil
}

func decodeBlock(raw []byte) (*chain.Block, error) {
	// Elements block header is identical in shape to Bitcoin's 80-byte
	// header (with an extra dynafed-aware trailer in some configurations);
	// the transactions vector is what matters to this daemon, so the
	// header is hashed as an opaque 80-byte prefix for identification.
	if len(raw) < 80 {
		return nil, fmt.Errorf("block too short: %d bytes", len(raw))
	}
	hash := chainhash.DoubleHashH(raw[:80])

	_, txs, err := wireformat.DecodeBlockTransactions(raw[80:])
	if err != nil {
		return nil, fmt.Errorf("decode block transactions: %w", err)
	}
	return &chain.Block{Hash: hash, Transactions: txs}, nil
}
