package elementsrpc

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/gozmq"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/wireformat"
)

const (
	rawTxTopic    = "rawtx"
	rawBlockTopic = "rawblock"
)

// zmqSubscriber decodes rawtx/rawblock pushes from the node's ZMQ
// publisher sockets and forwards them to the shared tx/block channels.
// Decode failures are logged and the message is skipped rather than
// treated as fatal: a single malformed push should not take the
// subscriber down.
type zmqSubscriber struct {
	txConn    *gozmq.Conn
	blockConn *gozmq.Conn
	txCh      chan<- *wireformat.Tx
	blockCh   chan<- *chain.Block
}

func newZMQSubscriber(rawTxEndpoint, rawBlockEndpoint string, txCh chan<- *wireformat.Tx,
	blockCh chan<- *chain.Block) (*zmqSubscriber, error) {

	txConn, err := gozmq.Dial(rawTxEndpoint, 0)
	if err != nil {
		return nil, err
	}
	if err := txConn.Subscribe(rawTxTopic); err != nil {
		txConn.Close()
		return nil, err
	}

	blockConn, err := gozmq.Dial(rawBlockEndpoint, 0)
	if err != nil {
		txConn.Close()
		return nil, err
	}
	if err := blockConn.Subscribe(rawBlockTopic); err != nil {
		txConn.Close()
		blockConn.Close()
		return nil, err
	}

	return &zmqSubscriber{
		txConn:    txConn,
		blockConn: blockConn,
		txCh:      txCh,
		blockCh:   blockCh,
	}, nil
}

func (s *zmqSubscriber) run(ctx context.Context) {
	go s.readLoop(ctx, s.txConn, s.handleRawTx)
	go s.readLoop(ctx, s.blockConn, s.handleRawBlock)
}

func (s *zmqSubscriber) readLoop(ctx context.Context, conn *gozmq.Conn, handle func([][]byte)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg, err := conn.Receive(nil)
		if err != nil {
			// Connection torn down on Close; exit quietly.
			return
		}
		handle(msg)
	}
}

func (s *zmqSubscriber) handleRawTx(frames [][]byte) {
	if len(frames) < 2 {
		return
	}
	tx, err := wireformat.DecodeBytes(frames[1])
	if err != nil {
		log.Warnf("could not decode zmq rawtx: %v", err)
		return
	}
	select {
	case s.txCh <- tx:
	default:
	}
}

func (s *zmqSubscriber) handleRawBlock(frames [][]byte) {
	if len(frames) < 2 {
		return
	}
	if len(frames[1]) < 80 {
		return
	}
	_, txs, err := wireformat.DecodeBlockTransactions(frames[1][80:])
	if err != nil {
		log.Warnf("could not decode zmq rawblock: %v", err)
		return
	}
	hash := chainhash.DoubleHashH(frames[1][:80])
	block := &chain.Block{Hash: hash, Transactions: txs}
	select {
	case s.blockCh <- block:
	default:
	}
}

func (s *zmqSubscriber) close() {
	s.txConn.Close()
	s.blockConn.Close()
}
