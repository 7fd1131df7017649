// Package claimer runs the three long-lived workers that watch for and
// broadcast covenant claims: a mempool-transaction worker, a
// confirmed-block worker (which also drives the startup rescan), and a
// periodic sweep scheduler. Grounded on original_source/src/claimer/mod.rs's
// Claimer, translated from tokio::spawn + crossbeam_channel::Receiver to
// goroutines over the chain.Backend channels.
package claimer

import (
	"context"
	"errors"
	"time"

	"github.com/btcsuite/btclog"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/constructor"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/wireformat"
)

// log is the package-wide logger, set by the daemon's startup via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the claimer.
func UseLogger(logger btclog.Logger) { log = logger }

// Claimer owns the shared db/chain/constructor handles and the sweep
// parameters that decide between immediate and deferred claim.
type Claimer struct {
	Pool        db.Pool
	Backend     chain.Backend
	Constructor *constructor.Constructor

	// SweepTime is the delay observed after a lockup is first seen
	// before the periodic sweep considers it ready to claim.
	SweepTime time.Duration
	// SweepInterval is the period of the sweep loop; zero selects
	// immediate mode, where a lockup is claimed as soon as observed
	// instead of being recorded as TransactionFound (spec.md §9).
	SweepInterval time.Duration
}

// New builds a Claimer over the given dependencies.
func New(pool db.Pool, backend chain.Backend, ctor *constructor.Constructor,
	sweepTime, sweepInterval time.Duration) *Claimer {

	return &Claimer{
		Pool:          pool,
		Backend:       backend,
		Constructor:   ctor,
		SweepTime:     sweepTime,
		SweepInterval: sweepInterval,
	}
}

func (c *Claimer) immediate() bool { return c.SweepInterval == 0 }

// Start launches the sweep scheduler, the mempool-transaction worker and
// the confirmed-block worker (which rescans any blocks missed since the
// last persisted height before joining the live stream). It returns
// immediately; all three workers run until ctx is done.
func (c *Claimer) Start(ctx context.Context) {
	log.Infof("starting claimer")

	go c.runScheduler(ctx)
	go c.runTxWorker(ctx)
	go c.runBlockWorker(ctx)
}

func (c *Claimer) runScheduler(ctx context.Context) {
	if c.immediate() {
		log.Debugf("sweep interval is 0, running in immediate mode")
		return
	}

	ticker := time.NewTicker(c.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *Claimer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-c.SweepTime)
	covenants, err := c.Pool.GetCovenantsToClaim(ctx, cutoff)
	if err != nil {
		log.Warnf("could not load covenants to claim: %v", err)
		return
	}
	for _, covenant := range covenants {
		lockupTx, err := c.Backend.Transaction(ctx, txidFromBytes(covenant.TxID))
		if err != nil {
			log.Warnf("could not fetch lockup tx for swap %s: %v", covenant.SwapID, err)
			continue
		}
		if _, err := c.Constructor.BroadcastClaim(ctx, covenant, lockupTx); err != nil {
			log.Errorf("claim broadcast failed for swap %s: %v", covenant.SwapID, err)
		}
	}
}

func (c *Claimer) runTxWorker(ctx context.Context) {
	ch := c.Backend.TxStream()
	for {
		select {
		case <-ctx.Done():
			return
		case tx, ok := <-ch:
			if !ok {
				return
			}
			c.handleTx(ctx, tx)
		}
	}
}

func (c *Claimer) runBlockWorker(ctx context.Context) {
	if height, err := c.rescan(ctx); err != nil {
		log.Errorf("rescan failed: %v", err)
	} else {
		log.Infof("rescanned to height %d", height)
	}

	ch := c.Backend.BlockStream()
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-ch:
			if !ok {
				return
			}
			for _, tx := range block.Transactions {
				c.handleTx(ctx, tx)
			}
			if err := c.Pool.UpsertBlockHeight(ctx, block.Height); err != nil {
				log.Warnf("could not update block height: %v", err)
			}
		}
	}
}

// handleTx checks every output of tx against pending_covenants and hands
// any match to scheduleBroadcast.
func (c *Claimer) handleTx(ctx context.Context, tx *wireformat.Tx) {
	for vout, out := range tx.TxOut {
		covenant, err := c.Pool.GetPendingCovenantForOutput(ctx, out.PkScript)
		if err != nil {
			if !errors.Is(err, db.ErrNotFound) {
				log.Warnf("lookup pending covenant: %v", err)
			}
			continue
		}
		log.Infof("found covenant %x to claim in %s:%d", covenant.OutputScript, tx.Txid(), vout)
		c.scheduleBroadcast(ctx, *covenant, tx)
	}
}

// scheduleBroadcast is the single entry point for both the immediate and
// deferred claim paths (spec.md §9 "Immediate vs deferred claim"): the
// immediate path broadcasts right away and bypasses the TransactionFound
// DB write entirely, the deferred path only records the observation for
// the periodic sweep to pick up later.
func (c *Claimer) scheduleBroadcast(ctx context.Context, covenant db.Covenant, lockupTx *wireformat.Tx) {
	if c.immediate() {
		if _, err := c.Constructor.BroadcastClaim(ctx, covenant, lockupTx); err != nil {
			log.Errorf("claim broadcast failed for swap %s: %v", covenant.SwapID, err)
		}
		return
	}

	txid := lockupTx.Txid()
	if err := c.Pool.SetCovenantTransaction(ctx, covenant.OutputScript, txid[:], time.Now()); err != nil {
		log.Warnf("could not record lockup tx for swap %s: %v", covenant.SwapID, err)
	}
}
