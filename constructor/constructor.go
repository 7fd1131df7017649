// Package constructor builds and broadcasts a covenant claim transaction:
// the cryptographically interesting piece of the daemon, transforming a
// (PendingCovenant, lockup transaction) pair into a broadcastable spend.
// Grounded step-for-step on original_source/src/claimer/constructor.rs.
package constructor

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btclog"

	"github.com/vulpemcov/covclaimd/chain"
	"github.com/vulpemcov/covclaimd/confidential"
	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/notify"
	"github.com/vulpemcov/covclaimd/swaptree"
	"github.com/vulpemcov/covclaimd/wireformat"
)

var (
	// ErrOutputNotFound is returned when the lockup transaction has no
	// output matching the covenant's derived address.
	ErrOutputNotFound = errors.New("constructor: covenant output not found in lockup transaction")
	// ErrNoBlindingKey is returned when the prevout is confidential but
	// the covenant row carries no blinding key.
	ErrNoBlindingKey = errors.New("constructor: no blinding key for confidential covenant output")
)

// log is the constructor subsystem's logger, wired up by cmd/covclaimd at
// startup via UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by the constructor.
func UseLogger(logger btclog.Logger) { log = logger }

// Constructor owns the shared database pool and chain backend handle
// needed to build and broadcast claim transactions. Both are cheap,
// concurrency-safe handles, so a Constructor value is itself safe to
// share across the claimer's worker goroutines.
type Constructor struct {
	Pool     db.Pool
	Backend  chain.Backend
	Notifier notify.Publisher
	Params   swaptree.NetworkParams
}

// New builds a Constructor over the given persistence, chain backend and
// (optional) notification publisher.
func New(pool db.Pool, backend chain.Backend, notifier notify.Publisher, params swaptree.NetworkParams) *Constructor {
	return &Constructor{Pool: pool, Backend: backend, Notifier: notifier, Params: params}
}

// BroadcastClaim builds and broadcasts the claim transaction spending
// covenant's output in lockupTx, advancing the row to Claimed on a
// successful broadcast. An already-included broadcast error is also
// returned as success, but leaves the row unchanged (see DESIGN.md's
// recorded Open Question decision).
func (c *Constructor) BroadcastClaim(ctx context.Context, covenant db.Covenant, lockupTx *wireformat.Tx) (*wireformat.Tx, error) {
	tree, err := swaptree.FromJSON(covenant.SwapTree)
	if err != nil {
		return nil, fmt.Errorf("parse swap tree: %w", err)
	}
	details, err := tree.CovenantDetails()
	if err != nil {
		return nil, fmt.Errorf("parse covenant details: %w", err)
	}

	spk, err := tree.ScriptPubKey(covenant.InternalKey)
	if err != nil {
		return nil, fmt.Errorf("derive script pubkey: %w", err)
	}
	outputs := make([][]byte, len(lockupTx.TxOut))
	for i, out := range lockupTx.TxOut {
		outputs[i] = out.PkScript
	}
	vout, ok := swaptree.FindOutput(outputs, spk)
	if !ok {
		return nil, ErrOutputNotFound
	}
	prevout := lockupTx.TxOut[vout]

	controlBlock, err := tree.ControlBlock(covenant.InternalKey)
	if err != nil {
		return nil, fmt.Errorf("derive control block: %w", err)
	}
	witness := [][]byte{covenant.Preimage, tree.CovenantClaimLeaf.Script, controlBlock}

	utxoValue, utxoAsset, prevoutSecrets, err := c.unblindPrevout(covenant, prevout)
	if err != nil {
		return nil, err
	}

	outs, err := buildOutputs(details, covenant.Address, utxoValue, utxoAsset, prevoutSecrets)
	if err != nil {
		return nil, fmt.Errorf("build outputs: %w", err)
	}

	lockupTxid := lockupTx.Txid()
	tx := &wireformat.Tx{
		Version: wireformat.TxVersion,
		TxIn: []*wireformat.TxIn{{
			PreviousOutPoint: wireformat.Outpoint{Hash: lockupTxid, Index: uint32(vout)},
			SignatureScript:  nil,
			Sequence:         wireformat.ClaimSequence,
		}},
		TxOut: outs,
		InWitness: []wireformat.TxInWitness{{
			ScriptWitness: witness,
		}},
	}

	rawTx, err := tx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize claim tx: %w", err)
	}

	txid, broadcastErr := c.Backend.Broadcast(ctx, rawTx)
	if broadcastErr == nil {
		log.Infof("broadcast claim tx %s for swap %s", txid, covenant.SwapID)
		if err := c.Pool.SetCovenantClaimed(ctx, covenant.OutputScript); err != nil {
			return nil, fmt.Errorf("mark covenant claimed: %w", err)
		}
		c.Notifier.PublishClaim(covenant.SwapID, txid)
		return tx, nil
	}

	var bErr *chain.BroadcastError
	if errors.As(broadcastErr, &bErr) && bErr.IsAlreadyIncluded() {
		log.Infof("claim for swap %s already included: %s", covenant.SwapID, bErr)
		// Per the recorded Open Question decision, the row is left
		// untouched here; the next lockup-observation or rescan pass
		// reconciles it.
		return tx, nil
	}
	return nil, fmt.Errorf("broadcast claim: %w", broadcastErr)
}

// unblindPrevout recovers the prevout's asset/value (and, if confidential,
// its blinding factors) per spec.md §4.6 step 3.
func (c *Constructor) unblindPrevout(covenant db.Covenant, prevout *wireformat.TxOut) (
	utxoValue int64, utxoAsset chainhash.Hash, secrets *confidential.Secrets, err error) {

	if !confidential.IsConfidentialOutput(prevout.Asset, prevout.Value) {
		explicitValue, ok := prevout.Value.ExplicitValue()
		if !ok {
			return 0, chainhash.Hash{}, nil, fmt.Errorf("prevout value neither explicit nor confidential")
		}
		explicitAsset, ok := prevout.Asset.ExplicitAsset()
		if !ok {
			return 0, chainhash.Hash{}, nil, fmt.Errorf("prevout asset neither explicit nor confidential")
		}
		return explicitValue, explicitAsset, nil, nil
	}

	if len(covenant.BlindingKey) != 32 {
		return 0, chainhash.Hash{}, nil, ErrNoBlindingKey
	}
	blindingKey, _ := btcec.PrivKeyFromBytes(covenant.BlindingKey)

	secrets, err = confidential.UnblindPrevout(prevout.Asset, prevout.Value, prevout.Nonce,
		prevout.RangeProof, prevout.PkScript, blindingKey)
	if err != nil {
		return 0, chainhash.Hash{}, nil, fmt.Errorf("unblind prevout: %w", err)
	}
	// One satoshi is reserved for the blinded OP_RETURN carrier output.
	return secrets.Value - 1, secrets.Asset, secrets, nil
}
