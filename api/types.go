// Package api implements the HTTP intake endpoint: POST /covenant,
// accepting a new covenant registration and inserting a Pending row.
// Grounded on original_source/src/api/{routes,types}.rs, translated from
// axum+Extension<Arc<_>> state to gin with a handler closure over the
// router's dependencies.
package api

import (
	"github.com/btcsuite/btclog"

	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/swaptree"
)

// log is the package-wide logger, set by the daemon's startup via
// UseLogger.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-wide logger used by api.
func UseLogger(logger btclog.Logger) { log = logger }

// Router holds the dependencies the intake handler needs: the
// persistence pool and the network parameters new addresses must match.
type Router struct {
	Pool    db.Pool
	Network swaptree.NetworkParams
}

// covenantClaimRequest mirrors the wire shape of POST /covenant's body.
type covenantClaimRequest struct {
	ClaimPublicKey  string          `json:"claimPublicKey"`
	RefundPublicKey string          `json:"refundPublicKey"`
	Preimage        string          `json:"preimage"`
	BlindingKey     *string         `json:"blindingKey"`
	Address         string          `json:"address"`
	Tree            treeClaimLeaves `json:"tree"`
}

// treeClaimLeaves is the nested tree object in the request body; its
// fields match swaptree's swap_tree JSON column encoding so it can be
// re-marshaled verbatim into the stored column.
type treeClaimLeaves struct {
	ClaimLeaf         leafObject `json:"claim_leaf"`
	RefundLeaf        leafObject `json:"refund_leaf"`
	CovenantClaimLeaf leafObject `json:"covenant_claim_leaf"`
}

type leafObject struct {
	Output string `json:"output"`
}

type errorResponse struct {
	Error string `json:"error"`
}
