package swaptree

import (
	"encoding/json"
	"fmt"
)

// treeScript mirrors the wire shape of one leaf in the swap_tree JSON
// column: a single "output" field holding the hex-encoded leaf script.
type treeScript struct {
	Output string `json:"output"`
}

type treeJSON struct {
	ClaimLeaf         treeScript `json:"claim_leaf"`
	RefundLeaf        treeScript `json:"refund_leaf"`
	CovenantClaimLeaf treeScript `json:"covenant_claim_leaf"`
}

// FromJSON parses the pending_covenants.swap_tree column's JSON encoding
// into a Tree.
func FromJSON(data string) (*Tree, error) {
	var t treeJSON
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("parse swap tree json: %w", err)
	}
	return FromHex(t.ClaimLeaf.Output, t.RefundLeaf.Output, t.CovenantClaimLeaf.Output)
}
