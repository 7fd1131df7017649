package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/gin-gonic/gin"

	"github.com/vulpemcov/covclaimd/db"
	"github.com/vulpemcov/covclaimd/swaptree"
)

// PostCovenant handles POST /covenant: validates the request and inserts
// a new Pending covenant row. Returns 201 on success, 400 with {error}
// on any validation failure.
func (rt *Router) PostCovenant(c *gin.Context) {
	var req covenantClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Sprintf("could not parse request body: %v", err))
		return
	}

	hrp, witnessVersion, program, err := swaptree.DecodeSegwitAddress(req.Address)
	if err != nil {
		respondError(c, fmt.Sprintf("could not parse address: %v", err))
		return
	}
	if hrp != rt.Network.Bech32HRP {
		respondError(c, "address has invalid network")
		return
	}
	destinationScript := witnessScriptPubKey(witnessVersion, program)

	var blindingKey []byte
	if req.BlindingKey != nil {
		blindingKey, err = hex.DecodeString(*req.BlindingKey)
		if err != nil {
			respondError(c, fmt.Sprintf("could not parse blinding key: %v", err))
			return
		}
		if len(blindingKey) != 32 {
			respondError(c, "could not parse blinding key: expected 32 bytes")
			return
		}
	}

	treeJSON, err := json.Marshal(req.Tree)
	if err != nil {
		respondError(c, fmt.Sprintf("could not encode swap tree: %v", err))
		return
	}
	tree, err := swaptree.FromHex(req.Tree.ClaimLeaf.Output, req.Tree.RefundLeaf.Output,
		req.Tree.CovenantClaimLeaf.Output)
	if err != nil {
		respondError(c, fmt.Sprintf("could not parse swap tree: %v", err))
		return
	}
	details, err := tree.CovenantDetails()
	if err != nil {
		respondError(c, fmt.Sprintf("could not parse swap tree: %v", err))
		return
	}

	preimage, err := hex.DecodeString(req.Preimage)
	if err != nil {
		respondError(c, fmt.Sprintf("could not parse preimage: %v", err))
		return
	}
	if !hash160Equal(btcutil.Hash160(preimage), details.PreimageHash) {
		respondError(c, "invalid preimage")
		return
	}

	internalKey, err := aggregateInternalKey(req.RefundPublicKey, req.ClaimPublicKey)
	if err != nil {
		respondError(c, err.Error())
		return
	}

	outputScript, err := tree.ScriptPubKey(internalKey)
	if err != nil {
		respondError(c, fmt.Sprintf("could not derive output script: %v", err))
		return
	}

	covenant := db.Covenant{
		OutputScript: outputScript,
		Status:       db.Pending,
		InternalKey:  internalKey,
		Preimage:     preimage,
		SwapTree:     string(treeJSON),
		Address:      destinationScript,
		BlindingKey:  blindingKey,
		SwapID:       req.Address,
	}

	if err := rt.Pool.InsertCovenant(c.Request.Context(), covenant); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			respondError(c, "covenant already registered")
			return
		}
		respondError(c, err.Error())
		return
	}

	log.Infof("registered covenant for address %s", req.Address)
	c.JSON(http.StatusCreated, gin.H{})
}

// aggregateInternalKey computes the MuSig2 key-aggregation internal key
// for (refund, claim) in that fixed order, as spec.md §6 requires.
func aggregateInternalKey(refundHex, claimHex string) ([]byte, error) {
	refundBytes, err := hex.DecodeString(refundHex)
	if err != nil {
		return nil, fmt.Errorf("could not parse refundPublicKey: %w", err)
	}
	refundKey, err := btcec.ParsePubKey(refundBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse refundPublicKey: %w", err)
	}

	claimBytes, err := hex.DecodeString(claimHex)
	if err != nil {
		return nil, fmt.Errorf("could not parse claimPublicKey: %w", err)
	}
	claimKey, err := btcec.ParsePubKey(claimBytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse claimPublicKey: %w", err)
	}

	aggKey, _, _, err := musig2.AggregateKeys([]*btcec.PublicKey{refundKey, claimKey}, false)
	if err != nil {
		return nil, fmt.Errorf("aggregate musig2 key: %w", err)
	}
	return schnorr.SerializePubKey(aggKey), nil
}

// witnessScriptPubKey builds OP_<version> <program> the way every segwit
// scriptPubKey is shaped: OP_0 for version 0, OP_1..OP_16 (0x51-0x60) for
// versions 1-16.
func witnessScriptPubKey(version byte, program []byte) []byte {
	opcode := byte(0x00)
	if version > 0 {
		opcode = 0x50 + version
	}
	script := make([]byte, 0, 2+len(program))
	script = append(script, opcode, byte(len(program)))
	script = append(script, program...)
	return script
}

func hash160Equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func respondError(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, errorResponse{Error: message})
}
