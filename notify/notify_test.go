package notify

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func TestNoopPublisherDoesNothing(t *testing.T) {
	p := Noop()
	p.PublishClaim("swap-1", chainhash.Hash{})
	require.NoError(t, p.Close())
}
