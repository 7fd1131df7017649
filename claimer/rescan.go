package claimer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/vulpemcov/covclaimd/db"
)

// maxRescanWorkers bounds the fan-out used to rescan missed blocks,
// grounded on original_source/src/claimer/mod.rs's
// cmp::min(MAX_PARALLEL_REQUESTS, num_cpus::get()) (MAX_PARALLEL_REQUESTS = 15).
const maxRescanWorkers = 15

// rescan walks every block between the last persisted height (exclusive)
// and the current tip (inclusive), replaying handleTx over each one, and
// persists the new tip height on completion. On cold start (no persisted
// height yet) it simply records the current tip without rescanning.
func (c *Claimer) rescan(ctx context.Context) (uint64, error) {
	tip, err := c.Backend.BlockCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block count: %w", err)
	}

	startHeight, err := c.Pool.GetBlockHeight(ctx)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Infof("no block height in database, not rescanning")
			if err := c.Pool.UpsertBlockHeight(ctx, tip); err != nil {
				return 0, fmt.Errorf("upsert block height: %w", err)
			}
			return tip, nil
		}
		return 0, fmt.Errorf("get block height: %w", err)
	}
	log.Infof("found block height in database: %d", startHeight)

	if startHeight >= tip {
		return tip, nil
	}

	heights := make(chan uint64, tip-startHeight)
	for h := startHeight + 1; h <= tip; h++ {
		heights <- h
	}
	close(heights)

	workers := maxRescanWorkers
	if n := runtime.NumCPU(); n < workers {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	total := tip - startHeight
	processed := make(chan struct{}, total)
	done := make(chan struct{})
	go func() {
		var n uint64
		for range processed {
			n++
			if n%10 == 0 {
				log.Infof("rescan progress: %.2f%%", float64(n)/float64(total)*100)
			}
		}
		close(done)
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var skipped []uint64
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for height := range heights {
				if err := c.rescanBlock(ctx, height); err != nil {
					log.Warnf("rescan worker error: %v", err)
					mu.Lock()
					skipped = append(skipped, height)
					mu.Unlock()
				}
				processed <- struct{}{}
			}
		}()
	}

	wg.Wait()
	close(processed)
	<-done

	if len(skipped) > 0 {
		return 0, fmt.Errorf("rescan: %d block(s) failed, not advancing cursor: %v", len(skipped), skipped)
	}

	if err := c.Pool.UpsertBlockHeight(ctx, tip); err != nil {
		return 0, fmt.Errorf("upsert block height: %w", err)
	}
	log.Debugf("finished rescanning")
	return tip, nil
}

func (c *Claimer) rescanBlock(ctx context.Context, height uint64) error {
	hash, err := c.Backend.BlockHash(ctx, height)
	if err != nil {
		return fmt.Errorf("get block hash of %d: %w", height, err)
	}
	block, err := c.Backend.Block(ctx, hash)
	if err != nil {
		return fmt.Errorf("get block %s: %w", hash, err)
	}
	log.Debugf("rescanning block %d (%s) with %d transactions", height, hash, len(block.Transactions))
	for _, tx := range block.Transactions {
		c.handleTx(ctx, tx)
	}
	return nil
}

// txidFromBytes reconstructs a chainhash.Hash from the raw bytes stored
// in a Covenant's TxID column (the same internal byte order Tx.Txid()
// produces, so no byte-swap is needed).
func txidFromBytes(raw []byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], raw)
	return h
}
