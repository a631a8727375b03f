// Package optimism holds fetch strategies for the Optimism data transport
// layer REST API.
package optimism

import (
	"context"
	"fmt"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
	"github.com/vietddude/ingestor/internal/infra/rpc"
)

var (
	txBatchNumbers    = []string{"index", "timestamp", "size", "blockNumber", "prevTotalElements"}
	batchTxNumbers    = []string{"index", "batchIndex", "blockNumber", "timestamp", "queueIndex"}
	stateBatchNumbers = []string{"index", "blockNumber", "timestamp", "size", "prevTotalElements"}
	stateRootNumbers  = []string{"index", "batchIndex"}
)

// batchKind describes one of the two batch endpoints.
type batchKind struct {
	batchRole   string
	itemsKey    string
	itemRole    string
	batchFields []string
	itemFields  []string
}

var (
	txBatch = batchKind{
		batchRole:   "tx_batches",
		itemsKey:    "transactions",
		itemRole:    "txs",
		batchFields: txBatchNumbers,
		itemFields:  batchTxNumbers,
	}
	stateBatch = batchKind{
		batchRole:   "state_batches",
		itemsKey:    "stateRoots",
		itemRole:    "state_roots",
		batchFields: stateBatchNumbers,
		itemFields:  stateRootNumbers,
	}
)

// BatchFetcher reads `{endpoint}/{index}` of a batch endpoint and stores the
// batch and each of its items tagged with the L1 transaction hash.
type BatchFetcher struct {
	client chain.Caller
	opts   chain.Options
	kind   batchKind
}

// NewTxBatchFetcher walks transaction batches.
func NewTxBatchFetcher(client chain.Caller, opts chain.Options) *BatchFetcher {
	return &BatchFetcher{client: client, opts: opts, kind: txBatch}
}

// NewStateBatchFetcher walks state root batches.
func NewStateBatchFetcher(client chain.Caller, opts chain.Options) *BatchFetcher {
	return &BatchFetcher{client: client, opts: opts, kind: stateBatch}
}

func (f *BatchFetcher) Fetch(ctx context.Context, endpoint string, index uint64) (*chain.Result, error) {
	resp, err := f.client.Get(ctx, rpc.JoinIndex(endpoint, index))
	if err != nil {
		return nil, fmt.Errorf("batch request failed: %w", err)
	}
	if !chain.Present(resp, "batch") {
		return nil, fmt.Errorf("batch %d: %w", index, chain.ErrNotYetAvailable)
	}

	rawBatch, err := chain.Object(resp, "batch")
	if err != nil {
		return nil, err
	}
	batch := chain.NumbersToStrings(rawBatch, f.kind.batchFields...)
	l1TxHash, ok := batch["l1TransactionHash"]
	if !ok {
		return nil, fmt.Errorf("%w: batch without l1TransactionHash", chain.ErrMalformedResponse)
	}
	items, err := chain.Objects(resp, f.kind.itemsKey)
	if err != nil {
		return nil, err
	}

	res := &chain.Result{
		Subject: resp,
		Records: []domain.Record{{Table: f.opts.Table(f.kind.batchRole), Data: batch}},
	}
	for _, raw := range items {
		item := chain.NumbersToStrings(raw, f.kind.itemFields...)
		item["l1_tx_hash"] = l1TxHash
		res.Records = append(res.Records, domain.Record{Table: f.opts.Table(f.kind.itemRole), Data: item})
	}
	return res, nil
}
