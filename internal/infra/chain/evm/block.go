// Package evm holds fetch strategies for EVM JSON-RPC nodes.
package evm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
)

var (
	blockQuantities = []string{"number", "size", "timestamp", "gasLimit", "gasUsed"}
	txQuantities    = []string{
		"blockNumber", "gas", "gasPrice", "nonce", "transactionIndex", "value",
		"l1BlockNumber", "l1Timestamp", "index", "queueIndex",
	}
)

// BlockFetcher walks blocks by number with full transaction bodies and
// dispatches every transaction hash as a receipt job.
type BlockFetcher struct {
	client chain.Caller
	opts   chain.Options
}

func NewBlockFetcher(client chain.Caller, opts chain.Options) *BlockFetcher {
	return &BlockFetcher{client: client, opts: opts}
}

func (f *BlockFetcher) Fetch(ctx context.Context, endpoint string, index uint64) (*chain.Result, error) {
	result, err := f.client.Call(ctx, endpoint, "eth_getBlockByNumber", hexutil.EncodeUint64(index), true)
	if err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("block %d: %w", index, chain.ErrNotYetAvailable)
	}

	rawBlock, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: block is %T", chain.ErrMalformedResponse, result)
	}

	block, err := chain.HexToDecimal(rawBlock, blockQuantities...)
	if err != nil {
		return nil, err
	}
	txs, err := chain.Objects(rawBlock, "transactions")
	if err != nil {
		return nil, err
	}

	res := &chain.Result{
		Subject: map[string]any{"result": rawBlock},
		Records: []domain.Record{{Table: f.opts.Table("blocks"), Data: block}},
	}
	for _, rawTx := range txs {
		tx, err := chain.HexToDecimal(rawTx, txQuantities...)
		if err != nil {
			return nil, err
		}
		hash, ok := tx["hash"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: transaction without hash", chain.ErrMalformedResponse)
		}

		res.Records = append(res.Records, domain.Record{Table: f.opts.Table("block_txs"), Data: tx})

		d, err := f.opts.FollowUp(ReceiptParams{TxHash: hash})
		if err != nil {
			return nil, err
		}
		if d != nil {
			res.FollowUps = append(res.FollowUps, *d)
		}
	}
	return res, nil
}
