package optimism

import (
	"context"
	"fmt"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
	"github.com/vietddude/ingestor/internal/infra/chain/evm"
	"github.com/vietddude/ingestor/internal/infra/rpc"
)

// EnqueueFetcher walks L1 to L2 enqueue entries. An entry is only complete
// once the sequencer has assigned it a ctcIndex. Each complete entry is
// dispatched to the L1 log task.
type EnqueueFetcher struct {
	client chain.Caller
	opts   chain.Options
}

func NewEnqueueFetcher(client chain.Caller, opts chain.Options) *EnqueueFetcher {
	return &EnqueueFetcher{client: client, opts: opts}
}

func (f *EnqueueFetcher) Fetch(ctx context.Context, endpoint string, index uint64) (*chain.Result, error) {
	resp, err := f.client.Get(ctx, rpc.JoinIndex(endpoint, index))
	if err != nil {
		return nil, fmt.Errorf("enqueue request failed: %w", err)
	}
	if !chain.Present(resp, "ctcIndex") {
		return nil, fmt.Errorf("enqueue %d has no ctcIndex: %w", index, chain.ErrNotYetAvailable)
	}

	blockNumber, err := chain.Uint64(resp, "blockNumber")
	if err != nil {
		return nil, fmt.Errorf("%w: blockNumber: %v", chain.ErrMalformedResponse, err)
	}
	queueIndex, err := chain.Uint64(resp, "index")
	if err != nil {
		return nil, fmt.Errorf("%w: index: %v", chain.ErrMalformedResponse, err)
	}

	res := &chain.Result{
		Subject: resp,
		Records: []domain.Record{{Table: f.opts.Table("enqueue"), Data: resp}},
	}
	d, err := f.opts.FollowUp(evm.EnqueueLogParams{BlockNumber: blockNumber, QueueIndex: queueIndex})
	if err != nil {
		return nil, err
	}
	if d != nil {
		res.FollowUps = append(res.FollowUps, *d)
	}
	return res, nil
}
