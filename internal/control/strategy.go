package control

import (
	"fmt"

	"github.com/vietddude/ingestor/internal/core/config"
	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
	"github.com/vietddude/ingestor/internal/infra/chain/evm"
	"github.com/vietddude/ingestor/internal/infra/chain/optimism"
)

// buildStrategy returns the fetcher of a cursor task or the handler of a
// job-driven task.
func buildStrategy(tc config.TaskConfig, client chain.Caller) (chain.Fetcher, chain.Handler, error) {
	opts := chain.Options{
		Chain:  tc.Chain,
		Tables: tc.Tables,
		Target: tc.DispatchTo,
	}

	switch tc.Kind {
	case domain.KindEVMBlock:
		return evm.NewBlockFetcher(client, opts), nil, nil
	case domain.KindTxBatch:
		return optimism.NewTxBatchFetcher(client, opts), nil, nil
	case domain.KindStateBatch:
		return optimism.NewStateBatchFetcher(client, opts), nil, nil
	case domain.KindEnqueue:
		return optimism.NewEnqueueFetcher(client, opts), nil, nil
	case domain.KindTxReceipt:
		return nil, evm.NewReceiptHandler(client, opts), nil
	case domain.KindEnqueuedTxLog:
		h, err := evm.NewEnqueuedTxLogHandler(client, opts)
		if err != nil {
			return nil, nil, err
		}
		return nil, h, nil
	default:
		return nil, nil, fmt.Errorf("unknown task kind %q", tc.Kind)
	}
}
