package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
)

// TransactionEnqueuedTopic is the topic0 of the canonical transaction chain
// TransactionEnqueued event.
const TransactionEnqueuedTopic = "0x4b388aecf9fa6cc92253704e5975a6129a4f735bdbd99567df4ed0094ee4ceb5"

const transactionEnqueuedABI = `[{
	"anonymous": false,
	"name": "TransactionEnqueued",
	"type": "event",
	"inputs": [
		{"indexed": false, "name": "_l1TxOrigin", "type": "address"},
		{"indexed": false, "name": "_target", "type": "address"},
		{"indexed": false, "name": "_gasLimit", "type": "uint256"},
		{"indexed": false, "name": "_data", "type": "bytes"},
		{"indexed": false, "name": "_queueIndex", "type": "uint256"},
		{"indexed": false, "name": "_timestamp", "type": "uint256"}
	]
}]`

// ErrNoMatchingLog means the block has enqueue logs but none for the
// requested queue index.
var ErrNoMatchingLog = errors.New("no matching log")

// EnqueueLogParams is the job payload of an enqueued tx log task.
type EnqueueLogParams struct {
	BlockNumber uint64 `json:"block_number"`
	QueueIndex  uint64 `json:"queue_index"`
}

// EnqueuedTxLogHandler finds the L1 TransactionEnqueued log of one queue
// index and stores it.
type EnqueuedTxLogHandler struct {
	client chain.Caller
	opts   chain.Options
	abi    abi.ABI
	topic  common.Hash
}

func NewEnqueuedTxLogHandler(client chain.Caller, opts chain.Options) (*EnqueuedTxLogHandler, error) {
	parsed, err := abi.JSON(strings.NewReader(transactionEnqueuedABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse event abi: %w", err)
	}
	return &EnqueuedTxLogHandler{
		client: client,
		opts:   opts,
		abi:    parsed,
		topic:  parsed.Events["TransactionEnqueued"].ID,
	}, nil
}

func (h *EnqueuedTxLogHandler) RetryKey(params json.RawMessage) (string, error) {
	p, err := parseEnqueueLogParams(params)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.QueueIndex), nil
}

func (h *EnqueuedTxLogHandler) Handle(ctx context.Context, endpoint string, params json.RawMessage) (*chain.Result, error) {
	p, err := parseEnqueueLogParams(params)
	if err != nil {
		return nil, err
	}

	blockHex := hexutil.EncodeUint64(p.BlockNumber)
	query := map[string]any{
		"fromBlock": blockHex,
		"toBlock":   blockHex,
		"topics":    []string{h.topic.Hex()},
	}
	result, err := h.client.Call(ctx, endpoint, "eth_getLogs", query)
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}
	rawLogs, ok := result.([]any)
	if !ok || len(rawLogs) == 0 {
		return nil, fmt.Errorf("logs of block %d: %w", p.BlockNumber, chain.ErrNotYetAvailable)
	}

	want := new(big.Int).SetUint64(p.QueueIndex)
	for _, item := range rawLogs {
		rawLog, ok := item.(map[string]any)
		if !ok {
			continue
		}
		idx, err := h.queueIndex(rawLog)
		if err != nil || idx.Cmp(want) != 0 {
			continue
		}

		matched, err := chain.HexToDecimal(rawLog, logQuantities...)
		if err != nil {
			return nil, err
		}
		matched["queue_index"] = strconv.FormatUint(p.QueueIndex, 10)
		return &chain.Result{
			Subject: matched,
			Records: []domain.Record{{Table: h.opts.Table("tx_logs"), Data: matched}},
		}, nil
	}

	return nil, fmt.Errorf("%w: block_number=%d, queue_index=%d, topic=%s",
		ErrNoMatchingLog, p.BlockNumber, p.QueueIndex, h.topic.Hex())
}

// queueIndex decodes the _queueIndex field of a TransactionEnqueued log.
func (h *EnqueuedTxLogHandler) queueIndex(rawLog map[string]any) (*big.Int, error) {
	raw, err := json.Marshal(rawLog)
	if err != nil {
		return nil, err
	}
	var l types.Log
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, err
	}
	if len(l.Topics) == 0 || l.Topics[0] != h.topic {
		return nil, fmt.Errorf("unexpected topic")
	}

	fields := make(map[string]any)
	if err := h.abi.UnpackIntoMap(fields, "TransactionEnqueued", l.Data); err != nil {
		return nil, err
	}
	idx, ok := fields["_queueIndex"].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("_queueIndex is %T", fields["_queueIndex"])
	}
	return idx, nil
}

func parseEnqueueLogParams(params json.RawMessage) (EnqueueLogParams, error) {
	var raw struct {
		BlockNumber *uint64 `json:"block_number"`
		QueueIndex  *uint64 `json:"queue_index"`
	}
	if err := json.Unmarshal(params, &raw); err != nil {
		return EnqueueLogParams{}, fmt.Errorf("%w: %v", chain.ErrInvalidParams, err)
	}
	if raw.BlockNumber == nil || raw.QueueIndex == nil {
		return EnqueueLogParams{}, fmt.Errorf("%w: block_number and queue_index are required", chain.ErrInvalidParams)
	}
	return EnqueueLogParams{BlockNumber: *raw.BlockNumber, QueueIndex: *raw.QueueIndex}, nil
}
