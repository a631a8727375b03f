package evm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/chain"
)

var (
	receiptQuantities = []string{"blockNumber", "cumulativeGasUsed", "gasUsed", "status", "transactionIndex"}
	logQuantities     = []string{"blockNumber", "transactionIndex", "logIndex"}
)

// ReceiptParams is the job payload of a receipt task.
type ReceiptParams struct {
	TxHash string `json:"tx_hash"`
}

// ReceiptHandler stores the receipt and logs of one transaction.
type ReceiptHandler struct {
	client chain.Caller
	opts   chain.Options
}

func NewReceiptHandler(client chain.Caller, opts chain.Options) *ReceiptHandler {
	return &ReceiptHandler{client: client, opts: opts}
}

func (h *ReceiptHandler) RetryKey(params json.RawMessage) (string, error) {
	p, err := parseReceiptParams(params)
	if err != nil {
		return "", err
	}
	return p.TxHash, nil
}

func (h *ReceiptHandler) Handle(ctx context.Context, endpoint string, params json.RawMessage) (*chain.Result, error) {
	p, err := parseReceiptParams(params)
	if err != nil {
		return nil, err
	}

	result, err := h.client.Call(ctx, endpoint, "eth_getTransactionReceipt", p.TxHash)
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("receipt of %s: %w", p.TxHash, chain.ErrNotYetAvailable)
	}
	rawReceipt, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: receipt is %T", chain.ErrMalformedResponse, result)
	}

	receipt, err := chain.HexToDecimal(rawReceipt, receiptQuantities...)
	if err != nil {
		return nil, err
	}
	logs, err := chain.Objects(rawReceipt, "logs")
	if err != nil {
		return nil, err
	}

	res := &chain.Result{
		Subject: map[string]any{"result": rawReceipt},
		Records: []domain.Record{{Table: h.opts.Table("tx_receipts"), Data: receipt}},
	}
	for _, rawLog := range logs {
		l, err := chain.HexToDecimal(rawLog, logQuantities...)
		if err != nil {
			return nil, err
		}
		res.Records = append(res.Records, domain.Record{Table: h.opts.Table("tx_receipt_logs"), Data: l})
	}
	return res, nil
}

func parseReceiptParams(params json.RawMessage) (ReceiptParams, error) {
	var p ReceiptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return p, fmt.Errorf("%w: %v", chain.ErrInvalidParams, err)
	}
	if b, err := hexutil.Decode(p.TxHash); err != nil || len(b) != common.HashLength {
		return p, fmt.Errorf("%w: tx_hash %q is not a transaction hash", chain.ErrInvalidParams, p.TxHash)
	}
	return p, nil
}
