package evm

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/ingestor/internal/infra/chain"
	"github.com/vietddude/ingestor/internal/infra/rpc"
)

// ===== Mock Caller =====

type mockCaller struct {
	mu       sync.Mutex
	calls    []string
	params   [][]any
	CallFunc func(method string, params []any) (any, error)
}

func (m *mockCaller) Get(ctx context.Context, rawURL string) (map[string]any, error) {
	return nil, errors.New("unexpected GET")
}

func (m *mockCaller) Call(ctx context.Context, endpoint, method string, params ...any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.params = append(m.params, params)
	m.mu.Unlock()
	if m.CallFunc != nil {
		return m.CallFunc(method, params)
	}
	return nil, nil
}

const (
	txHash1 = "0x88df016429689c079f3b2f6ad39fa052532c56795b733da78a91ebe6a713944b"
	txHash2 = "0x2a1f5e1d3c4b5a69788796a5b4c3d2e1f0a9b8c7d6e5f4a3b2c1d0e9f8a7b6c5"
)

func TestBlockFetcher_Fetch(t *testing.T) {
	mock := &mockCaller{
		CallFunc: func(method string, params []any) (any, error) {
			if method != "eth_getBlockByNumber" {
				t.Fatalf("unexpected method %s", method)
			}
			return map[string]any{
				"number":    "0x12d687",
				"hash":      "0xabc123",
				"timestamp": "0x65678900",
				"gasUsed":   "0x5208",
				"gasLimit":  "0x1234567",
				"miner":     "0xminer",
				"transactions": []any{
					map[string]any{"hash": txHash1, "value": "0xde0b6b3a7640000", "nonce": "0x1"},
					map[string]any{"hash": txHash2, "value": "0x0", "queueIndex": nil},
				},
			}, nil
		},
	}

	f := NewBlockFetcher(mock, chain.Options{Chain: "optimism", Target: "task:optimism:l2_tx_receipt"})
	res, err := f.Fetch(context.Background(), "http://l2geth", 1234567)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mock.params[0]; got[0] != "0x12d687" || got[1] != true {
		t.Errorf("unexpected params %v", got)
	}

	if len(res.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(res.Records))
	}
	block := res.Records[0]
	if block.Table != "optimism_blocks" {
		t.Errorf("unexpected block table %s", block.Table)
	}
	if block.Data["number"] != "1234567" || block.Data["gasUsed"] != "21000" {
		t.Errorf("block quantities not converted: %v", block.Data)
	}
	if block.Data["miner"] != "0xminer" {
		t.Errorf("non quantity fields must be kept, got %v", block.Data["miner"])
	}

	tx := res.Records[1]
	if tx.Table != "optimism_block_txs" {
		t.Errorf("unexpected tx table %s", tx.Table)
	}
	if tx.Data["value"] != "1000000000000000000" || tx.Data["nonce"] != "1" {
		t.Errorf("tx quantities not converted: %v", tx.Data)
	}

	if len(res.FollowUps) != 2 {
		t.Fatalf("expected 2 follow-ups, got %d", len(res.FollowUps))
	}
	if res.FollowUps[0].TaskID != "task:optimism:l2_tx_receipt" {
		t.Errorf("unexpected target %s", res.FollowUps[0].TaskID)
	}
	var p ReceiptParams
	if err := json.Unmarshal(res.FollowUps[1].Params, &p); err != nil || p.TxHash != txHash2 {
		t.Errorf("unexpected follow-up params %s", res.FollowUps[1].Params)
	}

	// The filter sees the response envelope.
	if _, ok := res.Subject["result"].(map[string]any); !ok {
		t.Errorf("expected subject with result, got %v", res.Subject)
	}
}

func TestBlockFetcher_NotYetAvailable(t *testing.T) {
	mock := &mockCaller{}
	f := NewBlockFetcher(mock, chain.Options{Chain: "optimism"})

	_, err := f.Fetch(context.Background(), "http://l2geth", 99)
	if !errors.Is(err, chain.ErrNotYetAvailable) {
		t.Fatalf("expected ErrNotYetAvailable, got %v", err)
	}
}

func TestBlockFetcher_Errors(t *testing.T) {
	tests := []struct {
		name   string
		result any
		err    error
		want   error
	}{
		{"transport", nil, rpc.ErrTransport, rpc.ErrTransport},
		{"wrong shape", "0x1", nil, chain.ErrMalformedResponse},
		{"no transactions", map[string]any{"number": "0x1"}, nil, chain.ErrMalformedResponse},
		{"tx without hash", map[string]any{"transactions": []any{map[string]any{}}}, nil, chain.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockCaller{CallFunc: func(string, []any) (any, error) { return tt.result, tt.err }}
			_, err := NewBlockFetcher(mock, chain.Options{Chain: "optimism"}).Fetch(context.Background(), "e", 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestReceiptHandler_Handle(t *testing.T) {
	mock := &mockCaller{
		CallFunc: func(method string, params []any) (any, error) {
			if method != "eth_getTransactionReceipt" || params[0] != txHash1 {
				t.Fatalf("unexpected call %s %v", method, params)
			}
			return map[string]any{
				"transactionHash":   txHash1,
				"blockNumber":       "0x10",
				"cumulativeGasUsed": "0x5208",
				"gasUsed":           "0x5208",
				"status":            "0x1",
				"logs": []any{
					map[string]any{"logIndex": "0x0", "blockNumber": "0x10", "data": "0x"},
					map[string]any{"logIndex": "0x1", "blockNumber": "0x10", "data": "0x"},
				},
			}, nil
		},
	}

	h := NewReceiptHandler(mock, chain.Options{Chain: "optimism"})
	params := json.RawMessage(`{"tx_hash":"` + txHash1 + `"}`)

	key, err := h.RetryKey(params)
	if err != nil || key != txHash1 {
		t.Errorf("expected retry key %s, got %s (%v)", txHash1, key, err)
	}

	res, err := h.Handle(context.Background(), "http://l2geth", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("expected receipt and 2 logs, got %d records", len(res.Records))
	}
	if res.Records[0].Table != "optimism_tx_receipts" || res.Records[0].Data["status"] != "1" {
		t.Errorf("unexpected receipt record %+v", res.Records[0])
	}
	if res.Records[2].Table != "optimism_tx_receipt_logs" || res.Records[2].Data["logIndex"] != "1" {
		t.Errorf("unexpected log record %+v", res.Records[2])
	}
}

func TestReceiptHandler_InvalidParams(t *testing.T) {
	h := NewReceiptHandler(&mockCaller{}, chain.Options{Chain: "optimism"})
	for _, raw := range []string{`{}`, `{"tx_hash":"0x1234"}`, `[1]`, `{"tx_hash":"nothex"}`} {
		if _, err := h.Handle(context.Background(), "e", json.RawMessage(raw)); !errors.Is(err, chain.ErrInvalidParams) {
			t.Errorf("%s: expected ErrInvalidParams, got %v", raw, err)
		}
	}
}

func TestReceiptHandler_NotCreated(t *testing.T) {
	h := NewReceiptHandler(&mockCaller{}, chain.Options{Chain: "optimism"})
	_, err := h.Handle(context.Background(), "e", json.RawMessage(`{"tx_hash":"`+txHash1+`"}`))
	if !errors.Is(err, chain.ErrNotYetAvailable) {
		t.Errorf("expected ErrNotYetAvailable, got %v", err)
	}
}

func enqueuedLog(t *testing.T, h *EnqueuedTxLogHandler, queueIndex int64, logIndex string) map[string]any {
	t.Helper()
	data, err := h.abi.Events["TransactionEnqueued"].Inputs.Pack(
		common.HexToAddress("0x4200000000000000000000000000000000000007"),
		common.HexToAddress("0x4200000000000000000000000000000000000010"),
		big.NewInt(1_900_000),
		[]byte{0xca, 0xfe},
		big.NewInt(queueIndex),
		big.NewInt(1650000000),
	)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return map[string]any{
		"address":          "0x4bf681894abec828b212c906082b444ceb2f6cf6",
		"topics":           []any{TransactionEnqueuedTopic},
		"data":             hexutil.Encode(data),
		"blockNumber":      "0xd1a0b4",
		"blockHash":        "0x0f3e2a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f607",
		"transactionHash":  txHash1,
		"transactionIndex": "0x2a",
		"logIndex":         logIndex,
		"removed":          false,
	}
}

func TestEnqueuedTxLogHandler_Topic(t *testing.T) {
	h, err := NewEnqueuedTxLogHandler(&mockCaller{}, chain.Options{Chain: "ethereum"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.topic.Hex() != TransactionEnqueuedTopic {
		t.Errorf("event id %s does not match %s", h.topic.Hex(), TransactionEnqueuedTopic)
	}
}

func TestEnqueuedTxLogHandler_Handle(t *testing.T) {
	mock := &mockCaller{}
	h, err := NewEnqueuedTxLogHandler(mock, chain.Options{Chain: "ethereum"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logs := []any{enqueuedLog(t, h, 11, "0x4"), enqueuedLog(t, h, 12, "0x5")}
	mock.CallFunc = func(method string, params []any) (any, error) {
		if method != "eth_getLogs" {
			t.Fatalf("unexpected method %s", method)
		}
		q := params[0].(map[string]any)
		if q["fromBlock"] != "0xd1a0b4" || q["toBlock"] != "0xd1a0b4" {
			t.Errorf("unexpected range %v", q)
		}
		return logs, nil
	}

	params := json.RawMessage(`{"block_number":13738164,"queue_index":12}`)
	key, err := h.RetryKey(params)
	if err != nil || key != "13738164:12" {
		t.Errorf("unexpected retry key %s (%v)", key, err)
	}

	res, err := h.Handle(context.Background(), "http://l1geth", params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Table != "ethereum_tx_logs" {
		t.Errorf("unexpected table %s", rec.Table)
	}
	if rec.Data["queue_index"] != "12" {
		t.Errorf("expected queue_index 12, got %v", rec.Data["queue_index"])
	}
	if rec.Data["logIndex"] != "5" || rec.Data["blockNumber"] != "13738164" || rec.Data["transactionIndex"] != "42" {
		t.Errorf("log quantities not converted: %v", rec.Data)
	}
}

func TestEnqueuedTxLogHandler_NoMatch(t *testing.T) {
	mock := &mockCaller{}
	h, _ := NewEnqueuedTxLogHandler(mock, chain.Options{Chain: "ethereum"})
	logs := []any{enqueuedLog(t, h, 11, "0x4")}
	mock.CallFunc = func(string, []any) (any, error) { return logs, nil }

	_, err := h.Handle(context.Background(), "e", json.RawMessage(`{"block_number":1,"queue_index":12}`))
	if !errors.Is(err, ErrNoMatchingLog) {
		t.Fatalf("expected ErrNoMatchingLog, got %v", err)
	}

	mock.CallFunc = func(string, []any) (any, error) { return []any{}, nil }
	_, err = h.Handle(context.Background(), "e", json.RawMessage(`{"block_number":1,"queue_index":12}`))
	if !errors.Is(err, chain.ErrNotYetAvailable) {
		t.Fatalf("expected ErrNotYetAvailable for empty logs, got %v", err)
	}
}

func TestEnqueuedTxLogHandler_InvalidParams(t *testing.T) {
	h, _ := NewEnqueuedTxLogHandler(&mockCaller{}, chain.Options{Chain: "ethereum"})
	for _, raw := range []string{`{}`, `{"block_number":1}`, `{"block_number":-1,"queue_index":1}`, `"x"`} {
		if _, err := h.RetryKey(json.RawMessage(raw)); !errors.Is(err, chain.ErrInvalidParams) {
			t.Errorf("%s: expected ErrInvalidParams, got %v", raw, err)
		}
	}
}
