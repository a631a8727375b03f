package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/ingestor/internal/core/config"
	"github.com/vietddude/ingestor/internal/core/domain"
	"github.com/vietddude/ingestor/internal/infra/notify"
)

const txHash = "0x3cb1ae16e1c4ab0c2b6a4d81d2b39cd2f36ff8fd1cfd09b0c0b5c6d9e2f51a7b"

// ===== Mock JSON-RPC node =====

type mockNode struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *mockNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage `json:"id"`
		Method string          `json:"method"`
		Params []any           `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	n.mu.Unlock()

	var result string
	switch req.Method {
	case "eth_getBlockByNumber":
		if req.Params[0] == "0x64" {
			result = `{"number":"0x64","hash":"0xb1","gasUsed":"0x5208","transactions":[
				{"hash":"` + txHash + `","blockNumber":"0x64","value":"0x1","nonce":"0x0"}]}`
		} else {
			result = `null`
		}
	case "eth_getTransactionReceipt":
		result = `{"transactionHash":"` + txHash + `","blockNumber":"0x64","status":"0x1","gasUsed":"0x5208","logs":[]}`
	default:
		result = `null`
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
}

// ===== Mock Notifier =====

type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, level notify.Level, message string) error {
	return errors.New("chat service down")
}

func testConfig(endpoint string) *config.AppConfig {
	cfg, err := config.Parse([]byte(strings.ReplaceAll(`
tasks:
  - chain: optimism
    name: l2_block
    kind: evm_block
    start_idx: 100
    end_points: [ENDPOINT]
    poll_interval: 10ms
    dispatch_to: task:optimism:l2_tx_receipt
  - chain: optimism
    name: l2_tx_receipt
    kind: tx_receipt
    end_points: [ENDPOINT]
    poll_interval: 10ms
`, "ENDPOINT", endpoint)))
	if err != nil {
		panic(err)
	}
	cfg.Server.Port = 0
	return cfg
}

func TestDaemon_Lifecycle(t *testing.T) {
	node := &mockNode{calls: make(map[string]int)}
	upstream := httptest.NewServer(node)
	defer upstream.Close()

	d, err := NewDaemon(context.Background(), testConfig(upstream.URL))
	if err != nil {
		t.Fatalf("NewDaemon failed: %v", err)
	}
	if len(d.runners) != 2 {
		t.Fatalf("expected 2 runners, got %d", len(d.runners))
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sink := d.sink.(memorySink)
	deadline := time.Now().Add(3 * time.Second)
	for len(sink.Records("optimism_tx_receipts")) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if n := len(sink.Records("optimism_blocks")); n != 1 {
		t.Errorf("expected 1 block record, got %d", n)
	}
	if n := len(sink.Records("optimism_block_txs")); n != 1 {
		t.Errorf("expected 1 tx record, got %d", n)
	}
	receipts := sink.Records("optimism_tx_receipts")
	if len(receipts) != 1 {
		t.Fatalf("expected 1 receipt record, got %d", len(receipts))
	}
	if receipts[0]["blockNumber"] != "100" || receipts[0]["gasUsed"] != "21000" {
		t.Errorf("receipt quantities not converted: %v", receipts[0])
	}

	st, err := d.manager.Get(context.Background(), "task:optimism:l2_block")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if st.CurrentIndex != 101 || st.Status != domain.TaskStatusWorking {
		t.Errorf("expected block task waiting at 101, got %d/%s", st.CurrentIndex, st.Status)
	}
}

func TestBuildStrategy(t *testing.T) {
	for _, kind := range domain.KnownKinds {
		fetcher, handler, err := buildStrategy(config.TaskConfig{Chain: "optimism", Kind: kind}, nil)
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		if kind.IsJobDriven() && (handler == nil || fetcher != nil) {
			t.Errorf("%s: expected a handler only", kind)
		}
		if !kind.IsJobDriven() && (fetcher == nil || handler != nil) {
			t.Errorf("%s: expected a fetcher only", kind)
		}
	}

	if _, _, err := buildStrategy(config.TaskConfig{Kind: "utxo"}, nil); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := &config.AppConfig{Store: config.StoreConfig{
		Driver: config.StoreSQLite,
		Path:   t.TempDir() + "/state.db",
	}}
	store, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Put(context.Background(), "task:a:b", []byte("{}")); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestEnqueueOffline(t *testing.T) {
	cfg := testConfig("http://l2geth:8545")
	store, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	ctx := context.Background()

	job, err := EnqueueOffline(ctx, cfg, store, "task:optimism:l2_tx_receipt", json.RawMessage(`{"tx_hash":"`+txHash+`"}`))
	if err != nil {
		t.Fatalf("EnqueueOffline failed: %v", err)
	}
	if job.RetryID != "retry:optimism:l2_tx_receipt:"+txHash || job.RetryCount != config.DefaultRetryCount {
		t.Errorf("unexpected job %+v", job)
	}

	if _, err := EnqueueOffline(ctx, cfg, store, "task:optimism:l2_block", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for a cursor task")
	}
	if _, err := EnqueueOffline(ctx, cfg, store, "task:optimism:l2_tx_receipt", json.RawMessage(`{"tx_hash":"0x1"}`)); err == nil {
		t.Error("expected error for invalid params")
	}
	if _, err := EnqueueOffline(ctx, cfg, store, "task:nope:x", json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestSendAlert_LogsDeliveryFailure(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	sendAlert(context.Background(), failingNotifier{}, log, notify.LevelError, "task x failed to start")

	out := buf.String()
	if !strings.Contains(out, "Failed to send notification") || !strings.Contains(out, "chat service down") {
		t.Errorf("expected delivery failure to be logged, got %q", out)
	}
}
