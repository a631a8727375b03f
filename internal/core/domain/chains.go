package domain

// Chain names used in task ids and default table names.
const (
	ChainEthereum = "ethereum"
	ChainOptimism = "optimism"
)

// TaskKind selects the fetch strategy of a task.
type TaskKind string

const (
	KindEVMBlock      TaskKind = "evm_block"
	KindTxBatch       TaskKind = "tx_batch"
	KindStateBatch    TaskKind = "state_batch"
	KindEnqueue       TaskKind = "enqueue"
	KindTxReceipt     TaskKind = "tx_receipt"
	KindEnqueuedTxLog TaskKind = "enqueued_tx_log"
)

// IsJobDriven reports whether tasks of this kind are fed by other tasks
// instead of walking their own cursor.
func (k TaskKind) IsJobDriven() bool {
	return k == KindTxReceipt || k == KindEnqueuedTxLog
}

// KnownKinds lists every kind the daemon can run.
var KnownKinds = []TaskKind{
	KindEVMBlock,
	KindTxBatch,
	KindStateBatch,
	KindEnqueue,
	KindTxReceipt,
	KindEnqueuedTxLog,
}
