package memory

import (
	"context"
	"testing"

	"github.com/vietddude/ingestor/internal/core/domain"
)

func TestSink_ForwardAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewSink()

	s.Forward(ctx, domain.Record{Table: "optimism_blocks", Data: map[string]any{"number": "1"}})
	s.Forward(ctx, domain.Record{Table: "optimism_blocks", Data: map[string]any{"number": "2"}})
	s.Forward(ctx, domain.Record{Table: "optimism_block_txs", Data: map[string]any{"hash": "0x1"}})

	if got := s.Records("optimism_blocks"); len(got) != 2 || got[1]["number"] != "2" {
		t.Errorf("unexpected records: %v", got)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["optimism_blocks"] != 2 || counts["optimism_block_txs"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}

	tables := s.Tables()
	if len(tables) != 2 || tables[0] != "optimism_block_txs" {
		t.Errorf("unexpected tables: %v", tables)
	}
}
