package chain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestHexToDecimal(t *testing.T) {
	in := map[string]any{
		"key1": "0x11",
		"key2": "0x22",
		"key3": "bleu",
		"key4": nil,
		"key5": "0x16345785d8a0000",
		"key6": "16345785d8a0000",
	}

	out, err := HexToDecimal(in, "key1", "key3", "key4", "key5", "key6", "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{
		"key1": "17",
		"key2": "0x22",
		"key3": "bleu",
		"key4": nil,
		"key5": "100000000000000000",
		"key6": "100000000000000000",
	}
	for k, v := range want {
		if out[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, out[k])
		}
	}
	if _, ok := out["missing"]; ok {
		t.Error("absent keys must not be created")
	}
	if in["key1"] != "0x11" {
		t.Error("input map must not be modified")
	}
}

func TestHexToDecimal_Overflow(t *testing.T) {
	big := "0x1" + "0000000000000000000000000000000000000000000000000000000000000000"
	_, err := HexToDecimal(map[string]any{"v": big}, "v")
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestNumbersToStrings(t *testing.T) {
	in := map[string]any{
		"key1": json.Number("1"),
		"key2": "a",
		"key3": json.Number("1"),
		"key4": float64(1650000000),
	}
	out := NumbersToStrings(in, "key1", "key2", "key4")

	if out["key1"] != "1" {
		t.Errorf("key1: expected \"1\", got %#v", out["key1"])
	}
	if out["key2"] != "a" {
		t.Errorf("key2: expected a, got %#v", out["key2"])
	}
	if out["key3"] != json.Number("1") {
		t.Errorf("key3 must be untouched, got %#v", out["key3"])
	}
	if out["key4"] != "1650000000" {
		t.Errorf("key4: expected \"1650000000\", got %#v", out["key4"])
	}
}

func TestUint64(t *testing.T) {
	m := map[string]any{
		"num": json.Number("42"),
		"dec": "42",
		"hex": "0x2a",
		"flt": float64(42),
		"neg": json.Number("-1"),
	}
	for _, k := range []string{"num", "dec", "hex", "flt"} {
		v, err := Uint64(m, k)
		if err != nil || v != 42 {
			t.Errorf("%s: expected 42, got %d (%v)", k, v, err)
		}
	}
	if _, err := Uint64(m, "neg"); err == nil {
		t.Error("expected error for negative number")
	}
	if _, err := Uint64(m, "missing"); err == nil {
		t.Error("expected error for missing key")
	}
}

func TestOptions(t *testing.T) {
	opts := Options{Chain: "optimism", Tables: map[string]string{"txs": "l2_txs"}}
	if got := opts.Table("txs"); got != "l2_txs" {
		t.Errorf("expected override, got %s", got)
	}
	if got := opts.Table("blocks"); got != "optimism_blocks" {
		t.Errorf("expected default table, got %s", got)
	}

	d, err := opts.FollowUp(map[string]any{"tx_hash": "0x1"})
	if err != nil || d != nil {
		t.Errorf("expected no follow-up without target, got %v (%v)", d, err)
	}

	opts.Target = "task:optimism:l2_tx_receipt"
	d, err = opts.FollowUp(map[string]any{"tx_hash": "0x1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.TaskID != opts.Target || string(d.Params) != `{"tx_hash":"0x1"}` {
		t.Errorf("unexpected dispatch %+v", d)
	}
}
