package ethutil

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAddressList(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := ParseAddressList("   \n\t")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if got != nil {
			t.Fatalf("expected nil, got %#v", got)
		}
	})

	t.Run("single", func(t *testing.T) {
		got, err := ParseAddressList("0x0000000000000000000000000000000000000001")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(got) != 1 || got[0] != common.HexToAddress("0x1") {
			t.Fatalf("unexpected result: %#v", got)
		}
	})

	t.Run("csv+whitespace+dedupe", func(t *testing.T) {
		got, err := ParseAddressList("0x0000000000000000000000000000000000000001, 0x0000000000000000000000000000000000000002\n0x0000000000000000000000000000000000000001")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2, got %d: %#v", len(got), got)
		}
		if got[0] != common.HexToAddress("0x1") || got[1] != common.HexToAddress("0x2") {
			t.Fatalf("unexpected order: %#v", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseAddressList("0xnotanaddress")
		if err == nil {
			t.Fatalf("expected err")
		}
	})
}

func TestShortHex(t *testing.T) {
	a := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	got := ShortHex(a)
	if got != "0x7a25…488D" {
		t.Fatalf("unexpected short form: %q", got)
	}
}

func TestValidateRPCURL(t *testing.T) {
	if _, err := ValidateRPCURL("  "); err == nil {
		t.Fatalf("expected err for empty url")
	}
	if _, err := ValidateRPCURL("https://node.example"); err == nil {
		t.Fatalf("expected err for non-websocket url")
	}
	if _, err := ValidateRPCURL("wss://node.example/YOUR_KEY"); err == nil {
		t.Fatalf("expected err for placeholder key")
	}
	got, err := ValidateRPCURL(" wss://node.example/v1 ")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != "wss://node.example/v1" {
		t.Fatalf("unexpected url: %q", got)
	}
}
