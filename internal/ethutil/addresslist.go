package ethutil

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ParseAddressList parses hex addresses from a single string, as supplied by
// flags or env (LEADER_ADDRESSES and friends).
//
// Supported separators: commas and whitespace (space/newline/tab), plus
// semicolons. Duplicates are ignored (first occurrence wins).
//
// Returns (nil, nil) if raw is empty/whitespace.
func ParseAddressList(raw string) ([]common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	parts := strings.FieldsFunc(trimmed, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\n', '\r', '\t':
			return true
		default:
			return false
		}
	})

	out := make([]common.Address, 0, len(parts))
	seen := make(map[common.Address]struct{}, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid hex address %q in %q", s, raw)
		}

		addr := common.HexToAddress(s)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no addresses found in %q", raw)
	}
	return out, nil
}

func AddressSet(addrs []common.Address) map[common.Address]struct{} {
	out := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		out[a] = struct{}{}
	}
	return out
}

func SortedAddresses(addrs []common.Address) []common.Address {
	if len(addrs) <= 1 {
		return append([]common.Address(nil), addrs...)
	}
	out := append([]common.Address(nil), addrs...)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out
}

func JoinHex(addrs []common.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Hex())
	}
	return strings.Join(parts, ",")
}

// ShortHex abbreviates an address for log lines and user-facing messages:
// 0x1234…abcd.
func ShortHex(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

// ValidateRPCURL checks that a node endpoint is plausible before dialing.
// Head subscriptions need a streaming transport, so ws(s) is required.
func ValidateRPCURL(raw string) (string, error) {
	rpcURL := strings.TrimSpace(raw)
	if rpcURL == "" {
		return "", fmt.Errorf("RPC_WS_URL required (set RPC_WS_URL in .env)")
	}
	if !strings.HasPrefix(rpcURL, "ws://") && !strings.HasPrefix(rpcURL, "wss://") {
		return "", fmt.Errorf("RPC URL must be ws(s)://..., got %q", rpcURL)
	}
	if strings.Contains(rpcURL, "YOUR_KEY") {
		return "", fmt.Errorf("RPC URL still contains placeholder YOUR_KEY")
	}
	return rpcURL, nil
}
