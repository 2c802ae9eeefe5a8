package uniswap

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SwapIntent is the decoded, immutable record of a leader's exact-input swap.
// It is produced once per observed transaction and never mutated.
type SwapIntent struct {
	TxHash common.Hash
	Leader common.Address

	// TokenIn is path[0]. For the native-asset variant this is the WETH
	// address the router wraps into, and NativeIn is set.
	TokenIn  common.Address
	TokenOut common.Address
	NativeIn bool

	// AmountIn is the leader's input amount: the calldata amountIn for the
	// token variant, the attached value for the native variant.
	AmountIn *big.Int

	// Deadline is the leader's unix deadline. Replicas never reuse it; it is
	// kept for audit only.
	Deadline *big.Int
}

// DecodeSwap classifies tx as one of the recognized exact-input swap calls
// and extracts the intent. A nil result means "not a swap": wrong recipient
// method, contract creation, or calldata that fails to decode against the
// expected schema. That is the normal outcome for most transactions, not an
// error, so the only failure mode is a nil return.
func DecodeSwap(tx *types.Transaction, from common.Address, router common.Address) *SwapIntent {
	if tx == nil || tx.To() == nil || *tx.To() != router {
		return nil
	}
	data := tx.Data()
	if len(data) < 4 {
		return nil
	}
	method, err := routerABI.MethodById(data[:4])
	if err != nil {
		return nil
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		// Selector matched but the payload is malformed. Discard rather
		// than surface: the watcher must keep running.
		return nil
	}

	switch method.Name {
	case "swapExactTokensForTokens":
		if len(args) != 5 {
			return nil
		}
		amountIn, ok1 := args[0].(*big.Int)
		path, ok2 := args[2].([]common.Address)
		deadline, ok3 := args[4].(*big.Int)
		if !ok1 || !ok2 || !ok3 || len(path) < 2 || amountIn == nil {
			return nil
		}
		return &SwapIntent{
			TxHash:   tx.Hash(),
			Leader:   from,
			TokenIn:  path[0],
			TokenOut: path[len(path)-1],
			AmountIn: new(big.Int).Set(amountIn),
			Deadline: copyBig(deadline),
		}

	case "swapExactETHForTokens":
		if len(args) != 4 {
			return nil
		}
		path, ok1 := args[1].([]common.Address)
		deadline, ok2 := args[3].(*big.Int)
		if !ok1 || !ok2 || len(path) < 2 {
			return nil
		}
		value := tx.Value()
		if value == nil || value.Sign() <= 0 {
			return nil
		}
		return &SwapIntent{
			TxHash:   tx.Hash(),
			Leader:   from,
			TokenIn:  path[0],
			TokenOut: path[len(path)-1],
			NativeIn: true,
			AmountIn: new(big.Int).Set(value),
			Deadline: copyBig(deadline),
		}
	}

	return nil
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
