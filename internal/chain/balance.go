// Package chain reads on-chain settlement-currency balances. This is the only
// direct blockchain dependency of the engine; everything else comes from the
// ledger query service.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrBadAddress is returned for holder addresses that are not valid hex.
var ErrBadAddress = errors.New("chain: invalid holder address")

// BalanceReader reads the raw settlement-currency balance of an address. The
// result is in raw token units; scaling by the configured decimal places is
// the caller's concern.
type BalanceReader interface {
	Balance(ctx context.Context, holder string) (*big.Int, error)
}

// balanceOf(address) selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// ERC20Reader reads ERC-20 balances via eth_call. The client is injected and
// owned by the caller; it is created once at process start and reused.
type ERC20Reader struct {
	client *ethclient.Client
	token  common.Address
}

// NewERC20Reader creates a reader for one token contract.
func NewERC20Reader(client *ethclient.Client, token common.Address) *ERC20Reader {
	return &ERC20Reader{client: client, token: token}
}

// Balance calls balanceOf(holder) against the latest block.
func (r *ERC20Reader) Balance(ctx context.Context, holder string) (*big.Int, error) {
	if !common.IsHexAddress(holder) {
		return nil, fmt.Errorf("%w: %s", ErrBadAddress, holder)
	}

	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32)...)

	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", holder, err)
	}
	return new(big.Int).SetBytes(out), nil
}
