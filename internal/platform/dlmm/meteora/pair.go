// Package meteora implements the dlmm.Pool interface against a Meteora-style
// DLMM program by decoding its accounts directly over RPC, the same way the
// pool account layouts are mapped elsewhere in this codebase's lineage of
// on-chain readers.
package meteora

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solquant/dlmmbot/internal/domain"
)

// ProgramID is the DLMM program this client targets.
var ProgramID = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

const (
	// binsPerArray is the number of bins stored in one bin-array account.
	binsPerArray = 70

	// positionAccountSize is the size of a position account, used for rent
	// quotes.
	positionAccountSize = 8120
	// binArrayAccountSize is the size of a bin-array account.
	binArrayAccountSize = 10136
)

// lbPairState is the subset of the pair account this engine reads.
//
// Layout: 8-byte discriminator, 32-byte static parameter block, 32-byte
// variable parameter block, bump/bin-step seeds and pair type (4 bytes),
// then active id, bin step, status block, and the mint/reserve keys.
type lbPairState struct {
	ActiveID  int32
	BinStep   uint16
	TokenXMint solana.PublicKey
	TokenYMint solana.PublicKey
	ReserveX   solana.PublicKey
	ReserveY   solana.PublicKey
}

const (
	offActiveID  = 8 + 32 + 32 + 4
	offBinStep   = offActiveID + 4
	offStatusBlk = offBinStep + 2
	offTokenX    = offStatusBlk + 6
	offTokenY    = offTokenX + 32
	offReserveX  = offTokenY + 32
	offReserveY  = offReserveX + 32
	minPairLen   = offReserveY + 32
)

func decodeLbPair(data []byte) (lbPairState, error) {
	if len(data) < minPairLen {
		return lbPairState{}, fmt.Errorf("meteora: pair account too short: %d bytes", len(data))
	}
	return lbPairState{
		ActiveID:   int32(binary.LittleEndian.Uint32(data[offActiveID:])),
		BinStep:    binary.LittleEndian.Uint16(data[offBinStep:]),
		TokenXMint: solana.PublicKeyFromBytes(data[offTokenX : offTokenX+32]),
		TokenYMint: solana.PublicKeyFromBytes(data[offTokenY : offTokenY+32]),
		ReserveX:   solana.PublicKeyFromBytes(data[offReserveX : offReserveX+32]),
		ReserveY:   solana.PublicKeyFromBytes(data[offReserveY : offReserveY+32]),
	}, nil
}

// Client is a dlmm.Pool implementation for one pair account.
type Client struct {
	rpc  *rpc.Client
	pair solana.PublicKey

	state      lbPairState
	decimalsX  uint8
	decimalsY  uint8
	maxBinsPerTx int

	logger *slog.Logger
}

// Connect fetches and decodes the pair account and its mints, returning a
// ready pool handle.
func Connect(ctx context.Context, rpcClient *rpc.Client, pair solana.PublicKey, maxBinsPerTx int, logger *slog.Logger) (*Client, error) {
	c := &Client{
		rpc:          rpcClient,
		pair:         pair,
		maxBinsPerTx: maxBinsPerTx,
		logger:       logger.With(slog.String("component", "meteora"), slog.String("pair", pair.String())),
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}

	var err error
	if c.decimalsX, err = c.mintDecimals(ctx, c.state.TokenXMint); err != nil {
		return nil, err
	}
	if c.decimalsY, err = c.mintDecimals(ctx, c.state.TokenYMint); err != nil {
		return nil, err
	}

	c.logger.Info("connected to pair",
		slog.Int("active_bin", int(c.state.ActiveID)),
		slog.Int("bin_step", int(c.state.BinStep)),
		slog.String("token_x", c.state.TokenXMint.String()),
		slog.String("token_y", c.state.TokenYMint.String()),
	)
	return c, nil
}

func (c *Client) refresh(ctx context.Context) error {
	out, err := c.rpc.GetAccountInfo(ctx, c.pair)
	if err != nil {
		return domain.Coded(domain.CodeVenueTransient, "meteora.pair", err)
	}
	state, err := decodeLbPair(out.Value.Data.GetBinary())
	if err != nil {
		return domain.Coded(domain.CodeValidation, "meteora.pair", err)
	}
	c.state = state
	return nil
}

// mint decimals live at a fixed offset of the SPL mint account.
func (c *Client) mintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	out, err := c.rpc.GetAccountInfo(ctx, mint)
	if err != nil {
		return 0, domain.Coded(domain.CodeVenueTransient, "meteora.mint", err)
	}
	data := out.Value.Data.GetBinary()
	if len(data) < 45 {
		return 0, fmt.Errorf("meteora: mint account too short: %d bytes", len(data))
	}
	return data[44], nil
}

// Address returns the pair account.
func (c *Client) Address() solana.PublicKey { return c.pair }

// Mints returns the X and Y asset mints.
func (c *Client) Mints() (x, y solana.PublicKey) {
	return c.state.TokenXMint, c.state.TokenYMint
}

// Decimals returns the X and Y mint decimals.
func (c *Client) Decimals() (x, y uint8) { return c.decimalsX, c.decimalsY }

// MaxBinsPerTx returns the per-transaction bin-count limit.
func (c *Client) MaxBinsPerTx() int { return c.maxBinsPerTx }

// ActiveBin re-reads the pair account and returns the current active bin.
func (c *Client) ActiveBin(ctx context.Context) (int32, error) {
	if err := c.refresh(ctx); err != nil {
		return 0, err
	}
	return c.state.ActiveID, nil
}

// binArrayIndex returns the index of the bin-array account holding binID.
func binArrayIndex(binID int32) int64 {
	idx := int64(binID) / binsPerArray
	if binID < 0 && int64(binID)%binsPerArray != 0 {
		idx--
	}
	return idx
}

// deriveBinArray returns the PDA of the bin-array account at index.
func (c *Client) deriveBinArray(index int64) solana.PublicKey {
	var idxBytes [8]byte
	binary.LittleEndian.PutUint64(idxBytes[:], uint64(index))
	addr, _, err := solana.FindProgramAddress([][]byte{
		[]byte("bin_array"),
		c.pair.Bytes(),
		idxBytes[:],
	}, ProgramID)
	if err != nil {
		panic(fmt.Sprintf("meteora: derive bin array: %v", err))
	}
	return addr
}

// eventAuthority returns the program's event-authority PDA.
func eventAuthority() solana.PublicKey {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("__event_authority")}, ProgramID)
	if err != nil {
		panic(fmt.Sprintf("meteora: derive event authority: %v", err))
	}
	return addr
}
