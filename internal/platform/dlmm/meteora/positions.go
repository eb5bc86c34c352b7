package meteora

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
)

// Position account layout offsets. The account stores per-bin liquidity
// shares and fee state as fixed-width arrays sized to binsPerArray.
const (
	posOffPair   = 8
	posOffOwner  = 40
	posOffShares = 72
	posOffFees   = posOffShares + binsPerArray*16 + binsPerArray*48
	posOffLower  = posOffFees + binsPerArray*48
	posOffUpper  = posOffLower + 4

	feeInfoSize       = 48
	feeInfoXPendingOff = 32
	feeInfoYPendingOff = 40
)

// Bin-array account layout offsets.
const (
	arrOffBins = 56
	binSize    = 144

	binOffAmountX = 0
	binOffAmountY = 8
	binOffSupply  = 32
)

type positionAccount struct {
	address  solana.PublicKey
	pair     solana.PublicKey
	owner    solana.PublicKey
	lowerBin int32
	upperBin int32
	shares   []*big.Int // one per bin in [lowerBin, upperBin]
	feeX     uint64
	feeY     uint64
}

func decodePosition(address solana.PublicKey, data []byte) (positionAccount, error) {
	if len(data) < posOffUpper+4 {
		return positionAccount{}, domain.Codedf(domain.CodeValidation, "meteora.position",
			"position account %s too short: %d bytes", address, len(data))
	}

	p := positionAccount{
		address:  address,
		pair:     solana.PublicKeyFromBytes(data[posOffPair : posOffPair+32]),
		owner:    solana.PublicKeyFromBytes(data[posOffOwner : posOffOwner+32]),
		lowerBin: int32(binary.LittleEndian.Uint32(data[posOffLower:])),
		upperBin: int32(binary.LittleEndian.Uint32(data[posOffUpper:])),
	}

	width := int(p.upperBin-p.lowerBin) + 1
	if width < 1 || width > binsPerArray {
		return positionAccount{}, domain.Codedf(domain.CodeValidation, "meteora.position",
			"position %s has invalid width %d", address, width)
	}

	for i := 0; i < width; i++ {
		off := posOffShares + i*16
		p.shares = append(p.shares, u128(data[off:off+16]))
	}
	for i := 0; i < width; i++ {
		off := posOffFees + i*feeInfoSize
		p.feeX += binary.LittleEndian.Uint64(data[off+feeInfoXPendingOff:])
		p.feeY += binary.LittleEndian.Uint64(data[off+feeInfoYPendingOff:])
	}
	return p, nil
}

func u128(b []byte) *big.Int {
	lo := binary.LittleEndian.Uint64(b)
	hi := binary.LittleEndian.Uint64(b[8:])
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	return v.Add(v, new(big.Int).SetUint64(lo))
}

type binState struct {
	amountX uint64
	amountY uint64
	supply  *big.Int
}

// PositionsForOwner enumerates the owner's position accounts in this pair,
// prices each bin's share against the live bin reserves, and folds the
// accounts into normalized snapshots.
func (c *Client) PositionsForOwner(ctx context.Context, owner solana.PublicKey) ([]domain.PositionSnapshot, error) {
	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, ProgramID, &rpc.GetProgramAccountsOpts{
		Filters: []rpc.RPCFilter{
			{DataSize: positionAccountSize},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: posOffPair, Bytes: c.pair.Bytes()}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: posOffOwner, Bytes: owner.Bytes()}},
		},
	})
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "meteora.positions", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	var positions []positionAccount
	for _, acc := range accounts {
		p, err := decodePosition(acc.Pubkey, acc.Account.Data.GetBinary())
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	bins, err := c.fetchBins(ctx, positions)
	if err != nil {
		return nil, err
	}

	raws := make([]dlmm.RawPosition, 0, len(positions))
	for _, p := range positions {
		raw := dlmm.RawPosition{
			Address:     p.address,
			Pair:        p.pair,
			LowerBinID:  p.lowerBin,
			UpperBinID:  p.upperBin,
			FeePendingX: p.feeX,
			FeePendingY: p.feeY,
		}
		for i, share := range p.shares {
			binID := p.lowerBin + int32(i)
			b, ok := bins[binID]
			if !ok || share.Sign() == 0 || b.supply.Sign() == 0 {
				continue
			}
			raw.Bins = append(raw.Bins, dlmm.RawBin{
				BinID:   binID,
				AmountX: prorate(b.amountX, share, b.supply),
				AmountY: prorate(b.amountY, share, b.supply),
			})
		}
		raws = append(raws, raw)
	}

	c.logger.Debug("enumerated positions",
		slog.String("owner", owner.String()),
		slog.Int("accounts", len(raws)),
	)
	return dlmm.GroupByPair(raws)
}

// prorate returns amount * share / supply without overflow.
func prorate(amount uint64, share, supply *big.Int) uint64 {
	v := new(big.Int).SetUint64(amount)
	v.Mul(v, share)
	v.Div(v, supply)
	return v.Uint64()
}

// fetchBins loads every bin-array account covering the given positions and
// indexes the decoded bins by bin id.
func (c *Client) fetchBins(ctx context.Context, positions []positionAccount) (map[int32]binState, error) {
	indexSet := make(map[int64]bool)
	for _, p := range positions {
		for idx := binArrayIndex(p.lowerBin); idx <= binArrayIndex(p.upperBin); idx++ {
			indexSet[idx] = true
		}
	}

	var keys []solana.PublicKey
	var indexes []int64
	for idx := range indexSet {
		keys = append(keys, c.deriveBinArray(idx))
		indexes = append(indexes, idx)
	}

	out, err := c.rpc.GetMultipleAccounts(ctx, keys...)
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "meteora.bin_arrays", err)
	}

	bins := make(map[int32]binState)
	for i, acc := range out.Value {
		if acc == nil {
			continue // bin array not initialized: no liquidity there
		}
		data := acc.Data.GetBinary()
		firstBin := int32(indexes[i] * binsPerArray)
		for j := 0; j < binsPerArray; j++ {
			off := arrOffBins + j*binSize
			if off+binSize > len(data) {
				break
			}
			bins[firstBin+int32(j)] = binState{
				amountX: binary.LittleEndian.Uint64(data[off+binOffAmountX:]),
				amountY: binary.LittleEndian.Uint64(data[off+binOffAmountY:]),
				supply:  u128(data[off+binOffSupply : off+binOffSupply+16]),
			}
		}
	}
	return bins, nil
}

// QuoteCreationCost prices the accounts an open would create: rent for each
// new position account plus initialization of any bin arrays that do not
// exist yet. Callers use it to warn about one-time bin-initialization fees.
func (c *Client) QuoteCreationCost(ctx context.Context, req dlmm.OpenRequest) (dlmm.CreationCost, error) {
	span := req.Plan.BinCount()
	subPositions := (span + c.maxBinsPerTx - 1) / c.maxBinsPerTx

	posRent, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, positionAccountSize, rpc.CommitmentConfirmed)
	if err != nil {
		return dlmm.CreationCost{}, domain.Coded(domain.CodeVenueTransient, "meteora.quote", err)
	}

	var keys []solana.PublicKey
	for idx := binArrayIndex(req.Plan.MinBin); idx <= binArrayIndex(req.Plan.MaxBin); idx++ {
		keys = append(keys, c.deriveBinArray(idx))
	}
	out, err := c.rpc.GetMultipleAccounts(ctx, keys...)
	if err != nil {
		return dlmm.CreationCost{}, domain.Coded(domain.CodeVenueTransient, "meteora.quote", err)
	}
	missing := 0
	for _, acc := range out.Value {
		if acc == nil {
			missing++
		}
	}

	cost := dlmm.CreationCost{PositionRent: posRent * uint64(subPositions)}
	if missing > 0 {
		arrRent, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, binArrayAccountSize, rpc.CommitmentConfirmed)
		if err != nil {
			return dlmm.CreationCost{}, domain.Coded(domain.CodeVenueTransient, "meteora.quote", err)
		}
		cost.BinArrayInit = arrRent * uint64(missing)
	}
	return cost, nil
}
