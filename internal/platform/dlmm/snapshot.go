package dlmm

import (
	"sort"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

// RawBin is one bin's share of a raw position.
type RawBin struct {
	BinID   int32
	AmountX uint64
	AmountY uint64
}

// RawPosition is the loose shape the venue returns for a position account.
// Depending on the call site the totals arrive either as decimal strings
// (TotalX/TotalY) or as per-bin amounts (Bins); Normalize accepts both and
// prefers the per-bin data when present.
type RawPosition struct {
	Address solana.PublicKey
	Pair    solana.PublicKey

	LowerBinID int32
	UpperBinID int32

	TotalX string
	TotalY string
	Bins   []RawBin

	FeePendingX uint64
	FeePendingY uint64
}

func (p RawPosition) amounts() (x, y uint64) {
	if len(p.Bins) > 0 {
		for _, b := range p.Bins {
			x += b.AmountX
			y += b.AmountY
		}
		return x, y
	}
	x, _ = strconv.ParseUint(p.TotalX, 10, 64)
	y, _ = strconv.ParseUint(p.TotalY, 10, 64)
	return x, y
}

// Normalize folds one or more underlying position accounts into a single
// logical snapshot. The underlying positions are ordered by lower bin; the
// first one's key becomes the canonical identifier, and the combined range
// spans them all.
func Normalize(raws []RawPosition) (domain.PositionSnapshot, error) {
	if len(raws) == 0 {
		return domain.PositionSnapshot{}, domain.Codedf(domain.CodeNotFound, "dlmm.normalize", "no position accounts")
	}

	sorted := make([]RawPosition, len(raws))
	copy(sorted, raws)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LowerBinID < sorted[j].LowerBinID })

	snap := domain.PositionSnapshot{
		Key:    sorted[0].Address,
		Pool:   sorted[0].Pair,
		MinBin: sorted[0].LowerBinID,
		MaxBin: sorted[0].UpperBinID,
	}
	for _, p := range sorted {
		snap.Underlying = append(snap.Underlying, p.Address)
		if p.LowerBinID < snap.MinBin {
			snap.MinBin = p.LowerBinID
		}
		if p.UpperBinID > snap.MaxBin {
			snap.MaxBin = p.UpperBinID
		}
		x, y := p.amounts()
		snap.AmountX += x
		snap.AmountY += y
		snap.FeeX += p.FeePendingX
		snap.FeeY += p.FeePendingY
	}
	return snap, nil
}

// GroupByPair splits raw positions by pool and normalizes each group,
// treating contiguous accounts in the same pool as one logical position.
func GroupByPair(raws []RawPosition) ([]domain.PositionSnapshot, error) {
	byPair := make(map[solana.PublicKey][]RawPosition)
	var order []solana.PublicKey
	for _, p := range raws {
		if _, seen := byPair[p.Pair]; !seen {
			order = append(order, p.Pair)
		}
		byPair[p.Pair] = append(byPair[p.Pair], p)
	}

	snaps := make([]domain.PositionSnapshot, 0, len(order))
	for _, pair := range order {
		snap, err := Normalize(byPair[pair])
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
