package dlmm

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
)

func key(seed byte) solana.PublicKey {
	var b [32]byte
	b[0] = seed
	return solana.PublicKeyFromBytes(b[:])
}

func TestNormalizeSingle(t *testing.T) {
	snap, err := Normalize([]RawPosition{{
		Address:    key(1),
		Pair:       key(9),
		LowerBinID: -10,
		UpperBinID: 9,
		TotalX:     "1500",
		TotalY:     "2500",
		FeePendingX: 3,
		FeePendingY: 7,
	}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if snap.Key != key(1) {
		t.Errorf("key = %s", snap.Key)
	}
	if snap.MinBin != -10 || snap.MaxBin != 9 {
		t.Errorf("range = [%d, %d]", snap.MinBin, snap.MaxBin)
	}
	if snap.AmountX != 1500 || snap.AmountY != 2500 {
		t.Errorf("amounts = %d/%d", snap.AmountX, snap.AmountY)
	}
	if snap.FeeX != 3 || snap.FeeY != 7 {
		t.Errorf("fees = %d/%d", snap.FeeX, snap.FeeY)
	}
	if snap.BinCount() != 20 {
		t.Errorf("bin count = %d", snap.BinCount())
	}
}

func TestNormalizePrefersPerBinAmounts(t *testing.T) {
	snap, err := Normalize([]RawPosition{{
		Address:    key(1),
		LowerBinID: 0,
		UpperBinID: 1,
		TotalX:     "999999", // stale total must be ignored
		Bins: []RawBin{
			{BinID: 0, AmountX: 10, AmountY: 20},
			{BinID: 1, AmountX: 30, AmountY: 0},
		},
	}})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if snap.AmountX != 40 || snap.AmountY != 20 {
		t.Errorf("amounts = %d/%d, want 40/20", snap.AmountX, snap.AmountY)
	}
}

func TestNormalizeMultiPosition(t *testing.T) {
	// Out-of-order accounts: canonical key is the one with the lowest
	// lower bin, and the range spans all underlying accounts.
	snap, err := Normalize([]RawPosition{
		{Address: key(2), Pair: key(9), LowerBinID: 70, UpperBinID: 139, TotalX: "100", TotalY: "0"},
		{Address: key(1), Pair: key(9), LowerBinID: 0, UpperBinID: 69, TotalX: "50", TotalY: "200"},
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if snap.Key != key(1) {
		t.Errorf("canonical key = %s, want first-by-bin", snap.Key)
	}
	if snap.MinBin != 0 || snap.MaxBin != 139 {
		t.Errorf("range = [%d, %d], want [0, 139]", snap.MinBin, snap.MaxBin)
	}
	if snap.AmountX != 150 || snap.AmountY != 200 {
		t.Errorf("amounts = %d/%d", snap.AmountX, snap.AmountY)
	}
	if len(snap.Underlying) != 2 {
		t.Errorf("underlying = %d", len(snap.Underlying))
	}
}

func TestNormalizeEmpty(t *testing.T) {
	_, err := Normalize(nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if code := domain.CodeOf(err); code != domain.CodeNotFound {
		t.Errorf("code = %s, want position_not_found", code)
	}
}
