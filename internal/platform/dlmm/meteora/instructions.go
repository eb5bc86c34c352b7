package meteora

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/solquant/dlmmbot/internal/domain"
	"github.com/solquant/dlmmbot/internal/platform/dlmm"
)

// anchorDiscriminator returns the 8-byte instruction discriminator for an
// Anchor program method.
func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// strategyParameters is the borsh argument block shared by the liquidity
// strategies. Parameters is opaque strategy state; the imbalanced variants
// leave it zeroed.
type strategyParameters struct {
	MinBinID     int32
	MaxBinID     int32
	StrategyType uint8
	Parameters   [64]uint8
}

type liquidityParameterByStrategy struct {
	AmountX              uint64
	AmountY              uint64
	ActiveID             int32
	MaxActiveBinSlippage int32
	Strategy             strategyParameters
}

// The imbalanced strategy variants accept arbitrary X/Y amounts, which is
// what the deposit plan produces after balancing.
func strategyType(s domain.Strategy) (uint8, error) {
	switch s {
	case domain.StrategySpot:
		return 6, nil
	case domain.StrategyCurve:
		return 7, nil
	case domain.StrategyBidAsk:
		return 8, nil
	default:
		return 0, domain.Codedf(domain.CodeValidation, "meteora.strategy", "unknown strategy %q", s)
	}
}

func encodeArgs(name string, args interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(anchorDiscriminator(name))
	if err := bin.NewBorshEncoder(&buf).Encode(args); err != nil {
		return nil, fmt.Errorf("meteora: encode %s args: %w", name, err)
	}
	return buf.Bytes(), nil
}

// accountsForRange resolves the owner token accounts and the bin arrays a
// liquidity mutation over [lower, upper] touches.
type rangeAccounts struct {
	userTokenX    solana.PublicKey
	userTokenY    solana.PublicKey
	binArrayLower solana.PublicKey
	binArrayUpper solana.PublicKey
}

func (c *Client) accountsForRange(owner solana.PublicKey, lower, upper int32) (rangeAccounts, error) {
	userX, _, err := solana.FindAssociatedTokenAddress(owner, c.state.TokenXMint)
	if err != nil {
		return rangeAccounts{}, fmt.Errorf("meteora: derive token x account: %w", err)
	}
	userY, _, err := solana.FindAssociatedTokenAddress(owner, c.state.TokenYMint)
	if err != nil {
		return rangeAccounts{}, fmt.Errorf("meteora: derive token y account: %w", err)
	}
	return rangeAccounts{
		userTokenX:    userX,
		userTokenY:    userY,
		binArrayLower: c.deriveBinArray(binArrayIndex(lower)),
		binArrayUpper: c.deriveBinArray(binArrayIndex(upper)),
	}, nil
}

type initializePositionArgs struct {
	LowerBinID int32
	Width      int32
}

func (c *Client) initializePositionIx(payer, position solana.PublicKey, lowerBin, width int32) (solana.Instruction, error) {
	data, err := encodeArgs("initialize_position", initializePositionArgs{LowerBinID: lowerBin, Width: width})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(position).WRITE().SIGNER(),
		solana.Meta(c.pair),
		solana.Meta(payer).SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
		solana.Meta(eventAuthority()),
		solana.Meta(ProgramID),
	}, data), nil
}

func (c *Client) addLiquidityIx(owner, position solana.PublicKey, params liquidityParameterByStrategy) (solana.Instruction, error) {
	data, err := encodeArgs("add_liquidity_by_strategy", params)
	if err != nil {
		return nil, err
	}
	accs, err := c.accountsForRange(owner, params.Strategy.MinBinID, params.Strategy.MaxBinID)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(position).WRITE(),
		solana.Meta(c.pair).WRITE(),
		solana.Meta(ProgramID), // bitmap extension unused
		solana.Meta(accs.userTokenX).WRITE(),
		solana.Meta(accs.userTokenY).WRITE(),
		solana.Meta(c.state.ReserveX).WRITE(),
		solana.Meta(c.state.ReserveY).WRITE(),
		solana.Meta(c.state.TokenXMint),
		solana.Meta(c.state.TokenYMint),
		solana.Meta(accs.binArrayLower).WRITE(),
		solana.Meta(accs.binArrayUpper).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(eventAuthority()),
		solana.Meta(ProgramID),
	}, data), nil
}

type removeLiquidityByRangeArgs struct {
	FromBinID   int32
	ToBinID     int32
	BpsToRemove uint16
}

func (c *Client) removeLiquidityIx(owner, position solana.PublicKey, lower, upper int32) (solana.Instruction, error) {
	data, err := encodeArgs("remove_liquidity_by_range", removeLiquidityByRangeArgs{
		FromBinID:   lower,
		ToBinID:     upper,
		BpsToRemove: 10_000,
	})
	if err != nil {
		return nil, err
	}
	accs, err := c.accountsForRange(owner, lower, upper)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(position).WRITE(),
		solana.Meta(c.pair).WRITE(),
		solana.Meta(ProgramID), // bitmap extension unused
		solana.Meta(accs.userTokenX).WRITE(),
		solana.Meta(accs.userTokenY).WRITE(),
		solana.Meta(c.state.ReserveX).WRITE(),
		solana.Meta(c.state.ReserveY).WRITE(),
		solana.Meta(c.state.TokenXMint),
		solana.Meta(c.state.TokenYMint),
		solana.Meta(accs.binArrayLower).WRITE(),
		solana.Meta(accs.binArrayUpper).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(eventAuthority()),
		solana.Meta(ProgramID),
	}, data), nil
}

func (c *Client) claimFeeIx(owner, position solana.PublicKey, lower, upper int32) (solana.Instruction, error) {
	data, err := encodeArgs("claim_fee", struct{}{})
	if err != nil {
		return nil, err
	}
	accs, err := c.accountsForRange(owner, lower, upper)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(c.pair).WRITE(),
		solana.Meta(position).WRITE(),
		solana.Meta(accs.binArrayLower).WRITE(),
		solana.Meta(accs.binArrayUpper).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(c.state.ReserveX).WRITE(),
		solana.Meta(c.state.ReserveY).WRITE(),
		solana.Meta(accs.userTokenX).WRITE(),
		solana.Meta(accs.userTokenY).WRITE(),
		solana.Meta(c.state.TokenXMint),
		solana.Meta(c.state.TokenYMint),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(eventAuthority()),
		solana.Meta(ProgramID),
	}, data), nil
}

func (c *Client) closePositionIx(owner, position solana.PublicKey, lower, upper int32) (solana.Instruction, error) {
	data, err := encodeArgs("close_position", struct{}{})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(position).WRITE(),
		solana.Meta(c.pair).WRITE(),
		solana.Meta(c.deriveBinArray(binArrayIndex(lower))).WRITE(),
		solana.Meta(c.deriveBinArray(binArrayIndex(upper))).WRITE(),
		solana.Meta(owner).SIGNER(),
		solana.Meta(owner).WRITE(), // rent receiver
		solana.Meta(eventAuthority()),
		solana.Meta(ProgramID),
	}, data), nil
}

func (c *Client) liquidityParams(plan domain.DepositPlan, amountX, amountY uint64, minBin, maxBin int32) (liquidityParameterByStrategy, error) {
	st, err := strategyType(plan.Strategy)
	if err != nil {
		return liquidityParameterByStrategy{}, err
	}
	slippageBins := int32(plan.SlippageBps / 100)
	if slippageBins < 1 {
		slippageBins = 1
	}
	return liquidityParameterByStrategy{
		AmountX:              amountX,
		AmountY:              amountY,
		ActiveID:             plan.ActiveBin,
		MaxActiveBinSlippage: slippageBins,
		Strategy: strategyParameters{
			MinBinID:     minBin,
			MaxBinID:     maxBin,
			StrategyType: st,
		},
	}, nil
}

// BuildOpen builds a single-transaction open: initialize a fresh position
// account and deposit the full plan into it.
func (c *Client) BuildOpen(ctx context.Context, req dlmm.OpenRequest) (dlmm.TxPlan, solana.PublicKey, error) {
	if req.Plan.BinCount() > c.maxBinsPerTx {
		return dlmm.TxPlan{}, solana.PublicKey{}, domain.Codedf(domain.CodeValidation, "meteora.open",
			"plan spans %d bins, limit is %d per transaction", req.Plan.BinCount(), c.maxBinsPerTx)
	}
	if err := req.Plan.Validate(); err != nil {
		return dlmm.TxPlan{}, solana.PublicKey{}, err
	}

	position := solana.NewWallet().PrivateKey
	positionKey := position.PublicKey()

	initIx, err := c.initializePositionIx(req.Owner, positionKey, req.Plan.MinBin, int32(req.Plan.BinCount()))
	if err != nil {
		return dlmm.TxPlan{}, solana.PublicKey{}, err
	}
	params, err := c.liquidityParams(req.Plan, req.Plan.AmountX, req.Plan.AmountY, req.Plan.MinBin, req.Plan.MaxBin)
	if err != nil {
		return dlmm.TxPlan{}, solana.PublicKey{}, err
	}
	addIx, err := c.addLiquidityIx(req.Owner, positionKey, params)
	if err != nil {
		return dlmm.TxPlan{}, solana.PublicKey{}, err
	}

	return dlmm.TxPlan{
		Label:        "open_position",
		Instructions: []solana.Instruction{initIx, addIx},
		Signers:      []solana.PrivateKey{position},
	}, positionKey, nil
}

// BuildOpenMulti splits a plan wider than the per-transaction bin limit into
// contiguous chunks, one fresh position account per chunk, with deposit
// amounts pro-rated by how many X-side and Y-side bins each chunk covers.
func (c *Client) BuildOpenMulti(ctx context.Context, req dlmm.OpenRequest) ([]dlmm.PositionTxGroup, error) {
	if err := req.Plan.Validate(); err != nil {
		return nil, err
	}

	type chunk struct {
		lower, upper int32
		xBins, yBins int
	}
	var chunks []chunk
	totalX, totalY := 0, 0
	for lo := req.Plan.MinBin; lo <= req.Plan.MaxBin; lo += int32(c.maxBinsPerTx) {
		hi := lo + int32(c.maxBinsPerTx) - 1
		if hi > req.Plan.MaxBin {
			hi = req.Plan.MaxBin
		}
		ck := chunk{lower: lo, upper: hi}
		for b := lo; b <= hi; b++ {
			if b >= req.Plan.ActiveBin {
				ck.xBins++
			}
			if b <= req.Plan.ActiveBin {
				ck.yBins++
			}
		}
		totalX += ck.xBins
		totalY += ck.yBins
		chunks = append(chunks, ck)
	}

	share := func(total uint64, part, whole int) uint64 {
		if whole == 0 {
			return 0
		}
		return total * uint64(part) / uint64(whole)
	}

	groups := make([]dlmm.PositionTxGroup, 0, len(chunks))
	var spentX, spentY uint64
	for i, ck := range chunks {
		amtX := share(req.Plan.AmountX, ck.xBins, totalX)
		amtY := share(req.Plan.AmountY, ck.yBins, totalY)
		if i == len(chunks)-1 {
			// Last chunk absorbs rounding so the full amounts deploy.
			amtX = req.Plan.AmountX - spentX
			amtY = req.Plan.AmountY - spentY
		}
		spentX += amtX
		spentY += amtY

		position := solana.NewWallet().PrivateKey
		positionKey := position.PublicKey()

		initIx, err := c.initializePositionIx(req.Owner, positionKey, ck.lower, ck.upper-ck.lower+1)
		if err != nil {
			return nil, err
		}
		params, err := c.liquidityParams(req.Plan, amtX, amtY, ck.lower, ck.upper)
		if err != nil {
			return nil, err
		}
		addIx, err := c.addLiquidityIx(req.Owner, positionKey, params)
		if err != nil {
			return nil, err
		}

		groups = append(groups, dlmm.PositionTxGroup{
			Position: positionKey,
			Initialize: dlmm.TxPlan{
				Label:        fmt.Sprintf("init_position_%d", i+1),
				Instructions: []solana.Instruction{initIx},
				Signers:      []solana.PrivateKey{position},
			},
			AddLiquidity: []dlmm.TxPlan{{
				Label:        fmt.Sprintf("add_liquidity_%d", i+1),
				Instructions: []solana.Instruction{addIx},
			}},
		})
	}
	return groups, nil
}

// BuildCloseAll builds one transaction per underlying position account:
// withdraw the full bin range, claim pending fees, and close the account to
// reclaim rent. Account ranges are re-read so each close targets the bins the
// account actually covers.
func (c *Client) BuildCloseAll(ctx context.Context, snap domain.PositionSnapshot) ([]dlmm.TxPlan, error) {
	out, err := c.rpc.GetMultipleAccounts(ctx, snap.Underlying...)
	if err != nil {
		return nil, domain.Coded(domain.CodeVenueTransient, "meteora.close", err)
	}

	var plans []dlmm.TxPlan
	for i, acc := range out.Value {
		key := snap.Underlying[i]
		if acc == nil {
			return nil, domain.Codedf(domain.CodeNotFound, "meteora.close", "position account %s not found", key)
		}
		pos, err := decodePosition(key, acc.Data.GetBinary())
		if err != nil {
			return nil, err
		}

		removeIx, err := c.removeLiquidityIx(pos.owner, key, pos.lowerBin, pos.upperBin)
		if err != nil {
			return nil, err
		}
		claimIx, err := c.claimFeeIx(pos.owner, key, pos.lowerBin, pos.upperBin)
		if err != nil {
			return nil, err
		}
		closeIx, err := c.closePositionIx(pos.owner, key, pos.lowerBin, pos.upperBin)
		if err != nil {
			return nil, err
		}

		plans = append(plans, dlmm.TxPlan{
			Label:        fmt.Sprintf("close_position_%d", i+1),
			Instructions: []solana.Instruction{removeIx, claimIx, closeIx},
		})
	}
	return plans, nil
}
