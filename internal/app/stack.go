package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/chain"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/crypto"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/gas"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/orchestrator"
	"github.com/alanyoungcy/flasharb/internal/price"
	"github.com/alanyoungcy/flasharb/internal/relay"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/unit"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// Paper-mode ledger identities.
var (
	paperUnit   = common.HexToAddress("0x00000000000000000000000000000000000f1a51")
	paperOwner  = common.HexToAddress("0x00000000000000000000000000000000000f1a52")
	paperLender = common.HexToAddress("0x00000000000000000000000000000000000f1a53")
)

// stack is the mode-specific half of the controller: where quotes come from
// and how the unit is triggered.
type stack struct {
	quoters []venue.Quoter
	gas     orchestrator.GasSource
	prices  []price.Oracle

	local  orchestrator.Submitter
	public orchestrator.Submitter
	bundle orchestrator.Submitter
	pauser orchestrator.Pauser
	params orchestrator.ParamUpdater
	venues handler.VenueLister

	// premiumBps is the lender's flash-loan premium.
	premiumBps int64

	checks map[string]handler.Check
	dryRun bool
}

// tokenSet resolves the configured tokens by symbol.
func tokenSet(cfg *config.Config) (map[string]domain.Token, []domain.Token) {
	bySymbol := make(map[string]domain.Token, len(cfg.Tokens))
	list := make([]domain.Token, 0, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		tok := domain.Token{
			Address:  common.HexToAddress(t.Address),
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
		}
		bySymbol[t.Symbol] = tok
		list = append(list, tok)
	}
	return bySymbol, list
}

// watchList turns the configured pairs into orchestrator watches.
func watchList(cfg *config.Config, bySymbol map[string]domain.Token) ([]orchestrator.Watch, error) {
	wrapped := common.HexToAddress(cfg.Chain.WrappedNative)
	out := make([]orchestrator.Watch, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		base, ok := bySymbol[p.Base]
		if !ok {
			return nil, fmt.Errorf("app: pair %s/%s: unknown base token", p.Base, p.Quote)
		}
		quote, ok := bySymbol[p.Quote]
		if !ok {
			return nil, fmt.Errorf("app: pair %s/%s: unknown quote token", p.Base, p.Quote)
		}
		if p.UseNative && base.Address != wrapped {
			return nil, fmt.Errorf("app: pair %s/%s: use_native needs the wrapped native token as base", p.Base, p.Quote)
		}
		out = append(out, orchestrator.Watch{
			Pair:      domain.WatchedPair{Base: base, Quote: quote},
			AmountIn:  toUnits(p.AmountIn, base.Decimals),
			UseNative: p.UseNative,
		})
	}
	return out, nil
}

// toUnits converts a whole-token amount to base units, truncating dust.
func toUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

// gweiToWei converts a gwei amount. Zero returns nil.
func gweiToWei(gwei decimal.Decimal) *big.Int {
	if !gwei.IsPositive() {
		return nil
	}
	return toUnits(gwei, 9)
}

func unitParams(cfg *config.Config) unit.Params {
	return unit.Params{
		MinProfitBps:       cfg.Unit.MinProfitBps,
		MaxGasPrice:        gweiToWei(cfg.Unit.MaxGasPriceGwei),
		MinReserveRatioBps: cfg.Unit.MinReserveRatioBps,
		SlippageBps:        cfg.Unit.SlippageBps,
		FreshnessWindow:    cfg.Unit.FreshnessWindow.Duration,
	}
}

// staticPrices keys the configured USD prices by token address.
func staticPrices(cfg *config.Config, bySymbol map[string]domain.Token) *price.Static {
	prices := make(map[common.Address]decimal.Decimal, len(cfg.Price.Static))
	for sym, p := range cfg.Price.Static {
		if tok, ok := bySymbol[sym]; ok {
			prices[tok.Address] = p
		}
	}
	return price.NewStatic(prices)
}

// buildPaper assembles an in-process unit, lending pool and constant-product
// venues seeded from the config.
func (a *App) buildPaper(deps *Dependencies, bySymbol map[string]domain.Token) (*stack, error) {
	cfg := a.cfg
	l := ledger.New()
	lender := unit.NewLendingPool(paperLender, l, cfg.Paper.LenderPremiumBps)

	beneficiary := paperOwner
	if cfg.Unit.Beneficiary != "" {
		beneficiary = common.HexToAddress(cfg.Unit.Beneficiary)
	}
	u, err := unit.New(unit.Config{
		Address:       paperUnit,
		Owner:         paperOwner,
		Beneficiary:   beneficiary,
		WrappedNative: common.HexToAddress(cfg.Chain.WrappedNative),
		Params:        unitParams(cfg),
	}, l, lender, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: paper unit: %w", err)
	}
	u.AddSink(orchestrator.NewEventRelay(deps.SignalBus, a.logger))

	venues := make(map[string]*venue.ConstantProduct, len(cfg.Venues))
	var quoters []venue.Quoter
	for _, vc := range cfg.Venues {
		if vc.Kind != "paper" {
			continue
		}
		v := venue.NewConstantProduct(domain.VenueID(vc.ID), l, vc.FeeBps)
		if err := u.RegisterVenue(paperOwner, v); err != nil {
			return nil, err
		}
		venues[vc.ID] = v
		quoters = append(quoters, v)
	}

	for _, pc := range cfg.Paper.Pools {
		v, ok := venues[pc.Venue]
		if !ok {
			return nil, fmt.Errorf("app: paper pool on unknown venue %q", pc.Venue)
		}
		ta, tb := bySymbol[pc.TokenA], bySymbol[pc.TokenB]
		if err := v.Seed(ta.Address, tb.Address, toUnits(pc.ReserveA, ta.Decimals), toUnits(pc.ReserveB, tb.Decimals)); err != nil {
			return nil, fmt.Errorf("app: seed %s %s/%s: %w", pc.Venue, pc.TokenA, pc.TokenB, err)
		}
	}

	for _, p := range cfg.Pairs {
		base, quote := bySymbol[p.Base], bySymbol[p.Quote]
		if err := u.SetPairActive(paperOwner, base.Address, quote.Address, true); err != nil {
			return nil, err
		}
		if err := l.Mint(base.Address, lender.Address(), toUnits(cfg.Paper.LenderLiquidity, base.Decimals)); err != nil {
			return nil, fmt.Errorf("app: fund lender: %w", err)
		}
		if p.UseNative {
			// The native entry point attaches the loan size as value.
			if err := l.Mint(domain.NativeAsset, paperOwner, toUnits(p.AmountIn, base.Decimals)); err != nil {
				return nil, fmt.Errorf("app: fund owner: %w", err)
			}
		}
	}

	fee := gweiToWei(cfg.Paper.GasPriceGwei)
	if fee == nil {
		fee = new(big.Int)
	}
	return &stack{
		quoters: quoters,
		gas:     gas.NewFixed(fee),
		prices:  []price.Oracle{staticPrices(cfg, bySymbol)},
		local:   orchestrator.NewLocalSubmitter(u),
		pauser:  orchestrator.NewUnitPauser(u),
		params:  orchestrator.NewUnitParamUpdater(u),
		venues:  u,

		premiumBps: cfg.Paper.LenderPremiumBps,
		dryRun:     cfg.Execution.DryRun,
	}, nil
}

// buildChain dials the RPC endpoint and assembles the remote venues. With
// trade set it also loads the controller key and builds the public and
// bundle submitters; without it the stack only detects.
func (a *App) buildChain(ctx context.Context, deps *Dependencies, bySymbol map[string]domain.Token, trade bool) (*stack, func(), error) {
	cfg := a.cfg
	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("app: dial rpc: %w", err)
	}
	closeClient := client.Close

	chainID, err := client.ChainID(ctx)
	if err != nil {
		closeClient()
		return nil, nil, fmt.Errorf("app: chain id: %w", err)
	}
	if chainID.Int64() != cfg.Chain.ChainID {
		closeClient()
		return nil, nil, fmt.Errorf("app: rpc serves chain %s, config expects %d", chainID, cfg.Chain.ChainID)
	}

	var quoters []venue.Quoter
	for _, vc := range cfg.Venues {
		id := domain.VenueID(vc.ID)
		switch vc.Kind {
		case "v2":
			quoters = append(quoters, venue.NewRouterV2(id,
				common.HexToAddress(vc.Router), common.HexToAddress(vc.Factory), client))
		case "v3":
			quoters = append(quoters, venue.NewConcentrated(id,
				common.HexToAddress(vc.Quoter), common.HexToAddress(vc.Factory), vc.FeeTiers, client))
		}
	}

	feeds := make(map[common.Address]common.Address, len(cfg.Price.ChainlinkFeeds))
	for sym, feed := range cfg.Price.ChainlinkFeeds {
		if tok, ok := bySymbol[sym]; ok {
			feeds[tok.Address] = common.HexToAddress(feed)
		}
	}
	prices := []price.Oracle{staticPrices(cfg, bySymbol)}
	if len(feeds) > 0 {
		prices = append([]price.Oracle{price.NewChainlink(client, feeds, cfg.Price.MaxAge.Duration)}, prices...)
	}

	oracle := gas.NewOracle(client, a.logger)
	st := &stack{
		quoters: quoters,
		gas:     oracle,
		prices:  prices,
		checks: map[string]handler.Check{
			"rpc": func(ctx context.Context) error {
				_, err := client.BlockNumber(ctx)
				return err
			},
		},
		premiumBps: cfg.Unit.LenderPremiumBps,
		dryRun:     !trade || cfg.Execution.DryRun,
	}
	if !trade {
		return st, closeClient, nil
	}

	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		closeClient()
		return nil, nil, fmt.Errorf("app: load controller key: %w", err)
	}
	signer := crypto.NewSigner(key, chainID)
	a.logger.InfoContext(ctx, "controller key loaded", slog.String("address", signer.Address().Hex()))

	public := chain.NewSubmitter(client, signer, oracle, chain.Config{
		Unit:               common.HexToAddress(cfg.Unit.Address),
		GasLimit:           cfg.Chain.GasLimit,
		PriorityMultiplier: cfg.Chain.PriorityMultiplier,
		ReceiptTimeout:     cfg.Chain.ReceiptTimeout.Duration,
		PollInterval:       cfg.Chain.PollInterval.Duration,
	}, a.logger)
	st.public = public

	if len(cfg.Relay.URLs) > 0 {
		relays := make([]*relay.Client, 0, len(cfg.Relay.URLs))
		for _, url := range cfg.Relay.URLs {
			relays = append(relays, relay.NewClient(url, signer, deps.RateLimiter, a.logger))
		}
		st.bundle = relay.NewSubmitter(relays, client, public, relay.SubmitterConfig{
			Targets:      cfg.Relay.Targets,
			BlockTime:    cfg.Chain.BlockTime.Duration,
			PollInterval: cfg.Relay.PollInterval.Duration,
		}, a.logger)
	}
	return st, closeClient, nil
}
