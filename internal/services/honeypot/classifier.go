// Package honeypot classifies tokens by simulating transfers and swaps on a forked chain.
package honeypot

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/fork"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
)

const (
	DefaultBuyTaxBps      = 500
	DefaultSellTaxBps     = 1000
	DefaultTransferTaxBps = 1000
	DefaultWorkers        = 4
)

var (
	// ErrNoReferences is returned by Setup when no reference token is usable.
	ErrNoReferences = errors.New("no usable reference tokens")
	// ErrNotCandidate is returned for pools that do not pair a token with exactly one reference.
	ErrNotCandidate = errors.New("pool is not a classification candidate")
	// ErrNotSetup is returned by Classify before Setup succeeded.
	ErrNotSetup = errors.New("classifier is not set up")
)

// Thresholds tax limits in basis points. A tax equal to or above the limit is a honeypot.
type Thresholds struct {
	BuyBps      uint64
	SellBps     uint64
	TransferBps uint64
}

// Reference is a trusted token candidates are traded against.
type Reference struct {
	Address common.Address
	// Amount spent on the buy probe, in whole tokens.
	Amount decimal.Decimal
}

// Config of the classifier.
type Config struct {
	References []Reference
	Thresholds Thresholds
	// TransferAmount sent by the transfer probe, in whole candidate tokens.
	TransferAmount decimal.Decimal
	// TransferFailureConclusive flags tokens whose plain transfer reverts.
	// Otherwise the failure is only recorded.
	TransferFailureConclusive bool
	// PseudoSell cross-checks the sell probe with a direct pool sell.
	PseudoSell bool
	// Workers bounds the number of tokens classified concurrently.
	Workers int
	// TokenTimeout bounds the classification of one token. Zero means no limit.
	TokenTimeout time.Duration
	RunID        string
}

// Journal persists verdicts.
type Journal interface {
	Save(v domain.Verdict) error
}

// Recorder observes classification progress.
type Recorder interface {
	ObserveVerdict(v domain.Verdict)
	ObserveStage(stage domain.Stage, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveVerdict(domain.Verdict)            {}
func (nopRecorder) ObserveStage(domain.Stage, time.Duration) {}

type reference struct {
	token  domain.Token
	slot   domain.BalanceSlot
	amount *big.Int
}

type candidate struct {
	pool  domain.Pool
	token common.Address
	ref   reference
}

// Classifier runs the honeypot pipeline over pools.
type Classifier struct {
	sessions Sessions
	cfg      Config
	journal  Journal
	rec      Recorder
	l        *zap.Logger
	now      func() time.Time

	mu         sync.RWMutex
	references map[common.Address]reference
	verdicts   map[common.Address]domain.Verdict
	group      singleflight.Group
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithJournal persists every verdict to j.
func WithJournal(j Journal) Option {
	return func(c *Classifier) {
		c.journal = j
	}
}

// WithRecorder reports verdicts and stage durations to r.
func WithRecorder(r Recorder) Option {
	return func(c *Classifier) {
		c.rec = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Classifier) {
		c.l = l
	}
}

// WithVerdicts preloads verdicts of earlier runs. Safe and honeypot tokens are not probed again.
func WithVerdicts(verdicts []domain.Verdict) Option {
	return func(c *Classifier) {
		for _, v := range verdicts {
			if v.Decided() {
				c.verdicts[v.Token.Address] = v
			}
		}
	}
}

// New creates a classifier opening a fresh session per token.
func New(sessions Sessions, cfg Config, opts ...Option) *Classifier {
	if cfg.Thresholds.BuyBps == 0 {
		cfg.Thresholds.BuyBps = DefaultBuyTaxBps
	}
	if cfg.Thresholds.SellBps == 0 {
		cfg.Thresholds.SellBps = DefaultSellTaxBps
	}
	if cfg.Thresholds.TransferBps == 0 {
		cfg.Thresholds.TransferBps = DefaultTransferTaxBps
	}
	if cfg.TransferAmount.Sign() <= 0 {
		cfg.TransferAmount = decimal.NewFromInt(1)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	c := &Classifier{
		sessions:   sessions,
		cfg:        cfg,
		rec:        nopRecorder{},
		l:          zap.NewNop(),
		now:        time.Now,
		references: make(map[common.Address]reference),
		verdicts:   make(map[common.Address]domain.Verdict),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Setup reads metadata and balance slots of the reference tokens.
// References without a balance slot cannot be seeded and are skipped.
func (c *Classifier) Setup(ctx context.Context) error {
	s, err := c.sessions.Open(ctx)
	if err != nil {
		return errors.Wrap(err, "open setup session")
	}

	refs := make(map[common.Address]reference, len(c.cfg.References))
	for _, r := range c.cfg.References {
		token, err := s.TokenMetadata(ctx, r.Address)
		if err != nil {
			if !errors.Is(err, sandbox.ErrCallFailed) {
				return errors.Wrapf(err, "read metadata of reference %s", r.Address.Hex())
			}
			c.l.Warn("reference token has no metadata, skipping", zap.Stringer("token", r.Address), zap.Error(err))
			continue
		}

		slot, err := s.Locate(ctx, r.Address, s.Helper())
		if err != nil {
			return errors.Wrapf(err, "locate balance slot of reference %s", r.Address.Hex())
		}
		if !slot.Found {
			c.l.Warn("reference token balance slot not found, skipping", zap.Stringer("token", token))
			continue
		}

		amount := scale(r.Amount, token.Decimals)
		if amount.Sign() <= 0 {
			c.l.Warn("reference amount rounds to zero, skipping",
				zap.Stringer("token", token),
				zap.String("amount", r.Amount.String()))
			continue
		}

		refs[r.Address] = reference{token: token, slot: slot, amount: amount}
		c.l.Info("reference token ready",
			zap.Stringer("token", token),
			zap.Stringer("slot", slot),
			zap.String("amount", amount.String()))
	}
	if len(refs) == 0 {
		return ErrNoReferences
	}

	c.mu.Lock()
	c.references = refs
	c.mu.Unlock()

	return nil
}

// References returns the usable reference tokens.
func (c *Classifier) References() []domain.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Token, 0, len(c.references))
	for _, r := range c.references {
		out = append(out, r.token)
	}
	return out
}

// Verdict returns the latest verdict of token.
func (c *Classifier) Verdict(token common.Address) (domain.Verdict, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.verdicts[token]
	return v, ok
}

// Verdicts returns every verdict known to the classifier.
func (c *Classifier) Verdicts() []domain.Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Verdict, 0, len(c.verdicts))
	for _, v := range c.verdicts {
		out = append(out, v)
	}
	return out
}

// Classify classifies every candidate token of pools and returns the new verdicts in pool order.
// Tokens with a safe or honeypot verdict are skipped. Classification stops at the first
// error that is not attributable to a single token, e.g. cancellation of ctx.
func (c *Classifier) Classify(ctx context.Context, pools []domain.Pool) ([]domain.Verdict, error) {
	candidates, err := c.candidates(pools)
	if err != nil {
		return nil, err
	}
	c.l.Info("classifying tokens", zap.Int("pools", len(pools)), zap.Int("candidates", len(candidates)))

	results := make([]*domain.Verdict, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i, cand := range candidates {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			v, err := c.classify(gctx, cand)
			if err != nil {
				return errors.Wrapf(err, "classify %s", cand.token.Hex())
			}
			results[i] = &v
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	verdicts := make([]domain.Verdict, 0, len(results))
	for _, v := range results {
		if v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts, err
}

// ClassifyPool classifies the token pool pairs with a reference token.
// A token with a safe or honeypot verdict is returned without probing.
func (c *Classifier) ClassifyPool(ctx context.Context, pool domain.Pool) (domain.Verdict, error) {
	cand, ok, err := c.candidate(pool)
	if err != nil {
		return domain.Verdict{}, err
	}
	if !ok {
		return domain.Verdict{}, errors.Wrapf(ErrNotCandidate, "pool %s", pool.Address.Hex())
	}
	return c.classify(ctx, cand)
}

func (c *Classifier) candidates(pools []domain.Pool) ([]candidate, error) {
	seen := make(map[common.Address]bool)
	out := make([]candidate, 0, len(pools))

	for _, pool := range pools {
		cand, ok, err := c.candidate(pool)
		if err != nil {
			return nil, err
		}
		if !ok || seen[cand.token] {
			continue
		}
		seen[cand.token] = true

		if v, ok := c.Verdict(cand.token); ok && v.Decided() {
			c.l.Debug("token already classified", zap.Stringer("token", cand.token), zap.String("status", string(v.Status)))
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

// candidate reports whether exactly one side of pool is a usable reference token.
func (c *Classifier) candidate(pool domain.Pool) (candidate, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.references) == 0 {
		return candidate{}, false, ErrNotSetup
	}

	ref0, ok0 := c.references[pool.Token0]
	ref1, ok1 := c.references[pool.Token1]
	switch {
	case ok0 && !ok1:
		return candidate{pool: pool, token: pool.Token1, ref: ref0}, true, nil
	case ok1 && !ok0:
		return candidate{pool: pool, token: pool.Token0, ref: ref1}, true, nil
	default:
		return candidate{}, false, nil
	}
}

// classify runs at most one classification per token at a time.
func (c *Classifier) classify(ctx context.Context, cand candidate) (domain.Verdict, error) {
	v, err, _ := c.group.Do(cand.token.Hex(), func() (any, error) {
		if v, ok := c.Verdict(cand.token); ok && v.Decided() {
			return v, nil
		}

		v, err := c.run(ctx, cand)
		if err != nil {
			return nil, err
		}
		c.record(v)
		return v, nil
	})
	if err != nil {
		return domain.Verdict{}, err
	}
	return v.(domain.Verdict), nil
}

func (c *Classifier) record(v domain.Verdict) {
	c.mu.Lock()
	c.verdicts[v.Token.Address] = v
	c.mu.Unlock()

	c.rec.ObserveVerdict(v)
	if c.journal != nil {
		if err := c.journal.Save(v); err != nil {
			c.l.Error("failed to save verdict", zap.Stringer("token", v.Token.Address), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.Stringer("token", v.Token),
		zap.Stringer("pool", v.Pool),
		zap.String("status", string(v.Status)),
		zap.Stringer("stage", v.Stage),
	}
	if v.Reason != "" {
		fields = append(fields, zap.String("reason", v.Reason))
	}
	if v.Error != "" {
		fields = append(fields, zap.String("error", v.Error))
	}
	c.l.Info("token classified", fields...)
}

// run classifies one token on a fresh session. Only errors that must abort the whole
// run are returned, everything else ends up in the verdict.
func (c *Classifier) run(ctx context.Context, cand candidate) (domain.Verdict, error) {
	tctx := ctx
	if c.cfg.TokenTimeout > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, c.cfg.TokenTimeout)
		defer cancel()
	}

	s, err := c.sessions.Open(tctx)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Verdict{}, ctx.Err()
		}
		return domain.Verdict{}, errors.Wrap(err, "open session")
	}

	v := domain.NewVerdict(domain.Token{Address: cand.token}, cand.pool.Address, cand.ref.token.Address)
	v.RunID = c.cfg.RunID
	v.Block = c.sessions.Block()

	p := &pipeline{c: c, s: s, cand: cand, v: v}
	p.run(tctx)

	if err := ctx.Err(); err != nil {
		return domain.Verdict{}, err
	}

	v.Complete()
	v.CheckedAt = c.now().UTC()
	return *v, nil
}

// scale converts a whole token amount into base units, rounding down.
func scale(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

func isRemote(err error) bool {
	return errors.Is(err, fork.ErrRemoteFetch) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
