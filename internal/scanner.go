package internal

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tokensieve/config"
	"github.com/vadiminshakov/tokensieve/internal/clients"
	"github.com/vadiminshakov/tokensieve/internal/domain"
	"github.com/vadiminshakov/tokensieve/internal/metrics"
	"github.com/vadiminshakov/tokensieve/internal/services/honeypot"
	"github.com/vadiminshakov/tokensieve/internal/services/locator"
	"github.com/vadiminshakov/tokensieve/internal/services/pools"
	"github.com/vadiminshakov/tokensieve/internal/services/sandbox"
	"github.com/vadiminshakov/tokensieve/internal/storage/verdicts"
	"github.com/vadiminshakov/tokensieve/internal/web"
)

// Scanner classifies the tokens of a pool source and journals the verdicts.
type Scanner struct {
	Config config.Config
	RunID  string

	classifier *honeypot.Classifier
	sessions   *honeypot.ForkSessions
	pools      pools.Source
	pairs      *pools.FactoryLoader
	store      *verdicts.WALStore
	metrics    *metrics.Metrics
	logger     *zap.Logger

	setupOnce sync.Once
	setupErr  error
}

// NewScanner wires a scanner reading chain state from backend.
// Verdicts of earlier runs are loaded from the journal in conf.WALDir.
func NewScanner(ctx context.Context, conf config.Config, backend clients.Backend, logger *zap.Logger) (*Scanner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.New().String()
	logger = logger.With(zap.String("run", runID))

	m := metrics.New()
	sessions, err := honeypot.NewForkSessions(ctx, backend, conf.Block, sandbox.Config{
		Helper:    conf.Helper,
		Sender:    conf.Sender,
		Recipient: conf.Recipient,
		GasLimit:  conf.GasLimit,
	}, logger, locator.WithMaxSlot(conf.MaxSlot), locator.WithOutcomeHook(m.SlotLookup))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fork sessions")
	}

	store, err := verdicts.NewWALStore(conf.WALDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open verdict journal")
	}
	previous, err := store.Verdicts()
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to replay verdict journal")
	}

	refs := make([]honeypot.Reference, 0, len(conf.References))
	for _, r := range conf.References {
		refs = append(refs, honeypot.Reference{Address: r.Address, Amount: r.Amount})
	}
	classifier := honeypot.New(sessions, honeypot.Config{
		References: refs,
		Thresholds: honeypot.Thresholds{
			BuyBps:      conf.BuyTaxBps,
			SellBps:     conf.SellTaxBps,
			TransferBps: conf.TransferTaxBps,
		},
		TransferAmount:            conf.TransferAmount,
		TransferFailureConclusive: conf.TransferFailureConclusive,
		PseudoSell:                conf.PseudoSell,
		Workers:                   conf.Workers,
		TokenTimeout:              conf.TokenTimeout,
		RunID:                     runID,
	},
		honeypot.WithJournal(store),
		honeypot.WithRecorder(m),
		honeypot.WithLogger(logger),
		honeypot.WithVerdicts(previous),
	)

	block := new(big.Int).SetUint64(sessions.Block())
	logger.Info("scanner ready",
		zap.Uint64("block", sessions.Block()),
		zap.Int("references", len(refs)),
		zap.Int("journaled", len(previous)))

	return &Scanner{
		Config:     conf,
		RunID:      runID,
		classifier: classifier,
		sessions:   sessions,
		pools:      newPoolSource(conf.Pools, backend, block, logger),
		pairs:      pools.NewFactoryLoader(backend, conf.Pools, block, logger),
		store:      store,
		metrics:    m,
		logger:     logger,
	}, nil
}

// Initialize prepares the reference tokens. It runs once, later calls return the first result.
func (s *Scanner) Initialize(ctx context.Context) error {
	s.setupOnce.Do(func() {
		s.setupErr = s.classifier.Setup(ctx)
	})
	return s.setupErr
}

// Scan loads the pools and classifies every candidate token.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Verdict, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to initialize classifier")
	}

	list, err := s.pools.Pools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pools")
	}
	s.metrics.PoolsLoaded.Set(float64(len(list)))

	return s.classify(ctx, list)
}

// Token classifies the token traded in the pool at addr. The pool tokens are read from chain.
func (s *Scanner) Token(ctx context.Context, addr common.Address) (domain.Verdict, error) {
	if err := s.Initialize(ctx); err != nil {
		return domain.Verdict{}, errors.Wrap(err, "failed to initialize classifier")
	}

	pool, err := s.pairs.Pair(ctx, addr)
	if err != nil {
		return domain.Verdict{}, errors.Wrapf(err, "failed to read pool %s", addr.Hex())
	}
	return s.classifier.ClassifyPool(ctx, pool)
}

// Tradable returns the pools whose both tokens are references or journaled as safe.
func (s *Scanner) Tradable(list []domain.Pool) ([]domain.Pool, error) {
	trusted, err := s.store.Trusted()
	if err != nil {
		return nil, err
	}
	for _, ref := range s.classifier.References() {
		trusted[ref.Address] = ref
	}
	return pools.Filter(list, trusted), nil
}

// Verdicts returns every verdict known to the scanner.
func (s *Scanner) Verdicts() []domain.Verdict {
	return s.classifier.Verdicts()
}

// Serve runs the web server, scans once and, when pools come from a file,
// scans again whenever the file changes. It blocks until ctx is cancelled.
func (s *Scanner) Serve(ctx context.Context) error {
	server := web.NewServer(s.Config.Web.Listen, s.store, s.metrics.Handler(), s.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.Config.Web.Domain != "" {
			return server.StartWithAutoTLS(gctx, []string{s.Config.Web.Domain}, s.Config.Web.CertDir)
		}
		return server.Start(gctx)
	})
	g.Go(func() error {
		if _, err := s.Scan(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return err
		}

		loader, ok := s.pools.(*pools.FileLoader)
		if !ok {
			<-gctx.Done()
			return nil
		}
		return pools.Watch(gctx, loader, pools.DefaultDebounce, func(list []domain.Pool) {
			s.metrics.PoolsLoaded.Set(float64(len(list)))
			if _, err := s.classify(gctx, list); err != nil && gctx.Err() == nil {
				s.logger.Error("rescan failed", zap.Error(err))
			}
		}, s.logger)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close flushes the verdict journal.
func (s *Scanner) Close() error {
	return s.store.Close()
}

func (s *Scanner) classify(ctx context.Context, list []domain.Pool) ([]domain.Verdict, error) {
	result, err := s.classifier.Classify(ctx, list)
	counts := make(map[domain.Status]int)
	for _, v := range result {
		counts[v.Status]++
	}
	s.logger.Info("scan finished",
		zap.Int("pools", len(list)),
		zap.Int("classified", len(result)),
		zap.Int("safe", counts[domain.StatusSafe]),
		zap.Int("honeypot", counts[domain.StatusHoneypot]),
		zap.Int("inconclusive", counts[domain.StatusInconclusive]),
		zap.Int("cached_reads", s.sessions.Cached()))
	return result, err
}
