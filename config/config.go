// Package config loads the scanner configuration from YAML, the environment and CLI flags.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Mainnet defaults.
var (
	WETH             = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	UniswapV2Factory = common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	SushiswapFactory = common.HexToAddress("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac")
	UniswapV2Router  = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	DefaultSender    = common.HexToAddress("0x001a06BF8cE4afdb3f5618f6bafe35e9Fc09F187")
	DefaultRecipient = common.HexToAddress("0x4E17607Fb72C01C280d7b5c41Ba9A2109D74a32C")
)

// GMX v2 on Arbitrum.
var (
	GMXDataStore      = common.HexToAddress("0xFD70de6b91282D8017aA4E741e9Ae325CAb992d8")
	GMXExchangeRouter = common.HexToAddress("0x7C68C7866A64FA2160F78EEaE12217FFbf871fa8")
	GMXOrderVault     = common.HexToAddress("0x31eF83a530Fde1B38EE9A18093A333D8Bbbc40D5")
	GMXReader         = common.HexToAddress("0xf60becbba223EEA9495Da3f606753867eC10d139")
	ArbitrumWETH      = common.HexToAddress("0x82aF49447D8a07e3bd95BD0d56f35241523fBab1")
	GMXWETHMarket     = common.HexToAddress("0x70d95587d40A2caf56bd97485aB3Eec10Bee6336")
)

const (
	DefaultTickersURL     = "https://arbitrum-api.gmxinfra.io/prices/tickers"
	DefaultHyperliquidURL = "https://api.hyperliquid.xyz"
	defaultWALDir         = "./wal"
	defaultListen         = ":8080"
	defaultCertDir        = "./certs"
	defaultMaxSlot        = 200
	defaultWorkers        = 4
	defaultPoolWorkers    = 8
	defaultMaxPerFactory  = 500
	defaultRPS            = 25
	defaultGasLimit       = 5_000_000
	defaultBuyBps         = 500
	defaultSellBps        = 1000
	defaultTransferBps    = 1000
	defaultSlippageBps    = 30
	defaultTokenTimeout   = 2 * time.Minute
)

// Reference is a trusted token candidates are traded against.
type Reference struct {
	Address common.Address
	Amount  decimal.Decimal
}

// Factory is a Uniswap V2 style pair factory.
type Factory struct {
	Name    string
	Address common.Address
}

// Pools configures where pools come from.
type Pools struct {
	File          string
	Factories     []Factory
	MaxPerFactory int
	Workers       int
}

// Web configures the HTTP server.
type Web struct {
	Listen string
	// Domain enables automatic TLS for the given host.
	Domain  string
	CertDir string
}

// GMX configures the perpetuals order builder.
type GMX struct {
	RPCURL         string
	TickersURL     string
	// HyperliquidURL is the Info API queried when the tickers and the exchanges fail.
	HyperliquidURL string
	ExchangeRouter common.Address
	OrderVault     common.Address
	Reader         common.Address
	DataStore      common.Address
	WETH           common.Address
	// Markets maps a collateral token to the market it is swapped through.
	Markets     map[common.Address]common.Address
	SlippageBps uint64
}

// Config of a scanner run.
type Config struct {
	RPCURL string
	// Block pins every fork. Nil means the latest block at start.
	Block             *big.Int
	RequestsPerSecond float64

	References                []Reference
	BuyTaxBps                 uint64
	SellTaxBps                uint64
	TransferTaxBps            uint64
	TransferAmount            decimal.Decimal
	TransferFailureConclusive bool
	PseudoSell                bool
	Workers                   int
	TokenTimeout              time.Duration
	MaxSlot                   uint64

	Sender    common.Address
	Recipient common.Address
	Helper    common.Address
	GasLimit  uint64

	Pools  Pools
	WALDir string
	Web    Web
	GMX    GMX
}

type ReferenceTmp struct {
	Address string `yaml:"address" validate:"required,eth_addr"`
	Amount  string `yaml:"amount,omitempty" validate:"omitempty,numeric"`
}

type FactoryTmp struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address" validate:"required,eth_addr"`
}

type PoolsTmp struct {
	File             string       `yaml:"file,omitempty"`
	Factories        []FactoryTmp `yaml:"factories,omitempty" validate:"dive"`
	MaxPerFactoryStr string       `yaml:"max_per_factory,omitempty" validate:"omitempty,number"`
	WorkersStr       string       `yaml:"workers,omitempty" validate:"omitempty,number"`
}

type WebTmp struct {
	Listen  string `yaml:"listen,omitempty"`
	Domain  string `yaml:"domain,omitempty" validate:"omitempty,fqdn"`
	CertDir string `yaml:"cert_dir,omitempty"`
}

type GMXTmp struct {
	RPCURL         string            `yaml:"rpc_url,omitempty" validate:"omitempty,url"`
	TickersURL     string            `yaml:"tickers_url,omitempty" validate:"omitempty,url"`
	HyperliquidURL string            `yaml:"hyperliquid_url,omitempty" validate:"omitempty,url"`
	ExchangeRouter string            `yaml:"exchange_router,omitempty" validate:"omitempty,eth_addr"`
	OrderVault     string            `yaml:"order_vault,omitempty" validate:"omitempty,eth_addr"`
	Reader         string            `yaml:"reader,omitempty" validate:"omitempty,eth_addr"`
	DataStore      string            `yaml:"data_store,omitempty" validate:"omitempty,eth_addr"`
	WETH           string            `yaml:"weth,omitempty" validate:"omitempty,eth_addr"`
	Markets        map[string]string `yaml:"markets,omitempty" validate:"dive,keys,eth_addr,endkeys,eth_addr"`
	SlippageBpsStr string            `yaml:"slippage_bps,omitempty" validate:"omitempty,number"`
}

// ConfigTmp is the YAML form of Config.
type ConfigTmp struct {
	RPCURL                    string         `yaml:"rpc_url,omitempty" validate:"omitempty,url"`
	BlockStr                  string         `yaml:"block,omitempty" validate:"omitempty,number"`
	RequestsPerSecondStr      string         `yaml:"rpc_requests_per_second,omitempty" validate:"omitempty,numeric"`
	References                []ReferenceTmp `yaml:"references,omitempty" validate:"dive"`
	BuyTaxBpsStr              string         `yaml:"buy_tax_bps,omitempty" validate:"omitempty,number"`
	SellTaxBpsStr             string         `yaml:"sell_tax_bps,omitempty" validate:"omitempty,number"`
	TransferTaxBpsStr         string         `yaml:"transfer_tax_bps,omitempty" validate:"omitempty,number"`
	TransferAmountStr         string         `yaml:"transfer_amount,omitempty" validate:"omitempty,numeric"`
	TransferFailureConclusive bool           `yaml:"transfer_failure_conclusive"`
	PseudoSell                *bool          `yaml:"pseudo_sell,omitempty"`
	WorkersStr                string         `yaml:"workers,omitempty" validate:"omitempty,number"`
	TokenTimeout              time.Duration  `yaml:"token_timeout,omitempty"`
	MaxSlotStr                string         `yaml:"max_slot,omitempty" validate:"omitempty,number"`
	Sender                    string         `yaml:"sender,omitempty" validate:"omitempty,eth_addr"`
	Recipient                 string         `yaml:"recipient,omitempty" validate:"omitempty,eth_addr"`
	Helper                    string         `yaml:"helper,omitempty" validate:"omitempty,eth_addr"`
	GasLimitStr               string         `yaml:"gas_limit,omitempty" validate:"omitempty,number"`
	Pools                     PoolsTmp       `yaml:"pools,omitempty"`
	WALDir                    string         `yaml:"wal_dir,omitempty"`
	Web                       WebTmp         `yaml:"web,omitempty"`
	GMX                       GMXTmp         `yaml:"gmx,omitempty"`
}

var validate = validator.New()

// Load reads the YAML config at path. An empty path yields the defaults.
// Variables from a .env file in the working directory are loaded first and
// RPC_URL and GMX_RPC_URL override the file.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	var tmp ConfigTmp
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
		}
	}

	if url := os.Getenv("RPC_URL"); url != "" {
		tmp.RPCURL = url
	}
	if url := os.Getenv("GMX_RPC_URL"); url != "" {
		tmp.GMX.RPCURL = url
	}

	return Parse(tmp)
}

// Parse converts the YAML form into a Config, applying defaults.
func Parse(c ConfigTmp) (Config, error) {
	if err := validate.Struct(c); err != nil {
		return Config{}, fmt.Errorf("invalid yaml config: %w", err)
	}

	cfg := Config{
		RPCURL:                    c.RPCURL,
		TransferFailureConclusive: c.TransferFailureConclusive,
		PseudoSell:                true,
		TokenTimeout:              defaultTokenTimeout,
		Sender:                    addressOr(c.Sender, DefaultSender),
		Recipient:                 addressOr(c.Recipient, DefaultRecipient),
		Helper:                    addressOr(c.Helper, common.Address{}),
		WALDir:                    stringOr(c.WALDir, defaultWALDir),
		Web: Web{
			Listen:  stringOr(c.Web.Listen, defaultListen),
			Domain:  c.Web.Domain,
			CertDir: stringOr(c.Web.CertDir, defaultCertDir),
		},
	}
	if c.PseudoSell != nil {
		cfg.PseudoSell = *c.PseudoSell
	}
	if c.TokenTimeout != 0 {
		cfg.TokenTimeout = c.TokenTimeout
	}

	var err error
	if c.BlockStr != "" {
		block, ok := new(big.Int).SetString(c.BlockStr, 10)
		if !ok || block.Sign() <= 0 {
			return Config{}, fmt.Errorf("incorrect 'block' param in yaml config (must be a positive integer): %s", c.BlockStr)
		}
		cfg.Block = block
	}
	if cfg.RequestsPerSecond, err = parseFloat("rpc_requests_per_second", c.RequestsPerSecondStr, defaultRPS); err != nil {
		return Config{}, err
	}
	if cfg.BuyTaxBps, err = parseBps("buy_tax_bps", c.BuyTaxBpsStr, defaultBuyBps); err != nil {
		return Config{}, err
	}
	if cfg.SellTaxBps, err = parseBps("sell_tax_bps", c.SellTaxBpsStr, defaultSellBps); err != nil {
		return Config{}, err
	}
	if cfg.TransferTaxBps, err = parseBps("transfer_tax_bps", c.TransferTaxBpsStr, defaultTransferBps); err != nil {
		return Config{}, err
	}
	if cfg.TransferAmount, err = parseAmount("transfer_amount", c.TransferAmountStr, decimal.NewFromInt(1)); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = parseInt("workers", c.WorkersStr, defaultWorkers); err != nil {
		return Config{}, err
	}
	maxSlot, err := parseInt("max_slot", c.MaxSlotStr, defaultMaxSlot)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSlot = uint64(maxSlot)
	gasLimit, err := parseInt("gas_limit", c.GasLimitStr, defaultGasLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.GasLimit = uint64(gasLimit)

	if cfg.References, err = parseReferences(c.References); err != nil {
		return Config{}, err
	}
	if cfg.Pools, err = parsePools(c.Pools); err != nil {
		return Config{}, err
	}
	if cfg.GMX, err = parseGMX(c.GMX); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the fields a scan cannot run without.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is not set: use 'rpc_url' in yaml config or the RPC_URL env variable")
	}
	if len(c.References) == 0 {
		return fmt.Errorf("no reference tokens configured")
	}
	return nil
}

func parseReferences(refs []ReferenceTmp) ([]Reference, error) {
	if len(refs) == 0 {
		return []Reference{{Address: WETH, Amount: decimal.RequireFromString("0.1")}}, nil
	}

	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		amount, err := parseAmount("references.amount", r.Amount, decimal.NewFromInt(1))
		if err != nil {
			return nil, err
		}
		out = append(out, Reference{Address: common.HexToAddress(r.Address), Amount: amount})
	}
	return out, nil
}

func parsePools(p PoolsTmp) (Pools, error) {
	pools := Pools{File: p.File}

	if len(p.Factories) == 0 {
		pools.Factories = []Factory{
			{Name: "uniswap_v2", Address: UniswapV2Factory},
			{Name: "sushiswap", Address: SushiswapFactory},
		}
	}
	for _, f := range p.Factories {
		name := f.Name
		if name == "" {
			name = strings.ToLower(f.Address)
		}
		pools.Factories = append(pools.Factories, Factory{Name: name, Address: common.HexToAddress(f.Address)})
	}

	var err error
	if pools.MaxPerFactory, err = parseInt("pools.max_per_factory", p.MaxPerFactoryStr, defaultMaxPerFactory); err != nil {
		return Pools{}, err
	}
	if pools.Workers, err = parseInt("pools.workers", p.WorkersStr, defaultPoolWorkers); err != nil {
		return Pools{}, err
	}
	return pools, nil
}

func parseGMX(g GMXTmp) (GMX, error) {
	gmx := GMX{
		RPCURL:         g.RPCURL,
		TickersURL:     stringOr(g.TickersURL, DefaultTickersURL),
		HyperliquidURL: stringOr(g.HyperliquidURL, DefaultHyperliquidURL),
		ExchangeRouter: addressOr(g.ExchangeRouter, GMXExchangeRouter),
		OrderVault:     addressOr(g.OrderVault, GMXOrderVault),
		Reader:         addressOr(g.Reader, GMXReader),
		DataStore:      addressOr(g.DataStore, GMXDataStore),
		WETH:           addressOr(g.WETH, ArbitrumWETH),
		Markets:        map[common.Address]common.Address{ArbitrumWETH: GMXWETHMarket},
	}
	if len(g.Markets) > 0 {
		gmx.Markets = make(map[common.Address]common.Address, len(g.Markets))
		for collateral, market := range g.Markets {
			gmx.Markets[common.HexToAddress(collateral)] = common.HexToAddress(market)
		}
	}

	var err error
	if gmx.SlippageBps, err = parseBps("gmx.slippage_bps", g.SlippageBpsStr, defaultSlippageBps); err != nil {
		return GMX{}, err
	}
	return gmx, nil
}

func parseInt(key, s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (must be a positive integer): %s", key, s)
	}
	return v, nil
}

func parseFloat(key, s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (must be a positive number): %s", key, s)
	}
	return v, nil
}

func parseBps(key, s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 || v > 10_000 {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (must be between 1 and 10000): %s", key, s)
	}
	return v, nil
}

func parseAmount(key, s string, def decimal.Decimal) (decimal.Decimal, error) {
	if s == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal), error: %w", key, err)
	}
	if !v.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("incorrect '%s' param in yaml config (must be positive): %s", key, s)
	}
	return v, nil
}

func addressOr(s string, def common.Address) common.Address {
	if s == "" {
		return def
	}
	return common.HexToAddress(s)
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
