package config

import (
	"fmt"
	"math/big"

	"github.com/spf13/pflag"
)

// Flags are command line overrides of the YAML config.
type Flags struct {
	Path       string
	RPCURL     string
	Block      uint64
	Workers    int
	PoolsFile  string
	Conclusive bool
}

// Register binds the flags to fs.
func (f *Flags) Register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.Path, "config", "c", "", "path to yaml config")
	fs.StringVar(&f.RPCURL, "rpc-url", "", "JSON-RPC endpoint, overrides rpc_url and RPC_URL")
	fs.Uint64Var(&f.Block, "block", 0, "block to fork at, 0 means latest")
	fs.IntVar(&f.Workers, "workers", 0, "tokens classified concurrently")
	fs.StringVar(&f.PoolsFile, "pools-file", "", "yaml or json pool list used instead of the factories")
	fs.BoolVar(&f.Conclusive, "transfer-failure-conclusive", false, "flag tokens whose plain transfer reverts")
}

// Get loads the config file named by the flags and applies the overrides.
func (f *Flags) Get(fs *pflag.FlagSet) (Config, error) {
	cfg, err := Load(f.Path)
	if err != nil {
		return Config{}, err
	}

	if f.RPCURL != "" {
		cfg.RPCURL = f.RPCURL
	}
	if f.Block > 0 {
		cfg.Block = new(big.Int).SetUint64(f.Block)
	}
	if f.Workers < 0 {
		return Config{}, fmt.Errorf("invalid --workers provided, --workers=%d", f.Workers)
	}
	if f.Workers > 0 {
		cfg.Workers = f.Workers
	}
	if f.PoolsFile != "" {
		cfg.Pools.File = f.PoolsFile
	}
	if fs != nil && fs.Changed("transfer-failure-conclusive") {
		cfg.TransferFailureConclusive = f.Conclusive
	}

	return cfg, nil
}
