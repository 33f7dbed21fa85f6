// Package pools discovers the AMM pairs whose tokens are classified.
package pools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

// Source provides pools to classify.
type Source interface {
	Pools(ctx context.Context) ([]domain.Pool, error)
}

// FileLoader reads a YAML or JSON pool list.
type FileLoader struct {
	path string
}

// NewFileLoader creates a loader for path. Files ending in .json are decoded as JSON, anything else as YAML.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

// Path returns the file the loader reads.
func (l *FileLoader) Path() string {
	return l.path
}

// Pools reads the file.
func (l *FileLoader) Pools(_ context.Context) ([]domain.Pool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, errors.Wrap(err, "read pools file")
	}

	var pools []domain.Pool
	if strings.EqualFold(filepath.Ext(l.path), ".json") {
		err = json.Unmarshal(data, &pools)
	} else {
		err = yaml.Unmarshal(data, &pools)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode pools file %s", l.path)
	}

	for i, p := range pools {
		if p.Address == (common.Address{}) || p.Token0 == (common.Address{}) || p.Token1 == (common.Address{}) {
			return nil, errors.Errorf("pool #%d in %s has an empty address", i, l.path)
		}
	}
	return pools, nil
}

// Filter returns the pools whose both tokens are trusted.
func Filter(pools []domain.Pool, trusted map[common.Address]domain.Token) []domain.Pool {
	var out []domain.Pool
	for _, p := range pools {
		_, ok0 := trusted[p.Token0]
		_, ok1 := trusted[p.Token1]
		if ok0 && ok1 {
			out = append(out, p)
		}
	}
	return out
}
