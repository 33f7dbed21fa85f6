// Package verdicts journals token verdicts in a write-ahead log.
package verdicts

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/tokensieve/internal/domain"
)

const (
	DefaultDir   = "./wal/verdicts"
	segmentLimit = 1000
	maxSegments  = 100

	verdictKeyPrefix = "verdict_"
)

// Record is a verdict with its WAL index.
type Record struct {
	Index   uint64         `json:"index"`
	Verdict domain.Verdict `json:"verdict"`
}

// WALStore persists verdicts in a WAL. A later verdict of a token supersedes earlier ones.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed verdict store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "verdict_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init verdict WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends v to the WAL.
func (s *WALStore) Save(v domain.Verdict) error {
	if s == nil || s.wal == nil {
		return errors.New("verdict store is not initialized")
	}
	if v.Token.Address == (common.Address{}) {
		return fmt.Errorf("verdict token is required")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal verdict")
	}

	key := verdictKeyPrefix + strings.ToLower(v.Token.Address.Hex())

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// EventsAfter returns all verdicts written after the provided WAL index.
func (s *WALStore) EventsAfter(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("verdict store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil {
			// compacted segment
			continue
		}
		if !strings.HasPrefix(key, verdictKeyPrefix) {
			continue
		}

		var v domain.Verdict
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, errors.Wrapf(err, "decode verdict #%d", idx)
		}
		records = append(records, Record{Index: idx, Verdict: v})
	}

	return records, nil
}

// Verdicts replays the WAL and returns the latest verdict of every token, in order of first appearance.
func (s *WALStore) Verdicts() ([]domain.Verdict, error) {
	records, err := s.EventsAfter(0)
	if err != nil {
		return nil, err
	}

	var (
		order  []common.Address
		latest = make(map[common.Address]domain.Verdict)
	)
	for _, r := range records {
		addr := r.Verdict.Token.Address
		if _, ok := latest[addr]; !ok {
			order = append(order, addr)
		}
		latest[addr] = r.Verdict
	}

	out := make([]domain.Verdict, 0, len(order))
	for _, addr := range order {
		out = append(out, latest[addr])
	}
	return out, nil
}

// Trusted returns the tokens whose latest verdict is safe.
func (s *WALStore) Trusted() (map[common.Address]domain.Token, error) {
	verdicts, err := s.Verdicts()
	if err != nil {
		return nil, err
	}

	trusted := make(map[common.Address]domain.Token)
	for _, v := range verdicts {
		if v.Status == domain.StatusSafe {
			trusted[v.Token.Address] = v.Token
		}
	}
	return trusted, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("verdict store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
