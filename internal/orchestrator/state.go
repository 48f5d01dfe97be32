package orchestrator

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Watch is one pair the orchestrator scans, with the loan size to try.
type Watch struct {
	Pair     domain.WatchedPair
	AmountIn *big.Int
	// UseNative triggers the unit through its native-asset entry point. Only
	// valid when Pair.Base is the wrapped native token.
	UseNative bool
}

// State is everything the loop carries between ticks. The server reads it
// concurrently, so every accessor locks.
type State struct {
	mu          sync.RWMutex
	watches     []Watch
	tokens      map[common.Address]domain.Token
	lastChecked map[domain.PairKey]time.Time
	unhealthy   map[domain.PairKey]string
	gas         domain.GasQuote
	lastScan    time.Time
	running     bool
	paused      bool
}

// NewState seeds the state with the configured watches and known tokens.
func NewState(watches []Watch, tokens []domain.Token) *State {
	s := &State{
		watches:     append([]Watch(nil), watches...),
		tokens:      make(map[common.Address]domain.Token),
		lastChecked: make(map[domain.PairKey]time.Time),
		unhealthy:   make(map[domain.PairKey]string),
	}
	for _, w := range watches {
		s.tokens[w.Pair.Base.Address] = w.Pair.Base
		s.tokens[w.Pair.Quote.Address] = w.Pair.Quote
	}
	for _, t := range tokens {
		s.tokens[t.Address] = t
	}
	return s
}

// Watches returns a copy of the watched pairs.
func (s *State) Watches() []Watch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Watch(nil), s.watches...)
}

// Tokens returns every known token ordered by address.
func (s *State) Tokens() []domain.Token {
	s.mu.RLock()
	out := make([]domain.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Cmp(out[j].Address) < 0 })
	return out
}

// AddTokens merges tokens into the set and returns the ones that were new.
func (s *State) AddTokens(tokens []domain.Token) []domain.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []domain.Token
	for _, t := range tokens {
		if _, ok := s.tokens[t.Address]; ok {
			continue
		}
		s.tokens[t.Address] = t
		added = append(added, t)
	}
	return added
}

// Intermediates returns candidate middle tokens for 3-hop routes: every
// known token, ordered by address. The enumerator skips the pair's own
// tokens and applies its cap.
func (s *State) Intermediates() []common.Address {
	toks := s.Tokens()
	out := make([]common.Address, len(toks))
	for i, t := range toks {
		out[i] = t.Address
	}
	return out
}

func (s *State) MarkChecked(k domain.PairKey, at time.Time) {
	s.mu.Lock()
	s.lastChecked[k] = at
	s.mu.Unlock()
}

func (s *State) LastChecked(k domain.PairKey) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastChecked[k]
	return t, ok
}

// SetHealth records the liquidity verdict for a pair. An empty reason means
// healthy.
func (s *State) SetHealth(k domain.PairKey, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reason == "" {
		delete(s.unhealthy, k)
		return
	}
	s.unhealthy[k] = reason
}

func (s *State) Healthy(k domain.PairKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, bad := s.unhealthy[k]
	return !bad
}

func (s *State) SetGas(q domain.GasQuote) {
	s.mu.Lock()
	s.gas = q
	s.mu.Unlock()
}

func (s *State) Gas() domain.GasQuote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gas
}

func (s *State) setRunning(v bool) {
	s.mu.Lock()
	s.running = v
	s.mu.Unlock()
}

func (s *State) SetPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *State) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *State) markScan(at time.Time) {
	s.mu.Lock()
	s.lastScan = at
	s.mu.Unlock()
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	Running   bool              `json:"running"`
	Paused    bool              `json:"paused"`
	Pairs     []string          `json:"pairs"`
	Tokens    int               `json:"tokens"`
	Gas       domain.GasQuote   `json:"gas"`
	LastScan  time.Time         `json:"last_scan"`
	Unhealthy map[string]string `json:"unhealthy,omitempty"`
}

// Snapshot copies the state for reporting.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Running:  s.running,
		Paused:   s.paused,
		Tokens:   len(s.tokens),
		Gas:      s.gas,
		LastScan: s.lastScan,
	}
	for _, w := range s.watches {
		snap.Pairs = append(snap.Pairs, w.Pair.Label())
	}
	if len(s.unhealthy) > 0 {
		snap.Unhealthy = make(map[string]string, len(s.unhealthy))
		for k, why := range s.unhealthy {
			snap.Unhealthy[k.String()] = why
		}
	}
	return snap
}
