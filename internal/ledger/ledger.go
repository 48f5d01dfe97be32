// Package ledger is an in-memory token ledger with a revertible journal. It
// is the host state the execution unit runs against in paper mode and in
// tests: every mutation made after Snapshot can be undone as one unit with
// RevertToSnapshot.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type slot struct {
	token  common.Address
	holder common.Address
}

// change is one journal entry: the value a slot held before it was written.
// A nil prev means the slot did not exist.
type change struct {
	at   slot
	prev *big.Int
}

type revision struct {
	id           int
	journalIndex int
}

// Ledger tracks balances per (token, holder). The zero address token is the
// native coin. It is safe for concurrent use, but the journal is global: a
// revert undoes every write made since the snapshot, whoever made it.
// Writers that must survive a revert serialise with the snapshot holder.
type Ledger struct {
	mu        sync.Mutex
	balances  map[slot]*big.Int
	journal   []change
	revisions []revision
	nextID    int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[slot]*big.Int)}
}

// BalanceOf returns a copy of holder's balance of token.
func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(slot{token, holder})
}

// Mint credits amount of token to holder out of thin air.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: mint: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := slot{token, to}
	l.set(s, new(big.Int).Add(l.get(s), amount))
	return nil
}

// Burn destroys amount of token held by from.
func (l *Ledger) Burn(token, from common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: burn: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s := slot{token, from}
	bal := l.get(s)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: burn %s from %s: %w", amount, from.Hex(), domain.ErrInsufficientFunds)
	}
	l.set(s, bal.Sub(bal, amount))
	return nil
}

// Transfer moves amount of token from one holder to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return fmt.Errorf("ledger: transfer: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := slot{token, from}
	bal := l.get(src)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer %s of %s from %s: %w",
			amount, token.Hex(), from.Hex(), domain.ErrInsufficientFunds)
	}
	if from == to {
		return nil
	}
	l.set(src, bal.Sub(bal, amount))
	dst := slot{token, to}
	l.set(dst, new(big.Int).Add(l.get(dst), amount))
	return nil
}

// Snapshot marks the current state and returns an id for RevertToSnapshot.
// Snapshots nest.
func (l *Ledger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.revisions = append(l.revisions, revision{id: id, journalIndex: len(l.journal)})
	return id
}

// RevertToSnapshot undoes every change made since the snapshot with the
// given id, and invalidates that snapshot and any taken after it.
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.findRevision(id)
	if idx < 0 {
		panic(fmt.Errorf("ledger: revision id %d cannot be reverted", id))
	}
	target := l.revisions[idx].journalIndex
	for i := len(l.journal) - 1; i >= target; i-- {
		c := l.journal[i]
		if c.prev == nil {
			delete(l.balances, c.at)
		} else {
			l.balances[c.at] = c.prev
		}
	}
	l.journal = l.journal[:target]
	l.revisions = l.revisions[:idx]
}

// Release drops the snapshot with the given id without reverting it. Once no
// snapshot is outstanding the journal is discarded.
func (l *Ledger) Release(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := l.findRevision(id)
	if idx < 0 {
		return
	}
	l.revisions = l.revisions[:idx]
	if len(l.revisions) == 0 {
		l.journal = l.journal[:0]
	}
}

func (l *Ledger) findRevision(id int) int {
	for i := len(l.revisions) - 1; i >= 0; i-- {
		if l.revisions[i].id == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) get(s slot) *big.Int {
	if v, ok := l.balances[s]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) set(s slot, v *big.Int) {
	if len(l.revisions) > 0 {
		var prev *big.Int
		if old, ok := l.balances[s]; ok {
			prev = old
		}
		l.journal = append(l.journal, change{at: s, prev: prev})
	}
	l.balances[s] = v
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount %v", amount)
	}
	return nil
}
