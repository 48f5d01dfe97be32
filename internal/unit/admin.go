package unit

import (
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/venue"
)

// VenueStatus is one entry of the venue registry.
type VenueStatus struct {
	ID     domain.VenueID `json:"id"`
	Active bool           `json:"active"`
}

func (u *Unit) authorize(caller common.Address) error {
	if caller != u.cfg.Owner {
		return fmt.Errorf("unit: %w: caller %s", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// RegisterVenue adds v to the registry as active. IDs are never reused.
func (u *Unit) RegisterVenue(caller common.Address, v venue.Venue) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	id := v.ID()
	u.mu.Lock()
	if _, ok := u.venues[id]; ok {
		u.mu.Unlock()
		return fmt.Errorf("unit: register venue %s: %w", id, domain.ErrAlreadyExists)
	}
	u.venues[id] = &venueEntry{venue: v, active: true}
	u.order = append(u.order, id)
	u.mu.Unlock()

	u.logger.Info("venue added", slog.String("venue", string(id)))
	u.emit(domain.UnitEvent{Kind: domain.EventVenueAdded, Venue: id, Active: true, Timestamp: u.now()})
	return nil
}

// SetVenueActive toggles a registered venue.
func (u *Unit) SetVenueActive(caller common.Address, id domain.VenueID, active bool) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	u.mu.Lock()
	e, ok := u.venues[id]
	if !ok {
		u.mu.Unlock()
		return fmt.Errorf("unit: venue %s: %w", id, domain.ErrNotFound)
	}
	e.active = active
	u.mu.Unlock()

	u.logger.Info("venue status changed", slog.String("venue", string(id)), slog.Bool("active", active))
	u.emit(domain.UnitEvent{Kind: domain.EventVenueStatusChanged, Venue: id, Active: active, Timestamp: u.now()})
	return nil
}

// Venues lists the registry in registration order.
func (u *Unit) Venues() []VenueStatus {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]VenueStatus, 0, len(u.order))
	for _, id := range u.order {
		out = append(out, VenueStatus{ID: id, Active: u.venues[id].active})
	}
	return out
}

// SetPairActive enables or disables (a, b). The policy is symmetric.
func (u *Unit) SetPairActive(caller, a, b common.Address, active bool) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	u.mu.Lock()
	u.pairs[domain.NewPairKey(a, b)] = active
	u.mu.Unlock()
	return nil
}

// PairActive reports the policy for (a, b).
func (u *Unit) PairActive(a, b common.Address) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.pairs[domain.NewPairKey(a, b)]
}

// ActivePairs returns every enabled pair in a stable order.
func (u *Unit) ActivePairs() []domain.PairKey {
	u.mu.RLock()
	out := make([]domain.PairKey, 0, len(u.pairs))
	for k, on := range u.pairs {
		if on {
			out = append(out, k)
		}
	}
	u.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// UpdateParams replaces the execution limits.
func (u *Unit) UpdateParams(caller common.Address, p Params) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	u.mu.Lock()
	u.params = p.clone()
	u.mu.Unlock()
	return nil
}

// Params returns a copy of the current limits.
func (u *Unit) Params() Params {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.params.clone()
}

// SetPaused blocks or unblocks execution.
func (u *Unit) SetPaused(caller common.Address, paused bool) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	u.mu.Lock()
	u.paused = paused
	u.mu.Unlock()
	u.logger.Warn("pause state changed", slog.Bool("paused", paused))
	return nil
}

// Paused reports whether execution is blocked.
func (u *Unit) Paused() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.paused
}

// RescueToken sends amount of token held by the unit to `to`. It waits for
// an in-flight execution to settle first.
func (u *Unit) RescueToken(caller, token, to common.Address, amount *big.Int) error {
	if err := u.authorize(caller); err != nil {
		return err
	}
	u.funds.Lock()
	defer u.funds.Unlock()
	if err := u.ledger.Transfer(token, u.cfg.Address, to, amount); err != nil {
		return fmt.Errorf("unit: rescue %s: %w", token.Hex(), err)
	}
	return nil
}

// RescueNative sends native coin held by the unit to `to`.
func (u *Unit) RescueNative(caller, to common.Address, amount *big.Int) error {
	return u.RescueToken(caller, domain.NativeAsset, to, amount)
}
