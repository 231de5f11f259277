// Package channel keeps track of which third-party endpoints each
// first-party endpoint has exchanged authorization with.
//
// Links are stored as one set per first party, so every change is a
// read-modify-write of that set. All of them run on the serial executor.
package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/gatewaykit/internal/logging"
	"github.com/dmitrijs2005/gatewaykit/internal/persistence"
	"github.com/dmitrijs2005/gatewaykit/internal/pki"
	"github.com/dmitrijs2005/gatewaykit/internal/serial"
)

// Prefix is the persistence namespace of channel link sets.
const Prefix = "channel_"

// Manager maintains channel links.
type Manager struct {
	links  *persistence.Module[[]string]
	exec   *serial.Executor
	logger logging.Logger
}

func NewManager(store persistence.Store, exec *serial.Executor, logger logging.Logger) *Manager {
	return &Manager{
		links:  persistence.NewModule(store, Prefix, persistence.CBOR[[]string]()),
		exec:   exec,
		logger: logger.With("module", "channel"),
	}
}

// On returns a view of m that reads and writes through store, typically a
// transaction opened with persistence.Atomic.
func (m *Manager) On(store persistence.Store) *Manager {
	return &Manager{links: m.links.On(store), exec: m.exec, logger: m.logger}
}

// Create links thirdPartyID to firstPartyID. Linking an existing member is
// a no-op. A malformed stored set is reported and left untouched.
func (m *Manager) Create(ctx context.Context, firstPartyID, thirdPartyID string) error {
	return m.exec.Do(ctx, func(ctx context.Context) error {
		set, _, err := m.links.Get(ctx, firstPartyID)
		if err != nil {
			return fmt.Errorf("failed to read channel set of %s: %w", firstPartyID, err)
		}
		if slices.Contains(set, thirdPartyID) {
			return nil
		}
		set = append(set, thirdPartyID)
		slices.Sort(set)
		return m.links.Set(ctx, firstPartyID, set)
	})
}

// CreateForKey is Create for a third party known by its identity public key
// (PKIX DER).
func (m *Manager) CreateForKey(ctx context.Context, firstPartyID string, publicKeyDER []byte) error {
	if _, err := pki.ParsePublicKey(publicKeyDER); err != nil {
		return err
	}
	return m.Create(ctx, firstPartyID, pki.NodeIDFromDER(publicKeyDER))
}

// Delete removes every link of firstPartyID. Absent sets are fine.
func (m *Manager) Delete(ctx context.Context, firstPartyID string) error {
	return m.exec.Do(ctx, func(ctx context.Context) error {
		return persistence.IgnoreNotFound(m.links.Delete(ctx, firstPartyID))
	})
}

// DeleteLink removes one link. A malformed stored set is left untouched and
// is not an error.
func (m *Manager) DeleteLink(ctx context.Context, firstPartyID, thirdPartyID string) error {
	return m.exec.Do(ctx, func(ctx context.Context) error {
		return m.removeMember(ctx, firstPartyID, thirdPartyID)
	})
}

// DeleteThirdParty removes thirdPartyID from every first party's set,
// skipping malformed sets.
func (m *Manager) DeleteThirdParty(ctx context.Context, thirdPartyID string) error {
	return m.exec.Do(ctx, func(ctx context.Context) error {
		firstParties, err := m.links.List(ctx)
		if err != nil {
			return err
		}
		for _, fp := range firstParties {
			if err := m.removeMember(ctx, fp, thirdPartyID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *Manager) removeMember(ctx context.Context, firstPartyID, thirdPartyID string) error {
	set, ok, err := m.links.Get(ctx, firstPartyID)
	if errors.Is(err, persistence.ErrMalformedValue) {
		m.logger.Warn(ctx, "skipping malformed channel set", "first_party_id", firstPartyID, "error", err)
		return nil
	}
	if err != nil || !ok {
		return err
	}
	i := slices.Index(set, thirdPartyID)
	if i < 0 {
		return nil
	}
	set = slices.Delete(set, i, i+1)
	if len(set) == 0 {
		return persistence.IgnoreNotFound(m.links.Delete(ctx, firstPartyID))
	}
	return m.links.Set(ctx, firstPartyID, set)
}

// LinkedEndpointAddresses returns the ids linked to firstPartyID; never nil.
// A malformed set reads as empty.
func (m *Manager) LinkedEndpointAddresses(ctx context.Context, firstPartyID string) ([]string, error) {
	set, _, err := m.links.Get(ctx, firstPartyID)
	if errors.Is(err, persistence.ErrMalformedValue) {
		m.logger.Warn(ctx, "ignoring malformed channel set", "first_party_id", firstPartyID, "error", err)
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if set == nil {
		return []string{}, nil
	}
	return set, nil
}
