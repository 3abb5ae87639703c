package coordinator

import (
	"context"
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/store"
)

// advancePreparing calls PrepareMultisig for every role that has not yet
// completed it, persisting each result as it lands so a crash mid-phase
// resumes without re-issuing RPCs for roles already done.
func (c *Coordinator) advancePreparing(ctx context.Context, escrowID string, snap *store.Snapshot) error {
	for _, role := range store.Roles {
		if snap.HasCompleted(role) {
			continue
		}

		wallet, err := c.clientFor(escrowID, role)
		if err != nil {
			return err
		}
		walletLock := c.locks.Get(locksWalletKey(escrowID, role))
		walletLock.Lock()
		result, err := wallet.PrepareMultisig(ctx)
		walletLock.Unlock()
		if err != nil {
			return escrowerr.Wrap(escrowerr.RpcValidation, "prepare_multisig failed for "+string(role), err)
		}

		if err := c.escrows.UpsertRoleMaterial(escrowID, role, result.MultisigInfo); err != nil {
			return err
		}
		snap.CompletedRoles = append(snap.CompletedRoles, role)
		c.emitEvent(Event{Type: EventRoleCompleted, EscrowID: escrowID, Phase: store.PhasePreparing, Role: role})
	}

	if len(snap.CompletedRoles) >= len(store.Roles) {
		snap.Phase = store.PhaseMaking
		snap.Round = 0
		snap.CompletedRoles = nil
		if err := c.save(snap); err != nil {
			return err
		}
		c.emitEvent(Event{Type: EventPhaseChanged, EscrowID: escrowID, Phase: store.PhaseMaking})
		return nil
	}

	return c.save(snap)
}

// advanceMaking calls MakeMultisig for every role not yet completed,
// passing it the other two roles' Preparing-phase material. The
// Preparing-phase material for all three roles is read once up front,
// before any role's column is overwritten with its Making-phase output —
// otherwise a role processed later in the loop would see an
// already-overwritten peer column instead of that peer's Preparing output.
func (c *Coordinator) advanceMaking(ctx context.Context, escrowID string, snap *store.Snapshot) error {
	prepareMaterial := make(map[store.Role]string, len(store.Roles))
	for _, role := range store.Roles {
		material, err := c.escrows.RoleMaterial(escrowID, role)
		if err != nil {
			return err
		}
		prepareMaterial[role] = material
	}

	for _, role := range store.Roles {
		if snap.HasCompleted(role) {
			continue
		}

		var peerInfos []string
		for _, peer := range store.Roles {
			if peer == role {
				continue
			}
			peerInfos = append(peerInfos, prepareMaterial[peer])
		}

		wallet, err := c.clientFor(escrowID, role)
		if err != nil {
			return err
		}
		walletLock := c.locks.Get(locksWalletKey(escrowID, role))
		walletLock.Lock()
		result, err := wallet.MakeMultisig(ctx, peerInfos, Threshold)
		walletLock.Unlock()
		if err != nil {
			return escrowerr.Wrap(escrowerr.RpcValidation, "make_multisig failed for "+string(role), err)
		}

		if err := c.escrows.UpsertRoleMaterial(escrowID, role, result.MultisigInfo); err != nil {
			return err
		}
		snap.CompletedRoles = append(snap.CompletedRoles, role)
		c.emitEvent(Event{Type: EventRoleCompleted, EscrowID: escrowID, Phase: store.PhaseMaking, Role: role})
	}

	if len(snap.CompletedRoles) >= len(store.Roles) {
		snap.Phase = store.PhaseExchanging
		snap.Round = 1
		snap.CompletedRoles = nil
		if err := c.save(snap); err != nil {
			return err
		}
		c.emitEvent(Event{Type: EventPhaseChanged, EscrowID: escrowID, Phase: store.PhaseExchanging, Round: 1})
		return nil
	}

	return c.save(snap)
}

// advanceExchanging runs one export/import round, skipping any role already
// marked complete for the current round so a crash-restart-replay never
// re-issues export_multisig_info/import_multisig_info/is_multisig/get_address
// to an endpoint that already answered this round. Once every role has
// completed, it checks whether the wallets report the same address: if
// every wallet queried in this call reports one and all recorded addresses
// agree, the phase becomes Ready; otherwise a further round starts, up to
// MaxExchangeRounds. A role completed in an earlier call whose address was
// not recorded is not re-queried and does not count against agreement.
func (c *Coordinator) advanceExchanging(ctx context.Context, escrowID string, snap *store.Snapshot) error {
	exports := make(map[store.Role]string, len(store.Roles))
	for _, role := range store.Roles {
		if snap.HasCompleted(role) {
			if material, err := c.escrows.RoleMaterial(escrowID, role); err == nil {
				exports[role] = material
			}
			continue
		}

		wallet, err := c.clientFor(escrowID, role)
		if err != nil {
			return err
		}
		walletLock := c.locks.Get(locksWalletKey(escrowID, role))
		walletLock.Lock()
		result, err := wallet.ExportMultisigInfo(ctx)
		walletLock.Unlock()
		if err != nil {
			return escrowerr.Wrap(escrowerr.RpcValidation, "export_multisig_info failed for "+string(role), err)
		}
		exports[role] = result.Info
		if err := c.escrows.UpsertRoleMaterial(escrowID, role, result.Info); err != nil {
			return err
		}
	}

	addresses := make(map[string]struct{})
	missingAddress := false
	for _, role := range store.Roles {
		if snap.HasCompleted(role) {
			if addr := snap.RoleAddresses[role]; addr != "" {
				addresses[addr] = struct{}{}
			}
			continue
		}

		others := make([]string, 0, len(store.Roles)-1)
		for _, peer := range store.Roles {
			if peer == role {
				continue
			}
			others = append(others, exports[peer])
		}

		wallet, err := c.clientFor(escrowID, role)
		if err != nil {
			return err
		}
		walletLock := c.locks.Get(locksWalletKey(escrowID, role))
		walletLock.Lock()
		_, err = wallet.ImportMultisigInfo(ctx, others)
		walletLock.Unlock()
		if err != nil {
			return escrowerr.Wrap(escrowerr.RpcValidation, "import_multisig_info failed for "+string(role), err)
		}

		address, err := c.isMultisigAddress(ctx, escrowID, role)
		if err != nil {
			return err
		}
		if address != "" {
			addresses[address] = struct{}{}
		} else {
			missingAddress = true
		}

		snap.CompletedRoles = append(snap.CompletedRoles, role)
		if snap.RoleAddresses == nil {
			snap.RoleAddresses = make(map[store.Role]string)
		}
		snap.RoleAddresses[role] = address
		if err := c.save(snap); err != nil {
			return err
		}
		c.emitEvent(Event{Type: EventRoleCompleted, EscrowID: escrowID, Phase: store.PhaseExchanging, Role: role})
	}

	if len(addresses) == 1 && !missingAddress {
		var address string
		for a := range addresses {
			address = a
		}
		snap.Phase = store.PhaseReady
		snap.ReadyAddress = address
		if err := c.save(snap); err != nil {
			return err
		}
		if err := c.escrows.UpdateDestinationAddress(escrowID, address); err != nil {
			return err
		}
		c.emitEvent(Event{Type: EventReady, EscrowID: escrowID, Phase: store.PhaseReady, Address: address})
		return nil
	}

	if snap.Round >= MaxExchangeRounds {
		reason := "multisig address agreement not reached after maximum exchange rounds"
		if err := c.escrows.SetCancelReason(escrowID, reason); err != nil {
			return err
		}
		if err := c.escrows.UpdateStatus(escrowID, store.StatusCreated, store.StatusCancelled, time.Now()); err != nil {
			return err
		}
		err := escrowerr.New(escrowerr.AddressMismatch, reason)
		c.emitEvent(Event{Type: EventSetupFailed, EscrowID: escrowID, Phase: store.PhaseExchanging, Err: err})
		return err
	}

	snap.Round++
	snap.CompletedRoles = nil
	snap.RoleAddresses = nil
	if err := c.save(snap); err != nil {
		return err
	}
	c.emitEvent(Event{Type: EventPhaseChanged, EscrowID: escrowID, Phase: store.PhaseExchanging, Round: snap.Round})
	return nil
}

// isMultisigAddress returns the address a role's wallet currently reports,
// or "" if it is not yet in a ready multisig state.
func (c *Coordinator) isMultisigAddress(ctx context.Context, escrowID string, role store.Role) (string, error) {
	wallet, err := c.clientFor(escrowID, role)
	if err != nil {
		return "", err
	}
	status, err := wallet.IsMultisig(ctx)
	if err != nil {
		return "", escrowerr.Wrap(escrowerr.RpcValidation, "is_multisig failed for "+string(role), err)
	}
	if !status.Multisig || !status.Ready {
		return "", nil
	}
	addr, err := wallet.GetAddress(ctx)
	if err != nil {
		return "", escrowerr.Wrap(escrowerr.RpcValidation, "get_address failed for "+string(role), err)
	}
	return addr.Address, nil
}

func locksWalletKey(escrowID string, role store.Role) string {
	return escrowID + "|" + string(role)
}
