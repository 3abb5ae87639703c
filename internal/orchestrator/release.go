package orchestrator

import (
	"context"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
	"github.com/satisfyguy/escrowd/internal/store"
	"github.com/satisfyguy/escrowd/internal/walletrpc"
)

// runSigningFlow drives the two-of-three signing sequence for a release or
// refund: the initiator proposes the transfer, the counterparty supplies
// the second signature, and the resulting tx set is submitted. The
// escrow's confirmed txid is recorded once the daemon accepts submission;
// confirmation depth is tracked separately via ConfirmTransaction.
func (o *Orchestrator) runSigningFlow(ctx context.Context, escrowID string, initiator, cosigner store.Role, destination string, amount uint64) error {
	initiatorClient, err := o.endpoints.ClientFor(escrowID, initiator)
	if err != nil {
		return err
	}
	cosignerClient, err := o.endpoints.ClientFor(escrowID, cosigner)
	if err != nil {
		return err
	}

	proposeLock := o.locks.Get(lockKey(escrowID, initiator))
	proposeLock.Lock()
	proposed, err := initiatorClient.TransferMultisig(ctx, []walletrpc.TransferDestination{
		{Address: destination, Amount: amount},
	})
	proposeLock.Unlock()
	if err != nil {
		return escrowerr.Wrap(escrowerr.RpcValidation, "propose transfer failed", err)
	}

	signLock := o.locks.Get(lockKey(escrowID, cosigner))
	signLock.Lock()
	signed, err := cosignerClient.SignMultisig(ctx, proposed.MultisigTxSet)
	signLock.Unlock()
	if err != nil {
		return escrowerr.Wrap(escrowerr.RpcValidation, "cosigner signature failed", err)
	}

	submitLock := o.locks.Get(lockKey(escrowID, initiator))
	submitLock.Lock()
	submitted, err := initiatorClient.SubmitMultisig(ctx, signed.TxDataHex)
	submitLock.Unlock()
	if err != nil {
		return escrowerr.Wrap(escrowerr.RpcValidation, "submit transfer failed", err)
	}

	if len(submitted.TxHashList) == 0 {
		return escrowerr.New(escrowerr.RpcValidation, "submit_multisig returned no transaction hash")
	}
	return o.escrows.SetConfirmedTxID(escrowID, submitted.TxHashList[0])
}

func lockKey(escrowID string, role store.Role) string {
	return escrowID + "|" + string(role)
}
