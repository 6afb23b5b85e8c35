package prover

import (
	"fmt"

	"github.com/cairo-m/cairo-m-prover/internal/cairom/core"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/protocols"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/utils"
	"github.com/cairo-m/cairo-m-prover/internal/cairom/vm"
)

// MalformedProofError signals a proof whose shape doesn't match its own
// claim (component count/name mismatches between the claim, the root list,
// and the interaction claim list) — never produced by Prove, only by a
// tampered or truncated proof (§7).
type MalformedProofError struct {
	Reason string
}

func (e *MalformedProofError) Error() string {
	return fmt.Sprintf("cairom: malformed proof: %s", e.Reason)
}

// Verify replays the prover's transcript from the proof's own public
// contents and checks every commitment, the global logup sum, the
// interaction proof-of-work, and the FRI low-degree proof (§4.I). It never
// sees a VM execution trace: everything it needs travels in proof.
func Verify(proof *Proof) error {
	channel := utils.NewChannel(proof.HashFunction)

	channel.Send([]byte(vm.RangeCheckTableID))
	channel.Send(proof.PreprocessedRoot)

	if len(proof.Claim.Components) != len(proof.ComponentRoots) {
		return &MalformedProofError{Reason: "claim and base-trace root counts differ"}
	}
	names := make([]string, len(proof.Claim.Components))
	for i, cc := range proof.Claim.Components {
		if cc.Name != proof.ComponentRoots[i].Name {
			return &MalformedProofError{Reason: fmt.Sprintf("component %d name mismatch between claim and base roots", i)}
		}
		names[i] = cc.Name
		channel.Send([]byte(cc.Name))
		channel.Send(proof.ComponentRoots[i].Root)
	}

	relations := protocols.NewRelations(channel, names)

	if len(proof.InteractionClaim.Components) != len(names) || len(proof.InteractionRoots) != len(names) {
		return &MalformedProofError{Reason: "interaction claim or root count does not match component count"}
	}

	total := core.ZeroQM31()
	for i, cc := range proof.Claim.Components {
		cc.Claim.MixInto(channel)

		if proof.InteractionRoots[i].Name != cc.Name {
			return &MalformedProofError{Reason: fmt.Sprintf("component %d name mismatch on interaction root", i)}
		}
		channel.Send(proof.InteractionRoots[i].Root)

		ic := proof.InteractionClaim.Components[i]
		if ic.Name != cc.Name {
			return &MalformedProofError{Reason: fmt.Sprintf("component %d name mismatch on interaction claim", i)}
		}
		ic.InteractionClaim.MixInto(channel)
		total = total.Add(ic.InteractionClaim.ClaimedSum)
	}

	boundary, err := memoryBoundaryContribution(relations.Memory, proof.Claim.InitialMemory, proof.Claim.FinalMemory)
	if err != nil {
		return err
	}
	total = total.Add(boundary)
	if !total.IsZero() {
		return &InvalidLogupSumError{Sum: total}
	}

	if !protocols.CheckPoW(channel.State(), proof.InteractionClaim.PowNonce, utils.InteractionPowBits) {
		return fmt.Errorf("cairom: interaction proof-of-work nonce does not meet the required difficulty")
	}
	channel.Send(protocols.NonceBytes(proof.InteractionClaim.PowNonce))

	friCfg := protocols.DefaultFRIConfig()
	if err := protocols.FRIVerify(channel, proof.FRI, proof.CompositionSize, friCfg); err != nil {
		return fmt.Errorf("cairom: FRI verification failed: %w", err)
	}
	return nil
}
