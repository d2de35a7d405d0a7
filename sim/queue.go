package sim

import "fmt"

// The ranked-queue model verifies membership and linkage of the two ordered
// doubly-linked structures from snapshots alone. It does not recompute the
// full ordering: membership, absence and head/tail chain consistency are the
// testable contract.

// VerifyQueueWellFormed walks the queue from head to tail and checks that the
// forward chain covers every node exactly once, that every back link matches,
// and that head and tail agree with the chain ends.
func VerifyQueueWellFormed(v *Verdict, name string, q QueueRecord) {
	if q.Len() == 0 {
		v.RequireTrue(name+".emptyQueuePointers", q.Head == 0 && q.Tail == 0,
			"head=0 tail=0", fmt.Sprintf("head=%d tail=%d", q.Head, q.Tail))
		return
	}
	head, ok := q.Nodes[q.Head]
	if !v.RequireTrue(name+".headMembership", ok,
		fmt.Sprintf("head %d present in node table", q.Head), "absent") {
		return
	}
	v.RequireEqualUint(name+".headHasNoPredecessor", 0, head.Prev)

	seen := 0
	id := q.Head
	prev := uint64(0)
	for id != 0 {
		node, ok := q.Nodes[id]
		if !v.RequireTrue(name+".chainMembership", ok,
			fmt.Sprintf("node %d present in node table", id), "absent") {
			return
		}
		if !v.RequireEqualUint(fmt.Sprintf("%s.backLink[%d]", name, id), prev, node.Prev) {
			return
		}
		seen++
		if seen > q.Len() {
			v.Fail(name+".chainAcyclic",
				fmt.Sprintf("at most %d nodes on chain", q.Len()),
				"forward chain revisits a node")
			return
		}
		prev = id
		id = node.Next
	}
	v.RequireEqualUint(name+".tailTerminatesChain", q.Tail, prev)
	v.RequireEqualUint(name+".chainCoversAllNodes", uint64(q.Len()), uint64(seen))
}

// VerifyQueueAbsent checks that id is not a member and is reachable from
// neither the head nor the tail pointer.
func VerifyQueueAbsent(v *Verdict, name string, q QueueRecord, id uint64) {
	v.RequireTrue(fmt.Sprintf("%s.absent[%d]", name, id), !q.Node(id).IsPresent(),
		fmt.Sprintf("safe %d absent from queue", id), "present")
	v.RequireTrue(fmt.Sprintf("%s.headNot[%d]", name, id), q.Head != id,
		fmt.Sprintf("head != %d", id), fmt.Sprintf("head == %d", id))
	v.RequireTrue(fmt.Sprintf("%s.tailNot[%d]", name, id), q.Tail != id,
		fmt.Sprintf("tail != %d", id), fmt.Sprintf("tail == %d", id))
}

// VerifyQueueMember checks that id is a member.
func VerifyQueueMember(v *Verdict, name string, q QueueRecord, id uint64) {
	v.RequireTrue(fmt.Sprintf("%s.member[%d]", name, id), q.Node(id).IsPresent(),
		fmt.Sprintf("safe %d present in queue", id), "absent")
}

// VerifyZeroDebtExclusion checks both directions of the membership contract:
// safes without debt appear in neither queue, and every queue member is an
// open safe carrying debt.
func VerifyZeroDebtExclusion(v *Verdict, snap *StateSnapshot) {
	for _, id := range snap.OpenSafeIDs() {
		rec, _ := snap.Safe(id).Get()
		if rec.BorrowedAmount.Sign() == 0 {
			VerifyQueueAbsent(v, "liquidationQueue", snap.LiquidationQ, id)
			VerifyQueueAbsent(v, "redemptionQueue", snap.RedemptionQ, id)
		}
	}
	for _, q := range []struct {
		name string
		rec  QueueRecord
	}{
		{"liquidationQueue", snap.LiquidationQ},
		{"redemptionQueue", snap.RedemptionQ},
	} {
		for id := range q.rec.Nodes {
			rec, ok := snap.Safe(id).Get()
			if !v.RequireTrue(fmt.Sprintf("%s.memberIsOpenSafe[%d]", q.name, id), ok,
				fmt.Sprintf("queue member %d is an open safe", id), "safe record absent") {
				continue
			}
			v.RequireTrue(fmt.Sprintf("%s.memberCarriesDebt[%d]", q.name, id),
				rec.BorrowedAmount.Sign() > 0,
				fmt.Sprintf("queue member %d has positive debt", id),
				rec.BorrowedAmount.String())
		}
	}
}

// VerifyTailRemoval checks the global-liquidation pattern of removing
// whichever safe sits at the tail: removed must have been the previous tail,
// and the new tail must be its former predecessor.
func VerifyTailRemoval(v *Verdict, name string, prevQ, nextQ QueueRecord, removed uint64) {
	v.RequireEqualUint(name+".removedWasTail", prevQ.Tail, removed)
	node, ok := prevQ.Node(removed).Get()
	if !v.RequireTrue(name+".removedWasMember", ok,
		fmt.Sprintf("safe %d present before removal", removed), "absent") {
		return
	}
	v.RequireEqualUint(name+".tailAfterRemoval", node.Prev, nextQ.Tail)
	VerifyQueueAbsent(v, name, nextQ, removed)
}
