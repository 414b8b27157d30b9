package linhash

import (
	"pcrlinhash/block"
	"pcrlinhash/record"
)

// groupChainBlocks returns the ordered list of overflow block indices in
// group's chain, not including its primary block.
func (ix *Index) groupChainBlocks(group int) []int {
	var chain []int
	current := ix.firstOverflowOfGroup[group]
	for current != noOverflow {
		chain = append(chain, current)
		current = ix.getOverflowNext(current)
	}
	return chain
}

// collectGroupRecords reads every live record of group, primary block first
// then its chain in order, without mutating anything. It also returns the
// chain's current block indices so callers can reuse or free them.
func (ix *Index) collectGroupRecords(group int) ([]record.Record, []int, error) {
	chain := ix.groupChainBlocks(group)

	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
	if err != nil {
		return nil, nil, err
	}
	records := liveRecordsOf(primaryBlock)

	for _, idx := range chain {
		ovBlock, err := ix.overflowFile.ReadBlock(idx)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, liveRecordsOf(ovBlock)...)
	}
	return records, chain, nil
}

// redistributeGroup rewrites group's primary block and chain from scratch
// with records, in order. It reuses as many of chain's existing block
// indices as are needed before allocating fresh overflow blocks, and writes
// any surplus chain blocks empty and detached. It reports whether any
// overflow blocks were freed, so the caller can decide whether a
// ShrinkEmptyTail pass on the overflow file is worthwhile.
func (ix *Index) redistributeGroup(group int, chain []int, records []record.Record) (freedOverflow bool, err error) {
	primaryCap := ix.primaryFile.Capacity()
	overflowCap := ix.overflowFile.Capacity()
	recordSize := ix.primaryFile.RecordSize()

	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock := newEmptyBlockLike(primaryCap, recordSize, ix.factory)
	n := 0
	for n < len(records) && n < primaryCap {
		primaryBlock.Insert(records[n])
		n++
	}
	if err := ix.primaryFile.WriteBlock(primaryIdx, primaryBlock); err != nil {
		return false, err
	}

	remaining := records[n:]
	var used []int
	chainPos := 0
	for len(remaining) > 0 {
		var blockIdx int
		if chainPos < len(chain) {
			blockIdx = chain[chainPos]
			chainPos++
		} else {
			blockIdx, err = ix.overflowFile.AllocateEmptyBlock()
			if err != nil {
				return false, err
			}
		}
		take := overflowCap
		if take > len(remaining) {
			take = len(remaining)
		}
		ob := newEmptyBlockLike(overflowCap, recordSize, ix.factory)
		for i := 0; i < take; i++ {
			ob.Insert(remaining[i])
		}
		if err := ix.overflowFile.WriteBlock(blockIdx, ob); err != nil {
			return false, err
		}
		used = append(used, blockIdx)
		remaining = remaining[take:]
	}

	for ; chainPos < len(chain); chainPos++ {
		blockIdx := chain[chainPos]
		empty := newEmptyBlockLike(overflowCap, recordSize, ix.factory)
		if err := ix.overflowFile.WriteBlock(blockIdx, empty); err != nil {
			return false, err
		}
		ix.setOverflowNext(blockIdx, noOverflow)
		freedOverflow = true
	}

	for i, blockIdx := range used {
		if i+1 < len(used) {
			ix.setOverflowNext(blockIdx, used[i+1])
		} else {
			ix.setOverflowNext(blockIdx, noOverflow)
		}
	}
	if len(used) > 0 {
		ix.firstOverflowOfGroup[group] = used[0]
	} else {
		ix.firstOverflowOfGroup[group] = noOverflow
	}

	return freedOverflow, nil
}

// tryCompactOverflowAfterDelete re-packs group's live records into its
// primary block and the minimum chain length needed to hold the rest,
// freeing any surplus chain blocks. It is a no-op if the existing chain is
// already no longer than the minimum.
func (ix *Index) tryCompactOverflowAfterDelete(group int) (bool, error) {
	chain := ix.groupChainBlocks(group)
	if len(chain) == 0 {
		return false, nil
	}

	records, _, err := ix.collectGroupRecords(group)
	if err != nil {
		return false, err
	}

	primaryCap := ix.primaryFile.Capacity()
	overflowCap := ix.overflowFile.Capacity()
	needed := 0
	if len(records) > primaryCap {
		needed = (len(records) - primaryCap + overflowCap - 1) / overflowCap
	}
	if needed >= len(chain) {
		return false, nil
	}

	return ix.redistributeGroup(group, chain, records)
}

// trySplitIfNeeded performs exactly one split if keyed density currently
// exceeds dMax. Splitting a single group is always enough to bring density
// back to or below dMax, since one split grows the slot denominator by
// (at minimum) one primary block's worth of capacity.
func (ix *Index) trySplitIfNeeded() error {
	if ix.computeDensity() <= ix.dMax {
		return nil
	}
	return ix.performSplit()
}

// performSplit splits group splitPtr into itself and a new sibling
// splitPtr+baseGroupCount(), redistributing every live record of the
// original group between the two by the new modulus 2*baseGroupCount(),
// then advances the split pointer (wrapping into the next level when it
// reaches baseGroupCount()).
func (ix *Index) performSplit() error {
	p := ix.splitPtr
	bLevel := ix.baseGroupCount()
	pPrime := p + bLevel

	if err := ix.ensureGroupExists(pPrime); err != nil {
		return err
	}

	records, chain, err := ix.collectGroupRecords(p)
	if err != nil {
		return err
	}

	newModulus := 2 * bLevel
	var stay, move []record.Record
	for _, r := range records {
		if positiveHash(r.Key())%newModulus == pPrime {
			move = append(move, r)
		} else {
			stay = append(stay, r)
		}
	}

	freedStay, err := ix.redistributeGroup(p, chain, stay)
	if err != nil {
		return err
	}
	freedMove, err := ix.redistributeGroup(pPrime, nil, move)
	if err != nil {
		return err
	}

	ix.splitPtr++
	if ix.splitPtr >= bLevel {
		ix.splitPtr = 0
		ix.level++
	}

	if freedStay || freedMove {
		return ix.overflowFile.ShrinkEmptyTail()
	}
	return nil
}

// tryMergeIfNeeded performs exactly one merge if keyed density currently
// falls below dMin and the directory has more than the floor of M groups.
func (ix *Index) tryMergeIfNeeded() error {
	if ix.groupCount <= ix.initialGroupCount {
		return nil
	}
	if ix.computeDensity() >= ix.dMin {
		return nil
	}
	return ix.performMerge()
}

// performMerge folds the last group in directory order into its
// split-parent, the group it would have been created from, then shrinks the
// directory by one and rewinds the split pointer/level by exactly the
// amount the matching split had advanced them.
func (ix *Index) performMerge() error {
	from := ix.groupCount - 1
	var to int
	if ix.splitPtr > 0 {
		to = ix.splitPtr - 1
	} else {
		prevBLevel := ix.initialGroupCount * (1 << uint(ix.level-1))
		to = prevBLevel - 1
	}

	records, chain, err := ix.collectGroupRecords(from)
	if err != nil {
		return err
	}
	if _, err := ix.redistributeGroup(from, chain, nil); err != nil {
		return err
	}

	for _, r := range records {
		if err := ix.insertIntoGroup(to, r); err != nil {
			return err
		}
	}

	ix.primaryBlockOfGroup = ix.primaryBlockOfGroup[:from]
	ix.firstOverflowOfGroup = ix.firstOverflowOfGroup[:from]
	ix.groupCount--

	if ix.splitPtr > 0 {
		ix.splitPtr--
	} else {
		ix.level--
		ix.splitPtr = ix.baseGroupCount() - 1
	}

	return ix.overflowFile.ShrinkEmptyTail()
}

func liveRecordsOf(b *block.Block) []record.Record {
	var out []record.Record
	for s := 0; s < b.Capacity(); s++ {
		if r := b.Get(s); r != nil {
			out = append(out, r)
		}
	}
	return out
}
