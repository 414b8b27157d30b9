// Package linhash implements a dynamic linear-hash index over two heap
// files: a primary file where every group owns exactly one block, and an
// overflow file holding each group's overflow chain. Online splitting and
// merging keep keyed density between two configured thresholds.
package linhash

import (
	"fmt"
	"os"
	"sync"

	"pcrlinhash/block"
	"pcrlinhash/heap"
	"pcrlinhash/record"
)

const noOverflow = -1

// Index is a linear-hash index built on a primary and an overflow heap
// file, with directory metadata persisted in a third file. All exported
// operations are serialized by an internal mutex.
type Index struct {
	mu sync.Mutex

	initialGroupCount int
	dMax, dMin        float64
	factory           record.Factory

	primaryFile  *heap.HeapFile
	overflowFile *heap.HeapFile
	metaPath     string

	level        int
	splitPtr     int
	groupCount   int
	totalRecords int64

	primaryBlockOfGroup  []int
	firstOverflowOfGroup []int
	overflowNext         []int

	closed bool
}

// Open constructs or reopens a linear-hash index rooted at basePath, using
// clusterSize-sized blocks for both heap files. M, dMax and dMin configure a
// freshly initialized structure; an existing meta file's stored M must
// match or Open fails with CorruptMeta.
func Open(basePath string, clusterSize int, factory record.Factory, m int, dMax, dMin float64) (*Index, error) {
	if factory == nil {
		panic("linhash: factory must not be nil")
	}
	if m <= 0 {
		panic("linhash: initial group count M must be positive")
	}

	primaryPath := basePath + "_lh_primary.dat"
	overflowPath := basePath + "_lh_overflow.dat"
	metaPath := basePath + "_lhmeta.dat"

	primaryFile, err := heap.OpenStrict(primaryPath, clusterSize, factory)
	if err != nil {
		return nil, fmt.Errorf("linhash: opening primary file: %w", err)
	}
	overflowFile, err := heap.OpenStrict(overflowPath, clusterSize, factory)
	if err != nil {
		primaryFile.Close()
		return nil, fmt.Errorf("linhash: opening overflow file: %w", err)
	}

	ix := &Index{
		initialGroupCount: m,
		dMax:              dMax,
		dMin:              dMin,
		factory:           factory,
		primaryFile:       primaryFile,
		overflowFile:      overflowFile,
		metaPath:          metaPath,
	}

	info, statErr := os.Stat(metaPath)
	if statErr == nil && info.Size() > 0 {
		if err := ix.loadMeta(); err != nil {
			primaryFile.Close()
			overflowFile.Close()
			return nil, err
		}
	} else {
		if err := ix.initNewStructure(); err != nil {
			primaryFile.Close()
			overflowFile.Close()
			return nil, err
		}
		if err := ix.saveMeta(); err != nil {
			primaryFile.Close()
			overflowFile.Close()
			return nil, err
		}
	}

	return ix, nil
}

// initNewStructure allocates M empty primary blocks, one per initial group,
// and starts with an empty overflow directory.
func (ix *Index) initNewStructure() error {
	ix.level = 0
	ix.splitPtr = 0
	ix.totalRecords = 0
	ix.groupCount = ix.initialGroupCount

	ix.primaryBlockOfGroup = make([]int, 0, ix.initialGroupCount)
	ix.firstOverflowOfGroup = make([]int, 0, ix.initialGroupCount)
	ix.overflowNext = nil

	for g := 0; g < ix.initialGroupCount; g++ {
		idx, err := ix.primaryFile.AllocateEmptyBlock()
		if err != nil {
			return err
		}
		ix.primaryBlockOfGroup = append(ix.primaryBlockOfGroup, idx)
		ix.firstOverflowOfGroup = append(ix.firstOverflowOfGroup, noOverflow)
	}

	return nil
}

// TotalRecords returns the number of live records across both heap files.
func (ix *Index) TotalRecords() int64 {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.totalRecords
}

// Level, SplitPointer and GroupCount expose the directory's structural
// state, mainly for tests and diagnostics.
func (ix *Index) Level() int        { ix.mu.Lock(); defer ix.mu.Unlock(); return ix.level }
func (ix *Index) SplitPointer() int { ix.mu.Lock(); defer ix.mu.Unlock(); return ix.splitPtr }
func (ix *Index) GroupCount() int   { ix.mu.Lock(); defer ix.mu.Unlock(); return ix.groupCount }

// PrimaryFile and OverflowFile expose the two underlying heap files so a
// domain layer can run bulk scans (e.g. "all tests of a patient") without
// the index needing to know what those scans are for. Callers must not
// mutate them directly; doing so would desynchronize the directory.
func (ix *Index) PrimaryFile() *heap.HeapFile  { return ix.primaryFile }
func (ix *Index) OverflowFile() *heap.HeapFile { return ix.overflowFile }

func (ix *Index) checkOpen() {
	if ix.closed {
		panic("linhash: operation on a closed index")
	}
}

// baseGroupCount returns B_level = M * 2^level.
func (ix *Index) baseGroupCount() int {
	return ix.initialGroupCount * (1 << uint(ix.level))
}

// computeGroupIndex maps a key to its owning group under the current level
// and split pointer.
func (ix *Index) computeGroupIndex(id string) int {
	h := positiveHash(id)
	b := ix.baseGroupCount()
	i := h % b
	if i < ix.splitPtr {
		i = h % (2 * b)
	}
	return i
}

// computeDensity is the ratio of live records to total slots across both
// heap files.
func (ix *Index) computeDensity() float64 {
	primarySlots := int64(ix.primaryFile.BlockCount()) * int64(ix.primaryFile.Capacity())
	overflowSlots := int64(ix.overflowFile.BlockCount()) * int64(ix.overflowFile.Capacity())
	total := primarySlots + overflowSlots
	if total == 0 {
		return 0
	}
	return float64(ix.totalRecords) / float64(total)
}

// Insert adds record r under its key's group, growing the directory if the
// key's group did not exist yet, then splits if density now exceeds dMax.
func (ix *Index) Insert(r record.Record) error {
	if r == nil {
		panic("linhash: inserted record cannot be nil")
	}
	id := r.Key()

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpen()

	group := ix.computeGroupIndex(id)
	if err := ix.insertIntoGroup(group, r); err != nil {
		return err
	}
	ix.totalRecords++

	if err := ix.trySplitIfNeeded(); err != nil {
		return err
	}
	return ix.saveMeta()
}

// FindByID returns the record with the given key, or nil if none exists.
func (ix *Index) FindByID(id string) (record.Record, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpen()

	if id == "" {
		return nil, nil
	}
	group := ix.computeGroupIndex(id)
	if group < 0 || group >= ix.groupCount {
		return nil, nil
	}

	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
	if err != nil {
		return nil, err
	}
	if _, r := primaryBlock.FindByID(id); r != nil {
		return r, nil
	}

	current := ix.firstOverflowOfGroup[group]
	for current != noOverflow {
		ovBlock, err := ix.overflowFile.ReadBlock(current)
		if err != nil {
			return nil, err
		}
		if _, r := ovBlock.FindByID(id); r != nil {
			return r, nil
		}
		current = ix.getOverflowNext(current)
	}

	return nil, nil
}

// EditByID replaces the stored bytes of the record matching updated.Key()
// in place. updated's key must already exist; EditByID never changes which
// group or slot a record lives in.
func (ix *Index) EditByID(updated record.Record) (bool, error) {
	if updated == nil {
		return false, nil
	}
	id := updated.Key()
	if id == "" {
		return false, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpen()

	group := ix.computeGroupIndex(id)
	if group < 0 || group >= ix.groupCount {
		return false, nil
	}

	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
	if err != nil {
		return false, err
	}
	if _, r := primaryBlock.FindByID(id); r != nil {
		if err := r.Decode(updated.Encode()); err != nil {
			return false, err
		}
		if err := ix.primaryFile.WriteBlock(primaryIdx, primaryBlock); err != nil {
			return false, err
		}
		return true, ix.saveMeta()
	}

	current := ix.firstOverflowOfGroup[group]
	for current != noOverflow {
		ovBlock, err := ix.overflowFile.ReadBlock(current)
		if err != nil {
			return false, err
		}
		if _, r := ovBlock.FindByID(id); r != nil {
			if err := r.Decode(updated.Encode()); err != nil {
				return false, err
			}
			if err := ix.overflowFile.WriteBlock(current, ovBlock); err != nil {
				return false, err
			}
			return true, ix.saveMeta()
		}
		current = ix.getOverflowNext(current)
	}

	return false, nil
}

// DeleteByID removes the record with the given key, reporting whether
// anything was removed. On success it compacts the group's overflow chain,
// shrinks the overflow file's tail if any blocks were freed, merges if
// density now falls below dMin, and persists meta.
func (ix *Index) DeleteByID(id string) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpen()

	if id == "" {
		return false, nil
	}
	group := ix.computeGroupIndex(id)
	if group < 0 || group >= ix.groupCount {
		return false, nil
	}

	removed, err := ix.deleteFromGroup(group, id)
	if err != nil {
		return false, err
	}
	if !removed {
		return false, nil
	}
	ix.totalRecords--

	freed, err := ix.tryCompactOverflowAfterDelete(group)
	if err != nil {
		return false, err
	}
	if freed {
		if err := ix.overflowFile.ShrinkEmptyTail(); err != nil {
			return false, err
		}
	}

	if err := ix.tryMergeIfNeeded(); err != nil {
		return false, err
	}
	if err := ix.saveMeta(); err != nil {
		return false, err
	}
	return true, nil
}

// ensureGroupExists grows the directory (appending fresh primary blocks)
// until it has an entry for group.
func (ix *Index) ensureGroupExists(group int) error {
	for group >= ix.groupCount {
		idx, err := ix.primaryFile.AllocateEmptyBlock()
		if err != nil {
			return err
		}
		ix.primaryBlockOfGroup = append(ix.primaryBlockOfGroup, idx)
		ix.firstOverflowOfGroup = append(ix.firstOverflowOfGroup, noOverflow)
		ix.groupCount++
	}
	return nil
}

func (ix *Index) ensureOverflowIndexExists(index int) {
	for len(ix.overflowNext) <= index {
		ix.overflowNext = append(ix.overflowNext, noOverflow)
	}
}

func (ix *Index) getOverflowNext(index int) int {
	if index < 0 || index >= len(ix.overflowNext) {
		return noOverflow
	}
	return ix.overflowNext[index]
}

func (ix *Index) setOverflowNext(index, next int) {
	ix.ensureOverflowIndexExists(index)
	ix.overflowNext[index] = next
}

// insertIntoGroup places r into group's primary block if it has room, else
// into the first non-full block of its overflow chain, else appends a new
// overflow block and links it at the chain's tail.
func (ix *Index) insertIntoGroup(group int, r record.Record) error {
	if err := ix.ensureGroupExists(group); err != nil {
		return err
	}

	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
	if err != nil {
		return err
	}

	if !primaryBlock.IsFull() {
		primaryBlock.Insert(r)
		return ix.primaryFile.WriteBlock(primaryIdx, primaryBlock)
	}

	firstOv := ix.firstOverflowOfGroup[group]
	if firstOv == noOverflow {
		newIdx, err := ix.overflowFile.AllocateEmptyBlock()
		if err != nil {
			return err
		}
		newBlock, err := ix.overflowFile.ReadBlock(newIdx)
		if err != nil {
			return err
		}
		newBlock.Insert(r)
		if err := ix.overflowFile.WriteBlock(newIdx, newBlock); err != nil {
			return err
		}
		ix.firstOverflowOfGroup[group] = newIdx
		ix.setOverflowNext(newIdx, noOverflow)
		return nil
	}

	current := firstOv
	for {
		ovBlock, err := ix.overflowFile.ReadBlock(current)
		if err != nil {
			return err
		}
		if !ovBlock.IsFull() {
			ovBlock.Insert(r)
			return ix.overflowFile.WriteBlock(current, ovBlock)
		}
		next := ix.getOverflowNext(current)
		if next == noOverflow {
			newIdx, err := ix.overflowFile.AllocateEmptyBlock()
			if err != nil {
				return err
			}
			newBlock, err := ix.overflowFile.ReadBlock(newIdx)
			if err != nil {
				return err
			}
			newBlock.Insert(r)
			if err := ix.overflowFile.WriteBlock(newIdx, newBlock); err != nil {
				return err
			}
			ix.setOverflowNext(current, newIdx)
			ix.setOverflowNext(newIdx, noOverflow)
			return nil
		}
		current = next
	}
}

// deleteFromGroup removes the first record with id in group, searching the
// primary block then the overflow chain. A chain block that becomes empty
// is unlinked from the chain and stays in the overflow file, empty and
// detached; no group's chain links to it again, and only a tail shrink of
// the overflow file removes it.
func (ix *Index) deleteFromGroup(group int, id string) (bool, error) {
	primaryIdx := ix.primaryBlockOfGroup[group]
	primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
	if err != nil {
		return false, err
	}
	if primaryBlock.DeleteByID(id) {
		if err := ix.primaryFile.WriteBlock(primaryIdx, primaryBlock); err != nil {
			return false, err
		}
		return true, nil
	}

	current := ix.firstOverflowOfGroup[group]
	prev := noOverflow

	for current != noOverflow {
		ovBlock, err := ix.overflowFile.ReadBlock(current)
		if err != nil {
			return false, err
		}
		if ovBlock.DeleteByID(id) {
			if err := ix.overflowFile.WriteBlock(current, ovBlock); err != nil {
				return false, err
			}
			if ovBlock.IsEmpty() {
				next := ix.getOverflowNext(current)
				if prev == noOverflow {
					ix.firstOverflowOfGroup[group] = next
				} else {
					ix.setOverflowNext(prev, next)
				}
				ix.setOverflowNext(current, noOverflow)
			}
			return true, nil
		}
		prev = current
		current = ix.getOverflowNext(current)
	}

	return false, nil
}

// Close persists meta and releases both heap files. Further operations on a
// closed index are programmer errors.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true

	if err := ix.saveMeta(); err != nil {
		return err
	}
	if err := ix.primaryFile.Close(); err != nil {
		return err
	}
	return ix.overflowFile.Close()
}

// newEmptyBlockLike is a tiny helper so split/merge code can construct a
// fresh zero-valued block for a given (capacity, recordSize) without
// re-deriving those parameters at every call site.
func newEmptyBlockLike(capacity, recordSize int, factory record.Factory) *block.Block {
	return block.New(capacity, recordSize, factory)
}
