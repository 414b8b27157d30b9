// Package heap implements the fixed-block heap file: a sequence of
// block.Block-shaped pages on one os.File, with in-memory free/partial block
// lists rebuilt from disk at open and kept consistent on every mutation.
package heap

import (
	"fmt"
	"os"
	"sync"

	"pcrlinhash/block"
	"pcrlinhash/record"
)

// HeapFile is a single file of fixed-size blocks storing one record type.
// All exported operations are serialized by an internal mutex, mirroring the
// original's per-instance exclusive locking.
type HeapFile struct {
	mu sync.Mutex

	file       *os.File
	capacity   int // records per block, C
	recordSize int // S
	blockSize  int // B = 4 + C*(1+S)
	factory    record.Factory

	blockCount        int
	freeBlocks        []int
	partialBlocks     []int
	totalValidRecords int

	closed bool
}

// Open opens or creates a heap file, truncating its length down to the
// nearest multiple of the block size if it is misaligned ("legacy" open).
func Open(path string, clusterSize int, factory record.Factory) (*HeapFile, error) {
	return open(path, clusterSize, factory, false)
}

// OpenStrict opens or creates a heap file, refusing to open (returning a
// Misaligned error) if its length is not an exact multiple of the block
// size. Used by the linear-hash index for both of its heap files.
func OpenStrict(path string, clusterSize int, factory record.Factory) (*HeapFile, error) {
	return open(path, clusterSize, factory, true)
}

func open(path string, clusterSize int, factory record.Factory, strict bool) (*HeapFile, error) {
	if factory == nil {
		panic("heap: factory must not be nil")
	}
	recordSize := factory().Size()
	if recordSize <= 0 {
		panic("heap: record size must be positive")
	}

	capacity := (clusterSize - 4) / (1 + recordSize)
	if capacity <= 0 {
		panic(fmt.Sprintf("heap: cluster too small for one record: cluster=%d recordSize=%d", clusterSize, recordSize))
	}
	blockSize := block.ByteSize(capacity, recordSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("heap: opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("heap: stat %s: %w", path, err)
	}

	length := info.Size()
	if length%int64(blockSize) != 0 {
		if strict {
			f.Close()
			return nil, Misaligned{Length: length, BlockSize: int64(blockSize)}
		}
		truncated := (length / int64(blockSize)) * int64(blockSize)
		if err := f.Truncate(truncated); err != nil {
			f.Close()
			return nil, fmt.Errorf("heap: truncating misaligned file %s: %w", path, err)
		}
		length = truncated
	}

	h := &HeapFile{
		file:       f,
		capacity:   capacity,
		recordSize: recordSize,
		blockSize:  blockSize,
		factory:    factory,
		blockCount: int(length / int64(blockSize)),
	}
	if h.blockCount > 0 {
		if err := h.rebuildFreeLists(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return h, nil
}

// Capacity returns the number of record slots per block.
func (h *HeapFile) Capacity() int { return h.capacity }

// RecordSize returns the fixed per-record encoded size.
func (h *HeapFile) RecordSize() int { return h.recordSize }

// BlockCount returns the number of blocks currently in the file.
func (h *HeapFile) BlockCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blockCount
}

// TotalValidRecords returns the sum of every block's valid_count.
func (h *HeapFile) TotalValidRecords() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.totalValidRecords
}

func (h *HeapFile) checkOpen() {
	if h.closed {
		panic("heap: operation on a closed heap file")
	}
}

func (h *HeapFile) blockOffset(blockIndex int) int64 {
	return int64(blockIndex) * int64(h.blockSize)
}

func (h *HeapFile) readBlockInternal(blockIndex int) (*block.Block, error) {
	if blockIndex < 0 || blockIndex >= h.blockCount {
		panic(fmt.Sprintf("heap: block index out of range: %d", blockIndex))
	}
	buf := make([]byte, h.blockSize)
	if _, err := h.file.ReadAt(buf, h.blockOffset(blockIndex)); err != nil {
		return nil, fmt.Errorf("heap: reading block %d: %w", blockIndex, err)
	}
	b := block.New(h.capacity, h.recordSize, h.factory)
	if err := b.FromBytes(buf); err != nil {
		return nil, fmt.Errorf("heap: decoding block %d: %w", blockIndex, err)
	}
	return b, nil
}

func (h *HeapFile) writeBlockInternal(blockIndex int, b *block.Block) error {
	buf := b.ToBytes()
	if len(buf) != h.blockSize {
		panic(fmt.Sprintf("heap: block serialized size %d != blockSize %d", len(buf), h.blockSize))
	}
	if _, err := h.file.WriteAt(buf, h.blockOffset(blockIndex)); err != nil {
		return fmt.Errorf("heap: writing block %d: %w", blockIndex, err)
	}
	return nil
}

func (h *HeapFile) appendEmptyBlockInternal() (int, error) {
	idx := h.blockCount
	b := block.New(h.capacity, h.recordSize, h.factory)
	if err := h.writeBlockInternal(idx, b); err != nil {
		return 0, err
	}
	h.blockCount++
	h.freeBlocks = append(h.freeBlocks, idx)
	return idx, nil
}

func (h *HeapFile) rebuildFreeLists() error {
	h.freeBlocks = h.freeBlocks[:0]
	h.partialBlocks = h.partialBlocks[:0]
	h.totalValidRecords = 0

	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockInternal(i)
		if err != nil {
			return err
		}
		h.totalValidRecords += b.ValidCount()
		switch {
		case b.IsEmpty():
			h.freeBlocks = append(h.freeBlocks, i)
		case !b.IsFull():
			h.partialBlocks = append(h.partialBlocks, i)
		}
	}
	return nil
}

func (h *HeapFile) updateBlockStateLists(blockIndex int, b *block.Block) {
	h.freeBlocks = removeInt(h.freeBlocks, blockIndex)
	h.partialBlocks = removeInt(h.partialBlocks, blockIndex)

	switch {
	case b.IsEmpty():
		h.freeBlocks = append(h.freeBlocks, blockIndex)
	case !b.IsFull():
		h.partialBlocks = append(h.partialBlocks, blockIndex)
	}
}

// ReadBlock reads the block at blockIndex. Used directly by the linear-hash
// index to manage its own primary/overflow blocks.
func (h *HeapFile) ReadBlock(blockIndex int) (*block.Block, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	return h.readBlockInternal(blockIndex)
}

// WriteBlock writes b to blockIndex and updates the free/partial lists.
func (h *HeapFile) WriteBlock(blockIndex int, b *block.Block) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	if err := h.writeBlockInternal(blockIndex, b); err != nil {
		return err
	}
	h.updateBlockStateLists(blockIndex, b)
	return nil
}

// AllocateEmptyBlock always appends a new empty block at the end of the
// file and never returns an entry from free_blocks. This is the allocator
// the linear-hash index must use for primary/overflow blocks so that a
// temporarily empty group primary is never handed to another group.
func (h *HeapFile) AllocateEmptyBlock() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	return h.appendEmptyBlockInternal()
}

// Insert places r into the first partial block if any, else the first free
// block, else a freshly appended block, and returns its address. This is
// the heap file's own allocator — it may reuse free_blocks, unlike
// AllocateEmptyBlock.
func (h *HeapFile) Insert(r record.Record) (Address, error) {
	if r == nil {
		panic("heap: inserted record cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	return h.insertLocked(r)
}

func (h *HeapFile) insertLocked(r record.Record) (Address, error) {
	var blockIndex int
	var err error

	switch {
	case len(h.partialBlocks) > 0:
		blockIndex = h.partialBlocks[0]
	case len(h.freeBlocks) > 0:
		blockIndex = h.freeBlocks[0]
	default:
		blockIndex, err = h.appendEmptyBlockInternal()
		if err != nil {
			return NoAddress, err
		}
	}

	b, err := h.readBlockInternal(blockIndex)
	if err != nil {
		return NoAddress, err
	}
	slot := b.Insert(r)
	if slot < 0 {
		// Should not happen: partial/free lists said otherwise.
		blockIndex, err = h.appendEmptyBlockInternal()
		if err != nil {
			return NoAddress, err
		}
		b, err = h.readBlockInternal(blockIndex)
		if err != nil {
			return NoAddress, err
		}
		slot = b.Insert(r)
		if slot < 0 {
			panic("heap: cannot insert record even into a freshly allocated block")
		}
	}

	if err := h.writeBlockInternal(blockIndex, b); err != nil {
		return NoAddress, err
	}
	h.updateBlockStateLists(blockIndex, b)
	h.totalValidRecords++

	return NewAddress(blockIndex, slot), nil
}

// InsertUnique behaves like Insert unless a record with the same key already
// exists anywhere in the file, in which case it performs no write and
// reports ok=false.
func (h *HeapFile) InsertUnique(r record.Record) (addr Address, ok bool, err error) {
	if r == nil {
		panic("heap: inserted record cannot be nil")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()

	exists, err := h.existsIDLocked(r.Key())
	if err != nil {
		return NoAddress, false, err
	}
	if exists {
		return NoAddress, false, nil
	}

	addr, err = h.insertLocked(r)
	if err != nil {
		return NoAddress, false, err
	}
	return addr, true, nil
}

// Get returns the record at addr, or nil if the slot is empty or the
// address is out of range.
func (h *HeapFile) Get(addr Address) (record.Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()

	blockIndex, slotIndex := addr.BlockIndex(), addr.SlotIndex()
	if blockIndex < 0 || blockIndex >= h.blockCount {
		return nil, nil
	}
	if slotIndex < 0 || slotIndex >= h.capacity {
		return nil, nil
	}

	b, err := h.readBlockInternal(blockIndex)
	if err != nil {
		return nil, err
	}
	return b.Get(slotIndex), nil
}

// Delete removes the record at addr, reporting whether it was present.
// Removing the last record of the trailing blocks shrinks the file.
func (h *HeapFile) Delete(addr Address) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()

	blockIndex, slotIndex := addr.BlockIndex(), addr.SlotIndex()
	if blockIndex < 0 || blockIndex >= h.blockCount {
		return false, nil
	}
	if slotIndex < 0 || slotIndex >= h.capacity {
		return false, nil
	}

	b, err := h.readBlockInternal(blockIndex)
	if err != nil {
		return false, err
	}
	if !b.Delete(slotIndex) {
		return false, nil
	}

	if err := h.writeBlockInternal(blockIndex, b); err != nil {
		return false, err
	}
	h.updateBlockStateLists(blockIndex, b)
	h.totalValidRecords--

	if err := h.shrinkEmptyTailLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// ExistsID reports whether any record with the given key exists anywhere in
// the file, via a linear scan.
func (h *HeapFile) ExistsID(id string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	return h.existsIDLocked(id)
}

func (h *HeapFile) existsIDLocked(id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockInternal(i)
		if err != nil {
			return false, err
		}
		if _, rec := b.FindByID(id); rec != nil {
			return true, nil
		}
	}
	return false, nil
}

// AllAddresses returns the addresses of every live record, in block then
// slot order.
func (h *HeapFile) AllAddresses() ([]Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()

	var addrs []Address
	for i := 0; i < h.blockCount; i++ {
		b, err := h.readBlockInternal(i)
		if err != nil {
			return nil, err
		}
		for s := 0; s < h.capacity; s++ {
			if b.Get(s) != nil {
				addrs = append(addrs, NewAddress(i, s))
			}
		}
	}
	return addrs, nil
}

// ShrinkEmptyTail truncates the maximal run of trailing empty blocks,
// keeping at least one block if all are empty.
func (h *HeapFile) ShrinkEmptyTail() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkOpen()
	return h.shrinkEmptyTailLocked()
}

func (h *HeapFile) shrinkEmptyTailLocked() error {
	if h.blockCount == 0 {
		return nil
	}

	lastNonEmpty := -1
	for i := h.blockCount - 1; i >= 0; i-- {
		b, err := h.readBlockInternal(i)
		if err != nil {
			return err
		}
		if !b.IsEmpty() {
			lastNonEmpty = i
			break
		}
	}

	if lastNonEmpty == h.blockCount-1 {
		return nil
	}

	newBlockCount := lastNonEmpty + 1
	if newBlockCount == 0 {
		newBlockCount = 1
	}
	if newBlockCount == h.blockCount {
		return nil
	}

	if err := h.file.Truncate(int64(newBlockCount) * int64(h.blockSize)); err != nil {
		return fmt.Errorf("heap: truncating tail: %w", err)
	}

	h.freeBlocks = filterBelow(h.freeBlocks, newBlockCount)
	h.partialBlocks = filterBelow(h.partialBlocks, newBlockCount)
	h.blockCount = newBlockCount

	return nil
}

// Close releases the underlying file handle. Further operations on a closed
// heap file are programmer errors.
func (h *HeapFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.file.Close()
}

func removeInt(s []int, v int) []int {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func filterBelow(s []int, limit int) []int {
	out := s[:0]
	for _, x := range s {
		if x < limit {
			out = append(out, x)
		}
	}
	return out
}
