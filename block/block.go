// Package block implements the fixed-capacity slotted block that both the
// heap file and the linear-hash index's primary/overflow files use as their
// unit of disk I/O.
package block

import (
	"encoding/binary"
	"fmt"

	"pcrlinhash/record"
)

const (
	validCountBytes = 4
	flagBytes       = 1

	flagEmpty    = 0
	flagOccupied = 1
)

// Block is one fixed-capacity slotted page: a valid-record count followed by
// capacity slots, each a one-byte occupied flag plus recordSize bytes of
// record payload (zero bytes when the slot is empty).
type Block struct {
	capacity   int
	recordSize int
	factory    record.Factory

	validCount int
	records    []record.Record // nil entry means an empty slot
}

// New returns an empty block with the given capacity and per-record size.
// factory is used to materialize records while decoding.
func New(capacity, recordSize int, factory record.Factory) *Block {
	if capacity <= 0 {
		panic("block: capacity must be positive")
	}
	return &Block{
		capacity:   capacity,
		recordSize: recordSize,
		factory:    factory,
		records:    make([]record.Record, capacity),
	}
}

// ByteSize returns the fixed on-disk size of a block with this capacity and
// record size: 4 + capacity*(1+recordSize).
func ByteSize(capacity, recordSize int) int {
	return validCountBytes + capacity*(flagBytes+recordSize)
}

func (b *Block) Capacity() int    { return b.capacity }
func (b *Block) ValidCount() int  { return b.validCount }
func (b *Block) IsFull() bool     { return b.validCount >= b.capacity }
func (b *Block) IsEmpty() bool    { return b.validCount == 0 }

// Insert places rec into the first free slot and returns its index, or -1 if
// the block is full.
func (b *Block) Insert(rec record.Record) int {
	if rec == nil {
		panic("block: inserted record cannot be nil")
	}
	if b.IsFull() {
		return -1
	}
	for i := 0; i < b.capacity; i++ {
		if b.records[i] == nil {
			b.records[i] = rec
			b.validCount++
			return i
		}
	}
	return -1
}

// Get returns the record at slotIndex, or nil if the slot is empty.
// slotIndex out of [0, capacity) is a programmer error.
func (b *Block) Get(slotIndex int) record.Record {
	b.checkSlot(slotIndex)
	return b.records[slotIndex]
}

// Delete clears the slot at slotIndex and reports whether it held a record.
// slotIndex out of [0, capacity) is a programmer error.
func (b *Block) Delete(slotIndex int) bool {
	b.checkSlot(slotIndex)
	if b.records[slotIndex] != nil {
		b.records[slotIndex] = nil
		b.validCount--
		return true
	}
	return false
}

// FindByID performs a sequential scan for the first record whose Key matches
// id, returning its slot index and the record, or (-1, nil).
func (b *Block) FindByID(id string) (int, record.Record) {
	for i := 0; i < b.capacity; i++ {
		if r := b.records[i]; r != nil && r.Key() == id {
			return i, r
		}
	}
	return -1, nil
}

// DeleteByID deletes the first record whose Key matches id, reporting
// whether anything was removed.
func (b *Block) DeleteByID(id string) bool {
	i, _ := b.FindByID(id)
	if i < 0 {
		return false
	}
	b.records[i] = nil
	b.validCount--
	return true
}

func (b *Block) checkSlot(slotIndex int) {
	if slotIndex < 0 || slotIndex >= b.capacity {
		panic(fmt.Sprintf("block: slotIndex out of range: %d", slotIndex))
	}
}

// ToBytes serializes the block to its canonical disk image: a 4-byte
// validCount followed by capacity slots of (1-byte flag + recordSize bytes).
func (b *Block) ToBytes() []byte {
	buf := make([]byte, ByteSize(b.capacity, b.recordSize))

	binary.BigEndian.PutUint32(buf[0:validCountBytes], uint32(b.validCount))

	pos := validCountBytes
	slotSize := flagBytes + b.recordSize
	for i := 0; i < b.capacity; i++ {
		slot := buf[pos : pos+slotSize]
		if rec := b.records[i]; rec != nil {
			slot[0] = flagOccupied
			data := rec.Encode()
			if len(data) != b.recordSize {
				panic(fmt.Sprintf("block: record encoded size %d != recordSize %d", len(data), b.recordSize))
			}
			copy(slot[flagBytes:], data)
		} else {
			slot[0] = flagEmpty
		}
		pos += slotSize
	}

	return buf
}

// FromBytes replaces the block's contents by decoding buf, which must be
// exactly ByteSize(capacity, recordSize) bytes.
func (b *Block) FromBytes(buf []byte) error {
	want := ByteSize(b.capacity, b.recordSize)
	if len(buf) != want {
		return fmt.Errorf("block: wrong buffer length %d, want %d", len(buf), want)
	}

	headerCount := int(binary.BigEndian.Uint32(buf[0:validCountBytes]))

	pos := validCountBytes
	slotSize := flagBytes + b.recordSize
	occupied := 0
	for i := 0; i < b.capacity; i++ {
		slot := buf[pos : pos+slotSize]
		if slot[0] == flagOccupied {
			rec := b.factory()
			if err := rec.Decode(slot[flagBytes:]); err != nil {
				return fmt.Errorf("block: decoding slot %d: %w", i, err)
			}
			b.records[i] = rec
			occupied++
		} else {
			b.records[i] = nil
		}
		pos += slotSize
	}

	// The header's valid_count is trusted only when it agrees with the
	// occupied flags just decoded; a mismatched header is a sign of
	// corruption and is clamped to the count actually observed rather than
	// propagated, so best-effort callers recover instead of being poisoned.
	if headerCount == occupied {
		b.validCount = headerCount
	} else {
		b.validCount = occupied
	}

	return nil
}
