package heap

// Address identifies a single record slot within a heap file: a block index
// in the high 32 bits and a slot index in the low 32 bits.
type Address uint64

// NoAddress is returned where no address applies (e.g. insert_unique against
// a duplicate key).
const NoAddress Address = 0xffffffffffffffff

// NewAddress packs a block index and slot index into an Address.
func NewAddress(blockIndex, slotIndex int) Address {
	return Address(uint64(uint32(blockIndex))<<32 | uint64(uint32(slotIndex)))
}

// BlockIndex extracts the high 32 bits.
func (a Address) BlockIndex() int {
	return int(int32(uint32(a >> 32)))
}

// SlotIndex extracts the low 32 bits.
func (a Address) SlotIndex() int {
	return int(int32(uint32(a)))
}
