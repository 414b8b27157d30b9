package heap

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pcrlinhash/record"
)

func truncateToMisalign(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	info, err := f.Stat()
	require.NoError(t, err)
	require.NoError(t, f.Truncate(info.Size()+1))
}

func openTestHeap(t *testing.T, clusterSize int) *HeapFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "heap.dat")
	h, err := Open(path, clusterSize, record.NewPatient)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func patientWithID(id string) record.Record {
	return &record.Patient{GivenName: "G", FamilyName: "F", Date: "01:01:2020", ID: id}
}

// invariant 2: address stability until delete or tail-shrink.
func TestAddressStableUntilDelete(t *testing.T) {
	h := openTestHeap(t, 256)

	addr, err := h.Insert(patientWithID("P1"))
	require.NoError(t, err)

	got, err := h.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, "P1", got.Key())

	ok, err := h.Delete(addr)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = h.Get(addr)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// invariant 3: total_valid_records == |all_addresses| == sum of block valid counts.
func TestCountConsistency(t *testing.T) {
	h := openTestHeap(t, 256)

	var addrs []Address
	for i := 0; i < 30; i++ {
		addr, err := h.Insert(patientWithID(fmt.Sprintf("P%03d", i)))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	all, err := h.AllAddresses()
	require.NoError(t, err)
	assert.Len(t, all, h.TotalValidRecords())
	assert.Equal(t, 30, h.TotalValidRecords())

	for i := 0; i < 10; i++ {
		ok, err := h.Delete(addrs[i])
		require.NoError(t, err)
		assert.True(t, ok)
	}

	all, err = h.AllAddresses()
	require.NoError(t, err)
	assert.Len(t, all, h.TotalValidRecords())
	assert.Equal(t, 20, h.TotalValidRecords())
}

// invariant 8 / scenario S6: tail shrink after delete.
func TestHeapShrinkScenarioS6(t *testing.T) {
	h := openTestHeap(t, 256)

	var addrs []Address
	for i := 0; i < 50; i++ {
		addr, err := h.Insert(patientWithID(fmt.Sprintf("P%03d", i)))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}

	prevCount := h.BlockCount()
	for i := len(addrs) - 1; i >= 0; i-- {
		ok, err := h.Delete(addrs[i])
		require.NoError(t, err)
		assert.True(t, ok)

		count := h.BlockCount()
		assert.LessOrEqual(t, count, prevCount)
		prevCount = count
	}

	assert.Equal(t, 0, h.TotalValidRecords())
	assert.LessOrEqual(t, h.BlockCount(), 1)
}

func TestInsertReusesPartialAndFreeBlocks(t *testing.T) {
	h := openTestHeap(t, 256)

	capacity := h.Capacity()
	var addrs []Address
	for i := 0; i < capacity*2; i++ {
		addr, err := h.Insert(patientWithID(fmt.Sprintf("P%03d", i)))
		require.NoError(t, err)
		addrs = append(addrs, addr)
	}
	assert.Equal(t, 2, h.BlockCount())

	// Empty the first block entirely; it becomes free, not truncated (not a tail block).
	for i := 0; i < capacity; i++ {
		ok, err := h.Delete(addrs[i])
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 2, h.BlockCount())

	// A fresh insert should reuse the freed block rather than appending.
	addr, err := h.Insert(patientWithID("PNEW"))
	require.NoError(t, err)
	assert.Equal(t, 0, addr.BlockIndex())
	assert.Equal(t, 2, h.BlockCount())
}

func TestInsertUniqueRejectsDuplicateKey(t *testing.T) {
	h := openTestHeap(t, 256)

	_, ok, err := h.InsertUnique(patientWithID("P1"))
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = h.InsertUnique(patientWithID("P1"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, h.TotalValidRecords())
}

func TestExistsID(t *testing.T) {
	h := openTestHeap(t, 256)

	_, err := h.Insert(patientWithID("P1"))
	require.NoError(t, err)

	exists, err := h.ExistsID("P1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = h.ExistsID("NOPE")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetDeleteOutOfRangeAddressIsGraceful(t *testing.T) {
	h := openTestHeap(t, 256)

	rec, err := h.Get(NewAddress(999, 0))
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err := h.Delete(NewAddress(999, 0))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenStrictRejectsMisalignedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heap.dat")

	h, err := Open(path, 256, record.NewPatient)
	require.NoError(t, err)
	_, err = h.Insert(patientWithID("P1"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// Corrupt the file length so it is no longer a multiple of the block size.
	truncateToMisalign(t, path)

	_, err = OpenStrict(path, 256, record.NewPatient)
	assert.Error(t, err)
	var mis Misaligned
	assert.ErrorAs(t, err, &mis)
}

func TestAllocateEmptyBlockNeverReusesFreeBlocks(t *testing.T) {
	h := openTestHeap(t, 256)

	addr, err := h.Insert(patientWithID("P1"))
	require.NoError(t, err)
	ok, err := h.Delete(addr)
	require.NoError(t, err)
	assert.True(t, ok)

	// After the only record is deleted the file keeps one empty block (block
	// 0, now on the free list); appending must not hand back block 0 as a
	// "free" block from that list.
	idx, err := h.AllocateEmptyBlock()
	require.NoError(t, err)
	assert.Equal(t, h.BlockCount()-1, idx)
}
