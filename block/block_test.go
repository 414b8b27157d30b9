package block

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pcrlinhash/record"
)

func newTestBlock(capacity int) *Block {
	return New(capacity, record.NewPatient().Size(), record.NewPatient)
}

func samplePatient(id string) record.Record {
	return &record.Patient{GivenName: "Jana", FamilyName: "Novakova", Date: "01:02:2020", ID: id}
}

func TestBlockInsertAndGet(t *testing.T) {
	b := newTestBlock(3)
	assert.True(t, b.IsEmpty())

	slot := b.Insert(samplePatient("P1"))
	assert.Equal(t, 0, slot)
	assert.Equal(t, 1, b.ValidCount())

	got := b.Get(slot)
	assert.Equal(t, "P1", got.Key())
}

func TestBlockFillsAndRejectsOverflow(t *testing.T) {
	b := newTestBlock(2)
	assert.Equal(t, 0, b.Insert(samplePatient("P1")))
	assert.Equal(t, 1, b.Insert(samplePatient("P2")))
	assert.True(t, b.IsFull())
	assert.Equal(t, -1, b.Insert(samplePatient("P3")))
}

func TestBlockDeleteBySlot(t *testing.T) {
	b := newTestBlock(2)
	slot := b.Insert(samplePatient("P1"))

	assert.True(t, b.Delete(slot))
	assert.False(t, b.Delete(slot))
	assert.True(t, b.IsEmpty())
}

func TestBlockFindAndDeleteByID(t *testing.T) {
	b := newTestBlock(4)
	b.Insert(samplePatient("P1"))
	b.Insert(samplePatient("P2"))
	b.Insert(samplePatient("P3"))

	idx, rec := b.FindByID("P2")
	assert.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "P2", rec.Key())

	assert.True(t, b.DeleteByID("P2"))
	assert.False(t, b.DeleteByID("P2"))

	idx, rec = b.FindByID("P2")
	assert.Equal(t, -1, idx)
	assert.Nil(t, rec)
}

func TestBlockSlotOutOfRangePanics(t *testing.T) {
	b := newTestBlock(2)
	assert.Panics(t, func() { b.Get(5) })
	assert.Panics(t, func() { b.Get(-1) })
	assert.Panics(t, func() { b.Delete(5) })
}

func TestBlockRoundTripBytes(t *testing.T) {
	b := newTestBlock(3)
	b.Insert(samplePatient("P1"))
	b.Insert(samplePatient("P2"))

	buf := b.ToBytes()
	assert.Len(t, buf, ByteSize(3, record.NewPatient().Size()))

	out := newTestBlock(3)
	assert.NoError(t, out.FromBytes(buf))
	assert.Equal(t, b.ValidCount(), out.ValidCount())

	_, rec := out.FindByID("P1")
	assert.NotNil(t, rec)
	_, rec = out.FindByID("P2")
	assert.NotNil(t, rec)
}

func TestBlockFromBytesWrongLength(t *testing.T) {
	b := newTestBlock(3)
	err := b.FromBytes(make([]byte, 4))
	assert.Error(t, err)
}

func TestBlockEmptySlotsStayNilAfterRoundTrip(t *testing.T) {
	b := newTestBlock(3)
	b.Insert(samplePatient("P1"))

	buf := b.ToBytes()
	out := newTestBlock(3)
	assert.NoError(t, out.FromBytes(buf))

	assert.Equal(t, 1, out.ValidCount())
	count := 0
	for i := 0; i < 3; i++ {
		if out.Get(i) != nil {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
