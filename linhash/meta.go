package linhash

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

const (
	metaMagic   uint32 = 0x4c483231 // "LH21"
	metaVersion uint32 = 1
)

// saveMeta writes the full linear-hash directory to the meta file: magic,
// version, construction parameters, the level/split-pointer/group-count/
// total-records quadruple, and the three directory arrays. It is written on
// every mutating operation and on close, and is the final write of any
// mutation so a crash between structural and meta writes leaves the prior
// meta in place at next open.
func (ix *Index) saveMeta() error {
	buf := make([]byte, 0, 64+8*len(ix.primaryBlockOfGroup)+8*len(ix.firstOverflowOfGroup)+4*len(ix.overflowNext))

	var tmp [8]byte

	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(tmp[:4], v)
		buf = append(buf, tmp[:4]...)
	}
	putI32 := func(v int) {
		putU32(uint32(int32(v)))
	}
	putF64 := func(v float64) {
		binary.BigEndian.PutUint64(tmp[:8], math.Float64bits(v))
		buf = append(buf, tmp[:8]...)
	}
	putU64 := func(v uint64) {
		binary.BigEndian.PutUint64(tmp[:8], v)
		buf = append(buf, tmp[:8]...)
	}

	putU32(metaMagic)
	putU32(metaVersion)

	putI32(ix.initialGroupCount)
	putF64(ix.dMax)
	putF64(ix.dMin)

	putI32(ix.level)
	putI32(ix.splitPtr)
	putI32(ix.groupCount)
	putU64(uint64(ix.totalRecords))

	putI32(len(ix.primaryBlockOfGroup))
	for _, v := range ix.primaryBlockOfGroup {
		putI32(v)
	}

	putI32(len(ix.firstOverflowOfGroup))
	for _, v := range ix.firstOverflowOfGroup {
		putI32(v)
	}

	putI32(len(ix.overflowNext))
	for _, v := range ix.overflowNext {
		putI32(v)
	}

	return os.WriteFile(ix.metaPath, buf, 0o644)
}

// loadMeta reads back what saveMeta wrote, validating magic/version and the
// construction-time M against what this process was opened with. Any
// mismatch is fatal: the structure refuses to open rather than guess.
func (ix *Index) loadMeta() error {
	data, err := os.ReadFile(ix.metaPath)
	if err != nil {
		return fmt.Errorf("linhash: reading meta file: %w", err)
	}

	r := &metaReader{buf: data}

	magic := r.u32()
	if magic != metaMagic {
		return CorruptMeta{Reason: "bad magic"}
	}
	version := r.u32()
	if version != metaVersion {
		return CorruptMeta{Reason: fmt.Sprintf("unsupported version %d", version)}
	}

	metaM := r.i32()
	if metaM != ix.initialGroupCount {
		return CorruptMeta{Reason: "initial_group_count mismatch"}
	}
	r.f64() // d_max, stored for reference, not enforced against construction args
	r.f64() // d_min

	ix.level = r.i32()
	ix.splitPtr = r.i32()
	ix.groupCount = r.i32()
	ix.totalRecords = int64(r.u64())

	pLen := r.i32()
	ix.primaryBlockOfGroup = make([]int, pLen)
	for i := range ix.primaryBlockOfGroup {
		ix.primaryBlockOfGroup[i] = r.i32()
	}

	fLen := r.i32()
	ix.firstOverflowOfGroup = make([]int, fLen)
	for i := range ix.firstOverflowOfGroup {
		ix.firstOverflowOfGroup[i] = r.i32()
	}

	oLen := r.i32()
	ix.overflowNext = make([]int, oLen)
	for i := range ix.overflowNext {
		ix.overflowNext[i] = r.i32()
	}

	if r.err != nil {
		return CorruptMeta{Reason: r.err.Error()}
	}
	if pLen != fLen {
		return CorruptMeta{Reason: "primary/overflow-directory length mismatch"}
	}

	return nil
}

// metaReader sequentially decodes the fixed fields of the meta file,
// recording the first short-read as a sticky error so callers can check it
// once at the end instead of after every field.
type metaReader struct {
	buf []byte
	pos int
	err error
}

func (r *metaReader) need(n int) []byte {
	if r.err != nil || r.pos+n > len(r.buf) {
		if r.err == nil {
			r.err = fmt.Errorf("linhash: meta file truncated at offset %d", r.pos)
		}
		return make([]byte, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *metaReader) u32() uint32 { return binary.BigEndian.Uint32(r.need(4)) }
func (r *metaReader) i32() int    { return int(int32(r.u32())) }
func (r *metaReader) u64() uint64 { return binary.BigEndian.Uint64(r.need(8)) }
func (r *metaReader) f64() float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(r.need(8)))
}
