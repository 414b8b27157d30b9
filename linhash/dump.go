package linhash

import (
	"fmt"
	"strings"

	"pcrlinhash/record"
)

// GroupDump is one group's contents as seen by DumpStructure: its primary
// block's live records followed by its chain blocks in order.
type GroupDump struct {
	Group        int
	PrimaryBlock []record.Record
	ChainBlocks  [][]record.Record
}

// Dump is a machine-readable structural snapshot of a linear-hash index.
type Dump struct {
	InitialGroupCount  int
	Level              int
	SplitPointer       int
	GroupCount         int
	TotalRecords       int64
	PrimaryBlockCount  int
	OverflowBlockCount int
	Groups             []GroupDump
}

// String renders a human-readable structural snapshot: a header line with
// the directory's construction parameters and counters, then per group its
// primary and chain contents by key.
func (d Dump) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "M=%d u=%d s=%d G=%d total=%d primary_blocks=%d overflow_blocks=%d\n",
		d.InitialGroupCount, d.Level, d.SplitPointer, d.GroupCount, d.TotalRecords,
		d.PrimaryBlockCount, d.OverflowBlockCount)
	for _, g := range d.Groups {
		fmt.Fprintf(&sb, "group %d primary=%v\n", g.Group, keysOf(g.PrimaryBlock))
		for i, c := range g.ChainBlocks {
			fmt.Fprintf(&sb, "  chain[%d]=%v\n", i, keysOf(c))
		}
	}
	return sb.String()
}

func keysOf(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Key()
	}
	return out
}

// DumpStructure walks the directory and both heap files to produce a full
// structural snapshot, for debugging and for tests that assert on structure
// rather than parsing text.
func (ix *Index) DumpStructure() (Dump, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.checkOpen()

	d := Dump{
		InitialGroupCount:  ix.initialGroupCount,
		Level:              ix.level,
		SplitPointer:       ix.splitPtr,
		GroupCount:         ix.groupCount,
		TotalRecords:       ix.totalRecords,
		PrimaryBlockCount:  ix.primaryFile.BlockCount(),
		OverflowBlockCount: ix.overflowFile.BlockCount(),
	}

	for g := 0; g < ix.groupCount; g++ {
		primaryIdx := ix.primaryBlockOfGroup[g]
		primaryBlock, err := ix.primaryFile.ReadBlock(primaryIdx)
		if err != nil {
			return Dump{}, err
		}
		gd := GroupDump{Group: g, PrimaryBlock: liveRecordsOf(primaryBlock)}

		current := ix.firstOverflowOfGroup[g]
		for current != noOverflow {
			ovBlock, err := ix.overflowFile.ReadBlock(current)
			if err != nil {
				return Dump{}, err
			}
			gd.ChainBlocks = append(gd.ChainBlocks, liveRecordsOf(ovBlock))
			current = ix.getOverflowNext(current)
		}
		d.Groups = append(d.Groups, gd)
	}

	return d, nil
}
