package record

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Field widths for PCRTest, mirroring aus2_sem2.model.PCRTestRecord:
// S = 1+16 + 1+10 + 4 + 1 + 8 + 1+11 = 53.
const (
	PCRTestDateTimeLen  = 16
	PCRTestPatientIDLen = 10
	PCRTestNoteLen      = 11

	pcrTestSize = 1 + PCRTestDateTimeLen +
		1 + PCRTestPatientIDLen +
		4 + // TestCode int32
		1 + // Result bool
		8 + // Value float64
		1 + PCRTestNoteLen
)

// PCRTest is a single PCR test result tied to a patient by ID.
type PCRTest struct {
	DateTime  string
	PatientID string
	TestCode  int32
	Result    bool
	Value     float64
	Note      string
}

// NewPCRTest returns a zero-valued PCRTest, suitable as a record.Factory.
func NewPCRTest() Record {
	return &PCRTest{}
}

func (t *PCRTest) Size() int {
	return pcrTestSize
}

func (t *PCRTest) Key() string {
	return t.PatientID
}

func (t *PCRTest) Encode() []byte {
	buf := make([]byte, pcrTestSize)
	pos := 0

	putFixedString(buf[pos:pos+1+PCRTestDateTimeLen], t.DateTime, PCRTestDateTimeLen)
	pos += 1 + PCRTestDateTimeLen

	putFixedString(buf[pos:pos+1+PCRTestPatientIDLen], t.PatientID, PCRTestPatientIDLen)
	pos += 1 + PCRTestPatientIDLen

	binary.BigEndian.PutUint32(buf[pos:pos+4], uint32(t.TestCode))
	pos += 4

	if t.Result {
		buf[pos] = 1
	} else {
		buf[pos] = 0
	}
	pos++

	binary.BigEndian.PutUint64(buf[pos:pos+8], math.Float64bits(t.Value))
	pos += 8

	putFixedString(buf[pos:pos+1+PCRTestNoteLen], t.Note, PCRTestNoteLen)

	return buf
}

func (t *PCRTest) Decode(buf []byte) error {
	if len(buf) != pcrTestSize {
		return fmt.Errorf("pcrtest: wrong buffer length %d, want %d", len(buf), pcrTestSize)
	}
	pos := 0

	t.DateTime = getFixedString(buf[pos:pos+1+PCRTestDateTimeLen], PCRTestDateTimeLen)
	pos += 1 + PCRTestDateTimeLen

	t.PatientID = getFixedString(buf[pos:pos+1+PCRTestPatientIDLen], PCRTestPatientIDLen)
	pos += 1 + PCRTestPatientIDLen

	t.TestCode = int32(binary.BigEndian.Uint32(buf[pos : pos+4]))
	pos += 4

	t.Result = buf[pos] != 0
	pos++

	t.Value = math.Float64frombits(binary.BigEndian.Uint64(buf[pos : pos+8]))
	pos += 8

	t.Note = getFixedString(buf[pos:pos+1+PCRTestNoteLen], PCRTestNoteLen)

	return nil
}
