package record

import "fmt"

// Field widths for Patient, per the worked example: S = 1+15 + 1+14 + 1+10 + 1+10 = 53.
const (
	PatientGivenNameLen  = 15
	PatientFamilyNameLen = 14
	PatientDateLen       = 10
	PatientIDLen         = 10

	patientSize = 1 + PatientGivenNameLen +
		1 + PatientFamilyNameLen +
		1 + PatientDateLen +
		1 + PatientIDLen
)

// Patient is a patient identity record: given name, family name, a
// DD:MM:YYYY date of birth, and a unique patient ID.
type Patient struct {
	GivenName  string
	FamilyName string
	Date       string // DD:MM:YYYY, exactly 10 characters
	ID         string
}

// NewPatient returns a zero-valued Patient, suitable as a record.Factory.
func NewPatient() Record {
	return &Patient{}
}

func (p *Patient) Size() int {
	return patientSize
}

func (p *Patient) Key() string {
	return p.ID
}

func (p *Patient) Encode() []byte {
	buf := make([]byte, patientSize)
	pos := 0

	putFixedString(buf[pos:pos+1+PatientGivenNameLen], p.GivenName, PatientGivenNameLen)
	pos += 1 + PatientGivenNameLen

	putFixedString(buf[pos:pos+1+PatientFamilyNameLen], p.FamilyName, PatientFamilyNameLen)
	pos += 1 + PatientFamilyNameLen

	putFixedString(buf[pos:pos+1+PatientDateLen], p.Date, PatientDateLen)
	pos += 1 + PatientDateLen

	putFixedString(buf[pos:pos+1+PatientIDLen], p.ID, PatientIDLen)

	return buf
}

func (p *Patient) Decode(buf []byte) error {
	if len(buf) != patientSize {
		return fmt.Errorf("patient: wrong buffer length %d, want %d", len(buf), patientSize)
	}
	pos := 0

	p.GivenName = getFixedString(buf[pos:pos+1+PatientGivenNameLen], PatientGivenNameLen)
	pos += 1 + PatientGivenNameLen

	p.FamilyName = getFixedString(buf[pos:pos+1+PatientFamilyNameLen], PatientFamilyNameLen)
	pos += 1 + PatientFamilyNameLen

	p.Date = getFixedString(buf[pos:pos+1+PatientDateLen], PatientDateLen)
	pos += 1 + PatientDateLen

	p.ID = getFixedString(buf[pos:pos+1+PatientIDLen], PatientIDLen)

	return nil
}
