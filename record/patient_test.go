package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatientSize(t *testing.T) {
	p := &Patient{}
	assert.Equal(t, 53, p.Size())
}

func TestPatientRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Patient
	}{
		{
			name: "typical record",
			in:   Patient{GivenName: "Jana", FamilyName: "Novakova", Date: "01:02:2020", ID: "P0001"},
		},
		{
			name: "max width fields",
			in:   Patient{GivenName: "123456789012345", FamilyName: "12345678901234", Date: "31:12:1999", ID: "1234567890"},
		},
		{
			name: "empty fields",
			in:   Patient{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.in.Encode()
			assert.Len(t, encoded, tc.in.Size())

			var out Patient
			assert.NoError(t, out.Decode(encoded))
			assert.Equal(t, tc.in, out)
		})
	}
}

func TestPatientDecodeWrongLength(t *testing.T) {
	var p Patient
	err := p.Decode(make([]byte, 10))
	assert.Error(t, err)
}

func TestPatientKeyIsID(t *testing.T) {
	p := Patient{ID: "P9999"}
	assert.Equal(t, "P9999", p.Key())
}

func TestPatientTruncatesOverlongField(t *testing.T) {
	p := Patient{GivenName: "this given name is definitely longer than fifteen bytes"}
	encoded := p.Encode()

	var out Patient
	assert.NoError(t, out.Decode(encoded))
	assert.Len(t, out.GivenName, PatientGivenNameLen)
}
