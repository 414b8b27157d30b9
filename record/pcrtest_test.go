package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPCRTestSize(t *testing.T) {
	rec := &PCRTest{}
	assert.Equal(t, 53, rec.Size())
}

func TestPCRTestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   PCRTest
	}{
		{
			name: "positive result",
			in: PCRTest{
				DateTime:  "01:02:2020 10:30",
				PatientID: "P0001",
				TestCode:  42,
				Result:    true,
				Value:     36.6,
				Note:      "fever",
			},
		},
		{
			name: "negative result, negative value",
			in: PCRTest{
				DateTime:  "15:07:2021 08:00",
				PatientID: "P0002",
				TestCode:  -1,
				Result:    false,
				Value:     -273.15,
				Note:      "",
			},
		},
		{
			name: "zero value",
			in:   PCRTest{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			encoded := tc.in.Encode()
			assert.Len(t, encoded, tc.in.Size())

			var out PCRTest
			assert.NoError(t, out.Decode(encoded))
			assert.Equal(t, tc.in, out)
		})
	}
}

func TestPCRTestDecodeWrongLength(t *testing.T) {
	var rec PCRTest
	err := rec.Decode(make([]byte, 1))
	assert.Error(t, err)
}

func TestPCRTestKeyIsPatientID(t *testing.T) {
	rec := PCRTest{PatientID: "P0042"}
	assert.Equal(t, "P0042", rec.Key())
}
