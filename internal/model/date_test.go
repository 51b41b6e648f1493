package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want Date
		ok   bool
	}{
		{"2024-01-03", Date{2024, 1, 3}, true},
		{" 2024-12-31 ", Date{2024, 12, 31}, true},
		{"2024-01-03T10:11:12", Date{2024, 1, 3}, true},
		{"2024-01-03 10:11:12", Date{2024, 1, 3}, true},
		{"2024-13-01", Date{}, false},
		{"yesterday", Date{}, false},
		{"", Date{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, fault.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateJSON(t *testing.T) {
	var in DesignChangeInput
	require.NoError(t, json.Unmarshal([]byte(`{"change_date":"2024-01-03","title":"t","description":"d","author":null}`), &in))
	assert.Equal(t, Date{2024, 1, 3}, in.ChangeDate)
	assert.Empty(t, in.Author)

	var missing DesignChangeInput
	require.NoError(t, json.Unmarshal([]byte(`{"change_date":null}`), &missing))
	assert.True(t, missing.ChangeDate.IsZero())

	err := json.Unmarshal([]byte(`{"change_date":"03/01/2024"}`), &in)
	require.Error(t, err)
}

func TestZeroDateString(t *testing.T) {
	assert.Equal(t, "", Date{}.String())
	b, err := json.Marshal(Date{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}
