package recapsamurai

import (
	"fmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

// TestParseClockTime verifies HH:MM parsing and rejection of malformed or
// out-of-range input.
func TestParseClockTime(t *testing.T) {
	tests := []struct {
		input      string
		wantHour   int
		wantMinute int
		wantErr    bool
	}{
		{input: "09:30", wantHour: 9, wantMinute: 30},
		{input: "0:0", wantHour: 0, wantMinute: 0},
		{input: "23:59", wantHour: 23, wantMinute: 59},
		{input: " 12:00 ", wantHour: 12, wantMinute: 0},
		{input: "24:00", wantErr: true},
		{input: "12:60", wantErr: true},
		{input: "-1:30", wantErr: true},
		{input: "noon", wantErr: true},
		{input: "12", wantErr: true},
		{input: "12:00:00", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(
			tt.input, func(t *testing.T) {
				hour, minute, err := parseClockTime(tt.input)
				if tt.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantHour, hour)
				assert.Equal(t, tt.wantMinute, minute)
			},
		)
	}
}

// TestSetupCronExpression verifies the /setup inputs produce the expected
// five-field cron expression.
func TestSetupCronExpression(t *testing.T) {
	hour, minute, err := parseClockTime("09:30")
	require.NoError(t, err)

	expr := fmt.Sprintf("%d %d * * %d", minute, hour, 1)
	assert.Equal(t, "30 9 * * 1", expr)
}

// TestSearchRecords verifies substring matching, order preservation, and
// the newest-last result cap.
func TestSearchRecords(t *testing.T) {
	var msgs []MessageRecord
	for i := 0; i < 15; i++ {
		msgs = append(
			msgs,
			MessageRecord{
				Content:   fmt.Sprintf("question %d", i),
				Author:    "a",
				Timestamp: int64(i),
			},
		)
	}
	msgs = append(
		msgs,
		MessageRecord{Content: "unrelated", Author: "b", Timestamp: 99},
	)

	matches := searchRecords(msgs, "question", 10)
	require.Len(t, matches, 10)
	assert.Equal(t, "question 5", matches[0].Content)
	assert.Equal(t, "question 14", matches[9].Content)

	assert.Empty(t, searchRecords(msgs, "missing", 10))
	assert.Len(t, searchRecords(msgs, "unrelated", 10), 1)
}
