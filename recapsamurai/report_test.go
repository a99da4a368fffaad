package recapsamurai

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"io"
	"testing"
	"time"
)

type recordingFileSender struct {
	channelID string
	name      string
	body      []byte
	err       error
}

func (r *recordingFileSender) ChannelFileSend(
	channelID string,
	name string,
	reader io.Reader,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	if r.err != nil {
		return nil, r.err
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	r.channelID = channelID
	r.name = name
	r.body = body
	return &discordgo.Message{}, nil
}

// TestCSVReporterSendActivityReport verifies the CSV attachment content
// and filename.
func TestCSVReporterSendActivityReport(t *testing.T) {
	sender := &recordingFileSender{}
	reporter := NewCSVReporter(sender, nil)

	first := time.Date(2026, time.August, 1, 9, 0, 0, 0, time.UTC)
	last := time.Date(2026, time.August, 30, 18, 30, 0, 0, time.UTC)
	rows := []ActivityRow{
		{Author: "alice", Messages: 12, FirstActiveAt: first, LastActiveAt: last},
		{Author: "bob", Messages: 3, FirstActiveAt: last, LastActiveAt: last},
	}

	require.NoError(t, reporter.SendActivityReport("chan-1", "monthly", rows))

	assert.Equal(t, "chan-1", sender.channelID)
	assert.Equal(t, "activity-report-monthly.csv", sender.name)
	expected := "author,messages,first_active,last_active\n" +
		"alice,12,2026-08-01T09:00:00Z,2026-08-30T18:30:00Z\n" +
		"bob,3,2026-08-30T18:30:00Z,2026-08-30T18:30:00Z\n"
	assert.Equal(t, expected, string(sender.body))
}

// TestCSVReporterEmptyRows verifies an empty report still carries the
// header row.
func TestCSVReporterEmptyRows(t *testing.T) {
	sender := &recordingFileSender{}
	reporter := NewCSVReporter(sender, nil)

	require.NoError(t, reporter.SendActivityReport("chan-1", "monthly", nil))
	assert.Equal(
		t,
		"author,messages,first_active,last_active\n",
		string(sender.body),
	)
}

// TestCSVReporterSendFailure verifies delivery errors are wrapped with the
// target channel.
func TestCSVReporterSendFailure(t *testing.T) {
	sender := &recordingFileSender{err: fmt.Errorf("boom")}
	reporter := NewCSVReporter(sender, nil)

	err := reporter.SendActivityReport("chan-1", "monthly", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chan-1")
	assert.ErrorContains(t, err, "boom")
}
