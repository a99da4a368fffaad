package recapsamurai

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"io"
	"log/slog"
	"strconv"
	"time"
)

// ActivityRow is one line of the premium activity export.
type ActivityRow struct {
	Author        string
	Messages      int
	LastActiveAt  time.Time
	FirstActiveAt time.Time
}

// Reporter is the external reporting collaborator used by the premium
// cadence. It receives pre-aggregated rows; formatting and delivery are
// its concern.
type Reporter interface {
	SendActivityReport(channelID string, period string, rows []ActivityRow) error
}

// fileSender defines the discordgo session method the CSV reporter needs,
// to enable testing/mocking.
type fileSender interface {
	ChannelFileSend(
		channelID string,
		name string,
		r io.Reader,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// CSVReporter emits the premium activity export as a CSV file attachment.
type CSVReporter struct {
	session fileSender
	logger  *slog.Logger
}

func NewCSVReporter(session fileSender, logger *slog.Logger) *CSVReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVReporter{session: session, logger: logger}
}

func (r *CSVReporter) SendActivityReport(
	channelID string,
	period string,
	rows []ActivityRow,
) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"author", "messages", "first_active", "last_active"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.Write(
			[]string{
				row.Author,
				strconv.Itoa(row.Messages),
				row.FirstActiveAt.UTC().Format(time.RFC3339),
				row.LastActiveAt.UTC().Format(time.RFC3339),
			},
		); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	name := fmt.Sprintf("activity-report-%s.csv", period)
	_, err := r.session.ChannelFileSend(channelID, name, &buf)
	if err != nil {
		return fmt.Errorf("sending activity report to channel %s: %w", channelID, err)
	}
	r.logger.Info(
		"sent activity report",
		"channel_id", channelID,
		"period", period,
		"rows", len(rows),
	)
	return nil
}
