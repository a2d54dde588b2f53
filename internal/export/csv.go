// Package export contains sinks for engagement reports.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/moneymentor/mentor/pkg/engagement"
)

// CSVExporter writes the full engagement snapshot to a CSV file on every
// export, mirroring a spreadsheet tab. The file is rewritten wholesale so the
// sheet always reflects the latest snapshot.
type CSVExporter struct {
	Path string
}

// NewCSVExporter creates an exporter writing to path.
// If path is empty, it defaults to ".mentor/engagement.csv".
func NewCSVExporter(path string) *CSVExporter {
	if path == "" {
		path = filepath.Join(".mentor", "engagement.csv")
	}
	return &CSVExporter{Path: path}
}

var header = []string{
	"user_id",
	"session_id",
	"messages_per_session",
	"session_duration_seconds",
	"quizzes_attempted",
	"correct_answers",
	"last_activity",
}

// Export implements engagement.Exporter.
func (e *CSVExporter) Export(ctx context.Context, reports []engagement.Report) error {
	if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
		return fmt.Errorf("failed to ensure export directory: %w", err)
	}

	f, err := os.Create(e.Path)
	if err != nil {
		return fmt.Errorf("failed to open export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range reports {
		row := []string{
			r.UserID,
			r.SessionID,
			strconv.Itoa(r.MessagesSent),
			strconv.FormatFloat(r.SessionDuration.Seconds(), 'f', 0, 64),
			strconv.Itoa(r.QuizzesAttempted),
			strconv.Itoa(r.CorrectAnswers),
			r.LastActivity.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush export file: %w", err)
	}
	return nil
}
