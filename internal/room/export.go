package room

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportResults appends a human-readable results block for a finished
// session to filename. Best-effort bookkeeping for the teacher's records; the
// leaderboard itself is always recomputed from the response log.
func ExportResults(sess *Session, entries []LeaderboardEntry, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session %s (room %s)\n", sess.ID, sess.RoomCode))
	sb.WriteString(fmt.Sprintf("Ended: %s\n", time.Now().Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	if len(entries) == 0 {
		sb.WriteString("No responses recorded.\n\n")
	} else {
		for i, e := range entries {
			sb.WriteString(fmt.Sprintf("%2d. %-24s %5d pts  (%d/%d correct)\n",
				i+1, e.Name, e.Score, e.CorrectCount, e.AnsweredCount))
		}
		sb.WriteString("\n")
	}

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return nil
}
