// Package transcripts keeps the append-only transcript history file.
package transcripts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Entry is one line of history.
type Entry struct {
	SessionID string
	Text      string
	Timestamp time.Time
}

// Append writes e to the history file as "RFC3339<TAB>session<TAB>text".
func Append(path string, e Entry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	text := strings.ReplaceAll(e.Text, "\n", " ")
	if _, err := fmt.Fprintf(f, "%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.SessionID, text); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Tail returns the last n entries, oldest first. A missing file is empty.
func Tail(path string, n int) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]Entry, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, parseLine(l))
	}
	return out, nil
}

func parseLine(l string) Entry {
	parts := strings.SplitN(l, "\t", 3)
	switch len(parts) {
	case 3:
		ts, _ := time.Parse(time.RFC3339, parts[0])
		return Entry{Timestamp: ts, SessionID: parts[1], Text: parts[2]}
	case 2:
		ts, _ := time.Parse(time.RFC3339, parts[0])
		return Entry{Timestamp: ts, Text: parts[1]}
	default:
		return Entry{Text: l}
	}
}
