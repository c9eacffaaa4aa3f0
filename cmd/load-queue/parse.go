package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"corpuslab.systems/driftline/internal/db"
)

// QueueEntry is one parsed line of a queue file.
type QueueEntry struct {
	Day      db.Day
	Location string
}

var monthNames = map[string]int{
	"january": 1, "jan": 1,
	"february": 2, "feb": 2,
	"march": 3, "mar": 3,
	"april": 4, "apr": 4,
	"may":  5,
	"june": 6, "jun": 6,
	"july": 7, "jul": 7,
	"august": 8, "aug": 8,
	"september": 9, "sep": 9, "sept": 9,
	"october": 10, "oct": 10,
	"november": 11, "nov": 11,
	"december": 12, "dec": 12,
}

// parseQueueFile reads a queue file with one "year,month,day,location" entry
// per line. Months may be names or numbers. Blank lines and lines starting
// with # are ignored; malformed lines are logged and skipped.
func parseQueueFile(path string) ([]QueueEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []QueueEntry
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseQueueLine(line)
		if err != nil {
			slog.Error("skipping malformed queue line", "line", lineNum, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseQueueLine(line string) (QueueEntry, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return QueueEntry{}, fmt.Errorf("expected 4 fields (year,month,day,location), got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 2000 || year > 2100 {
		return QueueEntry{}, fmt.Errorf("invalid year %q", parts[0])
	}

	month, err := parseMonth(parts[1])
	if err != nil {
		return QueueEntry{}, err
	}

	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > 31 {
		return QueueEntry{}, fmt.Errorf("invalid day %q", parts[2])
	}

	if parts[3] == "" {
		return QueueEntry{}, fmt.Errorf("empty location")
	}

	return QueueEntry{
		Day:      db.Day{Year: year, Month: month, Date: day},
		Location: parts[3],
	}, nil
}

func parseMonth(s string) (int, error) {
	if m, ok := monthNames[strings.ToLower(s)]; ok {
		return m, nil
	}
	m, err := strconv.Atoi(s)
	if err != nil || m < 1 || m > 12 {
		return 0, fmt.Errorf("invalid month %q", s)
	}
	return m, nil
}
