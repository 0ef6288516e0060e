package audit

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Guizzs26/go-aid-sync/internal/models"
)

// ErrMalformedEntry is returned when a text block does not follow the audit grammar
var ErrMalformedEntry = errors.New("malformed audit entry")

// Entry is the machine-readable view of one appended block
type Entry struct {
	TxID      string
	Timestamp time.Time
	Batch     bool
	Changes   []ChangeSummary
}

// ChangeSummary is what both encodings carry for every change
type ChangeSummary struct {
	Operation models.Operation
	Entity    string
	UserID    string
}

var batchLine = regexp.MustCompile(`^(\d+)\. (create|update|delete) (\S+) \(user: (.*)\)$`)

// Parse reads back an entry produced by EncodeChange or EncodeBatch
func Parse(text string) (Entry, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) < 3 {
		return Entry{}, fmt.Errorf("%w: too short", ErrMalformedEntry)
	}

	var entry Entry
	switch {
	case strings.HasPrefix(lines[0], "Batch Transaction: "):
		entry.Batch = true
		entry.TxID = strings.TrimPrefix(lines[0], "Batch Transaction: ")
	case strings.HasPrefix(lines[0], "Transaction: "):
		entry.TxID = strings.TrimPrefix(lines[0], "Transaction: ")
	default:
		return Entry{}, fmt.Errorf("%w: missing transaction header", ErrMalformedEntry)
	}

	ts, err := time.Parse(models.ISOMillis, lines[1])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedEntry, lines[1])
	}
	entry.Timestamp = ts

	if entry.Batch {
		return parseBatch(entry, lines[2:])
	}
	return parseChange(entry, lines[2:])
}

func parseBatch(entry Entry, lines []string) (Entry, error) {
	countField, _, ok := strings.Cut(lines[0], " ")
	if !ok {
		return Entry{}, fmt.Errorf("%w: missing change count", ErrMalformedEntry)
	}
	count, err := strconv.Atoi(countField)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: bad change count %q", ErrMalformedEntry, lines[0])
	}

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		m := batchLine.FindStringSubmatch(line)
		if m == nil {
			return Entry{}, fmt.Errorf("%w: bad summary line %q", ErrMalformedEntry, line)
		}
		entry.Changes = append(entry.Changes, ChangeSummary{
			Operation: models.Operation(m[2]),
			Entity:    m[3],
			UserID:    m[4],
		})
	}

	if len(entry.Changes) != count {
		return Entry{}, fmt.Errorf("%w: header says %d changes, found %d", ErrMalformedEntry, count, len(entry.Changes))
	}
	return entry, nil
}

func parseChange(entry Entry, lines []string) (Entry, error) {
	if len(lines) < 2 || lines[0] != "" || lines[1] != "(change:" {
		return Entry{}, fmt.Errorf("%w: missing change block", ErrMalformedEntry)
	}

	var summary ChangeSummary
	closed, inHeader := false, true
	for _, line := range lines[2:] {
		if line == ")" {
			closed = true
			break
		}
		if !inHeader {
			continue
		}
		// only the first indentation level before data: carries the header keys
		if !strings.HasPrefix(line, indentStep) || strings.HasPrefix(line, indentStep+indentStep) {
			continue
		}
		key, value, _ := strings.Cut(strings.TrimPrefix(line, indentStep), ": ")
		switch key {
		case "data:":
			inHeader = false
		case "operation":
			summary.Operation = models.Operation(value)
		case "entity":
			summary.Entity = value
		case "userId":
			summary.UserID = value
		}
	}

	if !closed || summary.Operation == "" {
		return Entry{}, fmt.Errorf("%w: unterminated change block", ErrMalformedEntry)
	}
	entry.Changes = []ChangeSummary{summary}
	return entry, nil
}
