package logtail

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Read returns at most maxLines from the end of the file at path. A
// non-positive maxLines returns every line.
func Read(path string, maxLines int) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if maxLines <= 0 {
		var lines []string
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		return lines, nil
	}

	ring := make([]string, maxLines)
	count := 0
	idx := 0
	for scanner.Scan() {
		ring[idx] = scanner.Text()
		idx = (idx + 1) % maxLines
		if count < maxLines {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	lines := make([]string, count)
	if count == maxLines {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%maxLines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, nil
}

// Entry is one logrus JSON line.
type Entry struct {
	Time    time.Time
	Level   logrus.Level
	Message string
	Fields  map[string]string
	// Raw is set when the line was not JSON.
	Raw string
}

// Parse decodes a line written by logrus.JSONFormatter. Lines that are not
// JSON come back as Raw entries at info level.
func Parse(line string) Entry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{Level: logrus.InfoLevel, Raw: line}
	}
	entry := Entry{Level: logrus.InfoLevel, Fields: map[string]string{}}
	for key, value := range raw {
		switch key {
		case logrus.FieldKeyTime:
			if s, ok := value.(string); ok {
				entry.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case logrus.FieldKeyLevel:
			if s, ok := value.(string); ok {
				if level, err := logrus.ParseLevel(s); err == nil {
					entry.Level = level
				}
			}
		case logrus.FieldKeyMsg:
			entry.Message = fmt.Sprint(value)
		default:
			entry.Fields[key] = fmt.Sprint(value)
		}
	}
	return entry
}

// Tail reads the last maxLines of path and keeps entries at or above min.
func Tail(path string, maxLines int, min logrus.Level) ([]Entry, error) {
	lines, err := Read(path, maxLines)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry := Parse(line)
		// logrus levels count down: panic is 0, trace is 6.
		if entry.Level > min {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Format renders an entry as one plain line with fields sorted by key.
func Format(e Entry) string {
	if e.Raw != "" {
		return e.Raw
	}
	var b strings.Builder
	if !e.Time.IsZero() {
		b.WriteString(e.Time.Local().Format("2006-01-02 15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(strings.ToUpper(e.Level.String()))
	if component := e.Fields["component"]; component != "" {
		fmt.Fprintf(&b, " [%s]", component)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		if key != "component" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%s", key, e.Fields[key])
	}
	return b.String()
}
