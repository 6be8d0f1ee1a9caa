package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed JSON log line.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Attrs   map[string]any
	// Raw is the original line, kept for lines that are not JSON.
	Raw string
}

// ParseEntry decodes a line written by the JSON handler. Lines that do not
// decode are returned with only Raw set.
func ParseEntry(line string) Entry {
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Entry{Raw: line}
	}

	e := Entry{Raw: line, Attrs: map[string]any{}}
	for k, v := range fields {
		switch k {
		case slog.TimeKey:
			if s, ok := v.(string); ok {
				e.Time, _ = time.Parse(time.RFC3339Nano, s)
			}
		case slog.LevelKey:
			e.Level, _ = v.(string)
		case slog.MessageKey:
			e.Message, _ = v.(string)
		default:
			e.Attrs[k] = v
		}
	}
	return e
}

// Format renders e as a single human-readable line with attributes in key
// order.
func (e Entry) Format() string {
	if e.Message == "" && e.Level == "" {
		return e.Raw
	}
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	if !e.Time.IsZero() {
		sb.WriteString(e.Time.Local().Format("15:04:05.000"))
		sb.WriteByte(' ')
	}
	fmt.Fprintf(&sb, "%-5s %s", e.Level, e.Message)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attrs[k])
	}
	return sb.String()
}

// Filter selects entries by minimum level and pattern.
type Filter struct {
	// Level is the minimum level shown. Empty shows everything.
	Level string
	// Pattern, when set, must match the raw line.
	Pattern *regexp.Regexp
}

// Match reports whether e passes the filter.
func (f Filter) Match(e Entry) bool {
	if f.Level != "" && e.Level != "" && parseLevel(e.Level) < parseLevel(f.Level) {
		return false
	}
	if f.Pattern != nil && !f.Pattern.MatchString(e.Raw) {
		return false
	}
	return true
}

// Tail returns the last n entries of the log at path that pass f.
func Tail(path string, n int, f Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var ring []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e := ParseEntry(line)
		if !f.Match(e) {
			continue
		}
		ring = append(ring, e)
		if n > 0 && len(ring) > n {
			ring = ring[1:]
		}
	}
	return ring, scanner.Err()
}

// Follow calls fn for every entry appended to path after the call, until
// ctx is done. The file is polled; rotation is detected by the file
// shrinking and reading restarts from the top.
func Follow(ctx context.Context, path string, f Filter, interval time.Duration, fn func(Entry)) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var partial string
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		fi, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		if fi.Size() < offset {
			_ = file.Close()
			if file, err = os.Open(path); err != nil {
				return err
			}
			offset, partial = 0, ""
		}
		if fi.Size() == offset {
			continue
		}

		buf := make([]byte, fi.Size()-offset)
		n, err := file.ReadAt(buf, offset)
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		offset += int64(n)

		lines := strings.Split(partial+string(buf[:n]), "\n")
		partial = lines[len(lines)-1]
		for _, line := range lines[:len(lines)-1] {
			if line == "" {
				continue
			}
			if e := ParseEntry(line); f.Match(e) {
				fn(e)
			}
		}
	}
}
