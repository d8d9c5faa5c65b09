package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLine parses a "name: text" line. A line without a colon is attributed
// to selfName and marked as self.
func ParseLine(line, selfName string) (Message, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Message{}, false
	}
	name, text, ok := strings.Cut(line, ":")
	name, text = strings.TrimSpace(name), strings.TrimSpace(text)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return Message{Name: selfName, Text: line, Self: true}, true
	}
	if text == "" {
		return Message{}, false
	}
	return Message{Name: name, Text: text, Self: name == selfName}, true
}

// ReadLines submits every parsed line of r to q until r is exhausted or ctx
// is cancelled. Unparseable and dropped lines are logged and skipped.
func ReadLines(ctx context.Context, r io.Reader, q *Queue, selfName string) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok := ParseLine(sc.Text(), selfName)
		if !ok {
			continue
		}
		if err := q.Submit(ctx, "stdin", msg); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			slog.Warn("stdin chat line dropped", "err", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("ingest: read stdin: %w", err)
	}
	return nil
}
