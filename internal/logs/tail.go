package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// DefaultPoll is the Follow interval used when callers pass zero.
const DefaultPoll = 250 * time.Millisecond

// Cursor is a batch of lines plus the byte offset just past them.
type Cursor struct {
	Lines  []string
	Offset int64
}

// Last returns up to n trailing lines of path. A missing file yields an
// empty cursor at offset zero.
func Last(path string, n int) (Cursor, error) {
	file, size, err := open(path)
	if err != nil || file == nil {
		return Cursor{}, err
	}
	defer file.Close()

	if n <= 0 {
		return Cursor{Offset: size}, nil
	}

	ring := make([]string, n)
	count := 0
	next := 0
	scanner := newScanner(file)
	for scanner.Scan() {
		ring[next] = scanner.Text()
		next = (next + 1) % n
		count++
	}
	if err := scanner.Err(); err != nil {
		return Cursor{}, fmt.Errorf("read log file: %w", err)
	}

	kept := min(count, n)
	lines := make([]string, kept)
	start := 0
	if count > n {
		start = next
	}
	for i := range lines {
		lines[i] = ring[(start+i)%n]
	}
	return Cursor{Lines: lines, Offset: size}, nil
}

// Since returns the complete lines written after offset. An offset beyond the
// end of the file, as after truncation, restarts from the beginning.
func Since(path string, offset int64) (Cursor, error) {
	file, size, err := open(path)
	if err != nil || file == nil {
		return Cursor{}, err
	}
	defer file.Close()

	if offset < 0 {
		offset = size
	}
	if offset > size {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Cursor{}, fmt.Errorf("seek log file: %w", err)
	}

	cursor := Cursor{Offset: offset}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			// A partial trailing line is left for the next read.
			return cursor, nil
		}
		if err != nil {
			return Cursor{}, fmt.Errorf("read log file: %w", err)
		}
		cursor.Offset += int64(len(line))
		line = line[:len(line)-1]
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		cursor.Lines = append(cursor.Lines, trimCR(line))
	}
}

// Follow emits lines appended after offset until ctx is done. It returns nil
// on cancellation.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = DefaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		cursor, err := Since(path, offset)
		if err != nil {
			return err
		}
		for _, line := range cursor.Lines {
			emit(line)
		}
		offset = cursor.Offset

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info.Size(), nil
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func trimCR(line string) string {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
