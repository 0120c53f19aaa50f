package supervisor

import (
	"bufio"
	"io"
	"strings"
)

// forEachLine invokes fn once per newline-delimited chunk read from r,
// passing both the trimmed line and the original text. Lines are delivered
// in stream order. Returns the scanner error, if any; a closed pipe or a
// pseudo-terminal hangup simply ends the iteration.
func forEachLine(r io.Reader, fn func(trimmed, raw string)) error {
	scanner := bufio.NewScanner(r)
	// Build tools can emit very long diagnostic lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		raw := scanner.Text()
		fn(strings.TrimSpace(raw), raw)
	}
	return scanner.Err()
}
