package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// maxLine bounds a single command line.
const maxLine = 1 << 20

// Lines submits every non-blank line of r that is not a '#' comment. It
// returns how many lines were submitted and stops at the first read or
// submit error, or when ctx is done between lines.
func Lines(ctx context.Context, r io.Reader, submit Submit) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)

	n := 0
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return n, err
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := submit("stdin", line); err != nil {
			return n, fmt.Errorf("line %d: %w", lineNo, err)
		}
		n++
	}
	return n, sc.Err()
}
