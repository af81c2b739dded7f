package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// LineReader reads one line of operator input.
type LineReader interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
}

type lineResult struct {
	text string
	err  error
}

// Lines reads lines from an input stream. A single background goroutine
// owns the stream so a pending read can be abandoned when ctx ends; a line
// that arrives for an abandoned read goes to the next one.
type Lines struct {
	out   io.Writer
	in    io.Reader
	once  sync.Once
	lines chan lineResult
	next  chan struct{}
}

func NewLines(in io.Reader, out io.Writer) *Lines {
	return &Lines{
		in:    in,
		out:   out,
		lines: make(chan lineResult, 1),
		next:  make(chan struct{}, 1),
	}
}

func (l *Lines) start() {
	go func() {
		sc := bufio.NewScanner(l.in)
		var err error
		for range l.next {
			if err == nil && sc.Scan() {
				l.lines <- lineResult{text: sc.Text()}
				continue
			}
			if err == nil {
				if err = sc.Err(); err == nil {
					err = io.EOF
				}
			}
			l.lines <- lineResult{err: err}
		}
	}()
}

// ReadLine prints prompt and waits for a line or for ctx to end. EOF on
// the input is returned as io.EOF.
func (l *Lines) ReadLine(ctx context.Context, prompt string) (string, error) {
	l.once.Do(l.start)
	if prompt != "" {
		fmt.Fprint(l.out, prompt)
	}
	select {
	case l.next <- struct{}{}:
	default:
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-l.lines:
		return strings.TrimRight(r.text, "\r"), r.err
	}
}
