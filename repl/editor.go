package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// maxHistory bounds the lines kept for up/down recall.
const maxHistory = 200

// Editor is a single-line editor over /dev/tty in raw mode. It reports the
// cursor offset with each line so completions see only the text left of it.
type Editor struct {
	tty      *os.File
	oldState *term.State

	line    lineBuffer
	history []string
	// recall is the history index being shown, len(history) for the live line.
	recall int
	live   string
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the tty file for writing prompts/UI.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// ReadLine displays the prompt and reads a line. It returns the text and
// the cursor's byte offset into it, or io.EOF on Ctrl-D over an empty line.
func (e *Editor) ReadLine(prompt string) (string, int, error) {
	e.line.reset("")
	e.recall = len(e.history)
	e.live = ""
	e.redraw(prompt)

	for {
		var b [1]byte
		if _, err := e.tty.Read(b[:]); err != nil {
			return "", 0, err
		}

		done, err := e.key(b[0])
		if err != nil {
			fmt.Fprintf(e.tty, "\r\n")
			return "", 0, err
		}
		if done {
			fmt.Fprintf(e.tty, "\r\n")
			text := e.line.String()
			e.remember(text)
			return text, e.line.pos, nil
		}
		e.redraw(prompt)
	}
}

// key applies one input byte, reading the rest of an escape or UTF-8
// sequence from the tty when needed.
func (e *Editor) key(b byte) (done bool, err error) {
	switch b {
	case 3: // Ctrl-C
		return false, ErrInterrupt
	case 4: // Ctrl-D
		if len(e.line.buf) == 0 {
			return false, io.EOF
		}
	case 13, 10:
		return true, nil
	case 127, 8:
		e.line.backspace()
	case 1:
		e.line.pos = 0
	case 5:
		e.line.pos = len(e.line.buf)
	case 21: // Ctrl-U
		e.line.reset("")
	case 27:
		e.escape()
	default:
		if b < 32 {
			return false, nil
		}
		ch := []byte{b}
		if n := utf8RuneLen(b); n > 1 {
			rest := make([]byte, n-1)
			io.ReadFull(e.tty, rest)
			ch = append(ch, rest...)
		}
		e.line.insert(ch)
	}
	return false, nil
}

func (e *Editor) escape() {
	var seq [3]byte
	if n, _ := e.tty.Read(seq[:1]); n == 0 || seq[0] != '[' {
		return
	}
	if n, _ := e.tty.Read(seq[1:2]); n == 0 {
		return
	}
	switch seq[1] {
	case 'A':
		e.step(-1)
	case 'B':
		e.step(1)
	case 'D':
		e.line.left()
	case 'C':
		e.line.right()
	case 'H':
		e.line.pos = 0
	case 'F':
		e.line.pos = len(e.line.buf)
	case '3': // Delete: \x1b[3~
		e.tty.Read(seq[2:3])
		e.line.del()
	case '1': // Home: \x1b[1~
		e.tty.Read(seq[2:3])
		e.line.pos = 0
	case '4': // End: \x1b[4~
		e.tty.Read(seq[2:3])
		e.line.pos = len(e.line.buf)
	}
}

// step moves through history; dir is -1 for older, 1 for newer.
func (e *Editor) step(dir int) {
	next := e.recall + dir
	if next < 0 || next > len(e.history) {
		return
	}
	if e.recall == len(e.history) {
		e.live = e.line.String()
	}
	e.recall = next
	if next == len(e.history) {
		e.line.reset(e.live)
	} else {
		e.line.reset(e.history[next])
	}
}

func (e *Editor) remember(text string) {
	if text == "" || (len(e.history) > 0 && e.history[len(e.history)-1] == text) {
		return
	}
	e.history = append(e.history, text)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// redraw clears the current line and redraws prompt + buffer with cursor.
func (e *Editor) redraw(prompt string) {
	fmt.Fprintf(e.tty, "\r\x1b[K%s%s", prompt, e.line.String())
	if tail := utf8.RuneCount(e.line.buf[e.line.pos:]); tail > 0 {
		fmt.Fprintf(e.tty, "\x1b[%dD", tail)
	}
}

// lineBuffer is UTF-8 text with a cursor at a rune boundary.
type lineBuffer struct {
	buf []byte
	pos int
}

func (l *lineBuffer) String() string { return string(l.buf) }

func (l *lineBuffer) reset(s string) {
	l.buf = append(l.buf[:0], s...)
	l.pos = len(l.buf)
}

func (l *lineBuffer) insert(ch []byte) {
	l.buf = append(l.buf, ch...)
	copy(l.buf[l.pos+len(ch):], l.buf[l.pos:len(l.buf)-len(ch)])
	copy(l.buf[l.pos:], ch)
	l.pos += len(ch)
}

func (l *lineBuffer) backspace() {
	if l.pos == 0 {
		return
	}
	size := prevRuneLen(l.buf, l.pos)
	l.buf = append(l.buf[:l.pos-size], l.buf[l.pos:]...)
	l.pos -= size
}

func (l *lineBuffer) del() {
	if l.pos >= len(l.buf) {
		return
	}
	_, size := utf8.DecodeRune(l.buf[l.pos:])
	l.buf = append(l.buf[:l.pos], l.buf[l.pos+size:]...)
}

func (l *lineBuffer) left() {
	l.pos -= prevRuneLen(l.buf, l.pos)
}

func (l *lineBuffer) right() {
	if l.pos < len(l.buf) {
		_, size := utf8.DecodeRune(l.buf[l.pos:])
		l.pos += size
	}
}

// prevRuneLen returns the byte length of the rune ending at pos.
func prevRuneLen(buf []byte, pos int) int {
	if pos <= 0 {
		return 0
	}
	_, size := utf8.DecodeLastRune(buf[:pos])
	return size
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}
