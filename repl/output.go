package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	quill "github.com/Paranoid-AF/quill"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err
}

// entry is one transcript record.
type entry struct {
	Request entryRequest  `toml:"request"`
	Inline  string        `toml:"inline,omitempty"`
	Items   []quill.Item  `toml:"items,omitempty"`
	Command *entryCommand `toml:"command,omitempty"`
	Error   *entryError   `toml:"error,omitempty"`
}

type entryRequest struct {
	Timestamp  time.Time `toml:"timestamp"`
	Command    string    `toml:"command,omitempty"`
	Purpose    string    `toml:"purpose,omitempty"`
	Chat       string    `toml:"chat,omitempty"`
	LinePrefix string    `toml:"line_prefix,omitempty"`
	Prefix     string    `toml:"prefix,omitempty"`
}

type entryCommand struct {
	Reply  string `toml:"reply"`
	Output string `toml:"output,omitempty"`
	Error  string `toml:"error,omitempty"`
	State  string `toml:"state"`
}

type entryError struct {
	Code    string `toml:"code"`
	Message string `toml:"message"`
}

// writeEntry appends e to w as a TOML document preceded by a separator.
func writeEntry(w io.Writer, e *entry) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# %s\n\n", strings.Repeat("═", 60))
	enc := toml.NewEncoder(&buf)
	enc.Indent = ""
	if err := enc.Encode(e); err != nil {
		return err
	}
	buf.WriteString("\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// showEntry prints a short summary of e on the tty.
func showEntry(tty io.Writer, e *entry) {
	if c := e.Command; c != nil {
		if c.Reply == quill.CommandError {
			fmt.Fprintf(tty, "error: %s\r\n", c.Error)
		} else if c.Output != "" {
			fmt.Fprintf(tty, "%s\r\n", strings.ReplaceAll(c.Output, "\n", "\r\n"))
		}
		fmt.Fprintf(tty, "[%s]\r\n", c.State)
		return
	}
	if e.Error != nil {
		fmt.Fprintf(tty, "error [%s]: %s\r\n", e.Error.Code, e.Error.Message)
		return
	}
	if e.Inline != "" {
		fmt.Fprintf(tty, "  ghost: %s\r\n", e.Inline)
	}
	if len(e.Items) == 0 {
		fmt.Fprintf(tty, "(no suggestions)\r\n")
	}
	for _, item := range e.Items {
		mark := " "
		if item.Preselect {
			mark = "*"
		}
		fmt.Fprintf(tty, " %s%d. %s\r\n", mark, item.Index+1, item.Label)
	}
}
