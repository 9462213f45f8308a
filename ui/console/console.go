// Package console synchronizes the terminal output of the CLI.
package console

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Console enables synced writing to stdout and stderr ...
type Console struct {
	IsTTY          bool
	outMx          *sync.Mutex
	Stdout, Stderr io.Writer
	Stdin          io.Reader
	theme          *theme
	logger         *logrus.Logger
}

// New returns the pointer to a new Console value. Colors are only used when
// colorize is set and both outputs are terminals.
func New(stdout, stderr OSFileW, stdin io.Reader, colorize bool, termType string) *Console {
	outMx := &sync.Mutex{}
	outCW := newConsoleWriter(stdout, outMx, termType, colorize)
	errCW := newConsoleWriter(stderr, outMx, termType, colorize)
	isTTY := outCW.isTTY && errCW.isTTY

	// Default logger without any formatting
	logger := &logrus.Logger{
		Out:       errCW,
		Formatter: new(logrus.TextFormatter),
		Hooks:     make(logrus.LevelHooks),
		Level:     logrus.InfoLevel,
	}

	var th *theme
	// Only enable themes and a fancy logger if we're in a TTY
	if isTTY && colorize {
		th = &theme{foreground: newColor(color.FgCyan)}
		logger.Formatter = &logrus.TextFormatter{ForceColors: true}
	}

	return &Console{
		IsTTY:  isTTY,
		outMx:  outMx,
		Stdout: outCW,
		Stderr: errCW,
		Stdin:  stdin,
		theme:  th,
		logger: logger,
	}
}

// ApplyTheme adds ANSI color escape sequences to s if themes are enabled;
// otherwise it returns s unchanged.
func (c *Console) ApplyTheme(s string) string {
	if c.colorized() {
		return c.theme.foreground.Sprint(s)
	}

	return s
}

// Banner returns the ASCII art banner, optionally with ANSI color escape
// sequences if themes are enabled.
func (c *Console) Banner() string {
	banner := strings.Join([]string{
		` _        _           _ _       _   `,
		`| |_ __ _| |__  _ __ (_) | ___ | |_ `,
		`| __/ _' | '_ \| '_ \| | |/ _ \| __|`,
		`| || (_| | |_) | |_) | | | (_) | |_ `,
		` \__\__,_|_.__/| .__/|_|_|\___/ \__|`,
		`               |_|                  `,
	}, "\n")

	return c.ApplyTheme(banner)
}

// GetLogger returns the preconfigured plain-text logger. It will be configured
// to output colors if themes are enabled.
func (c *Console) GetLogger() *logrus.Logger {
	return c.logger
}

// Print writes s to stdout.
func (c *Console) Print(s string) {
	if _, err := fmt.Fprint(c.Stdout, s); err != nil {
		c.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// Printf writes s to stdout, formatted with optional arguments.
func (c *Console) Printf(s string, a ...any) {
	if _, err := fmt.Fprintf(c.Stdout, s, a...); err != nil {
		c.logger.Errorf("could not print '%s' to stdout: %s", s, err.Error())
	}
}

// PrintJSON marshals v to indented JSON, and writes the result to stdout.
func (c *Console) PrintJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal JSON: %w", err)
	}
	c.Print(string(data) + "\n")
	return nil
}

// WriteRaw writes b to stdout without any processing, e.g. image data.
func (c *Console) WriteRaw(b []byte) error {
	c.outMx.Lock()
	defer c.outMx.Unlock()

	w := c.Stdout
	if cw, ok := w.(*consoleWriter); ok {
		w = cw.raw
	}
	_, err := w.Write(b)
	return err
}

func (c *Console) colorized() bool {
	return c.theme != nil
}

// OSFile is a subset of the functionality implemented by os.File.
type OSFile interface {
	Fd() uintptr
}

// OSFileW is the writer variant of OSFile, typically representing os.Stdout and
// os.Stderr.
type OSFileW interface {
	io.Writer
	OSFile
}

var (
	_ OSFileW = os.Stdout
	_ OSFileW = os.Stderr
)

// theme is a collection of colors supported by the console output.
type theme struct {
	foreground *color.Color
}

// A writer that syncs writes with a mutex and, if the output is a TTY, clears
// before newlines.
type consoleWriter struct {
	io.Writer
	raw   io.Writer
	isTTY bool
	mutex *sync.Mutex
}

func newConsoleWriter(out OSFileW, mx *sync.Mutex, termType string, colorize bool) *consoleWriter {
	isTTY := termType != "dumb" && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()))
	var w io.Writer = out
	if f, ok := out.(*os.File); ok {
		if colorize {
			w = colorable.NewColorable(f)
		} else {
			w = colorable.NewNonColorable(f)
		}
	}
	return &consoleWriter{Writer: w, raw: out, isTTY: isTTY, mutex: mx}
}

func (w *consoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.isTTY {
		// Add a TTY code to erase till the end of line with each new line
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.mutex.Lock()
	n, err = w.Writer.Write(p)
	w.mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}

// newColor returns the requested color with the given attributes.
func newColor(attributes ...color.Attribute) *color.Color {
	c := color.New(attributes...)
	c.EnableColor()
	return c
}
