package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type ConsoleStyle int

const (
	StyleNormal ConsoleStyle = iota
	StyleError
	StyleWarning
	StyleSuccess
	StyleInfo
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorBlue   = "\033[34m"
	colorBold   = "\033[1m"
)

// Console writes user-facing messages. Results go to out, diagnostics to err.
type Console struct {
	out       io.Writer
	err       io.Writer
	useColors bool
}

func NewConsole() *Console {
	return &Console{
		out:       os.Stdout,
		err:       os.Stderr,
		useColors: isTerminal(),
	}
}

// NewPlainConsole writes uncolored output to the given writers.
func NewPlainConsole(out, err io.Writer) *Console {
	return &Console{out: out, err: err}
}

func isTerminal() bool {
	stat, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

var styleColors = map[ConsoleStyle]string{
	StyleError:   colorRed + colorBold,
	StyleWarning: colorYellow,
	StyleSuccess: colorGreen,
	StyleInfo:    colorBlue,
}

func (c *Console) formatMessage(style ConsoleStyle, message string) string {
	color, ok := styleColors[style]
	if !c.useColors || !ok {
		return message
	}
	return color + message + colorReset
}

func (c *Console) PrintError(message string) {
	fmt.Fprintln(c.err, c.formatMessage(StyleError, "Error: "+message))
}

func (c *Console) PrintWarning(message string) {
	fmt.Fprintln(c.err, c.formatMessage(StyleWarning, "Warning: "+message))
}

func (c *Console) PrintSuccess(message string) {
	fmt.Fprintln(c.out, c.formatMessage(StyleSuccess, message))
}

func (c *Console) PrintInfo(message string) {
	fmt.Fprintln(c.out, c.formatMessage(StyleInfo, message))
}

// Println writes message to the result stream without styling. Machine
// readable output (labels, accuracy lines) goes through here.
func (c *Console) Println(message string) {
	fmt.Fprintln(c.out, message)
}

func (c *Console) FormatErrorMessage(context, cause, suggestion string) string {
	var parts []string

	if context != "" {
		parts = append(parts, context)
	}

	if cause != "" {
		parts = append(parts, fmt.Sprintf("Cause: %s", cause))
	}

	if suggestion != "" {
		parts = append(parts, fmt.Sprintf("Suggestion: %s", suggestion))
	}

	return strings.Join(parts, "\n")
}
