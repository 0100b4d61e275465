package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Output handles formatted output for the CLI.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates a new Output instance.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &Output{
		writer:       cmd.OutOrStdout(),
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(),
	}
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// IsJSON returns true if JSON output mode is enabled.
func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON outputs data as JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// Println prints a message with newline.
func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

// Printf prints a formatted message.
func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

// Success prints a success message in green.
func (o *Output) Success(format string, args ...interface{}) {
	o.colored(color.New(color.FgGreen), format, args...)
}

// Error prints an error message in red.
func (o *Output) Error(format string, args ...interface{}) {
	o.colored(color.New(color.FgRed), format, args...)
}

// Warning prints a warning message in yellow.
func (o *Output) Warning(format string, args ...interface{}) {
	o.colored(color.New(color.FgYellow), format, args...)
}

// Info prints an info message in cyan.
func (o *Output) Info(format string, args ...interface{}) {
	o.colored(color.New(color.FgCyan), format, args...)
}

// Bold prints a bold message.
func (o *Output) Bold(format string, args ...interface{}) {
	o.colored(color.New(color.Bold), format, args...)
}

// Dim prints a dimmed message.
func (o *Output) Dim(format string, args ...interface{}) {
	o.colored(color.New(color.Faint), format, args...)
}

func (o *Output) paint(c *color.Color) *color.Color {
	if o.colorEnabled {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (o *Output) colored(c *color.Color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(c).Sprintf(format, args...))
}

// Green returns green colored text.
func (o *Output) Green(text string) string {
	return o.paint(color.New(color.FgGreen)).Sprint(text)
}

// Red returns red colored text.
func (o *Output) Red(text string) string {
	return o.paint(color.New(color.FgRed)).Sprint(text)
}

// Yellow returns yellow colored text.
func (o *Output) Yellow(text string) string {
	return o.paint(color.New(color.FgYellow)).Sprint(text)
}

// Cyan returns cyan colored text.
func (o *Output) Cyan(text string) string {
	return o.paint(color.New(color.FgCyan)).Sprint(text)
}

// DimText returns dimmed text.
func (o *Output) DimText(text string) string {
	return o.paint(color.New(color.Faint)).Sprint(text)
}

// StateText colors a trade state by how far along it is.
func (o *Output) StateText(state string) string {
	switch state {
	case "completed", "completed_test":
		return o.Green(state)
	case "cancelled", "expired", "rejected", "failed":
		return o.Red(state)
	case "processing", "awaiting_transfer_in":
		return o.Cyan(state)
	default:
		return o.Yellow(state)
	}
}

// Table represents a simple table for output.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

// NewTable creates a new table.
func NewTable(output *Output, headers ...string) *Table {
	return &Table{
		headers: headers,
		rows:    make([][]string, 0),
		output:  output,
	}
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Render renders the table.
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = visibleLen(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := visibleLen(cell); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	t.printRow(t.headers, widths, true)
	t.printSeparator(widths)
	for _, row := range t.rows {
		t.printRow(row, widths, false)
	}
}

func (t *Table) printRow(cells []string, widths []int, isHeader bool) {
	var parts []string
	for i, cell := range cells {
		if i < len(widths) {
			padding := widths[i] - visibleLen(cell)
			if padding < 0 {
				padding = 0
			}
			padded := cell + strings.Repeat(" ", padding)
			if isHeader {
				padded = t.output.paint(color.New(color.Bold)).Sprint(padded)
			}
			parts = append(parts, padded)
		}
	}
	t.output.Println(strings.Join(parts, "  "))
}

func (t *Table) printSeparator(widths []int) {
	var parts []string
	for _, w := range widths {
		parts = append(parts, strings.Repeat("-", w))
	}
	t.output.Println(t.output.DimText(strings.Join(parts, "--")))
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// stripANSI removes ANSI escape codes from a string.
func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visibleLen(s string) int {
	return len([]rune(stripANSI(s)))
}

// Box draws a box around content.
func (o *Output) Box(title string, content []string) {
	maxLen := visibleLen(title)
	for _, line := range content {
		if n := visibleLen(line); n > maxLen {
			maxLen = n
		}
	}

	width := maxLen + 4
	border := strings.Repeat("-", width-2)

	o.Printf("+%s+\n", border)
	o.Printf("| %s%s |\n", o.paint(color.New(color.Bold)).Sprint(title), strings.Repeat(" ", width-4-visibleLen(title)))
	o.Printf("+%s+\n", border)
	for _, line := range content {
		o.Printf("| %s%s |\n", line, strings.Repeat(" ", width-4-visibleLen(line)))
	}
	o.Printf("+%s+\n", border)
}
