package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Terminal escape codes.
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
)

var ansiCodes = []string{ColorReset, ColorRed, ColorGreen, ColorYellow, ColorCyan, ColorBold, ColorDim}

// Output writes command results as colored text or, with --json, as JSON.
type Output struct {
	writer       io.Writer
	jsonMode     bool
	colorEnabled bool
}

// NewOutput creates an Output for cmd. Colors are only used when writing
// to a terminal.
func NewOutput(cmd *cobra.Command) *Output {
	jsonMode, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	return &Output{
		writer:       w,
		jsonMode:     jsonMode,
		colorEnabled: !jsonMode && isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func (o *Output) IsJSON() bool {
	return o.jsonMode
}

// JSON writes data as indented JSON.
func (o *Output) JSON(data interface{}) error {
	encoder := json.NewEncoder(o.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func (o *Output) Print(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) Println(args ...interface{}) {
	fmt.Fprintln(o.writer, args...)
}

func (o *Output) Printf(format string, args ...interface{}) {
	fmt.Fprintf(o.writer, format, args...)
}

func (o *Output) Success(format string, args ...interface{}) { o.line(ColorGreen, format, args...) }
func (o *Output) Error(format string, args ...interface{})   { o.line(ColorRed, format, args...) }
func (o *Output) Info(format string, args ...interface{})    { o.line(ColorCyan, format, args...) }
func (o *Output) Bold(format string, args ...interface{})    { o.line(ColorBold, format, args...) }
func (o *Output) Dim(format string, args ...interface{})     { o.line(ColorDim, format, args...) }

func (o *Output) line(color, format string, args ...interface{}) {
	fmt.Fprintln(o.writer, o.paint(color, fmt.Sprintf(format, args...)))
}

func (o *Output) paint(color, text string) string {
	if !o.colorEnabled {
		return text
	}
	return color + text + ColorReset
}

func (o *Output) Green(text string) string    { return o.paint(ColorGreen, text) }
func (o *Output) Red(text string) string      { return o.paint(ColorRed, text) }
func (o *Output) Yellow(text string) string   { return o.paint(ColorYellow, text) }
func (o *Output) Cyan(text string) string     { return o.paint(ColorCyan, text) }
func (o *Output) BoldText(text string) string { return o.paint(ColorBold, text) }

// Signed formats a net position: green when long, red when short.
func (o *Output) Signed(q int) string {
	switch {
	case q > 0:
		return o.Green(fmt.Sprintf("+%d", q))
	case q < 0:
		return o.Red(fmt.Sprintf("%d", q))
	}
	return "0"
}

// State colors a machine state by how much attention it needs.
func (o *Output) State(state string) string {
	switch {
	case strings.HasSuffix(state, "Protected"):
		return o.Green(state)
	case strings.HasSuffix(state, "FlankGap"), strings.HasSuffix(state, "ReversalPending"):
		return o.Yellow(state)
	case state == "Halted":
		return o.Red(state)
	}
	return state
}

// Action colors a transition name: entries cyan, repairs yellow, failures red.
func (o *Output) Action(action string) string {
	switch action {
	case "open", "reentry", "reversal":
		return o.Cyan(action)
	case "order_rejected", "halt":
		return o.Red(action)
	case "cancel_stale", "cancel_reverse", "resubmit_flank", "adopt":
		return o.Yellow(action)
	}
	return action
}

// visibleLen is the printed width of s, ignoring escape codes.
func visibleLen(s string) int {
	for _, code := range ansiCodes {
		s = strings.ReplaceAll(s, code, "")
	}
	return len(s)
}

func pad(s string, width int) string {
	if n := width - visibleLen(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// Table collects rows and prints them in aligned columns.
type Table struct {
	headers []string
	rows    [][]string
	output  *Output
}

func NewTable(output *Output, headers ...string) *Table {
	return &Table{headers: headers, output: output}
}

// AddRow appends a row. Cells beyond the header count are dropped.
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
}

func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := visibleLen(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	header := make([]string, len(t.headers))
	rule := make([]string, len(t.headers))
	for i, h := range t.headers {
		header[i] = t.output.BoldText(pad(h, widths[i]))
		rule[i] = strings.Repeat("-", widths[i])
	}
	t.output.Println(strings.Join(header, "  "))
	t.output.Println(t.output.paint(ColorDim, strings.Join(rule, "  ")))

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = pad(cell, widths[i])
		}
		t.output.Println(strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

// Box prints lines inside an ASCII frame with a title bar.
func (o *Output) Box(title string, lines []string) {
	width := len(title)
	for _, l := range lines {
		if n := visibleLen(l); n > width {
			width = n
		}
	}

	border := "+" + strings.Repeat("-", width+2) + "+"
	o.Println(border)
	o.Printf("| %s |\n", pad(o.BoldText(title), width))
	o.Println(border)
	for _, l := range lines {
		o.Printf("| %s |\n", pad(l, width))
	}
	o.Println(border)
}
