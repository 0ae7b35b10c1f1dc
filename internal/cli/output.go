package cli

import (
	"fmt"
	"io"
)

// Output helpers shared by all commands.
//
// Icon semantics:
//   ✓  success
//   ✗  error / failure
//   ⚠  warning
//   ○  skipped
//   ~  neutral info

// printSection prints a top-level section header, e.g. "=== Extract ===".
func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "\n=== %s ===\n", title)
}

func printLine(w io.Writer, icon, name, msg string) {
	if name == "" {
		fmt.Fprintf(w, "  %s  %s\n", icon, msg)
	} else {
		fmt.Fprintf(w, "  %s  [%s] %s\n", icon, name, msg)
	}
}

// printOK prints a success line.
//   name = "" → "  ✓  msg"
//   name set  → "  ✓  [name] msg"
func printOK(w io.Writer, name, msg string) { printLine(w, "✓", name, msg) }

// printErr prints an error line; callers pass the error writer.
func printErr(w io.Writer, name, msg string) { printLine(w, "✗", name, msg) }

func printWarn(w io.Writer, name, msg string) { printLine(w, "⚠", name, msg) }

func printSkip(w io.Writer, name, msg string) { printLine(w, "○", name, msg) }

func printInfo(w io.Writer, name, msg string) { printLine(w, "~", name, msg) }
