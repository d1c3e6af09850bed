package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

func okMark() string   { return color.GreenString("✓") }
func failMark() string { return color.RedString("✗") }

// success prints a green check followed by the formatted message.
func (a *app) success(format string, args ...any) {
	fmt.Fprintln(a.out, okMark()+" "+fmt.Sprintf(format, args...))
}

// startSpinner shows a spinner on stderr while a command runs. The returned
// stop function must be called before printing results. No spinner is shown
// in verbose mode or when stderr is not a terminal.
func (a *app) startSpinner(message string) (stop func()) {
	if a.verbose || a.errOut != os.Stderr || !term.IsTerminal(int(os.Stderr.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	// an unknown color only leaves the spinner plain
	_ = s.Color("cyan")
	s.Start()
	return s.Stop
}
