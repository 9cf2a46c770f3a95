package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/OpenNSW/batchrun/internal/task"
)

// Reporter renders streamed per-item lines and the final summary block.
type Reporter struct {
	out    io.Writer
	ok     *color.Color
	fail   *color.Color
	muted  *color.Color
	header *color.Color
}

// NewReporter writes to out. Colour is used only when out is a terminal and
// noColor is false.
func NewReporter(out io.Writer, noColor bool) *Reporter {
	r := &Reporter{
		out:    out,
		ok:     color.New(color.FgGreen, color.Bold),
		fail:   color.New(color.FgRed, color.Bold),
		muted:  color.New(color.FgHiBlack),
		header: color.New(color.Bold),
	}
	if noColor || !isTerminal(out) {
		for _, c := range []*color.Color{r.ok, r.fail, r.muted, r.header} {
			c.DisableColor()
		}
	}
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Line prints one completed item as "[done/total] OK|FAIL <ref> <category> <message>".
func (r *Reporter) Line(result task.TaskResult, done, total int) {
	progress := r.muted.Sprintf("[%d/%d]", done, total)
	if result.Succeeded {
		fmt.Fprintf(r.out, "%s %s %s %s\n", progress, r.ok.Sprint("OK"), result.IdentityRef, result.Message)
		return
	}
	fmt.Fprintf(r.out, "%s %s %s %s %s\n", progress, r.fail.Sprint("FAIL"), result.IdentityRef, result.Category, result.Message)
}

// Summary prints the aggregate counts and every failure category, including
// those with no failures.
func (r *Reporter) Summary(summary task.RunSummary) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, r.header.Sprint("Run summary"))
	fmt.Fprintf(r.out, "  %-14s %d\n", "Total:", summary.Total)
	fmt.Fprintf(r.out, "  %-14s %s\n", "Succeeded:", r.ok.Sprint(summary.Succeeded))
	fmt.Fprintf(r.out, "  %-14s %s\n", "Failed:", r.fail.Sprint(summary.Failed))
	fmt.Fprintf(r.out, "  %-14s %s\n", "Success rate:", task.FormatRate(summary.Succeeded, summary.Total))
	fmt.Fprintf(r.out, "  %-14s %s\n", "Elapsed:", summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintln(r.out, "  Failures by category:")
	for _, c := range summary.FailureBreakdown() {
		fmt.Fprintf(r.out, "    %-18s %d\n", c.Category, c.Count)
	}
}

// Notice prints a muted informational line, such as the result log location.
func (r *Reporter) Notice(format string, args ...any) {
	fmt.Fprintln(r.out, r.muted.Sprintf(format, args...))
}
