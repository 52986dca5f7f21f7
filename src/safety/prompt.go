package safety

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirm asks before a destructive operation (deleting a registered VM).
// With opts.Yes it returns true without prompting; with opts.DryRun it
// returns false without prompting, since no action may be taken anyway.
// An empty or unreadable answer counts as "no".
func Confirm(opts Options, in io.Reader, out io.Writer, question string) (bool, error) {
	if opts.DryRun {
		return false, nil
	}
	if opts.Yes {
		return true, nil
	}
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.TrimSpace(strings.ToLower(line))
	return answer == "y" || answer == "yes", nil
}
