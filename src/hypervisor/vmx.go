package hypervisor

import (
	"fmt"
	"os"
	"strings"
)

// rewriteVMX rewrites assignment lines in a vmx config file in place. For
// each key in values, any line of the form `<key> = "..."` is replaced with
// the new quoted value; every other line passes through byte-for-byte,
// including the presence or absence of a trailing newline.
func rewriteVMX(path string, values map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vmx config: %w", err)
	}
	lines := strings.SplitAfter(string(data), "\n")
	for i, line := range lines {
		for key, val := range values {
			if strings.HasPrefix(line, key+` = "`) {
				nl := ""
				if strings.HasSuffix(line, "\n") {
					nl = "\n"
				}
				lines[i] = key + ` = "` + val + `"` + nl
				break
			}
		}
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "")), 0o644); err != nil {
		return fmt.Errorf("write vmx config: %w", err)
	}
	return nil
}
