package hypervisor

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.vmx")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func readBack(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	return string(data)
}

func TestRewriteVMXReplacesOnlyMatchedLines(t *testing.T) {
	in := `.encoding = "UTF-8"
config.version = "8"
displayname = "old"
memsize = "512"
guestOS = "centos-64"
`
	path := writeTemp(t, in)
	err := rewriteVMX(path, map[string]string{
		"displayname": "new",
		"memsize":     "1024",
	})
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	want := `.encoding = "UTF-8"
config.version = "8"
displayname = "new"
memsize = "1024"
guestOS = "centos-64"
`
	if got := readBack(t, path); got != want {
		t.Fatalf("rewritten config mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestRewriteVMXHandlesAlternateSpelling(t *testing.T) {
	path := writeTemp(t, "displayName = \"old\"\n")
	if err := rewriteVMX(path, map[string]string{"displayName": "web01"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got := readBack(t, path); got != "displayName = \"web01\"\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRewriteVMXPreservesMissingTrailingNewline(t *testing.T) {
	path := writeTemp(t, "memsize = \"512\"")
	if err := rewriteVMX(path, map[string]string{"memsize": "2048"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got := readBack(t, path); got != "memsize = \"2048\"" {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRewriteVMXLeavesUnrelatedPrefixesAlone(t *testing.T) {
	// memsize is a prefix of no other key, but a key must not substring-match
	// inside other assignments.
	in := "svga.memsize = \"8\"\nmemsize = \"512\"\n"
	path := writeTemp(t, in)
	if err := rewriteVMX(path, map[string]string{"memsize": "1024"}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if got := readBack(t, path); got != "svga.memsize = \"8\"\nmemsize = \"1024\"\n" {
		t.Fatalf("unexpected content: %q", got)
	}
}
