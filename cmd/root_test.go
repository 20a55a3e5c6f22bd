package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommandTree(t *testing.T) {
	root := rootCmd()

	for _, path := range [][]string{
		{"api"},
		{"worker"},
		{"webhook-worker"},
		{"cleanup"},
		{"endpoints", "import"},
	} {
		c, _, err := root.Find(path)
		if err != nil {
			t.Fatalf("Find(%v): %v", path, err)
		}
		if c.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, c.Name())
		}
	}
}

func TestRootCommandPrintsHelp(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "webhook-worker") {
		t.Errorf("help output missing subcommands:\n%s", out.String())
	}
}
