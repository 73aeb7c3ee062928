package buildinfo

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	b := BuildInfo{
		Package:    "github.com/lledezma/curation/cmd/ctqc",
		GoVersion:  "go1.18",
		Commit:     "abc123",
		CommitTime: "2022-07-01T00:00:00Z",
	}

	got := b.String()
	if !strings.Contains(got, "cmd/ctqc") || !strings.Contains(got, "abc123") {
		t.Fatalf("got %q", got)
	}
	if strings.Contains(got, "modified after that commit") {
		t.Fatalf("clean build must not claim modification: %q", got)
	}

	b.Modified = true
	if got := b.String(); !strings.Contains(got, "modified after that commit") {
		t.Fatalf("got %q", got)
	}

	b = BuildInfo{Package: "github.com/lledezma/curation/cmd/ctqc", GoVersion: "go1.18"}
	if got := b.String(); !strings.Contains(got, "without vcs metadata") {
		t.Fatalf("got %q", got)
	}
}
