package klog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestMain(m *testing.M) {
	code := m.Run()
	SetOutput(os.Stderr)
	os.Exit(code)
}

func TestPrintfWritesOutputAndRing(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Printf("frame %d allocated", 3)

	if !strings.Contains(buf.String(), "frame 3 allocated") {
		t.Errorf("Printf output = %q, want it to contain %q", buf.String(), "frame 3 allocated")
	}
	if !strings.Contains(string(Tail()), "frame 3 allocated") {
		t.Errorf("Tail() = %q, want it to contain the last Printf line", Tail())
	}
}

func TestBootfGroupsNumbers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Bootf("coremap: %d frames", 1000000)

	if !strings.Contains(buf.String(), "1,000,000") {
		t.Errorf("Bootf output = %q, want grouped digits", buf.String())
	}
}

func TestPrintfAppendsTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)

	Printf("no newline here")

	if !strings.HasSuffix(buf.String(), "\n") {
		t.Errorf("Printf output = %q, want a trailing newline", buf.String())
	}
}
