package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stdout)

	l := GetLogger("[Test]", LogLevelWarn)
	l.Info("info %v", 1)
	l.Warn("warn %v", 2)
	l.Error("error %v", 3)
	l.Debug("debug %v", 4)

	out := buf.String()
	assert.Contains(t, out, "info 1")
	assert.Contains(t, out, "warn 2")
	assert.Contains(t, out, "error 3")
	assert.NotContains(t, out, "debug 4")
	assert.Contains(t, out, "component=Test")
}

func TestDefaultLevelKeepsWarningsAndErrors(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stdout)

	l := GetLogger("[Test]", LogLevelInfo)
	l.Warn("dropping dp %d [% x]", 1, []byte{0x00, 0xd7, 0x00})
	l.Error("persist %v: %v", "tier2", "disk full")
	l.Debug("noise")

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "dropping dp 1 [00 d7 00]")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "persist tier2: disk full")
	assert.NotContains(t, out, "noise")
}

func TestTrailingNewlineIsTrimmed(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stdout)

	GetLogger("[Test]", LogLevelDebug).Debug("sent %v\n", "x")

	assert.Contains(t, buf.String(), `msg="sent x"`)
}
