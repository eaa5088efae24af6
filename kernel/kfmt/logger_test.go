package kfmt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComponentLoggerTagsLines(t *testing.T) {
	defer func() { loggerSink = &earlyPrintBuffer }()

	var buf bytes.Buffer
	SetLoggerOutput(&buf)

	ComponentLogger("sched").Infow("tick", "ticks", 3)

	require.Contains(t, buf.String(), "[sched] ")
	require.Contains(t, buf.String(), "tick")
}

func TestLoggerDefaultsToKernelTag(t *testing.T) {
	defer func() { loggerSink = &earlyPrintBuffer }()

	var buf bytes.Buffer
	SetLoggerOutput(&buf)

	Logger().Info("boot")

	require.Contains(t, buf.String(), "[kernel] ")
}
