package kfmt

import (
	"bytes"
	"errors"
	"microkern/kernel"
	"testing"
)

func TestPanic(t *testing.T) {
	defer func() {
		haltFn = func() {}
		outputSink = nil
		loggerSink = &earlyPrintBuffer
	}()

	var haltCalled bool
	SetHaltFn(func() { haltCalled = true })

	t.Run("with *kernel.Error", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		SetLoggerOutput(&buf)

		Panic(&kernel.Error{Module: "test", Message: "panic test"})

		if got := buf.String(); !bytes.Contains(buf.Bytes(), []byte("kernel panic: system halted")) {
			t.Fatalf("expected halt banner in output, got %q", got)
		}
		if !bytes.Contains(buf.Bytes(), []byte("[test] unrecoverable error: panic test")) {
			t.Fatalf("expected module/message in output, got %q", buf.String())
		}
		if !haltCalled {
			t.Fatal("expected haltFn to be called by Panic")
		}
	})

	t.Run("with error", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		SetLoggerOutput(&buf)

		Panic(errors.New("go error"))

		if !bytes.Contains(buf.Bytes(), []byte("[rt] unrecoverable error: go error")) {
			t.Fatalf("expected rt module in output, got %q", buf.String())
		}
		if !haltCalled {
			t.Fatal("expected haltFn to be called by Panic")
		}
	})

	t.Run("with string", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		SetLoggerOutput(&buf)

		Panic("string error")

		if !bytes.Contains(buf.Bytes(), []byte("[rt] unrecoverable error: string error")) {
			t.Fatalf("expected rt module in output, got %q", buf.String())
		}
		if !haltCalled {
			t.Fatal("expected haltFn to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		haltCalled = false
		var buf bytes.Buffer
		SetOutputSink(&buf)
		SetLoggerOutput(&buf)

		Panic(nil)

		if !bytes.Contains(buf.Bytes(), []byte("kernel panic: system halted")) {
			t.Fatalf("expected halt banner in output, got %q", buf.String())
		}
		if !haltCalled {
			t.Fatal("expected haltFn to be called by Panic")
		}
	})
}
