package kfmt

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loggerSink is where every component logger's PrefixWriter forwards its
// encoded lines. Defaults to the boot Ring so log history survives until a
// real sink (stdout, a file, the kernelsim CLI's writer) is attached.
var loggerSink io.Writer = &earlyPrintBuffer

// SetLoggerOutput redirects every subsequently-created component logger's
// underlying sink to w. Existing *zap.SugaredLogger values already handed
// out keep writing to whatever sink was installed when they were built.
func SetLoggerOutput(w io.Writer) {
	loggerSink = w
}

func newCore(component string) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(cfg)

	w := &PrefixWriter{Sink: loggerSink, Prefix: []byte("[" + component + "] ")}
	return zapcore.NewCore(encoder, zapcore.AddSync(w), zapcore.DebugLevel)
}

// ComponentLogger returns a SugaredLogger that tags every line with
// "[component]", the way driver-probe output is tagged, and writes through
// whatever sink SetLoggerOutput last installed.
func ComponentLogger(component string) *zap.SugaredLogger {
	return zap.New(newCore(component)).Sugar()
}

// Logger returns the default "[kernel]"-tagged structured logger.
func Logger() *zap.SugaredLogger {
	return ComponentLogger("kernel")
}
