package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Global logger, silent until Init is called
var zapLog = zap.NewNop()

func Init(debug bool) {
	var config zap.Config
	var encoderConf zapcore.EncoderConfig

	if debug {
		config = zap.NewDevelopmentConfig()
		encoderConf = zap.NewDevelopmentEncoderConfig()

		// Use a human readable time
		encoderConf.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewProductionConfig()
		encoderConf = zap.NewProductionEncoderConfig()

		// The recorder runs unattended, journald adds its own timestamps but keep millis for the db correlation
		encoderConf.EncodeTime = zapcore.EpochMillisTimeEncoder
		encoderConf.StacktraceKey = ""
	}

	config.EncoderConfig = encoderConf

	// Build the logger and skip one caller as thats our own log package
	logger, err := config.Build(zap.AddCallerSkip(1))

	// Panic if we cant log correctly
	if err != nil {
		panic(err)
	}

	zapLog = logger
}

// Named returns a child logger for components that log a lot, e.g. the serial reader
func Named(name string, fields ...zap.Field) *zap.Logger {
	return zapLog.WithOptions(zap.AddCallerSkip(-1)).Named(name).With(fields...)
}

// Sync flushes buffered entries, call before exiting
func Sync() {
	_ = zapLog.Sync()
}

func Debug(message string, fields ...zap.Field) {
	zapLog.Debug(message, fields...)
}

func Info(message string, fields ...zap.Field) {
	zapLog.Info(message, fields...)
}

func Warn(message string, fields ...zap.Field) {
	zapLog.Warn(message, fields...)
}

func Error(message string, fields ...zap.Field) {
	zapLog.Error(message, fields...)
}

func Fatal(message string, fields ...zap.Field) {
	zapLog.Fatal(message, fields...)
}

func Panic(message string, fields ...zap.Field) {
	zapLog.Panic(message, fields...)
}
