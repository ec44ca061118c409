package config

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the shared logrus instance. All packages log through it via
// ModuleLogger.
var Logger *logrus.Logger

// InitLogger configures the logger from the environment: LOG_FILE,
// LOG_MAX_SIZE (MB) and LOG_LEVEL. With no LOG_FILE it logs to stderr.
func InitLogger() {
	fileName := os.Getenv("LOG_FILE")
	logLevel := os.Getenv("LOG_LEVEL")
	maxSize, _ := strconv.Atoi(os.Getenv("LOG_MAX_SIZE"))

	if maxSize == 0 {
		maxSize = 50
	}
	if logLevel == "" {
		logLevel = "info"
	}

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		panic(err)
	}

	Logger = &logrus.Logger{
		Formatter: &logrus.JSONFormatter{},
		Out:       os.Stderr,
		Level:     level,
	}

	if fileName != "" {
		Logger.Out = &lumberjack.Logger{
			Filename: fileName,
			MaxSize:  maxSize, // MB
		}
	}

	Logger.Info("Logger started")
}

// ModuleLogger returns an entry tagged with the calling module's name.
// Falls back to a plain stderr logger when InitLogger has not run (tests).
func ModuleLogger(module string) *logrus.Entry {
	if Logger == nil {
		Logger = logrus.New()
		Logger.SetLevel(logrus.WarnLevel)
	}
	return Logger.WithField("module", module)
}
