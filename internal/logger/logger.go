package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger used across the application. The level can
// be raised to debug with PEERCHAT_DEBUG=1.
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if os.Getenv("PEERCHAT_DEBUG") != "" {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
