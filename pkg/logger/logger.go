package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"github.com/natefinch/lumberjack"
)

var (
	loggingFilePath string
)

func Init(logLevel int, logFilePath string) error {
	loggingFilePath = logFilePath

	// set logging level
	switch {
	case logLevel == 0:
		logrus.SetLevel(logrus.InfoLevel)
	case logLevel == 1:
		logrus.SetLevel(logrus.DebugLevel)
	case logLevel > 1:
		logrus.SetLevel(logrus.TraceLevel)
	}

	// set formatter
	logrus.SetFormatter(&prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		ForceFormatting: true,
	})

	// set output(s)
	if logFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFilePath,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     30,
		}
		logrus.SetOutput(io.MultiWriter(os.Stdout, rotator))
	} else {
		logrus.SetOutput(os.Stdout)
	}

	return nil
}

func GetLogger(prefix string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"prefix": prefix})
}

func ShowUsing() {
	if loggingFilePath != "" {
		GetLogger("log").Infof("Using LOG = %q", loggingFilePath)
	}
}
