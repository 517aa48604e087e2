package shardbench

import (
	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	LogError LogLevel = iota
	LogWarning
	LogInfo
	LogDebug
)

type Logger interface {
	Log(level LogLevel, message string)
}

var StdLogInstance = &StdLogger{Level: LogInfo}

// StdLogger forwards to the standard logrus logger, dropping anything above Level
type StdLogger struct {
	Level LogLevel
}

func (stdl *StdLogger) Log(level LogLevel, message string) {
	if stdl.Level < level {
		return
	}

	switch level {
	case LogError:
		logrus.Error(message)
	case LogWarning:
		logrus.Warn(message)
	case LogInfo:
		logrus.Info(message)
	case LogDebug:
		logrus.Debug(message)
	}
}

// LogTo logs to l, or the standard logger if l is nil.
// err is appended to the message if set
func LogTo(l Logger, level LogLevel, err error, msg string) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}

	if l == nil {
		StdLogInstance.Log(level, msg)
	} else {
		l.Log(level, msg)
	}
}

// Phase names used for progress reporting and in the run journal
const (
	PhaseCheck     = "check"
	PhasePrepare   = "prepare"
	PhaseClear     = "clear"
	PhaseGenerate  = "generate"
	PhaseMigrate   = "migrate"
	PhaseBenchmark = "benchmark"
	PhaseIdle      = "idle"
)
