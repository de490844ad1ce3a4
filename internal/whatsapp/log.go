package whatsapp

import (
	"fmt"

	"github.com/sirupsen/logrus"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wa_command_bot/internal/logging"
)

// logBridge routes whatsmeow's printf-style logging into logrus.
type logBridge struct {
	entry *logrus.Entry
}

var _ waLog.Logger = logBridge{}

// NewLogger adapts a logrus entry to whatsmeow's logger interface.
func NewLogger(entry *logrus.Entry, module string) waLog.Logger {
	if entry == nil {
		entry = logging.Logger()
	}
	return logBridge{entry: entry.WithField("module", module)}
}

func (l logBridge) Debugf(msg string, args ...interface{}) {
	l.entry.WithField("event", "whatsmeow_log").Debug(fmt.Sprintf(msg, args...))
}

func (l logBridge) Infof(msg string, args ...interface{}) {
	l.entry.WithField("event", "whatsmeow_log").Info(fmt.Sprintf(msg, args...))
}

func (l logBridge) Warnf(msg string, args ...interface{}) {
	l.entry.WithField("event", "whatsmeow_log").Warn(fmt.Sprintf(msg, args...))
}

func (l logBridge) Errorf(msg string, args ...interface{}) {
	l.entry.WithField("event", "whatsmeow_log").Error(fmt.Sprintf(msg, args...))
}

func (l logBridge) Sub(module string) waLog.Logger {
	parent, _ := l.entry.Data["module"].(string)
	if parent != "" {
		module = parent + "/" + module
	}
	return logBridge{entry: l.entry.WithField("module", module)}
}
