package session

import "qazna.org/console/internal/obs"

// Notifier surfaces user-facing notices such as the login confirmation.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// LogNotifier writes notices to the structured log.
type LogNotifier struct{}

func (LogNotifier) Success(msg string) {
	obs.Log(obs.LevelInfo, "notice", map[string]any{"kind": "success", "text": msg})
}

func (LogNotifier) Error(msg string) {
	obs.Log(obs.LevelWarn, "notice", map[string]any{"kind": "error", "text": msg})
}

// NotifierFuncs adapts plain functions; nil fields are ignored.
type NotifierFuncs struct {
	OnSuccess func(string)
	OnError   func(string)
}

func (n NotifierFuncs) Success(msg string) {
	if n.OnSuccess != nil {
		n.OnSuccess(msg)
	}
}

func (n NotifierFuncs) Error(msg string) {
	if n.OnError != nil {
		n.OnError(msg)
	}
}
