package calicodb

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InfoLog is the injected logging sink, replacing the source's global
// logging singleton with an explicit interface. The zero value of any
// implementation is never used directly; Options.InfoLog defaults to
// noopLog when unset.
type InfoLog interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLog struct{}

func (noopLog) Debugf(string, ...any) {}
func (noopLog) Infof(string, ...any)  {}
func (noopLog) Errorf(string, ...any) {}

// zapInfoLog backs InfoLog with a sugared zap logger, tagging every
// line with a per-Database correlation id so concurrently open
// instances sharing a log file can be told apart.
type zapInfoLog struct {
	sugar *zap.SugaredLogger
	id    string
}

// NewZapInfoLog opens (creating if necessary) a JSON-line log file at
// path and returns an InfoLog backed by it.
func NewZapInfoLog(path string) (InfoLog, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapInfoLog{sugar: logger.Sugar(), id: uuid.NewString()}, nil
}

func (l *zapInfoLog) Debugf(format string, args ...any) {
	l.sugar.Debugf("["+l.id+"] "+format, args...)
}

func (l *zapInfoLog) Infof(format string, args ...any) {
	l.sugar.Infof("["+l.id+"] "+format, args...)
}

func (l *zapInfoLog) Errorf(format string, args ...any) {
	l.sugar.Errorf("["+l.id+"] "+format, args...)
}
