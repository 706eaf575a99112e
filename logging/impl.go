package logging

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type impl struct {
	name      string
	level     AtomicLevel
	inUTC     bool
	appenders []Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: appenders}
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return newImpl(name, imp.level.Get(), imp.inUTC, imp.appenders...)
}

func (imp *impl) Sync() error {
	var err error
	for _, a := range imp.appenders {
		err = multierr.Append(err, a.Sync())
	}
	return err
}

// callerSkip is the number of frames between emit and the code calling a Logger method.
const callerSkip = 2

// emit writes one entry to every appender. It must be called directly from a Logger method so
// callerSkip points at the user's call site.
func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	if level < imp.level.Get() {
		return
	}
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	if pc, file, line, ok := runtime.Caller(callerSkip); ok {
		entry.Caller = zapcore.NewEntryCaller(pc, file, line, true)
		if fn := runtime.FuncForPC(pc); fn != nil {
			entry.Caller.Function = fn.Name()
		}
	}
	for _, a := range imp.appenders {
		if err := a.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

var errUnpairedKey = errors.New("unpaired log key")

// pairs turns alternating keys and values into zap fields. A trailing key without a value is
// kept with an error value so it is not silently lost.
func pairs(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errUnpairedKey))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) Debug(args ...interface{}) { imp.emit(DEBUG, fmt.Sprint(args...), nil) }
func (imp *impl) Info(args ...interface{})  { imp.emit(INFO, fmt.Sprint(args...), nil) }
func (imp *impl) Warn(args ...interface{})  { imp.emit(WARN, fmt.Sprint(args...), nil) }
func (imp *impl) Error(args ...interface{}) { imp.emit(ERROR, fmt.Sprint(args...), nil) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.emit(DEBUG, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.emit(INFO, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.emit(WARN, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.emit(ERROR, fmt.Sprintf(template, args...), nil)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.emit(DEBUG, msg, pairs(keysAndValues))
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.emit(INFO, msg, pairs(keysAndValues))
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.emit(WARN, msg, pairs(keysAndValues))
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.emit(ERROR, msg, pairs(keysAndValues))
}

func (imp *impl) Fatal(args ...interface{}) {
	imp.emit(ERROR, fmt.Sprint(args...), nil)
	//nolint:errcheck
	imp.Sync()
	os.Exit(1)
}
