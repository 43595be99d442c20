// Package telemetry пишет журнал устройства в консоль и доставляет записи в удаленный коллектор.
package telemetry

import "go.uber.org/zap/zapcore"

// Level уровень записи журнала
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText кодирует уровень именем, как в документе коллектора
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// CRITICAL отображается на DPanic: логгер консоли собирается без zap.Development, паники нет
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarning:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

func levelFromZap(l zapcore.Level) Level {
	switch l {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.InfoLevel:
		return LevelInfo
	case zapcore.WarnLevel:
		return LevelWarning
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelCritical
	}
}
