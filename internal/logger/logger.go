// Package logger is the process-wide structured logger. Every call is a no-op
// until Init or InitWriter runs, so library code and tests may log freely.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/julianstephens/habitgarden/internal/constants"
)

const (
	DirName = "logs"

	// DefaultFile receives interactive commands; the daemon writes DaemonFile
	DefaultFile = "habitgarden.log"
	DaemonFile  = "daemon.log"
)

var (
	// Logger is the global logger instance
	Logger *log.Logger

	// rotating file behind Logger, closed when Init replaces it
	file io.Closer
)

type Config struct {
	Debug     bool
	ConfigDir string
	// File under <ConfigDir>/logs; DefaultFile when empty
	File string
}

// Path returns where Init writes for the given config directory and file name
func Path(configDir, name string) string {
	if name == "" {
		name = DefaultFile
	}
	return filepath.Join(configDir, DirName, name)
}

// LevelFor maps the --debug flag onto a log level
func LevelFor(debug bool) log.Level {
	if debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}

// Init points the global logger at a rotating file. Debug mode also mirrors
// every line to stderr and reports callers.
func Init(cfg Config) error {
	path := Path(cfg.ConfigDir, cfg.File)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	rotating := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	var w io.Writer = rotating
	if cfg.Debug {
		w = io.MultiWriter(os.Stderr, rotating)
	}

	replace(newLogger(w, LevelFor(cfg.Debug), cfg.Debug), rotating)
	return nil
}

// InitWriter points the global logger at w, e.g. stderr for a foreground daemon
func InitWriter(w io.Writer, level log.Level) {
	replace(newLogger(w, level, false), nil)
}

// Close flushes and releases the log file, leaving logging disabled
func Close() error {
	return replace(nil, nil)
}

func newLogger(w io.Writer, level log.Level, caller bool) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportCaller:    caller,
		ReportTimestamp: true,
		Level:           level,
		Prefix:          constants.AppName,
	})
}

func replace(l *log.Logger, c io.Closer) error {
	var err error
	if file != nil {
		err = file.Close()
	}
	Logger, file = l, c
	return err
}

func logAt(level log.Level, msg string, keyvals []interface{}) {
	if Logger == nil {
		return
	}
	Logger.Log(level, msg, keyvals...)
}

func Debug(msg string, keyvals ...interface{}) { logAt(log.DebugLevel, msg, keyvals) }

func Info(msg string, keyvals ...interface{}) { logAt(log.InfoLevel, msg, keyvals) }

func Warn(msg string, keyvals ...interface{}) { logAt(log.WarnLevel, msg, keyvals) }

func Error(msg string, keyvals ...interface{}) { logAt(log.ErrorLevel, msg, keyvals) }
