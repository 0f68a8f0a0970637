// Package logging provides leveled package-level logging with optional
// rotation of the log file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

var (
	mu     sync.Mutex
	mode   = InfoMode
	std    = log.New(os.Stderr, "", log.LstdFlags)
	rotate *lumberjack.Logger
)

// LogConfig describes a rotating log file.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`
}

// SetLogger sends log messages to a rotating log file. Without a file name
// messages keep going to stderr.
func (c *LogConfig) SetLogger() {
	if c == nil || c.Logfile == "" {
		Debugf("Sending log messages to stderr since no log file specified.")
		return
	}
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	mu.Lock()
	rotate = l
	std.SetOutput(l)
	mu.Unlock()
	Infof("Sending log messages to: %s", c.Logfile)
}

// SetOutput redirects log messages to w.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// SetLogMode sets the severity required for a log message to be printed.
// SilentMode turns off all logging.
func SetLogMode(newMode ModeFlag) {
	mu.Lock()
	mode = newMode
	mu.Unlock()
}

func enabled(m ModeFlag) bool {
	mu.Lock()
	defer mu.Unlock()
	return mode <= m
}

func printf(m ModeFlag, level, format string, args ...interface{}) {
	if !enabled(m) {
		return
	}
	std.Printf(" "+level+" "+format, args...)
}

func Debugf(format string, args ...interface{}) {
	printf(DebugMode, "DEBUG", format, args...)
}

func Infof(format string, args ...interface{}) {
	printf(InfoMode, "INFO", format, args...)
}

func Warningf(format string, args ...interface{}) {
	printf(WarningMode, "WARNING", format, args...)
}

func Errorf(format string, args ...interface{}) {
	printf(ErrorMode, "ERROR", format, args...)
}

// Shutdown closes the log file if one was set.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if rotate != nil {
		rotate.Close()
		rotate = nil
		std.SetOutput(os.Stderr)
	}
}

// TimeLog appends the elapsed time since its creation to messages.
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, time.Since(t.start))...)
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, time.Since(t.start))...)
}

// Progress reports tiling progress through the package logger. Step
// messages are logged at debug level, except every tenth of the work which
// is logged at info level.
type Progress struct {
	// Label prefixes every message
	Label string
}

// Status implements tiling.Progress.
func (p Progress) Status(msg string) {
	Infof("%s", p.prefix()+msg)
}

// Step implements tiling.Progress.
func (p Progress) Step(done, total int) {
	if total <= 0 {
		return
	}
	msg := fmt.Sprintf("%s%d/%d tiles processed", p.prefix(), done, total)
	every := max(total/10, 1)
	if done == total || done%every == 0 {
		Infof("%s", msg)
		return
	}
	Debugf("%s", msg)
}

func (p Progress) prefix() string {
	if p.Label == "" {
		return ""
	}
	return p.Label + ": "
}
