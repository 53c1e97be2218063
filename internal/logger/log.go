package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type LogStatus int

const (
	VERBOSE LogStatus = iota
	DEBUG
	INFO
	SUCCESS
	NEW
	REMOVE
	STOP
	WARNING
	ERROR
	FATAL
)

var statusNames = []string{"VERBOSE", "DEBUG", "INFO", "SUCCESS", "NEW", "REMOVE", "STOP", "WARNING", "ERROR", "FATAL"}

func (e LogStatus) String() string {
	return []string{
		"V",
		"D",
		"I",
		"✓",
		"+",
		"-",
		"X",
		"!",
		"!!",
		"PANIC",
	}[e]
}

func (e LogStatus) Color() *color.Color {
	return []*color.Color{
		color.New(color.FgWhite, color.Italic),                //Verbose
		color.New(color.FgWhite, color.Italic),                //Debug
		color.New(color.FgWhite),                              //Info
		color.New(color.FgHiGreen),                            //Success
		color.New(color.FgGreen, color.Italic),                //New
		color.New(color.FgYellow, color.Italic),               //Remove
		color.New(color.FgHiYellow),                           //Stop
		color.New(color.FgYellow, color.Underline),            //Warning
		color.New(color.FgHiRed, color.Bold),                  //Error
		color.New(color.FgHiRed, color.Bold, color.Underline), //Fatal
	}[e]
}

// ParseLevel maps a level name (case-insensitive) to a LogStatus. Unknown
// names resolve to INFO.
func ParseLevel(name string) LogStatus {
	for i, n := range statusNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return LogStatus(i)
		}
	}
	return INFO
}

// Logger is a named handle onto the shared log manager. Besides Emit it
// offers the printf-style helpers and the Print/Fatal family expected by
// goose's migration logger.
type Logger interface {
	Emit(LogStatus, string, ...any)
	Verbosef(string, ...any)
	Debugf(string, ...any)
	Infof(string, ...any)
	Warnf(string, ...any)
	Errorf(string, ...any)

	Print(...any)
	Println(...any)
	Printf(string, ...any)
	Fatal(...any)
	Fatalf(string, ...any)
}

type loggerImpl struct {
	name string
}

func (l *loggerImpl) Emit(status LogStatus, message string, interpolations ...any) {
	mgr.emit(status, l.name, message, interpolations...)
}

func (l *loggerImpl) Verbosef(m string, a ...any) { l.Emit(VERBOSE, m, a...) }
func (l *loggerImpl) Debugf(m string, a ...any)   { l.Emit(DEBUG, m, a...) }
func (l *loggerImpl) Infof(m string, a ...any)    { l.Emit(INFO, m, a...) }
func (l *loggerImpl) Warnf(m string, a ...any)    { l.Emit(WARNING, m, a...) }
func (l *loggerImpl) Errorf(m string, a ...any)   { l.Emit(ERROR, m, a...) }

func (l *loggerImpl) Print(a ...any)            { l.Emit(INFO, "%s", fmt.Sprint(a...)) }
func (l *loggerImpl) Println(a ...any)          { l.Emit(INFO, "%s", fmt.Sprintln(a...)) }
func (l *loggerImpl) Printf(m string, a ...any) { l.Emit(INFO, m, a...) }

func (l *loggerImpl) Fatal(a ...any) {
	l.Emit(FATAL, "%s", fmt.Sprint(a...))
	os.Exit(1)
}

func (l *loggerImpl) Fatalf(m string, a ...any) {
	l.Emit(FATAL, m, a...)
	os.Exit(1)
}

type loggerMgr struct {
	mu       sync.Mutex
	offset   int
	minLevel LogStatus
}

var mgr = &loggerMgr{minLevel: INFO}

func (l *loggerMgr) emit(status LogStatus, name string, message string, interpolations ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if status < l.minLevel {
		return
	}

	if len(name) > l.offset {
		l.offset = len(name)
	}
	padding := strings.Repeat(" ", l.offset-len(name))
	msg := fmt.Sprintf("[%s] %s(%s) %s", name, padding, status, fmt.Sprintf(message, interpolations...))
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	status.Color().Print(msg)
}

// SetMinLoggingLevel drops every message below the given level.
func SetMinLoggingLevel(level LogStatus) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	mgr.minLevel = level
}

func Get(name string) Logger {
	return &loggerImpl{name: name}
}
