// Package logging builds the logrus loggers used by the server and the editor.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/writer"
)

// Options configures a logger.
type Options struct {
	// Level is a logrus level name. Empty means info.
	Level string

	// Format is "json" or "text". Empty means text.
	Format string

	// Dir, when set, sends logs to files in Dir instead of Output: warnings and
	// errors to Name.log, everything else to Name-debug.log.
	Dir  string
	Name string

	// Output receives the logs when Dir is empty. Defaults to stderr.
	Output io.Writer
}

// Logger is a logrus logger and the files it writes to.
type Logger struct {
	*logrus.Logger
	files []*os.File
}

// New returns a logger configured by opts.
func New(opts Options) (*Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if opts.Level != "" {
		var err error
		if level, err = logrus.ParseLevel(opts.Level); err != nil {
			return nil, errors.Wrap(err, "log level")
		}
	}
	logger.SetLevel(level)

	switch opts.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("unknown log format %q", opts.Format)
	}

	out := &Logger{Logger: logger}

	if opts.Dir == "" {
		if opts.Output == nil {
			opts.Output = os.Stderr
		}
		logger.SetOutput(opts.Output)
		return out, nil
	}

	if err := out.addFileHooks(opts.Dir, opts.Name); err != nil {
		return nil, err
	}
	return out, nil
}

// addFileHooks splits the log into a main log for warnings and above and a debug log
// for the rest.
func (l *Logger) addFileHooks(dir, name string) error {
	if name == "" {
		name = "otpad"
	}
	if err := ensureDirExists(dir); err != nil {
		return err
	}

	logFile, err := openLog(filepath.Join(dir, name+".log"))
	if err != nil {
		return err
	}
	debugLogFile, err := openLog(filepath.Join(dir, name+"-debug.log"))
	if err != nil {
		logFile.Close()
		return err
	}
	l.files = []*os.File{logFile, debugLogFile}

	l.SetOutput(io.Discard)
	l.AddHook(&writer.Hook{
		Writer: logFile,
		LogLevels: []logrus.Level{
			logrus.WarnLevel,
			logrus.ErrorLevel,
			logrus.FatalLevel,
			logrus.PanicLevel,
		},
	})
	l.AddHook(&writer.Hook{
		Writer: debugLogFile,
		LogLevels: []logrus.Level{
			logrus.TraceLevel,
			logrus.DebugLevel,
			logrus.InfoLevel,
		},
	})
	return nil
}

// Close closes the log files, if any.
func (l *Logger) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}

// DefaultDir returns ~/.otpad, or the working directory when there is no home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".otpad")
}

// ensureDirExists creates path if it is not there yet.
func ensureDirExists(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return errors.Wrapf(os.MkdirAll(path, 0o700), "create log directory %s", path)
}

func openLog(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // skipcq: GSC-G302
	return f, errors.Wrapf(err, "open %s", path)
}
