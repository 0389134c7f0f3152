// Package config reads the server and client configuration from command-line flags,
// an optional .env file and the environment. An explicitly passed flag wins over the
// environment, which wins over the .env file, which wins over the flag default.
package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/burntcarrot/otpad/journal"
)

// Server holds the flags of otpad-server.
type Server struct {
	Addr      string
	LogLevel  string
	LogFormat string
	LogDir    string

	Journal       string
	BadgerPath    string
	RedisAddr     string
	JournalMaxLen int64

	ShutdownTimeout time.Duration
}

// JournalOptions returns the journal backend selected by the flags.
func (s Server) JournalOptions() journal.Options {
	return journal.Options{
		Kind:       s.Journal,
		BadgerPath: s.BadgerPath,
		RedisAddr:  s.RedisAddr,
		MaxLen:     s.JournalMaxLen,
	}
}

// Client holds the flags of the otpad editor.
type Client struct {
	Server   string
	Secure   bool
	Document string
	User     string
	Debug    bool
	LogDir   string
}

// LoadServer parses the server flags in args, without the program name.
func LoadServer(args []string) (Server, error) {
	var cfg Server

	fs := flag.NewFlagSet("otpad-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", ":8080", "The network address to listen on")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: trace, debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	fs.StringVar(&cfg.LogDir, "log-dir", "", "Directory for log files; empty logs to stderr")
	fs.StringVar(&cfg.Journal, "journal", journal.KindMemory, "Journal backend: memory, badger or redis")
	fs.StringVar(&cfg.BadgerPath, "badger-path", "", "Badger directory; empty keeps the journal in memory")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "localhost:6379", "Redis address for the redis journal")
	fs.Int64Var(&cfg.JournalMaxLen, "journal-max-len", 0, "Approximate cap on each Redis journal stream; 0 keeps everything")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "How long to wait for connections to close on shutdown")
	envFile := fs.String("env", ".env", "Path to a .env file")

	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}

	src, err := newSource(fs, *envFile)
	if err != nil {
		return Server{}, err
	}

	src.str("addr", "OTPAD_ADDR", &cfg.Addr)
	src.str("log-level", "OTPAD_LOG_LEVEL", &cfg.LogLevel)
	src.str("log-format", "OTPAD_LOG_FORMAT", &cfg.LogFormat)
	src.str("log-dir", "OTPAD_LOG_DIR", &cfg.LogDir)
	src.str("journal", "OTPAD_JOURNAL", &cfg.Journal)
	src.str("badger-path", "OTPAD_BADGER_PATH", &cfg.BadgerPath)
	src.str("redis-addr", "OTPAD_REDIS_ADDR", &cfg.RedisAddr)
	if err := src.int64("journal-max-len", "OTPAD_JOURNAL_MAX_LEN", &cfg.JournalMaxLen); err != nil {
		return Server{}, err
	}
	if err := src.duration("shutdown-timeout", "OTPAD_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout); err != nil {
		return Server{}, err
	}

	switch cfg.Journal {
	case journal.KindMemory, journal.KindBadger, journal.KindRedis:
	default:
		return Server{}, errors.Wrapf(journal.ErrUnknownKind, "%q", cfg.Journal)
	}
	return cfg, nil
}

// LoadClient parses the client flags in args, without the program name.
func LoadClient(args []string) (Client, error) {
	var cfg Client

	fs := flag.NewFlagSet("otpad", flag.ContinueOnError)
	fs.StringVar(&cfg.Server, "server", "localhost:8080", "The network address of the server")
	fs.BoolVar(&cfg.Secure, "secure", false, "Enable a secure WebSocket connection (wss://)")
	fs.StringVar(&cfg.Document, "doc", "scratch", "The document to open")
	fs.StringVar(&cfg.User, "user", "", "Your user name; prompts when empty")
	fs.BoolVar(&cfg.Debug, "debug", false, "Enable debugging mode to show more verbose logs")
	fs.StringVar(&cfg.LogDir, "log-dir", "", "Directory for log files; defaults to ~/.otpad")
	envFile := fs.String("env", ".env", "Path to a .env file")

	if err := fs.Parse(args); err != nil {
		return Client{}, err
	}

	src, err := newSource(fs, *envFile)
	if err != nil {
		return Client{}, err
	}

	src.str("server", "OTPAD_SERVER", &cfg.Server)
	src.str("doc", "OTPAD_DOCUMENT", &cfg.Document)
	src.str("user", "OTPAD_USER", &cfg.User)
	src.str("log-dir", "OTPAD_LOG_DIR", &cfg.LogDir)
	if err := src.bool("secure", "OTPAD_SECURE", &cfg.Secure); err != nil {
		return Client{}, err
	}
	if err := src.bool("debug", "OTPAD_DEBUG", &cfg.Debug); err != nil {
		return Client{}, err
	}

	if cfg.Document == "" {
		return Client{}, errors.New("document must not be empty")
	}
	return cfg, nil
}

// source resolves a setting that was not passed explicitly on the command line.
type source struct {
	explicit map[string]bool
	dotenv   map[string]string
}

func newSource(fs *flag.FlagSet, envFile string) (source, error) {
	src := source{explicit: make(map[string]bool), dotenv: map[string]string{}}
	fs.Visit(func(f *flag.Flag) { src.explicit[f.Name] = true })

	if _, err := os.Stat(envFile); err == nil {
		values, err := godotenv.Read(envFile)
		if err != nil {
			return source{}, errors.Wrapf(err, "read %s", envFile)
		}
		src.dotenv = values
	}
	return src, nil
}

func (s source) lookup(name, env string) (string, bool) {
	if s.explicit[name] {
		return "", false
	}
	if v, ok := os.LookupEnv(env); ok {
		return v, true
	}
	v, ok := s.dotenv[env]
	return v, ok
}

func (s source) str(name, env string, dst *string) {
	if v, ok := s.lookup(name, env); ok {
		*dst = v
	}
}

func (s source) bool(name, env string, dst *bool) error {
	v, ok := s.lookup(name, env)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return errors.Wrapf(err, "%s", env)
	}
	*dst = b
	return nil
}

func (s source) int64(name, env string, dst *int64) error {
	v, ok := s.lookup(name, env)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "%s", env)
	}
	*dst = n
	return nil
}

func (s source) duration(name, env string, dst *time.Duration) error {
	v, ok := s.lookup(name, env)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "%s", env)
	}
	*dst = d
	return nil
}
