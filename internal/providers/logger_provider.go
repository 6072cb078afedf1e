package providers

import (
	"consentsync/internal/structures"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

type TypeEnum int

const (
	TypeApp TypeEnum = iota
	TypeGet
	TypePost
	TypeSync
)

func (t TypeEnum) String() string {
	switch t {
	case TypeGet:
		return "get"
	case TypePost:
		return "post"
	case TypeSync:
		return "sync"
	default:
		return "app"
	}
}

type Logger interface {
	Errorf(t TypeEnum, format string, args ...interface{})
	Warnf(t TypeEnum, format string, args ...interface{})
	Debugf(t TypeEnum, format string, args ...interface{})
	Infof(t TypeEnum, format string, args ...interface{})
	Fatalf(t TypeEnum, format string, args ...interface{})
	Close()
}

const logFileName = "consentsync.log"

type LogProvider struct {
	log  zerolog.Logger
	file *os.File
}

func GetLogTypeByRequestType(method string) TypeEnum {
	if method == http.MethodPost {
		return TypePost
	}
	return TypeGet
}

func NewLogProvider(conf *structures.Config) (Logger, error) {
	level, err := zerolog.ParseLevel(conf.Logger.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", conf.Logger.Level, err)
	}

	path := filepath.Join(conf.Logger.Dir, logFileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, os.FileMode(conf.Logger.Mode))
	if err != nil {
		return nil, fmt.Errorf("unable to open log file %s: %w", path, err)
	}

	var out io.Writer = file
	if conf.Debug {
		out = zerolog.MultiLevelWriter(file, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		level = zerolog.DebugLevel
	}

	return &LogProvider{
		log:  zerolog.New(out).Level(level).With().Timestamp().Logger(),
		file: file,
	}, nil
}

func (l *LogProvider) Errorf(t TypeEnum, format string, args ...interface{}) {
	l.log.Error().Str("type", t.String()).Msgf(format, args...)
}

func (l *LogProvider) Warnf(t TypeEnum, format string, args ...interface{}) {
	l.log.Warn().Str("type", t.String()).Msgf(format, args...)
}

func (l *LogProvider) Debugf(t TypeEnum, format string, args ...interface{}) {
	l.log.Debug().Str("type", t.String()).Msgf(format, args...)
}

func (l *LogProvider) Infof(t TypeEnum, format string, args ...interface{}) {
	l.log.Info().Str("type", t.String()).Msgf(format, args...)
}

func (l *LogProvider) Fatalf(t TypeEnum, format string, args ...interface{}) {
	l.log.Fatal().Str("type", t.String()).Msgf(format, args...)
}

func (l *LogProvider) Close() {
	if l.file != nil {
		_ = l.file.Sync()
		_ = l.file.Close()
	}
}
