package logger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	log zerolog.Logger

	DurationAsString  = true
	DataFieldName     = "data"
	DurationFieldName = "dur"
	ErrorsFieldName   = "errors"

	EmptyMessage = ""
)

var ErrInvalidLevel = errors.New("invalid log level")

func Log() *zerolog.Logger {
	return &log
}

// JSON Tag a byte slice as being a JSON document
type JSON []byte

// Builder appends custom fields to an event.
type Builder func(event *zerolog.Event)

func init() {
	setCallerFormatter()

	// Use GCP cloud logging naming
	zerolog.LevelFieldName = "severity"
	zerolog.LevelFieldMarshalFunc = func(l zerolog.Level) string {
		switch l {
		case zerolog.TraceLevel:
			return "DEFAULT"
		case zerolog.DebugLevel:
			return "DEBUG"
		case zerolog.InfoLevel:
			return "INFO"
		case zerolog.NoLevel:
			return "NOTICE"
		case zerolog.WarnLevel:
			return "WARN"
		case zerolog.ErrorLevel:
			return "ERROR"
		case zerolog.PanicLevel:
			return "CRITICAL"
		case zerolog.FatalLevel:
			return "EMERGENCY"
		default:
			return "DEFAULT"
		}
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	SetConsoleWriter()
}

func setCallerFormatter() {
	_, file, _, _ := runtime.Caller(0)
	prefix := path.Dir(path.Dir(file))
	if len(prefix) > 0 && prefix[len(prefix)-1] != os.PathSeparator {
		prefix += "/"
	}

	zerolog.CallerMarshalFunc = func(file string, line int) string {
		index := strings.Index(file, prefix)
		if index > -1 {
			file = file[index+len(prefix):]
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
}

// ParseLevel maps the command line level names onto zerolog levels.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "verbose", "verb", "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "notice", "info", "":
		return zerolog.InfoLevel, nil
	case "warning", "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "quiet", "silent":
		return zerolog.Disabled, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("%w: %s", ErrInvalidLevel, level)
	}
}

func SetLevel(level string) error {
	l, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(l)
	return nil
}

func SetWriter(w io.Writer) {
	log = zerolog.New(w)
}

func SetLogger(logger zerolog.Logger) {
	log = logger
}

func appendValue(event *zerolog.Event, k string, value interface{}) {
	switch v := value.(type) {
	case string:
		event.Str(k, v)
	case int:
		event.Int(k, v)
	case int32:
		event.Int32(k, v)
	case int64:
		event.Int64(k, v)
	case uint64:
		event.Uint64(k, v)
	case float64:
		event.Float64(k, v)
	case bool:
		event.Bool(k, v)
	case error:
		event.AnErr(k, v)
	case time.Time:
		event.Time(k, v)
	case time.Duration:
		if DurationAsString {
			event.Str(k, v.String())
		} else {
			event.Dur(k, v)
		}
	case JSON:
		event.RawJSON(k, v)
	case json.Marshaler:
		bytes, err := v.MarshalJSON()
		if err != nil {
			event.AnErr(k, err)
		} else {
			event.RawJSON(k, bytes)
		}
	case Builder:
		v(event)
	case fmt.Stringer:
		event.Str(k, v.String())
	default:
		event.Interface(k, v)
	}
}

// doLog treats args as key/value pairs. A trailing key without a value is the
// message, and a key containing '%' is a format template for the remaining
// args.
func doLog(skip int, event *zerolog.Event, args []interface{}) {
	if event == nil {
		return
	}
	event.Timestamp()
	event.Caller(skip)

	if len(args) > 0 {
		if err, ok := args[0].(error); ok {
			event.Err(err)
			args = args[1:]
		}
	}

	for i := 0; i < len(args); i++ {
		switch k := args[i].(type) {
		case nil:
			continue
		case string:
			if strings.Contains(k, "%") {
				event.Msgf(k, args[i+1:]...)
				return
			}
			if i+1 == len(args) {
				event.Msg(k)
				return
			}
			appendValue(event, k, args[i+1])
			i++
		case error:
			event.Err(k)
		case []error:
			event.Errs(ErrorsFieldName, k)
		case time.Duration:
			appendValue(event, DurationFieldName, k)
		case Builder:
			k(event)
		default:
			appendValue(event, DataFieldName, k)
		}
	}

	event.Msg(EmptyMessage)
}

func CustomLevel(level string) *zerolog.Event {
	l := log.Level(zerolog.NoLevel)
	return l.Log().Str(zerolog.LevelFieldName, level)
}

// Trace logs a message at level Trace on the standard logger.
func Trace(args ...interface{}) {
	doLog(2, log.Trace(), args)
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	doLog(2, log.Debug(), args)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	doLog(2, log.Info(), args)
}

// Notice logs a message at level Notice on the standard logger.
func Notice(args ...interface{}) {
	doLog(2, CustomLevel("NOTICE"), args)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	doLog(2, log.Warn(), args)
}

// WarnErr logs err at level Warn on the standard logger.
func WarnErr(err error, args ...interface{}) {
	doLog(2, log.Warn().Err(err), args)
}

// Error logs a message at level Error on the standard logger.
func Error(err error, args ...interface{}) {
	doLog(2, log.Error().Err(err), args)
}

// Fatal logs a message at level Fatal on the standard logger then the process will exit with status set to 1.
func Fatal(err error, args ...interface{}) {
	doLog(2, log.Fatal().Err(err), args)
}
