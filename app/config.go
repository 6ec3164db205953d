package app

import (
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/moontrade/flushd/codec"
	"github.com/moontrade/flushd/flush"
	"github.com/moontrade/flushd/sink"
	"github.com/moontrade/flushd/workers"
)

func versline(conf Config) string {
	sha := ""
	if conf.GitSHA != "" {
		sha = " (" + conf.GitSHA + ")"
	}
	return fmt.Sprintf("%s version %s%s", conf.Name, conf.Version, sha)
}

const usage = `{{NAME}} version: {{VERSION}} ({{GITSHA}})

Usage: {{NAME}} [-a addr] [-d dir] [options]

Basic options:
  -v                  : display version
  -h                  : display help, this screen
  -a addr             : bind to address  (default: 127.0.0.1:11002)
  -d dir              : data directory for the mdbx sink  (default: data)
  -l level            : log level  (default: info) [debug,verb,info,warn,silent]

Security options:
  --tls-cert path     : path to TLS certificate
  --tls-key path      : path to TLS private key
  --auth auth         : client authorization token
  --metrics addr      : serve prometheus metrics at http://addr/metrics

Sink options:
  --sink kind         : flush destination  (default: mdbx) [mdbx,redis,memory]
  --redis addr        : redis address for the redis sink  (default: 127.0.0.1:6379)
  --redis-auth auth   : redis AUTH token
  --redis-prefix s    : key prefix for the redis sink  (default: flushd)
  --compression c     : batch compression  (default: none) [none,lz4,zstd,snappy]
  --batch-size bytes  : optimal batch size in bytes  (default: 4194304)

Flush options:
  --buffer bytes      : max buffered bytes across all streams, 0 for no limit
                        (default: 268435456)
  --workers n         : number of flush workers  (default: 4)
  --poll dur          : scheduling poll interval  (default: 100ms)
  --interval dur      : max time a non-empty stream waits for a flush
                        (default: 5m0s)
  --policy p          : size threshold policy  (default: proportional)
                        [proportional,rank,fixed:<bytes>]
  --eager-ratio f     : buffer fill ratio at which every non-empty stream is
                        flushed, negative to disable  (default: 0.9)
  --namespace ns      : namespace for ingested records that carry none
  --localtime         : use the local server clock rather than the public
                        internet time for flush timers.
{{USAGE}}`

// Config is the configuration for managing the behavior of the application.
// This must be filled out prior and then passed to the Main() function.
type Config struct {
	// Name gives the server application a name. Default "flushd"
	Name string

	// Version of the application. Default "0.0.0"
	Version string

	// GitSHA of the application.
	GitSHA string

	// Flag is used to manage the application startup flags.
	Flag struct {
		// Custom tells Main to not automatically parse the application startup
		// flags.
		Custom bool
		// Usage is an optional function that allows for altering the usage
		// message.
		Usage func(usage string) string
		// PreParse is an optional function that allows for adding command line
		// flags before the user flags are parsed.
		PreParse func(fs *flag.FlagSet)
		// PostParse is an optional function that fires after user flags are
		// parsed.
		PostParse func()
	}

	// ServerReady is an optional callback function that fires when the server
	// socket is listening and is ready to accept incoming connections.
	ServerReady func(addr, auth string, tlscfg *tls.Config)

	// Policy overrides the size threshold policy of the scheduler.
	Policy flush.ThresholdPolicy

	Addr         string            // default "127.0.0.1:11002"
	DataDir      string            // default "data"
	LogOutput    io.Writer         // default os.Stderr
	LogLevel     string            // default "info"
	TLSCertPath  string            // default ""
	TLSKeyPath   string            // default ""
	Auth         string            // default ""
	MetricsAddr  string            // default "" (disabled)
	Sink         sink.Kind         // default mdbx
	RedisAddr    string            // default "127.0.0.1:6379"
	RedisAuth    string            // default ""
	RedisPrefix  string            // default "flushd"
	Compression  codec.Compression // default none
	BatchSize    int64             // default 4MB
	BufferSize   int64             // default 256MB
	Workers      int               // default 4
	PollInterval time.Duration     // default 100ms
	Interval     time.Duration     // default 5m
	EagerRatio   float64           // default 0.9, negative disables
	Namespace    string            // default ""
	LocalTime    bool              // default false
}

const DefaultBufferSize = 256 * sink.Megabyte

func (conf *Config) def() {
	if conf.Addr == "" {
		conf.Addr = "127.0.0.1:11002"
	}
	if conf.Version == "" {
		conf.Version = "0.0.0"
	}
	if conf.Name == "" {
		conf.Name = "flushd"
	}
	if conf.DataDir == "" {
		conf.DataDir = "data"
	}
	if conf.LogLevel == "" {
		conf.LogLevel = "info"
	}
	if conf.LogOutput == nil {
		conf.LogOutput = os.Stderr
	}
	if conf.Sink == "" {
		conf.Sink = sink.KindMDBX
	}
	if conf.RedisAddr == "" {
		conf.RedisAddr = "127.0.0.1:6379"
	}
	if conf.RedisPrefix == "" {
		conf.RedisPrefix = sink.DefaultRedisPrefix
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = sink.DefaultBatchSize
	}
	if conf.BufferSize == 0 {
		conf.BufferSize = DefaultBufferSize
	}
	if conf.Workers <= 0 {
		conf.Workers = workers.DefaultWorkers
	}
	if conf.PollInterval <= 0 {
		conf.PollInterval = workers.DefaultPollInterval
	}
	if conf.Interval <= 0 {
		conf.Interval = flush.DefaultInterval
	}
	if conf.EagerRatio == 0 {
		conf.EagerRatio = flush.DefaultEagerFlushRatio
	}
}

var errVersion = errors.New("version requested")

func (conf *Config) usage() string {
	s := usage
	s = strings.Replace(s, "{{VERSION}}", conf.Version, -1)
	if conf.GitSHA == "" {
		s = strings.Replace(s, " ({{GITSHA}})", "", -1)
		s = strings.Replace(s, "{{GITSHA}}", "", -1)
	} else {
		s = strings.Replace(s, "{{GITSHA}}", conf.GitSHA, -1)
	}
	s = strings.Replace(s, "{{NAME}}", conf.Name, -1)
	if conf.Flag.Usage != nil {
		s = conf.Flag.Usage(s)
	}
	return strings.Replace(s, "{{USAGE}}", "", -1)
}

// parseFlags fills conf from command line args. Defaults must already be set.
func (conf *Config) parseFlags(fs *flag.FlagSet, args []string) error {
	var (
		vers        bool
		kind        = string(conf.Sink)
		compression = conf.Compression.String()
		policy      string
	)
	fs.BoolVar(&vers, "v", false, "")
	fs.StringVar(&conf.Addr, "a", conf.Addr, "")
	fs.StringVar(&conf.DataDir, "d", conf.DataDir, "")
	fs.StringVar(&conf.LogLevel, "l", conf.LogLevel, "")
	fs.StringVar(&conf.TLSCertPath, "tls-cert", conf.TLSCertPath, "")
	fs.StringVar(&conf.TLSKeyPath, "tls-key", conf.TLSKeyPath, "")
	fs.StringVar(&conf.Auth, "auth", conf.Auth, "")
	fs.StringVar(&conf.MetricsAddr, "metrics", conf.MetricsAddr, "")
	fs.StringVar(&kind, "sink", kind, "")
	fs.StringVar(&conf.RedisAddr, "redis", conf.RedisAddr, "")
	fs.StringVar(&conf.RedisAuth, "redis-auth", conf.RedisAuth, "")
	fs.StringVar(&conf.RedisPrefix, "redis-prefix", conf.RedisPrefix, "")
	fs.StringVar(&compression, "compression", compression, "")
	fs.Int64Var(&conf.BatchSize, "batch-size", conf.BatchSize, "")
	fs.Int64Var(&conf.BufferSize, "buffer", conf.BufferSize, "")
	fs.IntVar(&conf.Workers, "workers", conf.Workers, "")
	fs.DurationVar(&conf.PollInterval, "poll", conf.PollInterval, "")
	fs.DurationVar(&conf.Interval, "interval", conf.Interval, "")
	fs.StringVar(&policy, "policy", policy, "")
	fs.Float64Var(&conf.EagerRatio, "eager-ratio", conf.EagerRatio, "")
	fs.StringVar(&conf.Namespace, "namespace", conf.Namespace, "")
	fs.BoolVar(&conf.LocalTime, "localtime", conf.LocalTime, "")
	if conf.Flag.PreParse != nil {
		conf.Flag.PreParse(fs)
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if vers {
		return errVersion
	}

	var err error
	if conf.Sink, err = sink.ParseKind(kind); err != nil {
		return fmt.Errorf("invalid --sink: %w", err)
	}
	if conf.Compression, err = codec.ParseCompression(compression); err != nil {
		return fmt.Errorf("invalid --compression: %w", err)
	}
	if policy != "" {
		if conf.Policy, err = flush.ParsePolicy(policy); err != nil {
			return fmt.Errorf("invalid --policy: %w", err)
		}
	}
	if conf.EagerRatio == 0 || conf.EagerRatio > 1 {
		return errors.New("flag --eager-ratio must be in (0, 1] or negative")
	}
	if conf.TLSCertPath != "" && conf.TLSKeyPath == "" {
		return errors.New("flag --tls-key cannot be empty when --tls-cert is provided")
	} else if conf.TLSCertPath == "" && conf.TLSKeyPath != "" {
		return errors.New("flag --tls-cert cannot be empty when --tls-key is provided")
	}
	if conf.BatchSize <= 0 {
		return errors.New("flag --batch-size must be positive")
	}
	if conf.BufferSize < 0 {
		return errors.New("flag --buffer cannot be negative")
	}
	if conf.BufferSize > 0 && conf.BufferSize < conf.BatchSize {
		return errors.New("flag --buffer cannot be smaller than --batch-size")
	}
	if conf.Workers <= 0 {
		return errors.New("flag --workers must be positive")
	}
	if conf.PollInterval <= 0 || conf.Interval <= 0 {
		return errors.New("flags --poll and --interval must be positive")
	}
	if _, _, err := splitHostPort(conf.Addr); err != nil {
		return fmt.Errorf("invalid -a: %w", err)
	}
	if conf.MetricsAddr != "" {
		if _, _, err := splitHostPort(conf.MetricsAddr); err != nil {
			return fmt.Errorf("invalid --metrics: %w", err)
		}
	}
	if conf.Flag.PostParse != nil {
		conf.Flag.PostParse()
	}
	return nil
}

func splitHostPort(addr string) (string, int, error) {
	colon := strings.LastIndexByte(addr, ':')
	if colon == -1 {
		return "", 0, errors.New("missing port number")
	}
	port, err := strconv.ParseUint(addr[colon+1:], 10, 16)
	if err != nil {
		return "", 0, errors.New("port number invalid")
	}
	return addr[:colon], int(port), nil
}

func confInit(conf *Config) {
	conf.def()
	if conf.Flag.Custom {
		return
	}
	flag.Usage = func() {
		w := os.Stderr
		for _, arg := range os.Args {
			if arg == "-h" || arg == "--help" {
				w = os.Stdout
				break
			}
		}
		w.Write([]byte(conf.usage()))
		if w == os.Stdout {
			os.Exit(0)
		}
	}
	err := conf.parseFlags(flag.CommandLine, os.Args[1:])
	if err == errVersion {
		fmt.Printf("%s\n", versline(*conf))
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
