// mongosink runs the notification sink as a standalone process, reading a
// framed record stream from the host on stdin. It exists chiefly for
// soak-testing a deployment's store, selector, and retention configuration
// outside of the host process; embedders use package sink directly.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/solstream-io/mongosink/buffer"
	"github.com/solstream-io/mongosink/coordinator"
	mbp "github.com/solstream-io/mongosink/mainboilerplate"
	"github.com/solstream-io/mongosink/metrics"
	"github.com/solstream-io/mongosink/pool"
	"github.com/solstream-io/mongosink/selector"
	"github.com/solstream-io/mongosink/sink"
	"github.com/solstream-io/mongosink/store/mongostore"
	"github.com/solstream-io/mongosink/sweeper"
)

const iniFilename = "mongosink.ini"

// Config is the top-level configuration object of a mongosink process.
var Config = new(struct {
	Store struct {
		URI            string        `long:"uri" env:"URI" default:"mongodb://localhost:27017" description:"MongoDB deployment connection string"`
		Database       string        `long:"database" env:"DATABASE" default:"solana" description:"Database holding the sink's collections"`
		ConnectTimeout time.Duration `long:"connect-timeout" env:"CONNECT_TIMEOUT" default:"10s" description:"Timeout of dialing and initial liveness ping"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Selector struct {
		Path string `long:"path" env:"PATH" description:"Path of the YAML selector configuration file"`
	} `group:"Selector" namespace:"selector" env-namespace:"SELECTOR"`

	Buffer struct {
		MaxCount    int           `long:"max-count" env:"MAX_COUNT" default:"256" description:"Document count at which a batch flushes"`
		MaxAge      time.Duration `long:"max-age" env:"MAX_AGE" default:"1s" description:"Maximum staleness of a buffered batch"`
		IntakeDepth int           `long:"intake-depth" env:"INTAKE_DEPTH" default:"16" description:"Flushed batches queued per collection before shedding"`
	} `group:"Buffer" namespace:"buffer" env-namespace:"BUFFER"`

	Pool struct {
		Min                int           `long:"min" env:"MIN" default:"2" description:"Connections held open when idle"`
		Max                int           `long:"max" env:"MAX" default:"8" description:"Maximum concurrently open connections"`
		AcquireTimeout     time.Duration `long:"acquire-timeout" env:"ACQUIRE_TIMEOUT" default:"5s" description:"Timeout of waiting for a pooled connection"`
		PingInterval       time.Duration `long:"ping-interval" env:"PING_INTERVAL" default:"30s" description:"Interval between idle connection validation passes"`
		PingTimeout        time.Duration `long:"ping-timeout" env:"PING_TIMEOUT" default:"5s" description:"Timeout of each validation ping"`
		MaxStartupAttempts int           `long:"max-startup-attempts" env:"MAX_STARTUP_ATTEMPTS" default:"10" description:"Dial attempts before startup is declared failed"`
	} `group:"Pool" namespace:"pool" env-namespace:"POOL"`

	Writer struct {
		Parallelism int64 `long:"parallelism" env:"PARALLELISM" default:"4" description:"Maximum concurrent store writes"`
		MaxAttempts int   `long:"max-attempts" env:"MAX_ATTEMPTS" default:"5" description:"Attempts of a batch write before it is abandoned"`
	} `group:"Writer" namespace:"writer" env-namespace:"WRITER"`

	Retention struct {
		Interval    time.Duration `long:"interval" env:"INTERVAL" default:"5m" description:"Interval between retention sweeps"`
		RetainSlots uint64        `long:"retain-slots" env:"RETAIN_SLOTS" default:"432000" description:"Rooted slots retained below the highest root"`
	} `group:"Retention" namespace:"retention" env-namespace:"RETENTION"`

	Sink struct {
		HistoricalAccounts bool          `long:"historical-accounts" env:"HISTORICAL_ACCOUNTS" description:"Append each applied account version to the audit collection"`
		IndexTokenOwner    bool          `long:"index-token-owner" env:"INDEX_TOKEN_OWNER" description:"Maintain the token accounts by owner index"`
		IndexTokenMint     bool          `long:"index-token-mint" env:"INDEX_TOKEN_MINT" description:"Maintain the token accounts by mint index"`
		ShutdownGrace      time.Duration `long:"shutdown-grace" env:"SHUTDOWN_GRACE" default:"10s" description:"Time allowed for in-flight writes to drain at shutdown"`
	} `group:"Sink" namespace:"sink" env-namespace:"SINK"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type serveSink struct{}

func (serveSink) Execute(args []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(Config.Log)

	log.WithField("config", Config).Info("starting mongosink")

	var registry = prometheus.NewRegistry()
	metrics.Register(registry)
	prometheus.DefaultRegisterer.MustRegister(registry)

	var selCfg selector.Config
	var err error
	if Config.Selector.Path != "" {
		selCfg, err = selector.LoadFile(Config.Selector.Path)
		mbp.Must(err, "failed to load selector configuration", "path", Config.Selector.Path)
	}
	accounts, txns, err := selCfg.Build()
	mbp.Must(err, "failed to build selectors")

	var s *sink.Sink
	s, err = sink.New(sink.Args{
		Accounts:     accounts,
		Transactions: txns,
		Dialer: mongostore.Dialer{
			URI:            Config.Store.URI,
			Database:       Config.Store.Database,
			ConnectTimeout: Config.Store.ConnectTimeout,
		},
		Buffer: buffer.Config{
			MaxCount:    Config.Buffer.MaxCount,
			MaxAge:      Config.Buffer.MaxAge,
			IntakeDepth: Config.Buffer.IntakeDepth,
		},
		Pool: pool.Config{
			Min:                Config.Pool.Min,
			Max:                Config.Pool.Max,
			AcquireTimeout:     Config.Pool.AcquireTimeout,
			PingInterval:       Config.Pool.PingInterval,
			PingTimeout:        Config.Pool.PingTimeout,
			MaxStartupAttempts: Config.Pool.MaxStartupAttempts,
		},
		Coordinator: coordinator.Config{
			Parallelism: Config.Writer.Parallelism,
			MaxAttempts: Config.Writer.MaxAttempts,
		},
		Retention: sweeper.Config{
			Interval:    Config.Retention.Interval,
			RetainSlots: Config.Retention.RetainSlots,
		},
		StoreAccountHistoricalData: Config.Sink.HistoricalAccounts,
		IndexTokenOwner:            Config.Sink.IndexTokenOwner,
		IndexTokenMint:             Config.Sink.IndexTokenMint,
		ShutdownGrace:              Config.Sink.ShutdownGrace,
	})
	mbp.Must(err, "failed to build sink")

	var ctx, cancel = context.WithCancel(context.Background())
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		var sig = <-signalCh
		log.WithField("signal", sig).Info("caught signal; shutting down")
		cancel()
	}()

	var reader = sink.NewStreamReader(os.Stdin, s)
	go func() {
		if err := reader.Read(); err != nil {
			log.WithField("err", err).Error("record stream ended with error")
		} else {
			log.Info("record stream ended")
		}
		cancel()
	}()

	err = s.Run(ctx)
	mbp.Must(err, "sink failed")
	log.Info("goodbye")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as mongosink", `
Run the notification sink, reading framed records from stdin and persisting
selected documents to the configured MongoDB deployment.
`, &serveSink{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
