package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	msgbus "github.com/oddb/msgbus"
)

// VERSION is injected by buildflags, matching client/main.go's pattern.
var VERSION = "SELFBUILD"

// busctlCodec treats every message as plain UTF-8 text, matching this
// front end's newline-delimited stdin/stdout demo use.
type busctlCodec struct{}

func (busctlCodec) Encode(msg string) ([]byte, error)     { return []byte(msg), nil }
func (busctlCodec) Decode(payload []byte) (string, error) { return string(payload), nil }

// activeBus is reached into by signal.go's SIGUSR1 handler; nil until
// the bus has successfully started.
var activeBus *msgbus.Bus[string]

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	app := cli.NewApp()
	app.Name = "busctl"
	app.Usage = "message bus demo front end: listen and/or dial, exchange newline-delimited text messages"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "identity", Value: "busctl", Usage: "log prefix / diagnostics tag for this bus instance"},
		cli.StringFlag{Name: "listen, l", Usage: `accept incoming connections on "host:port"; empty disables listening`},
		cli.StringFlag{Name: "connect, c", Usage: `dial an outgoing connection to "host:port" on startup`},
		cli.StringFlag{Name: "auth-token", Usage: "shared secret exchanged as the first frame on every connection", EnvVar: "BUSCTL_AUTH_TOKEN"},
		cli.BoolFlag{Name: "tls", Usage: "require TLS on every connection"},
		cli.StringFlag{Name: "tls-cert", Usage: "TLS certificate file (required with -tls)"},
		cli.StringFlag{Name: "tls-key", Usage: "TLS private key file (required with -tls)"},
		cli.BoolFlag{Name: "no-extra-size-check", Usage: "disable the duplicate trailing frame length check"},
		cli.BoolFlag{Name: "want-compression", Usage: "snappy-compress every connection's byte stream"},
		cli.IntFlag{Name: "max-write-queue-bytes", Usage: "cap on bytes pending in the outbound send queue; 0 is unbounded"},
		cli.StringFlag{Name: "log", Usage: "redirect logging to this file"},
		cli.StringFlag{Name: "stats-log", Usage: "periodically append a CSV row of bus counters to this file"},
		cli.IntFlag{Name: "stats-period", Value: 60, Usage: "seconds between stats-log rows"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-event logging to stdout"},
		cli.StringFlag{Name: "config", Value: "", Usage: "JSON config file; overrides flags when set"},
	}

	app.Action = run

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := Config{
		Identity:           c.String("identity"),
		Listen:             c.String("listen"),
		Connect:            c.String("connect"),
		AuthToken:          c.String("auth-token"),
		TLS:                c.Bool("tls"),
		TLSCert:            c.String("tls-cert"),
		TLSKey:             c.String("tls-key"),
		NoExtraSizeCheck:   c.Bool("no-extra-size-check"),
		WantCompression:    c.Bool("want-compression"),
		MaxWriteQueueBytes: c.Int("max-write-queue-bytes"),
		Log:                c.String("log"),
		StatsLog:           c.String("stats-log"),
		StatsPeriod:        c.Int("stats-period"),
		Quiet:              c.Bool("quiet"),
	}

	if path := c.String("config"); path != "" {
		if err := parseJSONConfig(&cfg, path); err != nil {
			checkError(err)
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}

	if cfg.Listen == "" && cfg.Connect == "" {
		log.Fatal("busctl: at least one of -listen or -connect is required")
	}

	var tlsConfig *tls.Config
	if cfg.TLS {
		if cfg.TLSCert == "" || cfg.TLSKey == "" {
			log.Fatal("busctl: -tls requires both -tls-cert and -tls-key")
		}
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		checkError(err)
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, InsecureSkipVerify: true}
	} else if cfg.TLSCert != "" || cfg.TLSKey != "" {
		color.Red("busctl: -tls-cert/-tls-key given without -tls; ignoring")
	}

	if cfg.MaxWriteQueueBytes == 0 {
		color.Yellow("busctl: max-write-queue-bytes is 0 (unbounded); a runaway sender can grow memory without limit")
	}

	log.Println("version:", VERSION)
	log.Println("identity:", cfg.Identity)
	log.Println("listen:", cfg.Listen)
	log.Println("connect:", cfg.Connect)
	log.Println("tls:", cfg.TLS)
	log.Println("want_compression:", cfg.WantCompression)
	log.Println("max_write_queue_bytes:", cfg.MaxWriteQueueBytes)

	handler := func(ev msgbus.Event[string]) {
		if cfg.Quiet {
			return
		}
		switch ev.Kind {
		case msgbus.IncomingMessage:
			fmt.Printf("[%s] connection %d: %s\n", cfg.Identity, ev.ID, ev.Message)
		case msgbus.NewIncomingConnection:
			log.Printf("connection %d: accepted from %s", ev.ID, ev.Source)
		default:
			log.Printf("connection %d: %s", ev.ID, ev.Kind)
		}
	}

	bus := msgbus.New(msgbus.Config{
		Identity:           cfg.Identity,
		Listen:             cfg.Listen,
		AuthToken:          cfg.AuthToken,
		TLSConfig:          tlsConfig,
		NoExtraSizeCheck:   cfg.NoExtraSizeCheck,
		WantCompression:    cfg.WantCompression,
		MaxWriteQueueBytes: cfg.MaxWriteQueueBytes,
		Log:                cfg.Log,
		StatsLog:           cfg.StatsLog,
		StatsPeriod:        time.Duration(cfg.StatsPeriod) * time.Second,
	}, busctlCodec{}, handler)

	if err := bus.Start(); err != nil {
		checkError(err)
	}
	activeBus = bus
	defer bus.Stop(5 * time.Second)

	if cfg.Connect != "" {
		id, err := bus.Connect(cfg.Connect)
		checkError(err)
		log.Printf("dialing %s as connection %d", cfg.Connect, id)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			bus.SendMessage(id, scanner.Text())
		}
		return scanner.Err()
	}

	// Listen-only mode: block until interrupted.
	select {}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
