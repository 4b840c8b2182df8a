package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"mindtype/internal/boundary"
	"mindtype/internal/config"
	"mindtype/internal/engine"
	"mindtype/internal/health"
	"mindtype/internal/journal"
	"mindtype/internal/logging"
	"mindtype/internal/metrics"
	"mindtype/internal/protocol"
)

// maxRecordSize bounds a single request line.
const maxRecordSize = 64 << 20

type processOptions struct {
	ConfigPath  string
	Strict      bool
	Watch       bool
	Journal     string
	MetricsAddr string
	Log         logOptions
}

var processFlags processOptions

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Correct request records read from stdin",
	Long: `Reads one JSON request record per line from stdin and writes one JSON
response record per line to stdout, exactly as the shared library would
return them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts := processFlags
		opts.Log = logFlags
		return runProcess(ctx, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	processCmd.Flags().StringVarP(&processFlags.ConfigPath, "config", "c", "", "Engine config file (TOML, YAML or JSON); defaults to "+config.DefaultPath()+" when present")
	processCmd.Flags().BoolVar(&processFlags.Strict, "strict", false, "Fail on any config problem and schema-check every request record")
	processCmd.Flags().BoolVar(&processFlags.Watch, "watch", false, "Re-initialize the engine when the config file changes")
	processCmd.Flags().StringVar(&processFlags.Journal, "journal", "", "Record the session in this SQLite journal")
	processCmd.Flags().StringVar(&processFlags.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.AddCommand(processCmd)
}

// host plays the embedding application: it owns the engine handle, the
// response buffers and the journal session.
type host struct {
	eng     *engine.Engine
	ledger  *boundary.Ledger
	journal *journal.Journal
	log     *logging.Logger
	strict  bool

	mu      sync.Mutex
	session int64
}

// resolveConfigPath returns the explicit path, or the default config path
// when that file exists, or "" for built-in defaults.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path := config.DefaultPath()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat default config: %w", err)
	}
	return path, nil
}

func runProcess(ctx context.Context, opts processOptions, in io.Reader, out, stderr io.Writer) error {
	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.ConfigPath = path
	if opts.Watch && opts.ConfigPath == "" {
		return fmt.Errorf("--watch requires --config")
	}

	logger, err := newLogger(opts.Log, stderr)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	engineOpts := []engine.Option{engine.WithLogger(logger.WithComponent("engine"))}
	h := &host{
		ledger: boundary.NewLedger(boundary.NewGoAllocator()),
		log:    logger,
		strict: opts.Strict,
	}

	if opts.Journal != "" {
		j, err := journal.Open(opts.Journal)
		if err != nil {
			return err
		}
		defer j.Close()
		h.journal = j
	}

	var srv *metrics.Server
	if opts.MetricsAddr != "" {
		m := metrics.New()
		if srv, err = m.Listen(opts.MetricsAddr); err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithObserver(m))
		h.ledger.SetObserver(m)
	}
	h.eng = engine.New(engineOpts...)
	defer h.eng.Dispose()

	if srv != nil {
		checker := h.checker()
		srv.Handle("/healthz", checker.Handler())
		go func() {
			if err := srv.Serve(ctx); err != nil {
				logger.Error("metrics server stopped", "error", err.Error())
			}
		}()
		logger.Info("serving metrics", "addr", srv.Addr(), "checks", checker.Names())
	}

	if opts.ConfigPath == "" {
		if err := h.initialize(nil, nil); err != nil {
			return err
		}
	} else {
		logger.Debug("loading config", "path", opts.ConfigPath)
		loader := config.NewLoader(opts.ConfigPath)
		cfg, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := h.initialize(&cfg, nil); err != nil {
			return err
		}
		if opts.Watch {
			if err := h.watch(ctx, loader); err != nil {
				return err
			}
			defer loader.Close()
		}
	}

	if err := h.serve(ctx, in, out); err != nil {
		return err
	}
	if n := h.ledger.Outstanding(); n != 0 {
		logger.Warn("response buffers not released", "outstanding", n, "bytes", h.ledger.OutstandingBytes())
	}
	return nil
}

// initialize (re)initializes the engine from cfg, or from blob when cfg is
// nil, and opens a new journal session.
func (h *host) initialize(cfg *config.Config, blob []byte) error {
	var err error
	if cfg != nil {
		if blob, err = json.Marshal(cfg); err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
	}

	switch {
	case h.strict && cfg != nil:
		err = h.eng.InitializeConfig(*cfg)
	case h.strict:
		err = h.eng.InitializeStrict(blob)
	default:
		err = h.eng.Initialize(blob)
	}
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if w := h.eng.Warnings(); w != nil {
		h.log.Warn("config problems, using defaults", "warnings", w.Error())
	}

	if h.journal == nil {
		return nil
	}
	id, err := h.journal.BeginSession(h.eng.Config().Model, blob)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.session = id
	h.mu.Unlock()
	h.log.Debug("journal session started", "session", id)
	return nil
}

// maxOutstanding is the number of live response buffers above which the
// host reports itself degraded.
const maxOutstanding = 64

func (h *host) checker() *health.Checker {
	c := health.NewChecker()
	c.Register("engine", true, func(ctx context.Context) health.CheckResult {
		if st := h.eng.State(); st != engine.StateReady && st != engine.StateProcessing {
			return health.CheckResult{Status: health.StatusUnhealthy, Message: "engine " + st.String()}
		}
		return health.CheckResult{Status: health.StatusHealthy}
	})
	c.Register("buffers", false, health.LimitCheck("outstanding buffers", h.ledger.Outstanding, maxOutstanding))
	if h.journal != nil {
		c.Register("journal", true, health.PingCheck(h.journal.Ping))
	}
	return c
}

func (h *host) watch(ctx context.Context, loader *config.Loader) error {
	loader.OnChange(func(cfg config.Config) {
		if err := h.initialize(&cfg, nil); err != nil {
			h.log.Error("reload config", "error", err.Error())
			return
		}
		h.log.Info("config reloaded", "model", cfg.Model)
	})
	if err := loader.Watch(); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				h.log.Warn("config watcher", "error", err.Error())
			}
		}
	}()
	return nil
}

func (h *host) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		reqCtx := logging.ContextWithRequestID(ctx, h.log.NewRequestID())
		if err := h.handle(reqCtx, line, w); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

// handle processes one record and writes the response the way the C
// boundary hands it out: copied into an owned buffer, read, then freed.
// Under --strict a record that fails the request schema is answered with
// MalformedRequest without reaching the engine.
func (h *host) handle(ctx context.Context, line []byte, w io.Writer) error {
	log := h.log.WithContext(ctx)
	start := time.Now()

	var resp protocol.Response
	if err := h.validate(line); err != nil {
		log.Debug("request rejected by schema", "error", err.Error())
		resp = protocol.Degraded(protocol.KindMalformedRequest)
	} else {
		resp = h.eng.ProcessRaw(line).Response()
	}
	record := protocol.Encode(resp)

	if h.journal != nil {
		h.mu.Lock()
		session := h.session
		h.mu.Unlock()
		err := h.journal.Append(session, &journal.Entry{
			Request:   append([]byte(nil), line...),
			Response:  record,
			ErrorKind: resp.ErrorKind(),
			LatencyMs: resp.LatencyMs,
		})
		if err != nil {
			log.Error("journal append", "error", err.Error())
		}
	}

	buf, err := h.ledger.NewBuffer(record)
	if err != nil {
		return fmt.Errorf("export response: %w", err)
	}
	defer buf.Release()

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	log.Debug("request processed",
		"error_kind", resp.ErrorKind(),
		"corrections", len(resp.Corrections),
		"bytes", buf.Len(),
		"elapsed", time.Since(start).String())
	return nil
}

func (h *host) validate(line []byte) error {
	if !h.strict {
		return nil
	}
	return protocol.ValidateRequest(line)
}
