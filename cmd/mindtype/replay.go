package main

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"mindtype/internal/engine"
	"mindtype/internal/journal"
	"mindtype/internal/protocol"
)

// errReplayFailed is returned when a replay diverges or the chain is broken.
var errReplayFailed = errors.New("replay failed")

type replayOptions struct {
	Journal string
	Session int64
	Verbose bool
	Log     logOptions
}

var replayFlags replayOptions

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-run a journaled session and compare the responses",
	Long: `Checks the hash chain of a journaled session, then feeds its requests to
a fresh engine initialized with the session's config. Every response must
match the recorded one in corrections, active region and error.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := replayFlags
		opts.Log = logFlags
		return runReplay(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayFlags.Journal, "journal", "", "SQLite journal to replay")
	replayCmd.Flags().Int64Var(&replayFlags.Session, "session", 0, "Session id (default: latest)")
	replayCmd.Flags().BoolVarP(&replayFlags.Verbose, "verbose", "v", false, "Print every entry")
	_ = replayCmd.MarkFlagRequired("journal")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(opts replayOptions, out, stderr io.Writer) error {
	logger, err := newLogger(opts.Log, stderr)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()

	j, err := journal.Open(opts.Journal)
	if err != nil {
		return err
	}
	defer j.Close()

	var sess *journal.Session
	if opts.Session > 0 {
		sess, err = j.Session(opts.Session)
	} else {
		sess, err = j.LatestSession()
	}
	if err != nil {
		return err
	}

	broken, err := j.Verify(sess.ID)
	if err != nil {
		return err
	}
	for _, seq := range broken {
		fmt.Fprintf(out, "seq %d: hash chain mismatch\n", seq)
	}

	entries, err := j.Entries(sess.ID)
	if err != nil {
		return err
	}

	eng := engine.New(engine.WithLogger(logger.WithComponent("engine")))
	defer eng.Dispose()
	if err := eng.Initialize(sess.Config); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	mismatches := 0
	for _, e := range entries {
		want, err := protocol.DecodeResponse(e.Response)
		if err != nil {
			fmt.Fprintf(out, "seq %d: unreadable recorded response: %v\n", e.Seq, err)
			mismatches++
			continue
		}
		var got protocol.Response
		if want.ErrorKind() == protocol.KindMalformedRequest && protocol.ValidateRequest(e.Request) != nil {
			// Rejected by schema under --strict; the engine never saw it.
			got = protocol.Degraded(protocol.KindMalformedRequest)
		} else {
			got = eng.ProcessRaw(e.Request).Response()
		}

		if !sameResponse(want, got) {
			mismatches++
			fmt.Fprintf(out, "seq %d: mismatch\n  recorded: %s\n  replayed: %s\n",
				e.Seq, e.Response, protocol.Encode(got))
			continue
		}
		if opts.Verbose {
			fmt.Fprintf(out, "seq %d: ok (%d corrections)\n", e.Seq, len(got.Corrections))
		}
	}

	chain := "intact"
	if len(broken) > 0 {
		chain = "broken"
	}
	fmt.Fprintf(out, "session %d (%s): %d entries, %d mismatches, chain %s\n",
		sess.ID, sess.Model, len(entries), mismatches, chain)

	if mismatches > 0 || len(broken) > 0 {
		return errReplayFailed
	}
	return nil
}

// sameResponse compares everything but latency.
func sameResponse(a, b protocol.Response) bool {
	return a.ErrorKind() == b.ErrorKind() &&
		a.ActiveRegion == b.ActiveRegion &&
		slices.Equal(a.Corrections, b.Corrections)
}
