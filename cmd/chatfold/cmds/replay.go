package cmds

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/go-go-golems/chatfold/pkg/events"
	"github.com/go-go-golems/chatfold/pkg/fixtures"
	"github.com/go-go-golems/chatfold/pkg/helpers"
	"github.com/go-go-golems/chatfold/pkg/reducer"
	"github.com/go-go-golems/chatfold/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

type replaySettings struct {
	Bus     bool
	Dump    bool
	Verbose bool
	Live    bool
	Output  string
	Topic   string
}

func NewReplayCommand() *cobra.Command {
	s := &replaySettings{}
	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Replay a scripted conversation and print the folded state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), args[0], s, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&s.Bus, "bus", false, "Route updates through the watermill event router")
	cmd.Flags().BoolVar(&s.Dump, "dump", false, "Print raw updates as they cross the bus (implies --bus)")
	cmd.Flags().BoolVar(&s.Verbose, "verbose", false, "Verbose event router logging, include metadata in dumps")
	cmd.Flags().BoolVar(&s.Live, "live", false, "Print assistant text while it streams")
	cmd.Flags().StringVar(&s.Output, "output", "yaml", "Output format (yaml, json)")
	cmd.Flags().StringVar(&s.Topic, "topic", "updates", "Topic used with --bus")
	return cmd
}

// LoadToolRules reads the tool rules from the "tool-rules" config key,
// falling back to the defaults.
func LoadToolRules() (*reducer.ToolRules, error) {
	if !viper.IsSet("tool-rules") {
		return reducer.DefaultToolRules(), nil
	}
	rules := &reducer.ToolRules{}
	if err := viper.UnmarshalKey("tool-rules", rules); err != nil {
		return nil, errors.Wrap(err, "could not decode tool-rules")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return rules, nil
}

func runReplay(ctx context.Context, path string, s *replaySettings, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	script, err := fixtures.LoadScript(path)
	if err != nil {
		return err
	}
	rules, err := LoadToolRules()
	if err != nil {
		return err
	}

	var sess *session.Session
	stall := fixtures.WithStallFunc(func(ctx context.Context, turn int) {
		log.Info().Int("turn", turn).Msg("cancelling stalled turn")
		sess.Cancel()
	})

	options := []session.Option{session.WithToolRules(rules)}
	if s.Live {
		options = append(options, session.WithObserver(newLivePrinter(w, func() *session.View { return sess.View() })))
	}

	if !s.Bus && !s.Dump {
		sess = session.NewSession(fixtures.NewScriptedAgent(script, stall), options...)
		defer func() { _ = sess.Close() }()
		if err := replayTurns(ctx, sess, script); err != nil {
			return err
		}
		return writeOutput(w, s.Output, sess.View())
	}

	routerOptions := []events.EventRouterOption{
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithDumpOutput(os.Stderr),
	}
	if s.Verbose {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	router.AddUpdateHandler("log", s.Topic, func(ctx context.Context, u *events.Update) error {
		log.Debug().Object("update", u).Msg("update on bus")
		return nil
	})
	if s.Dump {
		router.AddHandler("dump", s.Topic, router.DumpRawUpdates)
	}

	agent, err := fixtures.NewBusAgent(script, router, s.Topic, stall)
	if err != nil {
		return err
	}
	sess = session.NewSession(agent, options...)
	defer func() { _ = sess.Close() }()

	eg := errgroup.Group{}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return replayTurns(ctx, sess, script)
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	return writeOutput(w, s.Output, sess.View())
}

func replayTurns(ctx context.Context, sess *session.Session, script *fixtures.Script) error {
	for i, turn := range script.Turns {
		h, err := sess.SendMessage(ctx, turn.User)
		if err != nil {
			return errors.Wrapf(err, "turn %d", i)
		}
		outcome, err := h.Wait()
		l := log.With().Int("turn", i).Str("run_id", h.RunID).Str("outcome", outcome.String()).Logger()
		switch outcome {
		case session.OutcomeFailed:
			l.Warn().Err(err).Msg("turn failed")
		default:
			l.Debug().Msg("turn finished")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// livePrinter writes the text appended to the in-progress message since the
// previous notification.
type livePrinter struct {
	w       io.Writer
	view    func() *session.View
	current string
	printed int
}

func newLivePrinter(w io.Writer, view func() *session.View) *livePrinter {
	return &livePrinter{w: w, view: view}
}

func (p *livePrinter) StateChanged() {
	v := p.view()
	if v == nil || v.InProgress == nil {
		if p.current != "" {
			_, _ = fmt.Fprintln(p.w)
			p.current = ""
			p.printed = 0
		}
		return
	}
	if v.InProgress.ID != p.current {
		if p.current != "" {
			_, _ = fmt.Fprintln(p.w)
		}
		p.current = v.InProgress.ID
		p.printed = 0
	}
	text := v.InProgress.Text()
	if len(text) > p.printed {
		_, _ = fmt.Fprint(p.w, text[p.printed:])
		p.printed = len(text)
	}
}
