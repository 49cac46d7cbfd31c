package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/sahayak/domain"
	"github.com/satriahrh/sahayak/domain/entities"
)

var (
	liveName      string
	liveVoice     string
	liveNoSpeaker bool
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run one voice session from the terminal",
	Long: "Starts a live session on the local microphone and speaker and prints\n" +
		"every finalized exchange. Ctrl-C ends the session.",
	RunE: runLive,
}

func init() {
	liveCmd.Flags().StringVarP(&liveName, "name", "n", "", "Name the assistant addresses you by")
	liveCmd.Flags().StringVar(&liveVoice, "voice", "", "Voice: Kore, Zephyr, Puck, Charon or Fenrir")
	liveCmd.Flags().BoolVar(&liveNoSpeaker, "no-speaker", false, "Discard assistant audio (transcripts only)")
}

// terminalPrinter prints state changes and newly finalized exchanges.
type terminalPrinter struct {
	printed int
	state   entities.LiveState
	ended   chan struct{}
	once    bool
}

func (p *terminalPrinter) publish(snap entities.LiveSnapshot) {
	for _, ex := range snap.Transcript[min(p.printed, len(snap.Transcript)):] {
		for _, line := range ex.Lines() {
			label := "You"
			if line.Role == entities.MessageRoleAssistant {
				label = "Sahayak"
			}
			fmt.Printf("%s: %s\n", label, line.Text)
		}
	}
	p.printed = len(snap.Transcript)

	if snap.State == p.state {
		return
	}
	prev := p.state
	p.state = snap.State

	if snap.State == entities.LiveStateConnected {
		fmt.Fprintln(os.Stderr, "Connected. Start speaking; Ctrl-C to end.")
	}

	// A session that was live and is no longer ends the command.
	if prev == entities.LiveStateConnected && !snap.Active() && !p.once {
		p.once = true
		close(p.ended)
	}
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if liveName != "" {
		cfg.Live.UserName = liveName
	}
	if liveVoice != "" {
		cfg.Live.Voice = liveVoice
	}
	if liveNoSpeaker {
		cfg.Audio.NoSpeaker = true
	}
	if err := cfg.Live.Validate(); err != nil {
		return err
	}

	printer := &terminalPrinter{state: entities.LiveStateIdle, ended: make(chan struct{})}
	comps, err := buildComponents(cfg, logger, nil, printer.publish)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintln(os.Stderr, "Connecting...")
	if err := comps.manager.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrSessionCanceled) {
			return nil
		}
		return errors.New(domain.AsSessionError(err).Message)
	}

	select {
	case <-ctx.Done():
		comps.manager.Stop()
		logger.Info("Session ended by user")
	case <-printer.ended:
		if se := comps.manager.Err(); se != nil {
			logger.Warn("Session ended with error", zap.String("kind", domain.KindName(se.Kind)))
			return errors.New(se.Message)
		}
		logger.Info("Session closed by remote")
	}
	return nil
}
