package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/peercall/internal/adapters/media"
	"github.com/dkeye/peercall/internal/adapters/rtc"
	sig "github.com/dkeye/peercall/internal/adapters/signal"
	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/app/stream"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

func main() {
	flags := pflag.NewFlagSet("peer", pflag.ExitOnError)
	user := flags.String("user", "", "your identity on the hub")
	callee := flags.String("callee", "", "user to call; starts a new call")
	callID := flags.String("call", "", "id of an incoming call to answer")
	kind := flags.String("kind", "audio", "call kind for --callee: audio or video")
	debug := flags.Bool("debug", false, "enable debug logging")
	flags.String("hub-url", "", "hub WebSocket endpoint")
	flags.String("record-dir", "", "record received media into this directory")
	flags.Duration("answer-timeout", 0, "how long to ring before giving up")
	_ = flags.Parse(os.Args[1:])

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(flags)
	if err != nil {
		fail("config: %v", err)
	}

	if *user == "" {
		*user = ask("Your user id")
	}
	uid, err := domain.ParseUserID(*user)
	if err != nil {
		fail("user: %v", err)
	}
	if *callee == "" && *callID == "" {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{"Call someone", "Answer a call"}).
			WithDefaultText("What do you want to do").
			Show()
		pterm.Println()
		if strings.HasPrefix(choice, "Call") {
			*callee = ask("Who to call")
		} else {
			*callID = ask("Call id")
		}
	}

	client, err := sig.Dial(ctx, cfg.HubURL, uid)
	if err != nil {
		fail("hub: %v", err)
	}
	defer client.Close()

	call, err := resolveCall(ctx, client, *callee, *callID, *kind)
	if err != nil {
		fail("call: %v", err)
	}
	pterm.Info.Printfln("%s call %s (%s → %s)", call.Kind, call.ID, call.Initiator, call.Callee)

	factory, err := rtc.NewFactory(cfg.WebRTCICEServers(), rtc.WithUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax))
	if err != nil {
		fail("webrtc: %v", err)
	}
	var sinks stream.SinkFactory
	if cfg.RecordDir != "" {
		if sinks, err = media.Recorder(cfg.RecordDir, string(call.ID)); err != nil {
			fail("recorder: %v", err)
		}
	}

	registry := app.NewRegistry()
	o := &orch.Orchestrator{
		Registry:  registry,
		Policy:    app.SimplePolicy{},
		Transport: client,
		CallLog:   client,
		Connector: factory,
		Devices:   media.NewSynthetic(core.FacingUser, core.FacingEnvironment),
		Sinks:     sinks,
		Config: orch.Config{
			AnswerTimeout:  cfg.AnswerTimeout,
			TickInterval:   cfg.TickInterval,
			RestartTimeout: cfg.RestartTimeout,
			WriteTimeout:   cfg.WriteTimeout,
		},
	}

	updates := make(chan orch.Update, 32)
	sess, err := o.Start(context.Background(), orch.StartRequest{
		Call: call,
		Self: uid,
		OnUpdate: func(u orch.Update) {
			select {
			case updates <- u:
			default:
			}
		},
	})
	if err != nil {
		fail("session: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		render(sess, updates)
		return nil
	})
	g.Go(func() error {
		reportStats(sess)
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			sess.End()
		case <-client.Done():
			pterm.Warning.Println("lost connection to the hub")
			registry.CancelAll()
		case <-sess.Done():
		}
		return nil
	})
	_ = g.Wait()

	res, _ := sess.Result()
	line := fmt.Sprintf("call %s after %s (%s)", res.Status, domain.FormatDuration(res.Elapsed), res.Trigger)
	switch res.Status {
	case domain.StatusFailed:
		pterm.Error.Println(line)
		os.Exit(1)
	case domain.StatusMissed:
		pterm.Warning.Println(line)
	default:
		pterm.Success.Println(line)
	}
}

func resolveCall(ctx context.Context, c *sig.Client, callee, callID, kind string) (domain.Call, error) {
	if callID != "" {
		return c.GetCall(ctx, domain.CallID(callID))
	}
	to, err := domain.ParseUserID(callee)
	if err != nil {
		return domain.Call{}, err
	}
	k, err := domain.ParseCallKind(kind)
	if err != nil {
		return domain.Call{}, err
	}
	return c.CreateCall(ctx, to, k)
}

// render prints state changes; duration ticks only update the stats line.
func render(sess *orch.Session, updates <-chan orch.Update) {
	var last orch.Update
	for {
		select {
		case u := <-updates:
			if u.Status != last.Status {
				pterm.Info.Printfln("status: %s", u.Status)
			}
			if u.Connectivity != last.Connectivity {
				pterm.Info.Printfln("connectivity: %s", u.Connectivity)
			}
			if u.Err != nil {
				pterm.Warning.Printfln("%v", u.Err)
			}
			last = u
		case <-sess.Done():
			return
		}
	}
}

func reportStats(sess *orch.Session) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			u := sess.Snapshot()
			if u.Status != domain.StatusActive {
				continue
			}
			parts := []string{domain.FormatDuration(u.Elapsed)}
			for _, s := range sess.RemoteStats() {
				parts = append(parts, fmt.Sprintf("%s %d pkts %d B", s.Kind, s.Packets, s.Bytes))
			}
			pterm.DefaultLogger.Info(strings.Join(parts, " | "))
		case <-sess.Done():
			return
		}
	}
}

func ask(prompt string) string {
	raw, _ := pterm.DefaultInteractiveTextInput.
		WithDefaultText(prompt).
		Show()
	pterm.Println()
	return strings.TrimSpace(raw)
}

func fail(format string, args ...any) {
	pterm.Error.Printfln(format, args...)
	os.Exit(1)
}
