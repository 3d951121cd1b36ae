package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"announce_scheduler/internal/config"
	"announce_scheduler/internal/domain"
	"announce_scheduler/internal/logging"
	"announce_scheduler/internal/service"
	"announce_scheduler/internal/speech"
	"announce_scheduler/internal/storage/postgres"
)

const usage = `usage: announce [-config path] <command> [flags]

commands:
  create          create an announcement and schedule it
  schedule        add a schedule to an existing announcement
  pause|resume|cancel -id N
  audio -id N     synthesize speech for an announcement
  list -org N     list announcements
  queue -org N    list pending deliveries
  history -org N  list delivery history
  delete-history -id N
`

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.New("info", logging.FormatJSON)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, cmd string, args []string) error {
	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer db.Close()

	var synthesizer service.Synthesizer
	if cfg.Speech.APIKey != "" {
		synthesizer = speech.New(speech.Config{
			BaseURL:        cfg.Speech.BaseURL,
			APIKey:         cfg.Speech.APIKey,
			Format:         cfg.Speech.Format,
			Timeout:        cfg.Speech.Timeout,
			MaxAttempts:    cfg.Speech.Retry.MaxAttempts,
			InitialBackoff: cfg.Speech.Retry.InitialBackoff,
			MaxBackoff:     cfg.Speech.Retry.MaxBackoff,
		}, logger)
	}

	svc := service.NewAnnouncementService(
		postgres.NewAnnouncementStore(db),
		postgres.NewScheduleStore(db),
		postgres.NewQueueStore(db),
		postgres.NewHistoryStore(db),
		postgres.NewTransactionManager(db),
		synthesizer,
		logger,
	)

	switch cmd {
	case "create":
		return create(ctx, svc, args)
	case "schedule":
		return schedule(ctx, svc, args)
	case "pause", "resume", "cancel":
		id, err := idFlag(cmd, args)
		if err != nil {
			return err
		}
		switch cmd {
		case "pause":
			return svc.PauseSchedule(ctx, id)
		case "resume":
			return svc.ResumeSchedule(ctx, id)
		default:
			return svc.CancelSchedule(ctx, id)
		}
	case "audio":
		id, err := idFlag(cmd, args)
		if err != nil {
			return err
		}
		result, err := svc.GenerateAudio(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(result)
	case "list":
		org, _, err := orgFlags(cmd, args)
		if err != nil {
			return err
		}
		list, err := svc.Announcements(ctx, org)
		if err != nil {
			return err
		}
		return printJSON(list)
	case "queue":
		org, limit, err := orgFlags(cmd, args)
		if err != nil {
			return err
		}
		pending, err := svc.PendingQueue(ctx, org, limit)
		if err != nil {
			return err
		}
		return printJSON(pending)
	case "history":
		org, limit, err := orgFlags(cmd, args)
		if err != nil {
			return err
		}
		records, err := svc.History(ctx, org, limit)
		if err != nil {
			return err
		}
		return printJSON(records)
	case "delete-history":
		id, err := idFlag(cmd, args)
		if err != nil {
			return err
		}
		return svc.DeleteHistory(ctx, id)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func create(ctx context.Context, svc *service.AnnouncementService, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	content := fs.String("content", "", "announcement text")
	clean := fs.String("clean", "", "text used for speech synthesis (defaults to content)")
	speaker := fs.String("speaker", "", "voice name")
	speed := fs.Float64("speed", 0, "speech speed")
	pitch := fs.Float64("pitch", 0, "speech pitch")
	priority := fs.String("priority", "", "Urgente, Alta, Media or Bassa")
	org := fs.Int64("org", 0, "organization id")
	every := fs.Int("every", 0, "repeat every N minutes (defaults by priority)")
	duration := fs.Duration("for", 0, "how long the schedule stays active (default 2h)")
	generate := fs.Bool("generate-audio", false, "synthesize audio after creating")
	if err := fs.Parse(args); err != nil {
		return err
	}

	areq := service.AnnouncementRequest{
		Content:      *content,
		CleanContent: *clean,
		Speaker:      *speaker,
		Speed:        *speed,
		Pitch:        *pitch,
		Priority:     domain.Priority(*priority),
		OrgID:        *org,
	}
	a, sched, err := svc.Announce(ctx, areq, scheduleRequest("", *every, *duration))
	if err != nil {
		return err
	}

	if *generate {
		if _, err := svc.GenerateAudio(ctx, a.ID); err != nil {
			return fmt.Errorf("announcement %d created, audio failed: %w", a.ID, err)
		}
	}

	return printJSON(map[string]any{"announcement": a, "schedule": sched})
}

func schedule(ctx context.Context, svc *service.AnnouncementService, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	id := fs.Int64("id", 0, "announcement id")
	priority := fs.String("priority", "", "override the announcement priority")
	every := fs.Int("every", 0, "repeat every N minutes")
	duration := fs.Duration("for", 0, "how long the schedule stays active")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("schedule: -id is required")
	}

	sched, err := svc.CreateSchedule(ctx, *id, scheduleRequest(*priority, *every, *duration))
	if err != nil {
		return err
	}
	return printJSON(sched)
}

func scheduleRequest(priority string, every int, duration time.Duration) service.ScheduleRequest {
	req := service.ScheduleRequest{
		Priority:           domain.Priority(priority),
		RepeatEveryMinutes: every,
	}
	if duration > 0 {
		req.RepeatUntil = time.Now().Add(duration)
	}
	return req
}

func idFlag(cmd string, args []string) (int64, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	id := fs.Int64("id", 0, "record id")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	if *id <= 0 {
		return 0, fmt.Errorf("%s: -id is required", cmd)
	}
	return *id, nil
}

func orgFlags(cmd string, args []string) (int64, int, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	org := fs.Int64("org", 0, "organization id")
	limit := fs.Int("limit", 0, "maximum rows")
	if err := fs.Parse(args); err != nil {
		return 0, 0, err
	}
	return *org, *limit, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
