// Package main provides the room client entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19room/internal/api/ws"
	"github.com/osa030/19room/internal/app/filter"
	"github.com/osa030/19room/internal/app/playback"
	"github.com/osa030/19room/internal/app/session"
	"github.com/osa030/19room/internal/infra/config"
	"github.com/osa030/19room/internal/infra/coordinator"
	"github.com/osa030/19room/internal/infra/logger"
	"github.com/osa030/19room/internal/infra/player/mpv"
	"github.com/osa030/19room/internal/infra/player/virtual"
)

const leaveTimeout = 5 * time.Second

var (
	app        = kingpin.New("19room", "19room synchronized listening client")
	configPath = app.Flag("config", "Path to config file").Default("config/client.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()
	roomFlag   = app.Flag("room", "Room code (overrides config)").Short('r').String()
	nameFlag   = app.Flag("name", "User name (overrides config)").Short('n').String()
	playerFlag = app.Flag("player", "Player backend (overrides config)").Enum("virtual", "mpv")

	// join command (default)
	joinCmd   = app.Command("join", "Join the room and keep the local player in sync").Default()
	joinQuiet = joinCmd.Flag("quiet", "Do not print status lines").Short('q').Bool()

	// info command
	infoCmd = app.Command("info", "Print the room's title, members and playlist and exit")

	// list-filters command
	listFiltersCmd = app.Command("list-filters", "List available broadcast filters and exit")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Handle list-filters command
	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	// Load config
	cfg, err := config.Load(*configPath, flagOverrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %+v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	closer, err := logger.Init(logger.Config{
		Output:  cfg.Log.Output,
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		NoColor: cfg.Log.NoColor,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer closer.Close()

	switch command {
	case infoCmd.FullCommand():
		err = info(cfg)
	default:
		err = run(cfg, *joinQuiet)
	}
	if err != nil {
		zlog.Error().Msgf("%v", err)
		if hint := errors.FlattenHints(err); hint != "" {
			fmt.Fprintf(os.Stderr, "hint: %s\n", hint)
		}
		closer.Close()
		os.Exit(1)
	}
}

// flagOverrides applies command-line flags on top of file and env values.
func flagOverrides(c *config.Config) {
	if *roomFlag != "" {
		c.Room.Code = *roomFlag
	}
	if *nameFlag != "" {
		c.Room.UserName = *nameFlag
	}
	if *playerFlag != "" {
		c.Player.Type = *playerFlag
	}
	if *verbose {
		c.Log.Level = "debug"
	}
	if *logfile != "" {
		c.Log.Output = "file"
		c.Log.File = *logfile
	}
}

func newDirectory(cfg *config.Config) (*coordinator.Client, error) {
	return coordinator.New(coordinator.Config{
		BaseURL: cfg.Coordinator.APIURL,
		Timeout: cfg.RequestTimeout(),
	})
}

func newPlayer(cfg *config.Config) (playback.Adapter, error) {
	switch cfg.Player.Type {
	case "mpv":
		p, err := mpv.New(mpv.Config{
			Socket:       cfg.Player.MPVSocket,
			URLTemplate:  cfg.Player.URLTemplate,
			PollInterval: cfg.MPVPoll(),
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return virtual.New(), nil
	}
}

// run joins the room and reconciles until interrupted or the session ends.
func run(cfg *config.Config, quiet bool) error {
	directory, err := newDirectory(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create coordinator client")
	}
	adapter, err := newPlayer(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create player")
	}

	channel := ws.NewClient(cfg.Coordinator.WSURL)
	mgr := session.NewManager(cfg, channel, adapter, session.WithDirectory(directory))
	defer mgr.Close()

	ended := make(chan struct{})
	var endOnce sync.Once
	unsubscribe := mgr.Subscribe(func(e playback.Event) {
		if e.Type == playback.EventSessionEnded {
			endOnce.Do(func() { close(ended) })
		}
		if !quiet {
			printEvent(os.Stdout, e)
		}
	})
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zlog.Info().Msgf("Joining room %s as %s", cfg.Room.Code, cfg.Room.UserName)
	if err := mgr.Connect(ctx); err != nil {
		return errors.Wrapf(err, "failed to join room %s", cfg.Room.Code)
	}
	printStatus(os.Stdout, mgr.GetStatus())

	// Console commands
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sigCh:
			zlog.Info().Msg("Received shutdown signal...")
			return leave(mgr)
		case <-mgr.Done():
			zlog.Info().Msg("Session ended")
			return nil
		case <-ended:
			return errors.Newf("session ended (%s)", mgr.GetStatus().Phase)
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep following the room
				lines = nil
				continue
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(os.Stdout, "%v\n", err)
				continue
			}
			if cmd.kind == cmdQuit {
				return leave(mgr)
			}
			if err := execute(ctx, mgr, cmd, os.Stdout); err != nil {
				fmt.Fprintf(os.Stdout, "error: %v\n", err)
			}
		}
	}
}

func leave(mgr *session.Manager) error {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()
	if err := mgr.Leave(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
		return errors.Wrap(err, "failed to leave room")
	}
	return nil
}

// info prints the room directory entries.
func info(cfg *config.Config) error {
	directory, err := newDirectory(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create coordinator client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout())
	defer cancel()

	code := cfg.Room.Code
	title, err := directory.Title(ctx, code)
	if err != nil {
		return errors.Wrap(err, "failed to fetch title")
	}
	members, err := directory.Members(ctx, code)
	if err != nil {
		return errors.Wrap(err, "failed to fetch members")
	}
	tracks, err := directory.Playlist(ctx, code)
	if err != nil {
		return errors.Wrap(err, "failed to fetch playlist")
	}

	fmt.Printf("Room %s: %s\n", code, title)
	fmt.Println("\nMembers:")
	for i, m := range members {
		fmt.Printf("  %d. %s\n", i, m.Name)
	}
	fmt.Println("\nPlaylist:")
	for i, t := range tracks {
		fmt.Printf("  %2d. %-40s %6s  %s\n", i, t.Title, t.FormatDuration(), t.Channel)
	}
	return nil
}

// printFilters prints available filters.
func printFilters() {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available Filters:")
	for _, name := range names {
		f := registered[name]()
		fmt.Printf("  %-24s - %s %v\n", f.Name(), f.Description(), f.ReturnCodes())
	}
}
