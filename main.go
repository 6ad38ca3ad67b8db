package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/clerval/twindeck/internal/config"
	"github.com/clerval/twindeck/internal/deck"
	"github.com/clerval/twindeck/internal/playback"
	"github.com/clerval/twindeck/internal/scrobble"
	"github.com/clerval/twindeck/internal/share"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	})))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.HasServerConfig() {
		return errors.New("server.url and server.share_id must be configured")
	}

	client := share.NewClient(cfg.Server.URL, cfg.Server.AuthToken)

	primary := deck.NewBeep(deck.RolePrimary, slog.Default())
	standby := deck.NewBeep(deck.RoleStandby, slog.Default())

	engine := playback.New(primary, standby, playback.Options{
		Logger:       slog.Default(),
		TickInterval: cfg.TickInterval(),
	})
	defer engine.Close()

	engine.ChangeVolume(cfg.Player.Volume)

	if cfg.HasLastfmConfig() {
		scrobbler := scrobble.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret, cfg.Lastfm.SessionKey, slog.Default())
		scrobbler.Attach(engine)
	}

	sub := engine.Subscribe(printEvent)
	defer engine.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	songs, err := client.Songs(ctx, cfg.Server.ShareID)
	cancel()
	if err != nil {
		return err
	}
	if len(songs) == 0 {
		return fmt.Errorf("share %s has no songs", cfg.Server.ShareID)
	}

	items := make([]playback.Item, len(songs))
	for i, song := range songs {
		items[i] = song
	}
	engine.SetQueue(items)
	engine.Next()

	fmt.Printf("Playing %d songs from share %s\n", len(songs), cfg.Server.ShareID)
	fmt.Println("Commands: play pause next prev seek <s> vol <0-100> queue quit")

	return commandLoop(engine)
}

func commandLoop(engine *playback.Engine) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "play":
			engine.Play()
		case "pause":
			engine.Pause()
		case "next", "n":
			engine.Next()
		case "prev", "p":
			if err := engine.Previous(); err != nil {
				fmt.Println(err)
			}
		case "seek":
			if len(fields) < 2 {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			seconds, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Println("usage: seek <seconds>")
				continue
			}
			engine.Seek(time.Duration(seconds) * time.Second)
		case "vol":
			if len(fields) < 2 {
				fmt.Println("usage: vol <0-100>")
				continue
			}
			percent, err := strconv.Atoi(fields[1])
			if err != nil || percent < 0 || percent > 100 {
				fmt.Println("usage: vol <0-100>")
				continue
			}
			engine.ChangeVolume(float64(percent) / 100)
		case "queue", "q":
			entries := engine.QueueEntries()
			if len(entries) == 0 {
				fmt.Println("queue is empty")
				continue
			}
			for i, entry := range entries {
				fmt.Printf("%3d. %s\n", i+1, entry.Item.Title())
			}
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	return scanner.Err()
}

// printEvent renders engine events. It runs on the engine's goroutine
// and must not call back into it.
func printEvent(ev playback.Event) {
	switch ev := ev.(type) {
	case playback.SongChangeEvent:
		if ev.Item == nil {
			fmt.Println("-- end of queue --")
			return
		}
		fmt.Printf("Now playing: %s\n", ev.Item.Title())
	case playback.StatusEvent:
		if ev.Playing {
			slog.Debug("playback started")
		} else {
			slog.Debug("playback paused")
		}
	case playback.ErrorEvent:
		fmt.Printf("Playback error: %s\n", ev.Message)
	case playback.DurationEvent:
		if ev.Duration > 0 {
			slog.Debug("duration known", "duration", ev.Duration)
		}
	case playback.QueueChangeEvent:
		slog.Debug("queue changed", "len", len(ev.Entries))
	}
}
