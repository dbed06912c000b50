// Command monitor watches Mixer channels: it logs in when credentials are
// configured, connects to the constellation liveloading service, subscribes
// to channel update events, optionally joins the first channel's chat, and
// logs everything it receives. It manages graceful shutdown via OS signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/beamkit/mixer-go/internal/api"
	"github.com/beamkit/mixer-go/internal/chat"
	"github.com/beamkit/mixer-go/internal/config"
	"github.com/beamkit/mixer-go/internal/constellation"
	"github.com/beamkit/mixer-go/internal/logger"
	"github.com/beamkit/mixer-go/internal/model"
	"github.com/beamkit/mixer-go/internal/rest"
	"github.com/beamkit/mixer-go/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	logLevel := flag.String("log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")
	noColor := flag.Bool("no-color", false, "Disable colored output (overrides TTY detection)")
	flag.Parse()

	// Optional .env overlay for MIXER_USERNAME / MIXER_PASSWORD.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if *logLevel != "" {
		level = logger.ParseLevel(*logLevel)
	} else if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		level = logger.ParseLevel(envLevel)
	}

	colored := !*noColor && term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""

	log, err := logger.Setup(logger.Config{
		Level:     level,
		FileLevel: slog.LevelDebug,
		Colored:   colored,
		LogDir:    cfg.Log.Dir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Mixer monitor", "channels", len(cfg.Channels))

	st, err := store.NewFile(cfg.Auth.CredentialsFile)
	if err != nil {
		log.Error("Failed to open credential store", "file", cfg.Auth.CredentialsFile, "error", err)
		os.Exit(1)
	}

	exec := rest.NewExecutor(cfg.BaseURL, st, nil, log)
	client := api.New(exec, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	identity := chat.Anonymous
	if cfg.Auth.Username != "" && cfg.Auth.Password != "" {
		user, err := client.Users.Login(ctx, cfg.Auth.Username, cfg.Auth.Password, os.Getenv("MIXER_2FA_CODE"))
		if err != nil {
			if rest.IsKind(err, rest.KindRequires2FA) {
				log.Error("Login requires a two-factor code; set MIXER_2FA_CODE")
			} else {
				log.Error("Login failed", "error", err)
			}
			os.Exit(1)
		}
		log.Info("Logged in", "username", user.Username, "user_id", user.ID)
		userID := user.ID
		identity = func() (int, bool) { return userID, true }
	} else {
		log.Info("No credentials configured, watching anonymously")
	}

	channels := resolveChannels(ctx, client, cfg.Channels, log)
	if len(channels) == 0 {
		log.Error("No channels could be resolved")
		os.Exit(1)
	}

	mon := &monitor{log: log, done: make(chan struct{})}

	session := constellation.NewSession(log.WithName("constellation"))
	if cfg.ConstellationURL != "" {
		session.SetEndpoint(cfg.ConstellationURL)
	}
	if err := session.Connect(ctx, mon); err != nil {
		log.Error("Constellation connection failed", "error", err)
		os.Exit(1)
	}

	events := make([]constellation.Event, 0, len(channels))
	for _, ch := range channels {
		events = append(events, constellation.ChannelUpdate(ch.ID))
		log.Info("Watching channel", "channel", ch.Token, "online", ch.Online)
	}
	session.Subscribe(events)

	var chatSession *chat.Session
	if cfg.Chat {
		chatSession = chat.NewSession(client.Chat, identity, log.WithName("chat"))
		if err := chatSession.Join(ctx, channels[0].ID, mon); err != nil {
			log.Warn("Chat join failed", "channel", channels[0].Token, "error", err)
			chatSession = nil
		}
	}

	select {
	case <-ctx.Done():
	case <-mon.done:
		log.Warn("Connection lost, exiting")
	}

	session.UnsubscribeAll()
	session.Disconnect()
	if chatSession != nil {
		chatSession.Disconnect()
	}
	log.Info("Shutdown complete")
}

// resolveChannels looks up the configured channel tokens concurrently.
func resolveChannels(ctx context.Context, client *api.Client, tokens []string, log *logger.Logger) []*model.Channel {
	var mu sync.Mutex
	channels := make([]*model.Channel, 0, len(tokens))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			channel, err := client.Channels.ChannelByToken(ctx, token)
			if err != nil {
				log.Warn("Failed to resolve channel", "channel", token, "error", err)
				return nil
			}
			mu.Lock()
			channels = append(channels, channel)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return channels
}

// monitor logs every packet both sessions deliver.
type monitor struct {
	log  *logger.Logger
	once sync.Once
	done chan struct{}
}

func (m *monitor) ConstellationConnected() {
	m.log.Info("Constellation connected")
}

func (m *monitor) ConstellationDisconnected(err error) {
	if err != nil {
		m.log.Error("Constellation disconnected", "error", err)
	}
	m.once.Do(func() { close(m.done) })
}

func (m *monitor) ConstellationPacket(p constellation.Packet) {
	switch pkt := p.(type) {
	case constellation.HelloPacket:
		m.log.Info("Constellation hello", "authenticated", pkt.Authenticated)
	case constellation.ReplyPacket:
		if pkt.Error != nil {
			m.log.Warn("Constellation reply error", "id", pkt.ID, "error", string(pkt.Error))
		} else {
			m.log.Debug("Constellation reply", "id", pkt.ID)
		}
	case constellation.LiveEventPacket:
		m.log.Info("Live event", "event", pkt.Channel, "payload", string(pkt.Payload))
	}
}

func (m *monitor) ChatConnected() {
	m.log.Info("Chat connected")
}

func (m *monitor) ChatDisconnected(err error) {
	if err != nil {
		m.log.Error("Chat disconnected", "error", err)
	}
}

func (m *monitor) ChatPacket(p chat.Packet) {
	switch pkt := p.(type) {
	case chat.EventPacket:
		m.log.Info("Chat event", "event", pkt.Event)
	case chat.ReplyPacket:
		if pkt.Error != nil {
			m.log.Warn("Chat reply error", "id", pkt.ID, "error", string(pkt.Error))
		}
	}
}
