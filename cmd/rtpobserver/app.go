package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/clawinfra/rtpobserver/internal/channel"
	"github.com/clawinfra/rtpobserver/internal/config"
	"github.com/clawinfra/rtpobserver/internal/journal"
	"github.com/clawinfra/rtpobserver/internal/observer"
	"github.com/clawinfra/rtpobserver/internal/producer"
	"github.com/clawinfra/rtpobserver/internal/router"
)

const shutdownTimeout = 5 * time.Second

// App holds the running components.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	LogLevel   *slog.LevelVar

	Transport channel.Transport
	Producers *producer.Registry
	Router    *router.Router
	Observer  *observer.AudioLevelObserver
	Journal   *journal.Journal
	Retention *journal.RetentionRunner

	levelOverride bool

	// reloadMu serialises Reload between the file watcher and SIGHUP.
	reloadMu sync.Mutex
}

// setup loads config and builds every component without connecting.
func setup(configPath, logLevel string, out io.Writer) (*App, error) {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:        cfg,
		ConfigPath:    configPath,
		Logger:        logger,
		LogLevel:      level,
		levelOverride: logLevel != "",
	}
	if logLevel != "" {
		level.Set(parseLogLevel(logLevel))
	} else {
		level.Set(parseLogLevel(cfg.Server.LogLevel))
	}

	app.Transport, err = newTransport(cfg, logger)
	if err != nil {
		return nil, err
	}

	app.Producers = producer.NewRegistry(logger)
	for _, def := range cfg.Producers {
		if err := app.Producers.Add(producer.New(def.ID, producer.Kind(def.Kind), nil)); err != nil {
			return nil, fmt.Errorf("register producer: %w", err)
		}
	}

	app.Router = router.New(cfg.Router.ID, app.Transport, app.Producers, logger)

	if cfg.Journal.Enabled {
		app.Journal, err = journal.Open(context.Background(), cfg.JournalPath(), logger)
		if err != nil {
			return nil, err
		}
		app.Retention, err = journal.NewRetentionRunner(app.Journal, cfg.Journal.PruneSchedule, cfg.Journal.Retention(), logger)
		if err != nil {
			app.Journal.Close()
			return nil, err
		}
	}

	return app, nil
}

// loadConfig loads configuration from file. A missing file is replaced by
// the default config, which still needs a worker address before it can
// start.
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	logger.Info("no config found, creating default")
	if err := config.DefaultConfig().Save(path); err != nil {
		return nil, fmt.Errorf("save default config: %w", err)
	}
	logger.Info("default config created", "path", path)
	return nil, fmt.Errorf("default config written to %s: set channel.workerId (or channel.websocket.url) and restart", path)
}

// newTransport builds the configured worker transport.
func newTransport(cfg *config.Config, logger *slog.Logger) (channel.Transport, error) {
	codec, err := channel.CodecByName(cfg.Channel.Codec)
	if err != nil {
		return nil, err
	}

	switch cfg.Channel.Transport {
	case "mqtt":
		return channel.NewMQTT(channel.MQTTOptions{
			Host:           cfg.Channel.MQTT.Host,
			Port:           cfg.Channel.MQTT.Port,
			Username:       cfg.Channel.MQTT.Username,
			Password:       cfg.Channel.MQTT.Password,
			WorkerID:       cfg.Channel.WorkerID,
			RequestTimeout: cfg.Channel.RequestTimeout(),
		}, codec, logger), nil
	case "websocket":
		return channel.NewWebSocket(channel.WSOptions{
			URL:            cfg.Channel.WebSocket.URL,
			Subject:        cfg.Router.ID,
			TokenSecret:    cfg.Channel.WebSocket.TokenSecret,
			TokenTTL:       cfg.Channel.WebSocket.TokenTTL(),
			RequestTimeout: cfg.Channel.RequestTimeout(),
		}, codec, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Channel.Transport)
	}
}

// Start connects to the worker, creates the audio-level observer and adds
// the configured audio producers to it.
func (a *App) Start(ctx context.Context) error {
	if err := a.Transport.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", a.Transport.Name(), err)
	}
	return a.createObserver(ctx)
}

func (a *App) createObserver(ctx context.Context) error {
	// Ranges are enforced by config.Validate.
	alo := a.Config.AudioLevelObserver
	opts, err := observer.NewAudioLevelObserverOptions(
		observer.WithMaxEntries(uint16(alo.MaxEntries)),
		observer.WithThreshold(int8(alo.Threshold)),
		observer.WithInterval(uint16(alo.Interval)),
	)
	if err != nil {
		return err
	}

	obs, err := a.Router.CreateAudioLevelObserver(ctx, opts)
	if err != nil {
		return err
	}
	a.Observer = obs
	a.watchObserver(obs)

	if a.Journal != nil {
		a.Journal.Attach(obs)
	}

	for _, p := range a.Producers.List() {
		if p.Kind() != producer.KindAudio {
			continue
		}
		if err := obs.AddProducer(ctx, p.ID()); err != nil {
			return fmt.Errorf("add producer %s: %w", p.ID(), err)
		}
	}

	a.Logger.Info("audio level observer ready",
		"router", obs.RouterID(),
		"observer", obs.ID(),
		"producers", a.Producers.Len(),
	)
	return nil
}

func (a *App) watchObserver(obs *observer.AudioLevelObserver) {
	obs.On(observer.EventVolumes, func(e observer.Event) {
		for _, v := range e.Volumes {
			a.Logger.Info("volume", "producer", v.Producer.ID(), "dBvo", v.Volume)
		}
	})
	obs.On(observer.EventSilence, func(observer.Event) {
		a.Logger.Info("silence")
	})
	obs.On(observer.EventRouterClose, func(observer.Event) {
		a.Logger.Info("observer closed by router", "observer", obs.ID())
	})
}

// Reload re-reads the config file and applies the hot-reloadable fields.
func (a *App) Reload() {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	result, err := a.Config.Reload(a.ConfigPath)
	if err != nil {
		a.Logger.Error("config reload failed", "error", err)
		return
	}
	result.LogResult(a.Logger)

	config.RLock()
	logLevel := a.Config.Server.LogLevel
	retention := a.Config.Journal.Retention()
	defs := append([]config.ProducerDef(nil), a.Config.Producers...)
	config.RUnlock()

	if !a.levelOverride {
		a.LogLevel.Set(parseLogLevel(logLevel))
	}
	if a.Retention != nil {
		a.Retention.SetRetention(retention)
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.Channel.RequestTimeout()+time.Second)
	defer cancel()
	a.syncProducers(ctx, defs)
}

// syncProducers brings the registry and the observer in line with defs.
func (a *App) syncProducers(ctx context.Context, defs []config.ProducerDef) {
	want := make(map[string]config.ProducerDef, len(defs))
	for _, def := range defs {
		want[def.ID] = def
	}

	for _, p := range a.Producers.List() {
		if _, ok := want[p.ID()]; ok {
			continue
		}
		if a.Observer != nil && p.Kind() == producer.KindAudio {
			if err := a.Observer.RemoveProducer(ctx, p.ID()); err != nil {
				a.Logger.Warn("failed to remove producer from observer", "producer", p.ID(), "error", err)
			}
		}
		if err := a.Producers.Remove(p.ID()); err != nil {
			a.Logger.Warn("failed to remove producer", "producer", p.ID(), "error", err)
		}
	}

	for _, def := range defs {
		if _, err := a.Producers.Get(def.ID); err == nil {
			continue
		}
		p := producer.New(def.ID, producer.Kind(def.Kind), nil)
		if err := a.Producers.Add(p); err != nil {
			a.Logger.Warn("failed to add producer", "producer", def.ID, "error", err)
			continue
		}
		if a.Observer != nil && p.Kind() == producer.KindAudio {
			if err := a.Observer.AddProducer(ctx, p.ID()); err != nil {
				a.Logger.Warn("failed to add producer to observer", "producer", p.ID(), "error", err)
			}
		}
	}
}

// Shutdown closes the router (and with it the observer), the transport
// and the journal.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.Router.Close(ctx)

	if err := a.Transport.Close(); err != nil {
		a.Logger.Error("failed to close transport", "error", err)
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Error("failed to close journal", "error", err)
		}
	}
	a.Logger.Info("rtpobserver stopped")
}
