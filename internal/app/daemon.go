package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keralacert/voiceassist/internal/assistant"
	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/config"
	"github.com/keralacert/voiceassist/internal/dialogue"
	"github.com/keralacert/voiceassist/internal/events"
	"github.com/keralacert/voiceassist/internal/fsm"
	"github.com/keralacert/voiceassist/internal/indicator"
	"github.com/keralacert/voiceassist/internal/ipc"
	"github.com/keralacert/voiceassist/internal/observe"
	"github.com/keralacert/voiceassist/internal/pipeline"
	"github.com/keralacert/voiceassist/internal/recorder"
	"github.com/keralacert/voiceassist/internal/server"
	"github.com/keralacert/voiceassist/internal/speech"
	"github.com/keralacert/voiceassist/internal/storage"
	"github.com/keralacert/voiceassist/internal/transcribe"
	"github.com/keralacert/voiceassist/internal/version"
)

const (
	conversationTurns = 40
	metricsShutdown   = 2 * time.Second
	reopenMinBackoff  = time.Second
	reopenMaxBackoff  = 30 * time.Second
)

// clients are the hosted-model connections shared by every component.
type clients struct {
	transcriber *transcribe.Client
	speech      *speech.Client
	chat        *dialogue.Client
}

func newClients(cfg config.Config, logger *slog.Logger, metrics *observe.Metrics) (clients, error) {
	apiKey := cfg.APIKey()
	if apiKey == "" {
		return clients{}, fmt.Errorf("$%s is not set", cfg.OpenAI.APIKeyEnv)
	}
	timeout := time.Duration(cfg.OpenAI.TimeoutSeconds) * time.Second

	tr, err := transcribe.New(apiKey,
		transcribe.WithBaseURL(cfg.OpenAI.BaseURL),
		transcribe.WithModel(cfg.OpenAI.TranscribeModel),
		transcribe.WithLanguage(cfg.OpenAI.Language),
		transcribe.WithVocabulary(cfg.PromptPhrases()),
		transcribe.WithTimeout(timeout),
		transcribe.WithLogger(logger),
		transcribe.WithMetrics(metrics),
	)
	if err != nil {
		return clients{}, err
	}
	tts, err := speech.New(apiKey,
		speech.WithBaseURL(cfg.OpenAI.BaseURL),
		speech.WithModel(cfg.OpenAI.TTSModel),
		speech.WithVoice(cfg.OpenAI.TTSVoice),
		speech.WithTimeout(timeout),
		speech.WithMetrics(metrics),
	)
	if err != nil {
		return clients{}, err
	}
	chat, err := dialogue.New(apiKey,
		dialogue.WithBaseURL(cfg.OpenAI.BaseURL),
		dialogue.WithModel(cfg.OpenAI.ChatModel),
		dialogue.WithTimeout(timeout),
		dialogue.WithMetrics(metrics),
	)
	if err != nil {
		return clients{}, err
	}
	return clients{transcriber: tr, speech: tts, chat: chat}, nil
}

// recorderSettings overlays the configured tunables on the stock settings.
func recorderSettings(cfg config.Config) (recorder.Settings, error) {
	settings := recorder.DefaultSettings()
	settings.SpeechThreshold = cfg.VAD.SpeechThreshold
	settings.MaxRecording = time.Duration(cfg.VAD.MaxRecordingSeconds) * time.Second
	settings.StopSensitivity = cfg.VAD.StopSensitivity
	settings.PeakVolumeThreshold = cfg.VAD.PeakVolumeThreshold
	settings.LowVolumeStopThreshold = cfg.VAD.LowVolumeStopThreshold
	settings.MaxSilence = time.Duration(cfg.VAD.MaxSilenceMS) * time.Millisecond
	settings.MinRecording = time.Duration(cfg.VAD.MinRecordingMS) * time.Millisecond
	settings.LowFramesPerSensitivity = cfg.VAD.LowFramesPerSensitivity
	settings.HistoryLength = cfg.VAD.HistoryLength
	settings.MinClipBytes = cfg.VAD.MinClipBytes
	settings.StopAttempts = cfg.VAD.StopAttempts
	settings.StopConfirmDelay = time.Duration(cfg.VAD.StopConfirmDelayMS) * time.Millisecond
	if err := settings.Validate(); err != nil {
		return recorder.Settings{}, fmt.Errorf("vad: %w", err)
	}
	return settings, nil
}

// runDaemon wires every long-lived component and serves until ctx ends. With
// withMic unset only the HTTP/WS and gRPC surfaces run.
func (r Runner) runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, withMic bool) int {
	if err := r.daemon(ctx, cfg, logger, withMic); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon failed", "error", err.Error())
		return 1
	}
	return 0
}

func (r Runner) daemon(ctx context.Context, cfg config.Config, logger *slog.Logger, withMic bool) error {
	var listener net.Listener
	if withMic {
		socketPath, err := ipc.RuntimeSocketPath()
		if err != nil {
			return err
		}
		listener, err = ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{})
		if err != nil {
			if errors.Is(err, ipc.ErrAlreadyRunning) {
				return fmt.Errorf("a listener is already running on %s", socketPath)
			}
			return err
		}
		defer ipc.Release(listener, socketPath)
	}

	provider, err := observe.NewProvider("voiceassist", version.Version)
	if err != nil {
		return fmt.Errorf("metrics provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdown)
		defer cancel()
		_ = provider.MeterProvider.Shutdown(shutdownCtx)
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, dbPath, logger.With("component", "storage"))
	if err != nil {
		return err
	}
	defer db.Close()
	voiceEvents := storage.NewVoiceEventStore(db)
	turns := storage.NewTurnStore(db)
	forms := storage.NewFormStore(db)

	api, err := newClients(cfg, logger.With("component", "openai"), metrics)
	if err != nil {
		return err
	}

	conversations := dialogue.NewConversations(cfg.OpenAI.SystemPrompt, conversationTurns)
	hub := server.NewHub(logger.With("component", "hub"), conversations, nil, metrics, cfg.Server.AllowedOrigins)

	publisher := events.Multi{hub}
	if url := strings.TrimSpace(cfg.Events.NATSURL); url != "" {
		bus, err := events.Connect(url, cfg.Events.SubjectPrefix, logger.With("component", "nats"))
		if err != nil {
			return err
		}
		publisher = append(publisher, bus)
	}
	defer func() { _ = publisher.Close() }()

	health := server.NewHealth()

	// The controller and the assistant reference each other: the controller
	// delivers into the assistant and the assistant pauses the controller.
	var assist *assistant.Pipeline
	var controller *recorder.Controller
	if withMic {
		settings, err := recorderSettings(cfg)
		if err != nil {
			return err
		}
		notifier := indicator.New(cfg.Indicator, logger.With("component", "indicator"))
		defer func() { _ = notifier.Close() }()

		mic := audio.NewMicrophone(cfg.Audio.Input, cfg.Audio.Fallback, cfg.Audio.FrameSamples, logger.With("component", "audio"))
		controller = recorder.New(
			logger.With("component", "recorder"),
			settings,
			mic,
			pipeline.NewTranscriber(api.transcriber, cfg.Debug, logger.With("component", "transcribe")),
			recorder.SinkFunc(func(ctx context.Context, res recorder.Result) { assist.Deliver(ctx, res) }),
			recorder.WithIndicator(notifier),
			recorder.WithMetrics(metrics),
			recorder.WithStateListener(statusForwarder(health, publisher, logger)),
		)
	}

	assistOpts := []assistant.Option{
		assistant.WithStore(voiceEvents, turns),
		assistant.WithPublisher(publisher),
		assistant.WithQueueSize(cfg.Assistant.QueueSize),
	}
	var replier assistant.Replier
	if cfg.Assistant.Enable {
		replier = api.chat
		if cfg.Assistant.FormFill {
			assistOpts = append(assistOpts, assistant.WithFormFill(api.chat, forms, assistant.VoiceConversation))
		}
		if cfg.Assistant.Speak && controller != nil {
			assistOpts = append(assistOpts, assistant.WithSpeech(api.speech, audio.NewPlayer(), controller))
		}
	}
	assist = assistant.New(logger.With("component", "assistant"), conversations, replier, assistOpts...)
	if cfg.Assistant.Enable {
		hub.SetResponder(assist)
	}

	deps := server.Deps{
		Logger:         logger.With("component", "http"),
		Speech:         api.speech,
		Transcriber:    api.transcriber,
		Forms:          forms,
		Hub:            hub,
		MetricsHandler: provider.Handler(),
		Middleware:     observe.Middleware(metrics, logger.With("component", "http")),
	}
	if controller != nil {
		deps.Recorder = controller
	}
	if cfg.Assistant.Enable {
		deps.Responder = assist
	}
	srv := server.New(deps)

	if controller != nil {
		if err := controller.Listen(ctx); err != nil {
			if !errors.Is(err, audio.ErrDeviceUnavailable) {
				_ = controller.Close()
				return fmt.Errorf("start listening: %w", err)
			}
			logger.Warn("microphone unavailable; retrying in background", "error", err.Error())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return assist.Run(gctx) })
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Server.HTTPAddr) })
	if addr := strings.TrimSpace(cfg.Server.GRPCAddr); addr != "" {
		g.Go(func() error { return health.ListenAndServe(gctx, addr) })
	}
	if controller != nil {
		g.Go(func() error {
			return ipc.Serve(gctx, listener, controller, ipc.WithServerLogger(logger.With("component", "ipc")))
		})
		g.Go(func() error {
			return keepListening(gctx, controller, logger.With("component", "recorder"), reopenMinBackoff, reopenMaxBackoff)
		})
		g.Go(func() error {
			<-gctx.Done()
			return controller.Close()
		})
	}

	logger.Info("voiceassist running",
		"microphone", withMic,
		"http", cfg.Server.HTTPAddr,
		"grpc", cfg.Server.GRPCAddr,
		"database", db.Path(),
	)

	err = g.Wait()
	if dropped := assist.Dropped(); dropped > 0 {
		logger.Warn("assistant dropped results", "count", dropped)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("voiceassist stopped")
	return nil
}

// statusForwarder mirrors controller state onto gRPC health and the event
// publishers. It runs on the controller goroutine; both sinks are
// non-blocking.
func statusForwarder(health *server.Health, publisher events.Publisher, logger *slog.Logger) func(recorder.Status) {
	return func(s recorder.Status) {
		health.SetActive(s.State.Active())
		err := publisher.Publish(context.Background(), events.Event{
			Kind:      events.KindStatus,
			SessionID: s.SessionID,
			State:     string(s.State),
			At:        time.Now().UTC(),
		})
		if err != nil {
			logger.Debug("publish status failed", "error", err)
		}
	}
}

type microphoneListener interface {
	Listen(ctx context.Context) error
	State() fsm.State
}

// keepListening reopens the microphone whenever the controller drops back to
// idle, after a failed open or when the capture stream ends. Failed opens back
// off exponentially between minBackoff and maxBackoff.
func keepListening(ctx context.Context, mic microphoneListener, logger *slog.Logger, minBackoff, maxBackoff time.Duration) error {
	backoff := minBackoff
	for {
		wait := minBackoff
		if mic.State() == fsm.StateIdle {
			err := mic.Listen(ctx)
			switch {
			case err == nil, errors.Is(err, recorder.ErrAlreadyListening):
				if err == nil {
					logger.Info("microphone reopened")
				}
				backoff = minBackoff
			case errors.Is(err, recorder.ErrClosed), ctx.Err() != nil:
				return nil
			default:
				logger.Warn("microphone unavailable; retrying", "error", err.Error(), "retry_in", backoff.String())
				wait = backoff
				backoff = min(backoff*2, maxBackoff)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
