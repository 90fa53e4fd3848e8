// Package doctor runs readiness diagnostics for config, credentials, audio,
// storage, and a running listener.
package doctor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/keralacert/voiceassist/internal/audio"
	"github.com/keralacert/voiceassist/internal/config"
	"github.com/keralacert/voiceassist/internal/events"
	"github.com/keralacert/voiceassist/internal/server"
	"github.com/keralacert/voiceassist/internal/storage"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes every check for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q (%d warnings)", cfg.Path, len(cfg.Warnings)),
	}}

	checks = append(checks, checkAPIKey(cfg.Config))
	if cfg.Config.Indicator.Enable && strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop notifications"))
	}
	checks = append(checks, checkStorage(ctx, cfg.Config))
	if strings.TrimSpace(cfg.Config.Events.NATSURL) != "" {
		checks = append(checks, checkNATS(cfg.Config))
	}
	checks = append(checks, checkAudioSelection(ctx, cfg.Config))
	checks = append(checks, checkListener(ctx, cfg.Config))

	return Report{Checks: checks}
}

func checkAPIKey(cfg config.Config) Check {
	name := "openai.api_key"
	if cfg.APIKey() == "" {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("$%s is empty", cfg.OpenAI.APIKeyEnv)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("read from $%s", cfg.OpenAI.APIKeyEnv)}
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkStorage opens and pings the database, creating it when missing.
func checkStorage(ctx context.Context, cfg config.Config) Check {
	name := "storage"
	path, err := cfg.DatabasePath()
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	db, err := storage.Open(ctx, path, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("ping %s: %v", path, err)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("sqlite at %s", path)}
}

func checkNATS(cfg config.Config) Check {
	name := "events.nats"
	pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	_ = pub.Close()
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("connected to %s", cfg.Events.NATSURL)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkListener queries the gRPC health endpoint of a running listener. A
// listener that is not running is reported, not failed.
func checkListener(ctx context.Context, cfg config.Config) Check {
	name := "listener.health"
	addr := strings.TrimSpace(cfg.Server.GRPCAddr)
	if addr == "" {
		return Check{Name: name, Pass: true, Message: "grpc health disabled"}
	}

	status, err := server.CheckHealth(ctx, addr, server.RecorderService, probeTimeout)
	if err != nil {
		return Check{Name: name, Pass: true, Message: fmt.Sprintf("no listener at %s", addr)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s at %s", strings.ToLower(status.String()), addr)}
}
