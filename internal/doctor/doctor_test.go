package doctor

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keralacert/voiceassist/internal/config"
	"github.com/keralacert/voiceassist/internal/server"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestReportOKAllPassing(t *testing.T) {
	report := Report{Checks: []Check{{Name: "one", Pass: true}, {Name: "two", Pass: true}}}
	require.True(t, report.OK())
}

func TestCheckAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.OpenAI.APIKeyEnv = "VOICEASSIST_TEST_KEY"

	t.Setenv("VOICEASSIST_TEST_KEY", "")
	check := checkAPIKey(cfg)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "$VOICEASSIST_TEST_KEY is empty")

	t.Setenv("VOICEASSIST_TEST_KEY", "sk-test")
	require.True(t, checkAPIKey(cfg).Pass)
}

func TestCheckBinaryFound(t *testing.T) {
	check := checkBinary("sh", "shell available")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "shell available")
}

func TestCheckBinaryMissing(t *testing.T) {
	check := checkBinary("definitely-not-a-real-binary", "unused")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found")
}

func TestCheckStorageCreatesDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "nested", "voiceassist.db")

	check := checkStorage(context.Background(), cfg)
	require.True(t, check.Pass, check.Message)
	_, err := os.Stat(cfg.Storage.Path)
	require.NoError(t, err)
}

func TestCheckNATSFailsWithoutServer(t *testing.T) {
	cfg := config.Default()
	cfg.Events.NATSURL = "nats://127.0.0.1:1"

	check := checkNATS(cfg)
	require.False(t, check.Pass)
	require.Equal(t, "events.nats", check.Name)
}

func TestCheckAudioSelectionFailureWithInvalidPulseServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	check := checkAudioSelection(context.Background(), config.Default())
	require.False(t, check.Pass)
	require.Equal(t, "audio.device", check.Name)
}

func TestCheckListenerReportsServingStatus(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	health := server.NewHealth()
	health.SetActive(true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- health.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg := config.Default()
	cfg.Server.GRPCAddr = lis.Addr().String()

	check := checkListener(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "serving at "+lis.Addr().String())
}

func TestCheckListenerWithoutDaemon(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	cfg := config.Default()
	cfg.Server.GRPCAddr = addr

	check := checkListener(context.Background(), cfg)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "no listener at")
}

func TestRunSkipsOptionalChecks(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg := config.Default()
	cfg.Indicator.Enable = false
	cfg.Server.GRPCAddr = ""
	cfg.Storage.Path = filepath.Join(t.TempDir(), "db.sqlite")

	report := Run(context.Background(), config.Loaded{Path: "/tmp/config.yaml", Config: cfg})

	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	require.Equal(t, []string{"config", "openai.api_key", "storage", "audio.device", "listener.health"}, names)
	require.False(t, report.OK(), "audio device is unreachable")
}
