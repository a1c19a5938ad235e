package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isqad/ptconnect/internal/core"
)

func TestLoadDefaults(t *testing.T) {
	conf, err := Load("")
	require.Nil(t, err)

	assert.Equal(t, core.DevelopmentEnv, conf.Env)
	assert.Equal(t, 3*time.Second, conf.Chat.PollInterval)
	assert.Equal(t, BusRedis, conf.Bus.Driver)
	assert.Equal(t, uint32(50000), conf.RTC.ICEPortRangeStart)
	assert.Len(t, conf.Peer.EnabledCodecs, 2)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ptconnect.yml")
	body := []byte(`
env: production
bus:
  driver: nats
chat:
  poll_interval: 5s
api:
  base_url: https://api.example.com
`)
	require.Nil(t, os.WriteFile(path, body, 0o600))

	t.Setenv("PTCONNECT_API_TOKEN", "secret-token")

	conf, err := Load(path)
	require.Nil(t, err)

	assert.True(t, conf.Env.IsProduction())
	assert.Equal(t, BusNats, conf.Bus.Driver)
	assert.Equal(t, 5*time.Second, conf.Chat.PollInterval)
	assert.Equal(t, "https://api.example.com", conf.API.BaseURL)
	assert.Equal(t, "secret-token", conf.API.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.NotNil(t, err)
}

func TestLoadRejectsUnknownEnv(t *testing.T) {
	t.Setenv("PTCONNECT_ENV", "staging")

	_, err := Load("")
	assert.Error(t, err)
}

func TestNewWebRTCConfig(t *testing.T) {
	conf := NewConfig()
	conf.RTC.ICEServers = []string{"stun.example.com:3478", "turn:turn.example.com:3478", "bogus"}

	wc, err := NewWebRTCConfig(conf)
	require.Nil(t, err)

	assert.Equal(t, webrtc.SDPSemanticsUnifiedPlan, wc.Configuration.SDPSemantics)
	assert.Equal(t, []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"turn:turn.example.com:3478"}},
	}, wc.Configuration.ICEServers)
	assert.NotEmpty(t, wc.Publisher.RTCPFeedback.Video)
}
