package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/isqad/ptconnect/internal/core"
)

const envPrefix = "PTCONNECT"

const (
	BusRedis = "redis"
	BusNats  = "nats"
	BusLocal = "local"
)

type Config struct {
	Env       core.Environment `mapstructure:"env"`
	Server    ServerConfig     `mapstructure:"server"`
	Bus       BusConfig        `mapstructure:"bus"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Nats      NatsConfig       `mapstructure:"nats"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Auth      AuthConfig       `mapstructure:"auth"`
	API       APIConfig        `mapstructure:"api"`
	Signaling SignalingConfig  `mapstructure:"signaling"`
	Chat      ChatConfig       `mapstructure:"chat"`
	Media     MediaConfig      `mapstructure:"media"`
	RTC       RTCConfig        `mapstructure:"rtc"`
	Peer      PeerConfig       `mapstructure:"peer"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type BusConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NatsConfig struct {
	URL string `mapstructure:"url"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	SessionSecret string `mapstructure:"session_secret"`
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type SignalingConfig struct {
	URL string `mapstructure:"url"`
}

type ChatConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type MediaConfig struct {
	AudioFile  string `mapstructure:"audio_file"`
	VideoFile  string `mapstructure:"video_file"`
	AllowAudio bool   `mapstructure:"allow_audio"`
	AllowVideo bool   `mapstructure:"allow_video"`
}

type RTCConfig struct {
	ICEServers        []string `mapstructure:"ice_servers"`
	ICEPortRangeStart uint32   `mapstructure:"ice_port_range_start"`
	ICEPortRangeEnd   uint32   `mapstructure:"ice_port_range_end"`
}

type CodecSpec struct {
	Mime     string `mapstructure:"mime"`
	FmtpLine string `mapstructure:"fmtp_line"`
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec `mapstructure:"codecs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", string(core.DevelopmentEnv))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("bus.driver", BusRedis)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("database.dsn", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.session_secret", "")
	v.SetDefault("api.base_url", "http://localhost:3000")
	v.SetDefault("api.token", "")
	v.SetDefault("signaling.url", "ws://localhost:8080/ws")
	v.SetDefault("chat.poll_interval", "3s")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("media.video_file", "")
	v.SetDefault("media.allow_audio", true)
	v.SetDefault("media.allow_video", true)
	v.SetDefault("rtc.ice_servers", DefaultStunServers)
	v.SetDefault("rtc.ice_port_range_start", 50000)
	v.SetDefault("rtc.ice_port_range_end", 60000)
}

// Load reads configuration from the optional file at path and PTCONNECT_* environment variables
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if _, err := core.ParseEnvironment(string(conf.Env)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(conf.Peer.EnabledCodecs) == 0 {
		conf.Peer.EnabledCodecs = defaultCodecs()
	}

	return conf, nil
}

// NewConfig returns the configuration used when no file is given
func NewConfig() *Config {
	return &Config{
		Env: core.DevelopmentEnv,
		Chat: ChatConfig{
			PollInterval: 3 * time.Second,
		},
		Media: MediaConfig{
			AllowAudio: true,
			AllowVideo: true,
		},
		RTC: RTCConfig{
			ICEServers:        DefaultStunServers,
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: defaultCodecs(),
		},
	}
}
