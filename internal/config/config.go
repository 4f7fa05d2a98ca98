package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default configuration values (production)
const (
	DefaultServer        = "https://app-p2p.onrender.com"
	DefaultChunkSize     = 64 * 1024
	MinChunkSize         = 16 * 1024
	MaxChunkSize         = 64 * 1024
	DefaultHighWaterMark = 16 * 1024 * 1024
	DefaultHeartbeat     = 5 * time.Second
	DefaultSaveMode      = SaveModeAuto
	DefaultRelayAddr     = ":8080"
)

// DefaultSTUNServers are served by the relay's /config endpoint when nothing
// else is configured.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Save modes
const (
	SaveModeAuto   = "auto"
	SaveModeStream = "stream"
	SaveModeBuffer = "buffer"
	SaveModeShare  = "share"
)

// Config holds application configuration
type Config struct {
	// Server is the relay base URL (http or https)
	Server string

	// WebSocketURL and ICEConfigURL are derived from Server
	WebSocketURL string
	ICEConfigURL string

	// Extra ICE servers appended to whatever the relay hands out
	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	ChunkSize     int
	HighWaterMark uint64
	Tagged        bool

	SaveMode     string
	OutputDir    string
	CacheDir     string
	ShareCommand string

	Heartbeat time.Duration

	HistoryPath string
	NoHistory   bool

	RelayAddr string
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set on the command line".
type Options struct {
	ConfigFile    string
	Server        string
	STUNServers   []string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
	ChunkSize     int
	HighWaterMark uint64
	Tagged        bool
	SaveMode      string
	OutputDir     string
	CacheDir      string
	ShareCommand  string
	Heartbeat     time.Duration
	HistoryPath   string
	NoHistory     bool
	RelayAddr     string
}

// fileConfig mirrors the YAML config file.
type fileConfig struct {
	Server        string   `yaml:"server"`
	STUNServers   []string `yaml:"stun_servers"`
	TURNServer    string   `yaml:"turn_server"`
	TURNUser      string   `yaml:"turn_username"`
	TURNPass      string   `yaml:"turn_password"`
	ForceRelay    bool     `yaml:"force_relay"`
	ChunkSize     int      `yaml:"chunk_size"`
	HighWaterMark uint64   `yaml:"high_water_mark"`
	Tagged        bool     `yaml:"tagged"`
	SaveMode      string   `yaml:"save_mode"`
	OutputDir     string   `yaml:"output_dir"`
	CacheDir      string   `yaml:"cache_dir"`
	ShareCommand  string   `yaml:"share_command"`
	Heartbeat     string   `yaml:"heartbeat"`
	HistoryPath   string   `yaml:"history_path"`
	NoHistory     bool     `yaml:"no_history"`
	RelayAddr     string   `yaml:"relay_addr"`
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. YAML config file (--config or AIRSETU_CONFIG)
// 4. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	var fc fileConfig
	path := first(opts.ConfigFile, os.Getenv("AIRSETU_CONFIG"))
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Server:       first(opts.Server, os.Getenv("AIRSETU_SERVER"), fc.Server, DefaultServer),
		TURNServer:   first(opts.TURNServer, os.Getenv("TURN_SERVER"), fc.TURNServer),
		TURNUser:     first(opts.TURNUser, os.Getenv("TURN_USERNAME"), fc.TURNUser),
		TURNPass:     first(opts.TURNPass, os.Getenv("TURN_PASSWORD"), fc.TURNPass),
		SaveMode:     strings.ToLower(first(opts.SaveMode, os.Getenv("AIRSETU_SAVE_MODE"), fc.SaveMode, DefaultSaveMode)),
		OutputDir:    first(opts.OutputDir, os.Getenv("AIRSETU_OUTPUT_DIR"), fc.OutputDir),
		CacheDir:     first(opts.CacheDir, os.Getenv("AIRSETU_CACHE_DIR"), fc.CacheDir),
		ShareCommand: first(opts.ShareCommand, os.Getenv("AIRSETU_SHARE_COMMAND"), fc.ShareCommand),
		HistoryPath:  first(opts.HistoryPath, os.Getenv("AIRSETU_HISTORY"), fc.HistoryPath),
		RelayAddr:    first(opts.RelayAddr, portAddr(os.Getenv("PORT")), fc.RelayAddr, DefaultRelayAddr),
		ForceRelay:   opts.ForceRelay || envBool("FORCE_RELAY") || fc.ForceRelay,
		Tagged:       opts.Tagged || envBool("AIRSETU_TAGGED") || fc.Tagged,
		NoHistory:    opts.NoHistory || envBool("AIRSETU_NO_HISTORY") || fc.NoHistory,
	}

	cfg.STUNServers = opts.STUNServers
	if len(cfg.STUNServers) == 0 {
		if env := os.Getenv("STUN_SERVERS"); env != "" {
			cfg.STUNServers = splitList(env)
		} else {
			cfg.STUNServers = fc.STUNServers
		}
	}

	var err error
	if cfg.ChunkSize, err = firstInt(opts.ChunkSize, "AIRSETU_CHUNK_SIZE", fc.ChunkSize, DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.ChunkSize < MinChunkSize || cfg.ChunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size %d out of range [%d, %d]", cfg.ChunkSize, MinChunkSize, MaxChunkSize)
	}

	hwm, err := firstInt(int(opts.HighWaterMark), "AIRSETU_HIGH_WATER_MARK", int(fc.HighWaterMark), DefaultHighWaterMark)
	if err != nil {
		return nil, err
	}
	if hwm < cfg.ChunkSize {
		return nil, fmt.Errorf("high water mark %d must be at least one chunk (%d)", hwm, cfg.ChunkSize)
	}
	cfg.HighWaterMark = uint64(hwm)

	cfg.Heartbeat = opts.Heartbeat
	if cfg.Heartbeat == 0 {
		raw := first(os.Getenv("AIRSETU_HEARTBEAT"), fc.Heartbeat)
		if raw != "" {
			if cfg.Heartbeat, err = time.ParseDuration(raw); err != nil {
				return nil, fmt.Errorf("invalid heartbeat %q: %w", raw, err)
			}
		}
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}

	switch cfg.SaveMode {
	case SaveModeAuto, SaveModeStream, SaveModeBuffer, SaveModeShare:
	default:
		return nil, fmt.Errorf("unknown save mode %q (want auto, stream, buffer or share)", cfg.SaveMode)
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = defaultDownloadsDir()
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir()
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(defaultDataDir(), "history.db")
	}

	if err := cfg.deriveURLs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) deriveURLs() error {
	server := c.Server
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid server URL %q", c.Server)
	}

	ws := *u
	switch u.Scheme {
	case "https", "wss":
		ws.Scheme = "wss"
		u.Scheme = "https"
	case "http", "ws":
		ws.Scheme = "ws"
		u.Scheme = "http"
	default:
		return fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	ws.Path = u.Path + "/ws"

	c.Server = u.String()
	c.WebSocketURL = ws.String()
	c.ICEConfigURL = u.String() + "/config"
	return nil
}

// GetRoomLink returns the shareable URL for a room ID
func (c *Config) GetRoomLink(roomID string) string {
	return fmt.Sprintf("%s/r/%s", c.Server, roomID)
}

// ParseRoomRef accepts either a bare room ID or a room link
// (https://host/r/<id>) and returns the room ID.
func ParseRoomRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty room id")
	}
	if !strings.Contains(ref, "://") {
		return ref, nil
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid room link: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) >= 2 && parts[len(parts)-2] == "r" && parts[len(parts)-1] != "" {
		return parts[len(parts)-1], nil
	}
	if room := u.Query().Get("room"); room != "" {
		return room, nil
	}
	return "", fmt.Errorf("no room id in link %q", ref)
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(c.TURNServer, "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstInt(flag int, env string, file, def int) (int, error) {
	if flag != 0 {
		return flag, nil
	}
	if raw := os.Getenv(env); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", env, raw, err)
		}
		return n, nil
	}
	if file != 0 {
		return file, nil
	}
	return def, nil
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func portAddr(port string) string {
	if port == "" {
		return ""
	}
	return ":" + port
}

func defaultDownloadsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func defaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return os.TempDir()
	}
	return filepath.Join(dir, "airsetu")
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "airsetu")
}
