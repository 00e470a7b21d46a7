// Package config loads senseid's process configuration, in the idiom of
// TheRebelOfBabylon/Conduit's core/config.go (yaml file with flag overrides)
// generalized from Conduit's one-node-per-process wrapping of lnd's own
// config to a config describing the shared runtime for many hosted nodes.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	yaml "gopkg.in/yaml.v2"
)

// Bitcoin groups the chain-backend selection knobs, mirroring lnd's
// lncfg.Chain / chainregistry.go's homeChainConfig fields.
type Bitcoin struct {
	Network   string `yaml:"Network" long:"network" description:"mainnet, testnet, regtest or signet" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet"`
	Node      string `yaml:"Node" long:"node" description:"chain backend kind" choice:"btcd" choice:"bitcoind" choice:"neutrino" choice:"remote"`
	RPCHost   string `yaml:"RPCHost" long:"rpchost" description:"host:port of the backing full node RPC"`
	RPCUser   string `yaml:"RPCUser" long:"rpcuser"`
	RPCPass   string `yaml:"RPCPass" long:"rpcpass"`
	RPCCert   string `yaml:"RPCCert" long:"rpccert" description:"path to the backing node's TLS cert"`
	RawRPCCert string `yaml:"RawRPCCert" long:"rawrpccert"`
}

// Database selects and configures the relational Store backend.
type Database struct {
	Backend  string `yaml:"Backend" long:"backend" description:"sqlite or postgres" choice:"sqlite" choice:"postgres"`
	DSN      string `yaml:"DSN" long:"dsn" description:"connection string; for sqlite, a file path"`
	MigrationsPath string `yaml:"MigrationsPath" long:"migrationspath"`
}

// RemoteP2P configures the local-or-remote routing/scoring delegation of
// spec.md §4.4.
type RemoteP2P struct {
	Host  string `yaml:"Host" long:"host" description:"base URL of the remote instance's /v1/ldk/network endpoints"`
	Token string `yaml:"Token" long:"token" description:"bearer token for the remote instance"`
}

// RemoteChain configures the local-or-remote chain backend delegation of
// spec.md §4.4/§6.
type RemoteChain struct {
	Host  string `yaml:"Host" long:"host" description:"base URL of the remote instance's /v1/ldk/chain endpoints"`
	Token string `yaml:"Token" long:"token" description:"bearer token for the remote instance"`
}

// Config is the top-level process configuration, read from
// ~/.senseid/senseid.yaml with flag overrides, in Conduit's
// default-then-yaml-then-flags order.
type Config struct {
	DataDir string `yaml:"DataDir" long:"datadir" description:"directory for per-node on-disk artifacts"`

	RPCListen   string `yaml:"RPCListen" long:"rpclisten" description:"address the Prometheus /metrics HTTP endpoint binds to"`
	DebugLevel  string `yaml:"DebugLevel" short:"d" long:"debuglevel" description:"logging level for all subsystems, or <global>,<subsystem>=<level>,..."`
	Profile     string `yaml:"Profile" long:"profile" description:"enable HTTP pprof on this host:port"`

	Bitcoin  Bitcoin  `yaml:"Bitcoin" group:"bitcoin" namespace:"bitcoin"`
	Database Database `yaml:"Database" group:"database" namespace:"database"`

	RemoteP2P   *RemoteP2P   `yaml:"RemoteP2P" group:"remotep2p" namespace:"remotep2p"`
	RemoteChain *RemoteChain `yaml:"RemoteChain" group:"remotechain" namespace:"remotechain"`

	GossipPeers []string `yaml:"GossipPeers" long:"gossippeer" description:"host:port of a gossip-only peer to maintain connectivity with"`

	ChainPollInterval   time.Duration `yaml:"ChainPollInterval" long:"chainpollinterval" description:"ChainManager poll cycle period"`
	ScorerPersistPeriod time.Duration `yaml:"ScorerPersistPeriod" long:"scorerpersistperiod"`
	GraphPersistPeriod  time.Duration `yaml:"GraphPersistPeriod" long:"graphpersistperiod"`

	ShowVersion bool `long:"version" description:"display version information and exit"`
}

const configFileName = "senseid.yaml"

// Default returns the configuration used when no config file is present,
// matching Conduit's default_config().
func Default() *Config {
	return &Config{
		DataDir:             defaultDataDir(),
		RPCListen:           "127.0.0.1:10009",
		DebugLevel:          "info",
		Bitcoin:             Bitcoin{Network: "regtest", Node: "neutrino"},
		Database:            Database{Backend: "sqlite", DSN: "senseid.db"},
		ChainPollInterval:   time.Second,
		ScorerPersistPeriod: 10 * time.Minute,
		GraphPersistPeriod:  5 * time.Minute,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".senseid"
	}
	return filepath.Join(home, ".senseid")
}

// Load reads the on-disk yaml config if present, then applies command-line
// flag overrides on top, exactly as Conduit's InitConfig does.
func Load(args []string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(cfg.DataDir, configFileName)
	if fileExists(path) {
		raw, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil, err
		}
		return nil, err
	}

	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
