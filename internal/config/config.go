// Package config loads the immutable process configuration: the Fabric
// network description and the HTTP server settings. Configuration is read
// once at startup from an optional YAML file with environment overrides and
// passed into constructors; nothing re-derives it per call.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vpsa-network/fl-service-layer/internal/fabric"
)

// Server holds the HTTP server and scheduler settings.
type Server struct {
	ListenAddr          string  `yaml:"listen_addr" env:"FLSERVER_LISTEN_ADDR"`
	LogLevel            string  `yaml:"log_level" env:"FLSERVER_LOG_LEVEL"`
	AggregationSchedule string  `yaml:"aggregation_schedule" env:"FLSERVER_AGGREGATION_SCHEDULE"`
	RateLimitPerSecond  float64 `yaml:"rate_limit_per_second" env:"FLSERVER_RATE_LIMIT_PER_SECOND"`
	RateLimitBurst      int     `yaml:"rate_limit_burst" env:"FLSERVER_RATE_LIMIT_BURST"`
	InvokeTimeoutSecs   int     `yaml:"invoke_timeout_seconds" env:"FLSERVER_INVOKE_TIMEOUT_SECONDS"`
	QueryTimeoutSecs    int     `yaml:"query_timeout_seconds" env:"FLSERVER_QUERY_TIMEOUT_SECONDS"`
}

// InvokeTimeout returns the configured invoke deadline.
func (s Server) InvokeTimeout() time.Duration {
	return time.Duration(s.InvokeTimeoutSecs) * time.Second
}

// QueryTimeout returns the configured query deadline.
func (s Server) QueryTimeout() time.Duration {
	return time.Duration(s.QueryTimeoutSecs) * time.Second
}

// Org describes one endorsing organization's peer.
type Org struct {
	MSPID       string `yaml:"msp_id"`
	PeerAddress string `yaml:"peer_address"`
	TLSRootCert string `yaml:"tls_root_cert"`
}

// Fabric describes the ledger network reached through the peer CLI.
type Fabric struct {
	Channel     string `yaml:"channel" env:"FLSERVER_FABRIC_CHANNEL"`
	Chaincode   string `yaml:"chaincode" env:"FLSERVER_FABRIC_CHAINCODE"`
	NetworkPath string `yaml:"network_path" env:"FLSERVER_FABRIC_NETWORK_PATH"`

	OrdererAddress          string `yaml:"orderer_address" env:"FLSERVER_FABRIC_ORDERER_ADDRESS"`
	OrdererCAFile           string `yaml:"orderer_ca_file" env:"FLSERVER_FABRIC_ORDERER_CA_FILE"`
	OrdererHostnameOverride string `yaml:"orderer_hostname_override" env:"FLSERVER_FABRIC_ORDERER_HOSTNAME"`

	Orgs []Org `yaml:"orgs"`

	LocalMSPID         string `yaml:"local_msp_id" env:"FLSERVER_FABRIC_LOCAL_MSP_ID"`
	LocalMSPConfigPath string `yaml:"local_msp_config_path" env:"FLSERVER_FABRIC_LOCAL_MSP_CONFIG_PATH"`
	LocalPeerAddress   string `yaml:"local_peer_address" env:"FLSERVER_FABRIC_LOCAL_PEER_ADDRESS"`
	LocalTLSRootCert   string `yaml:"local_tls_root_cert" env:"FLSERVER_FABRIC_LOCAL_TLS_ROOT_CERT"`

	FabricCfgPath string `yaml:"fabric_cfg_path" env:"FLSERVER_FABRIC_CFG_PATH"`
	PeerBinary    string `yaml:"peer_binary" env:"FLSERVER_FABRIC_PEER_BINARY"`
}

// Config is the full process configuration.
type Config struct {
	Server Server `yaml:"server"`
	Fabric Fabric `yaml:"fabric"`
}

// Default returns the configuration matching the Fabric samples test
// network layout rooted at networkPath.
func Default(networkPath string) Config {
	peerOrg := func(org, port string) (string, string) {
		cert := filepath.Join(networkPath, "organizations", "peerOrganizations",
			org+".example.com", "peers", "peer0."+org+".example.com", "tls", "ca.crt")
		return "localhost:" + port, cert
	}
	org1Addr, org1Cert := peerOrg("org1", "7051")
	org2Addr, org2Cert := peerOrg("org2", "9051")

	return Config{
		Server: Server{
			ListenAddr:         ":5000",
			LogLevel:           "info",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			InvokeTimeoutSecs:  30,
			QueryTimeoutSecs:   15,
		},
		Fabric: Fabric{
			Channel:                 "vpsa-channel",
			Chaincode:               "vpsa",
			NetworkPath:             networkPath,
			OrdererAddress:          "localhost:7050",
			OrdererHostnameOverride: "orderer.example.com",
			OrdererCAFile: filepath.Join(networkPath, "organizations", "ordererOrganizations",
				"example.com", "orderers", "orderer.example.com", "msp", "tlscacerts",
				"tlsca.example.com-cert.pem"),
			Orgs: []Org{
				{MSPID: "Org1MSP", PeerAddress: org1Addr, TLSRootCert: org1Cert},
				{MSPID: "Org2MSP", PeerAddress: org2Addr, TLSRootCert: org2Cert},
			},
			LocalMSPID: "Org1MSP",
			LocalMSPConfigPath: filepath.Join(networkPath, "organizations", "peerOrganizations",
				"org1.example.com", "users", "Admin@org1.example.com", "msp"),
			LocalPeerAddress: org1Addr,
			LocalTLSRootCert: org1Cert,
			PeerBinary:       "peer",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A .env file next to the working directory is
// honored when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	networkPath := os.Getenv("FLSERVER_FABRIC_NETWORK_PATH")
	cfg := Default(networkPath)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to the defaults when the file does
// not exist.
func LoadOrDefault(path string) (Config, error) {
	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}
	return Load(path)
}

// Validate checks the fields the process cannot start without.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server: listen address required")
	}
	if err := c.FabricTransport().Validate(); err != nil {
		return fmt.Errorf("fabric: %w", err)
	}
	return nil
}

// FabricTransport converts the network section into the gateway transport
// configuration.
func (c Config) FabricTransport() fabric.Config {
	orgs := make([]fabric.Org, len(c.Fabric.Orgs))
	for i, o := range c.Fabric.Orgs {
		orgs[i] = fabric.Org{MSPID: o.MSPID, PeerAddress: o.PeerAddress, TLSRootCert: o.TLSRootCert}
	}
	return fabric.Config{
		Channel:                 c.Fabric.Channel,
		Chaincode:               c.Fabric.Chaincode,
		NetworkPath:             c.Fabric.NetworkPath,
		OrdererAddress:          c.Fabric.OrdererAddress,
		OrdererCAFile:           c.Fabric.OrdererCAFile,
		OrdererHostnameOverride: c.Fabric.OrdererHostnameOverride,
		Orgs:                    orgs,
		LocalMSPID:              c.Fabric.LocalMSPID,
		LocalMSPConfigPath:      c.Fabric.LocalMSPConfigPath,
		LocalPeerAddress:        c.Fabric.LocalPeerAddress,
		LocalTLSRootCert:        c.Fabric.LocalTLSRootCert,
		FabricCfgPath:           c.Fabric.FabricCfgPath,
		PeerBinary:              c.Fabric.PeerBinary,
	}
}
