package fabric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Transport submits one named chaincode operation with string arguments to
// the ledger network and returns the raw transport text. It is the only
// boundary that touches external processes; everything above it is testable
// against a substitute implementation.
type Transport interface {
	// Invoke submits a write requiring endorsement and blocks until commit
	// confirmation or ctx expires.
	Invoke(ctx context.Context, fn string, args []string) (string, error)
	// Query submits a read-only evaluation to a single peer.
	Query(ctx context.Context, fn string, args []string) (string, error)
}

// Org identifies one endorsing organization's peer.
type Org struct {
	MSPID       string
	PeerAddress string
	TLSRootCert string
}

// Config describes the Fabric network a CLITransport talks to. It is built
// once at startup and treated as immutable for the process lifetime.
type Config struct {
	Channel     string
	Chaincode   string
	NetworkPath string

	OrdererAddress          string
	OrdererCAFile           string
	OrdererHostnameOverride string

	// Orgs are the endorsing organizations for writes. Fabric's endorsement
	// policy needs at least two.
	Orgs []Org

	// Local peer identity used for both invoke and query submission.
	LocalMSPID         string
	LocalMSPConfigPath string
	LocalPeerAddress   string
	LocalTLSRootCert   string

	FabricCfgPath string
	PeerBinary    string
}

// Validate checks the fields a CLITransport cannot run without.
func (c Config) Validate() error {
	if c.Channel == "" {
		return fmt.Errorf("channel required")
	}
	if c.Chaincode == "" {
		return fmt.Errorf("chaincode required")
	}
	if c.NetworkPath == "" {
		return fmt.Errorf("network path required")
	}
	if len(c.Orgs) < 2 {
		return fmt.Errorf("at least two endorsing organizations required, got %d", len(c.Orgs))
	}
	return nil
}

// CLITransport reaches the ledger by shelling out to the `peer` binary, the
// way the Fabric test network is operated.
type CLITransport struct {
	cfg Config
	log zerolog.Logger
}

// NewCLITransport creates a transport for the given network.
func NewCLITransport(cfg Config, log zerolog.Logger) (*CLITransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PeerBinary == "" {
		cfg.PeerBinary = "peer"
	}
	if cfg.OrdererHostnameOverride == "" {
		cfg.OrdererHostnameOverride = "orderer.example.com"
	}
	return &CLITransport{cfg: cfg, log: log.With().Str("component", "fabric-cli").Logger()}, nil
}

// chaincodeRequest is the -c payload the peer CLI expects.
type chaincodeRequest struct {
	Function string   `json:"function"`
	Args     []string `json:"Args"`
}

func encodeRequest(fn string, args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	data, err := json.Marshal(chaincodeRequest{Function: fn, Args: args})
	if err != nil {
		return "", fmt.Errorf("encode chaincode request: %w", err)
	}
	return string(data), nil
}

// invokeArgs builds the full peer CLI argument list for a write: ordering
// service, TLS material, and one --peerAddresses/--tlsRootCertFiles pair per
// endorsing organization, with --waitForEvent so the call blocks until the
// transaction commits.
func invokeArgs(cfg Config, request string) []string {
	args := []string{
		"chaincode", "invoke",
		"-o", cfg.OrdererAddress,
		"--ordererTLSHostnameOverride", cfg.OrdererHostnameOverride,
		"--tls",
		"--cafile", cfg.OrdererCAFile,
		"-C", cfg.Channel,
		"-n", cfg.Chaincode,
	}
	for _, org := range cfg.Orgs {
		args = append(args, "--peerAddresses", org.PeerAddress, "--tlsRootCertFiles", org.TLSRootCert)
	}
	return append(args, "-c", request, "--waitForEvent")
}

// queryArgs builds the peer CLI argument list for a single-peer read.
func queryArgs(cfg Config, request string) []string {
	return []string{
		"chaincode", "query",
		"-C", cfg.Channel,
		"-n", cfg.Chaincode,
		"-c", request,
	}
}

// env returns the CORE_PEER_* environment the CLI needs on top of the
// inherited process environment.
func (t *CLITransport) env() []string {
	cfg := t.cfg
	fabricCfg := cfg.FabricCfgPath
	if fabricCfg == "" {
		fabricCfg = filepath.Join(cfg.NetworkPath, "..", "config")
	}
	return []string{
		"CORE_PEER_TLS_ENABLED=true",
		"CORE_PEER_LOCALMSPID=" + cfg.LocalMSPID,
		"CORE_PEER_TLS_ROOTCERT_FILE=" + cfg.LocalTLSRootCert,
		"CORE_PEER_MSPCONFIGPATH=" + cfg.LocalMSPConfigPath,
		"CORE_PEER_ADDRESS=" + cfg.LocalPeerAddress,
		"FABRIC_CFG_PATH=" + fabricCfg,
	}
}

// Invoke implements Transport.
func (t *CLITransport) Invoke(ctx context.Context, fn string, args []string) (string, error) {
	request, err := encodeRequest(fn, args)
	if err != nil {
		return "", err
	}
	return t.run(ctx, fn, invokeArgs(t.cfg, request))
}

// Query implements Transport.
func (t *CLITransport) Query(ctx context.Context, fn string, args []string) (string, error) {
	request, err := encodeRequest(fn, args)
	if err != nil {
		return "", err
	}
	return t.run(ctx, fn, queryArgs(t.cfg, request))
}

func (t *CLITransport) run(ctx context.Context, fn string, cliArgs []string) (string, error) {
	cmd := exec.CommandContext(ctx, t.cfg.PeerBinary, cliArgs...)
	cmd.Dir = t.cfg.NetworkPath
	cmd.Env = append(os.Environ(), t.env()...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	t.log.Debug().Str("fn", fn).Msg("running peer CLI")
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exit *exec.ExitError
		if errors.As(err, &exit) {
			return "", &ExitError{Code: exit.ExitCode(), Stderr: stderr.String()}
		}
		return "", fmt.Errorf("run peer CLI: %w", err)
	}
	return stdout.String(), nil
}
