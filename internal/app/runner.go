package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/lazytrader/internal/chain"
	"github.com/ggonzalez94/lazytrader/internal/chain/signer"
	"github.com/ggonzalez94/lazytrader/internal/config"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/httpx"
	"github.com/ggonzalez94/lazytrader/internal/logging"
	"github.com/ggonzalez94/lazytrader/internal/model"
	"github.com/ggonzalez94/lazytrader/internal/out"
	"github.com/ggonzalez94/lazytrader/internal/permissions"
	"github.com/ggonzalez94/lazytrader/internal/policy"
	"github.com/ggonzalez94/lazytrader/internal/registry"
	"github.com/ggonzalez94/lazytrader/internal/schema"
	"github.com/ggonzalez94/lazytrader/internal/setupapi"
	"github.com/ggonzalez94/lazytrader/internal/store"
	"github.com/ggonzalez94/lazytrader/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
	// dial replaces chain.Dial when set.
	dial chain.DialFunc
	// chainOpts replaces chain.DefaultOptions when set.
	chainOpts *chain.Options
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      *logging.Logger
	root     *cobra.Command

	keySource  string
	privateKey string

	lastCommand  string
	lastNetwork  string
	lastServices []model.ServiceStatus

	signerLoaded bool
	signer       signer.Signer
	hub          *chain.Hub
	store        *store.Store
	setupAPI     *setupapi.Client
	checker      *permissions.Checker
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := &runtimeState{runner: r, log: logging.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	err = normalizeRunError(err)
	if err != nil {
		state.renderError("", err)
	}
	state.close()
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.hub != nil {
		s.hub.Close()
	}
	if s.store != nil {
		_ = s.store.Close()
	}
	_ = s.log.Sync()
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Lazy trader onboarding and one-click trading permissions",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logging.New(settings.LogLevel, settings.LogFormat, s.runner.stderr)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			return policy.CheckWriteAllowed(settings.ReadOnly, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated, dotted for nested)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	pf.BoolVar(&s.flags.ReadOnly, "read-only", false, "Block commands that send transactions or change remote setup state")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Request timeout for the setup API and RPC reads")
	pf.IntVar(&s.flags.Retries, "retries", -1, "Retries per setup API request")
	pf.StringVar(&s.flags.Network, "network", "", "Network name, alias or chain id")
	pf.StringVar(&s.flags.RPCURL, "rpc-url", "", "RPC URL override for the selected network")
	pf.StringVar(&s.flags.APIOrigin, "api-origin", "", "Setup API origin, e.g. https://app.example.com")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&s.flags.EnvFile, "env-file", "", "Path to a .env file")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&s.keySource, "key-source", signer.SourceAuto, "Signing key source (auto|env|file|keystore)")
	pf.StringVar(&s.privateKey, "private-key", "", "Hex private key (prefer "+signer.EnvPrivateKey+")")

	cmd.AddCommand(s.newSetupCommand())
	cmd.AddCommand(s.newApprovalCommand())
	cmd.AddCommand(s.newDelegationCommand())
	cmd.AddCommand(s.newPermissionsCommand())
	cmd.AddCommand(s.newTransactionsCommand())
	cmd.AddCommand(s.newWalletCommand())
	cmd.AddCommand(s.newNetworksCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	var inherited bool
	cmd := &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := schema.Build(s.root, strings.Join(args, " "), schema.Options{
				Mutating:      policy.IsWriteCommand,
				WithInherited: inherited,
			})
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), out, nil)
		},
	}
	cmd.Flags().BoolVar(&inherited, "inherited", false, "Include flags inherited from parent commands")
	return cmd
}

func (s *runtimeState) newNetworksCommand() *cobra.Command {
	root := &cobra.Command{Use: "networks", Short: "Supported networks"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List supported networks, contracts and RPC endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := s.rpcOverrides()
			items := make([]model.NetworkInfo, 0)
			for _, n := range registry.Networks() {
				rpcURL, _ := registry.ResolveRPCURL(overrides[n.Name], n.ChainID)
				items = append(items, networkInfo(n, rpcURL))
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), items, nil)
		},
	}
	root.AddCommand(list)
	return root
}

func (s *runtimeState) newWalletCommand() *cobra.Command {
	root := &cobra.Command{Use: "wallet", Short: "Connected wallet"}
	status := &cobra.Command{
		Use:   "status",
		Short: "Show the signing wallet and selected network",
		RunE: func(cmd *cobra.Command, args []string) error {
			network, err := s.network()
			if err != nil {
				return err
			}
			sg, err := s.loadSigner()
			if err != nil {
				return err
			}
			view := model.WalletStatus{
				Network: network.Name,
				ChainID: network.ChainID,
				CAIP2:   network.CAIP2(),
				Testnet: network.Testnet,
			}
			if sg != nil {
				view.Connected = true
				view.Address = sg.Address().Hex()
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), view, nil)
		},
	}
	root.AddCommand(status)
	return root
}

func (s *runtimeState) network() (registry.Network, error) {
	n, err := registry.ParseNetwork(s.settings.Network)
	if err != nil {
		return registry.Network{}, clierr.Wrap(clierr.CodeUsage, "resolve network", err)
	}
	s.lastNetwork = n.Name
	return n, nil
}

// rpcOverrides re-keys configured RPC URLs by canonical network name so that
// aliases and chain ids given on the command line still match.
func (s *runtimeState) rpcOverrides() map[string]string {
	out := map[string]string{}
	for key, url := range s.settings.RPCURLs {
		if n, err := registry.ParseNetwork(key); err == nil {
			out[n.Name] = url
		}
	}
	return out
}

// loadSigner returns nil without error when no key is configured.
func (s *runtimeState) loadSigner() (signer.Signer, error) {
	if s.signerLoaded {
		return s.signer, nil
	}
	local, err := signer.FromEnv(s.keySource, s.privateKey)
	if err != nil {
		if errors.Is(err, signer.ErrNoKey) {
			s.signerLoaded = true
			return nil, nil
		}
		return nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
	}
	s.signerLoaded = true
	s.signer = local
	return local, nil
}

func (s *runtimeState) chainClient(ctx context.Context, network registry.Network) (*chain.Client, error) {
	if s.hub == nil {
		sg, err := s.loadSigner()
		if err != nil {
			return nil, err
		}
		opts := []chain.HubOption{}
		if s.runner.dial != nil {
			opts = append(opts, chain.WithDialer(s.runner.dial))
		}
		if s.runner.chainOpts != nil {
			opts = append(opts, chain.WithOptions(*s.runner.chainOpts))
		}
		s.hub = chain.NewHub(s.rpcOverrides(), sg, opts...)
	}
	start := time.Now()
	client, err := s.hub.Client(ctx, network)
	s.recordService("rpc:"+network.Name, err, start)
	return client, err
}

// gateway returns a nil interface when no signer is configured so that
// trackers see a missing wallet.
func (s *runtimeState) gateway(client *chain.Client) chain.Gateway {
	if s.signer == nil || client == nil {
		return nil
	}
	return client
}

// userAddress picks the address to inspect: explicit flag, configured wallet,
// then the signing key.
func (s *runtimeState) userAddress(explicit string) (*common.Address, error) {
	for _, candidate := range []string{explicit, s.settings.Wallet} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if !common.IsHexAddress(candidate) {
			return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address %q", candidate))
		}
		addr := common.HexToAddress(candidate)
		return &addr, nil
	}
	sg, err := s.loadSigner()
	if err != nil {
		return nil, err
	}
	if sg == nil {
		return nil, nil
	}
	addr := sg.Address()
	return &addr, nil
}

func (s *runtimeState) openStore() (*store.Store, error) {
	if s.store != nil {
		return s.store, nil
	}
	st, err := store.Open(s.settings.StorePath, s.settings.StoreLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open state store", err)
	}
	s.store = st
	return st, nil
}

func (s *runtimeState) setupClient() (*setupapi.Client, error) {
	if s.setupAPI != nil {
		return s.setupAPI, nil
	}
	origin := strings.TrimSpace(s.settings.APIOrigin)
	if origin == "" {
		return nil, clierr.New(clierr.CodeUsage, "setup API origin is not configured (set --api-origin or "+config.EnvPrefix+"_API_ORIGIN)")
	}
	if !registry.IsAllowedAPIOrigin(origin) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("setup API origin must use https (or http on loopback): %s", origin))
	}
	httpClient := httpx.New(s.settings.Timeout, s.settings.Retries, httpx.WithRateLimit(s.settings.APIRateLimit))
	s.setupAPI = setupapi.New(httpClient, origin, s.settings.APIBasePath, s.settings.APITestnet)
	return s.setupAPI, nil
}

func (s *runtimeState) permissionChecker() *permissions.Checker {
	if s.checker == nil {
		s.checker = permissions.NewChecker(
			permissions.WithMinimumAllowance(s.settings.MinimumAllowance),
			permissions.WithLogger(s.log.With("component", "permissions")),
		)
	}
	return s.checker
}

// readContext bounds RPC reads by the configured timeout.
func (s *runtimeState) readContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.settings.Timeout)
}

func (s *runtimeState) recordService(name string, err error, start time.Time) {
	s.lastServices = append(s.lastServices, model.ServiceStatus{
		Name:      name,
		Status:    statusFromErr(err),
		LatencyMS: time.Since(start).Milliseconds(),
	})
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta:     s.meta(commandPath),
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		typ = clierr.TypeName(cErr.Code)
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
		},
		Meta: s.meta(commandPath),
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func (s *runtimeState) meta(commandPath string) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: uuid.NewString(),
		Timestamp: s.runner.now().UTC(),
		Command:   commandPath,
		Network:   s.lastNetwork,
		Services:  s.lastServices,
	}
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func statusFromErr(err error) string {
	if err == nil {
		return "ok"
	}
	if cErr, ok := clierr.As(err); ok {
		switch cErr.Code {
		case clierr.CodeAuth:
			return "auth_error"
		case clierr.CodeRateLimited:
			return "rate_limited"
		case clierr.CodeUnavailable:
			return "unavailable"
		case clierr.CodeTimeout:
			return "timeout"
		default:
			return "error"
		}
	}
	return "error"
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if errors.Is(err, permissions.ErrTransactionInFlight) {
		return clierr.Wrap(clierr.CodePrecondition, "transaction already in flight", err)
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
