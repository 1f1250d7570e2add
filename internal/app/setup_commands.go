package app

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/setup"
	"github.com/ggonzalez94/lazytrader/internal/store"
)

// sessionMode says what a setup command needs from its environment.
type sessionMode int

const (
	// sessionLocal only touches the stored state.
	sessionLocal sessionMode = iota
	// sessionRemote talks to the setup API and first runs the completed-setup
	// check for the wallet.
	sessionRemote
	// sessionRemoteNoCheck talks to the setup API without the automatic check.
	sessionRemoteNoCheck
)

func (s *runtimeState) newSetupCommand() *cobra.Command {
	root := &cobra.Command{Use: "setup", Short: "Lazy trader onboarding flow"}
	var walletArg string
	root.PersistentFlags().StringVar(&walletArg, "wallet", "", "Wallet to onboard (defaults to LAZYTRADER_WALLET or the signing key)")

	root.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Ask the setup service whether this wallet already finished onboarding",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionRemoteNoCheck, func(ctx context.Context, c *setup.Controller) error {
				return c.CheckSetup(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "agent",
		Short: "Generate (or fetch) the trading agent address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionRemote, func(ctx context.Context, c *setup.Controller) error {
				if c.State().Step == setup.StepComplete {
					return nil
				}
				return c.GenerateAgent(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Generate a Telegram link code and deep link",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionRemote, func(ctx context.Context, c *setup.Controller) error {
				if c.State().Step == setup.StepComplete {
					return nil
				}
				return c.GenerateLink(ctx)
			})
		},
	})

	var waitFor time.Duration
	waitCmd := &cobra.Command{
		Use:   "wait",
		Short: "Poll until the Telegram account is linked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionRemoteNoCheck, func(ctx context.Context, c *setup.Controller) error {
				return waitForTelegram(ctx, c, waitFor)
			})
		},
	}
	waitCmd.Flags().DurationVar(&waitFor, "wait-timeout", 10*time.Minute, "Give up after this long")
	root.AddCommand(waitCmd)

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create the agent with the stored trading preferences",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionRemote, func(ctx context.Context, c *setup.Controller) error {
				if c.State().Step == setup.StepComplete {
					return nil
				}
				return c.CreateAgent(ctx)
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the stored setup session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionLocal, nil)
		},
	})

	root.AddCommand(s.newPreferencesCommand(&walletArg))

	root.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Return the session to the first step",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionLocal, func(_ context.Context, c *setup.Controller) error {
				c.Reset()
				return nil
			})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "clear-error",
		Short: "Clear the stored error message",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, walletArg, sessionLocal, func(_ context.Context, c *setup.Controller) error {
				c.ClearError()
				return nil
			})
		},
	})

	return root
}

func (s *runtimeState) newPreferencesCommand(walletArg *string) *cobra.Command {
	var (
		risk, frequency, sentiment, momentum, rank int
		defaults                                   bool
	)
	cmd := &cobra.Command{
		Use:   "preferences",
		Short: "Set trading preferences (each 0-100) before creating the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.runSession(cmd, *walletArg, sessionLocal, func(_ context.Context, c *setup.Controller) error {
				prefs := c.State().Preferences
				if defaults {
					prefs = setup.DefaultPreferences()
				}
				flags := cmd.Flags()
				if flags.Changed("risk-tolerance") {
					prefs.RiskTolerance = risk
				}
				if flags.Changed("trade-frequency") {
					prefs.TradeFrequency = frequency
				}
				if flags.Changed("social-sentiment-weight") {
					prefs.SocialSentimentWeight = sentiment
				}
				if flags.Changed("price-momentum-focus") {
					prefs.PriceMomentumFocus = momentum
				}
				if flags.Changed("market-rank-priority") {
					prefs.MarketRankPriority = rank
				}
				return c.SetTradingPreferences(prefs)
			})
		},
	}
	cmd.Flags().IntVar(&risk, "risk-tolerance", setup.PreferenceDefault, "Risk tolerance")
	cmd.Flags().IntVar(&frequency, "trade-frequency", setup.PreferenceDefault, "Trade frequency")
	cmd.Flags().IntVar(&sentiment, "social-sentiment-weight", setup.PreferenceDefault, "Social sentiment weight")
	cmd.Flags().IntVar(&momentum, "price-momentum-focus", setup.PreferenceDefault, "Price momentum focus")
	cmd.Flags().IntVar(&rank, "market-rank-priority", setup.PreferenceDefault, "Market rank priority")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Start from the default preferences")
	return cmd
}

// runSession loads the wallet's stored session, runs op on a controller and
// saves the result even when op fails so the error slot survives.
func (s *runtimeState) runSession(cmd *cobra.Command, walletArg string, mode sessionMode, op func(context.Context, *setup.Controller) error) error {
	ctx := cmd.Context()
	wallet, err := s.setupWallet(walletArg)
	if err != nil {
		return err
	}
	st, err := s.openStore()
	if err != nil {
		return err
	}
	session, _, err := st.LoadSession(wallet)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "load setup session", err)
	}

	var api setup.SetupAPI
	if mode != sessionLocal {
		client, err := s.setupClient()
		if err != nil {
			return err
		}
		api = client
	}

	c := setup.NewController(api,
		setup.WithLogger(s.log.With("component", "setup", "wallet", wallet)),
		setup.WithPollInterval(s.settings.PollInterval),
		setup.WithState(session.State),
		setup.WithOnComplete(func(r setup.AgentResult) {
			s.log.Infow("lazy trader agent ready", "wallet", wallet, "agent", r.AgentAddress)
		}),
	)
	defer c.Close()

	start := time.Now()
	if mode == sessionRemote {
		c.SetWallet(ctx, wallet)
	}
	var opErr error
	if op != nil {
		opErr = op(ctx, c)
	}
	if mode != sessionLocal {
		s.recordService("setup-api", opErr, start)
	}
	c.Close()

	session.State = c.State()
	saved, err := st.SaveSession(session)
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "save setup session", err)
	}
	if opErr != nil {
		return opErr
	}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), setupView(saved.ID, saved.State), nil)
}

func waitForTelegram(ctx context.Context, c *setup.Controller, limit time.Duration) error {
	if c.State().Step.Rank() >= setup.StepCreateAgent.Rank() {
		return nil
	}
	if err := c.StartPolling(ctx); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	_, err := c.Wait(waitCtx, func(st setup.State) bool {
		return st.Step.Rank() >= setup.StepCreateAgent.Rank()
	})
	c.StopPolling()
	if err != nil {
		return clierr.Wrap(clierr.CodeTimeout, fmt.Sprintf("telegram not linked after %s", limit), err)
	}
	return nil
}

func (s *runtimeState) setupWallet(walletArg string) (string, error) {
	addr, err := s.userAddress(walletArg)
	if err != nil {
		return "", err
	}
	if addr == nil {
		return "", clierr.New(clierr.CodeUsage, "wallet is required (pass --wallet, set LAZYTRADER_WALLET, or configure a signing key)")
	}
	return addr.Hex(), nil
}

// storedAgentAddress returns the agent address of the wallet's setup session.
func storedAgentAddress(st *store.Store, wallet string) (string, error) {
	session, found, err := st.LoadSession(wallet)
	if err != nil || !found {
		return "", err
	}
	return session.State.AgentAddress, nil
}
