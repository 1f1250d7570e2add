package setup

import (
	"context"
	"sync"
	"time"

	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/logging"
	"github.com/ggonzalez94/lazytrader/internal/setupapi"
)

const (
	DefaultPollInterval = 3 * time.Second

	msgWalletNotConnected   = "Wallet not connected"
	msgMissingLinkCode      = "Missing wallet or link code"
	msgMissingTelegramUser  = "Missing wallet or telegram user"
	msgPreferencesFinalized = "Trading preferences cannot change after setup is complete"
)

// SetupAPI is the remote service the controller talks to.
type SetupAPI interface {
	GenerateAgent(ctx context.Context, wallet string) (setupapi.GenerateAgentResponse, error)
	GenerateTelegramLink(ctx context.Context, wallet string) (setupapi.GenerateTelegramLinkResponse, error)
	CheckTelegramStatus(ctx context.Context, wallet, linkCode string) (setupapi.CheckTelegramStatusResponse, error)
	CreateAgent(ctx context.Context, wallet, telegramUserID string, prefs setupapi.TradingPreferences) (setupapi.CreateAgentResponse, error)
	CheckSetup(ctx context.Context, wallet string) (setupapi.CheckSetupResponse, error)
}

type Option func(*Controller)

func WithLogger(log *logging.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNop(log) }
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithOnComplete registers a callback fired after a successful CreateAgent.
func WithOnComplete(fn func(AgentResult)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithState resumes a previously persisted session.
func WithState(s State) Option {
	return func(c *Controller) { c.state = s.Resumed() }
}

// Controller owns one setup session. All methods are safe for concurrent use.
type Controller struct {
	api        SetupAPI
	log        *logging.Logger
	interval   time.Duration
	onComplete func(AgentResult)

	mu      sync.Mutex
	state   State
	changed chan struct{}
	checked map[string]bool
	poller  *poller
}

func NewController(api SetupAPI, opts ...Option) *Controller {
	c := &Controller{
		api:      api,
		log:      logging.Nop(),
		interval: DefaultPollInterval,
		state:    NewState(""),
		changed:  make(chan struct{}),
		checked:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wait blocks until pred holds for the current state or ctx ends.
func (c *Controller) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		c.mu.Lock()
		s, ch := c.state, c.changed
		c.mu.Unlock()
		if pred(s) {
			return s, nil
		}
		select {
		case <-ctx.Done():
			return s, clierr.Wrap(clierr.CodeTimeout, "timed out waiting for setup", ctx.Err())
		case <-ch:
		}
	}
}

// SetWallet records the wallet and runs the completed-setup check the first
// time each wallet is seen. Check failures are logged only.
func (c *Controller) SetWallet(ctx context.Context, wallet string) {
	c.mu.Lock()
	c.applyLocked(WalletSet{Wallet: wallet})
	run := wallet != "" && !c.checked[wallet]
	if run {
		c.checked[wallet] = true
	}
	c.mu.Unlock()

	if !run {
		return
	}
	if err := c.CheckSetup(ctx); err != nil {
		c.log.Warnw("setup check failed", "wallet", wallet, "error", err)
	}
}

// CheckSetup asks the service whether the wallet already finished onboarding
// and jumps to complete when it has. The shared error slot is left alone.
func (c *Controller) CheckSetup(ctx context.Context) error {
	wallet, gen := c.begin()
	if wallet == "" {
		return clierr.New(clierr.CodePrecondition, msgWalletNotConnected)
	}
	c.mu.Lock()
	c.checked[wallet] = true
	c.mu.Unlock()

	c.applyIf(gen, OperationStarted{Op: OpCheckSetup})
	resp, err := c.api.CheckSetup(ctx, wallet)
	if err != nil {
		c.applyIf(gen, OperationFinished{Op: OpCheckSetup})
		return err
	}
	if c.applyIf(gen, SetupChecked{Response: resp}, OperationFinished{Op: OpCheckSetup}) {
		c.log.Debugw("setup checked", "wallet", wallet, "complete", resp.IsSetupComplete)
	}
	return nil
}

func (c *Controller) GenerateAgent(ctx context.Context) error {
	wallet, gen := c.begin()
	if wallet == "" {
		return c.fail(clierr.New(clierr.CodePrecondition, msgWalletNotConnected))
	}

	c.applyIf(gen, OperationStarted{Op: OpGenerateAgent})
	resp, err := c.api.GenerateAgent(ctx, wallet)
	if err != nil {
		c.applyIf(gen, Failed{Message: clierr.Message(err)}, OperationFinished{Op: OpGenerateAgent})
		return err
	}
	c.applyIf(gen, AgentGenerated{Address: resp.AgentAddress, IsNew: resp.IsNew}, OperationFinished{Op: OpGenerateAgent})
	c.log.Debugw("agent generated", "wallet", wallet, "agent", resp.AgentAddress, "new", resp.IsNew)
	return nil
}

func (c *Controller) GenerateLink(ctx context.Context) error {
	wallet, gen := c.begin()
	if wallet == "" {
		return c.fail(clierr.New(clierr.CodePrecondition, msgWalletNotConnected))
	}

	c.applyIf(gen, OperationStarted{Op: OpGenerateLink})
	resp, err := c.api.GenerateTelegramLink(ctx, wallet)
	if err != nil {
		c.applyIf(gen, Failed{Message: clierr.Message(err)}, OperationFinished{Op: OpGenerateLink})
		return err
	}
	c.applyIf(gen, LinkGenerated{Response: resp}, OperationFinished{Op: OpGenerateLink})
	if ClassifyLink(resp) == LinkUnrecognized {
		return clierr.New(clierr.CodeRemote, msgUnexpectedLink)
	}
	return nil
}

// StartPolling checks the link status now and then every poll interval until
// Telegram reports a connected user or polling is stopped. A previous poller
// is replaced.
func (c *Controller) StartPolling(ctx context.Context) error {
	c.mu.Lock()
	wallet, code, gen := c.state.Wallet, c.state.LinkCode, c.state.Generation
	if wallet == "" || code == "" {
		c.applyLocked(Failed{Message: msgMissingLinkCode})
		c.mu.Unlock()
		return clierr.New(clierr.CodePrecondition, msgMissingLinkCode)
	}
	previous := c.poller
	c.poller = nil
	c.mu.Unlock()

	if previous != nil {
		previous.stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Generation != gen {
		return nil
	}
	c.applyLocked(PollingStarted{})

	var p *poller
	poll := func(pctx context.Context) bool {
		resp, err := c.api.CheckTelegramStatus(pctx, wallet, code)
		if err != nil {
			if pctx.Err() == nil {
				c.log.Warnw("telegram status poll failed", "wallet", wallet, "error", err)
			}
			return false
		}
		if !resp.Connected || resp.TelegramUser == nil {
			return false
		}
		c.applyIf(gen, TelegramConnected{User: *resp.TelegramUser})
		c.log.Debugw("telegram connected", "wallet", wallet, "user", resp.TelegramUser.TelegramUsername)
		return true
	}
	exit := func(finished bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.poller != p {
			return
		}
		c.poller = nil
		if !finished && c.state.Generation == gen {
			c.applyLocked(PollingStopped{})
		}
	}
	p = startPoller(ctx, c.interval, poll, exit)
	c.poller = p
	return nil
}

// StopPolling is idempotent.
func (c *Controller) StopPolling() {
	c.mu.Lock()
	p := c.poller
	c.poller = nil
	c.mu.Unlock()

	if p != nil {
		p.stop()
	}
	c.mu.Lock()
	if c.state.Polling {
		c.applyLocked(PollingStopped{})
	}
	c.mu.Unlock()
}

func (c *Controller) CreateAgent(ctx context.Context) error {
	c.mu.Lock()
	wallet, user, prefs, gen := c.state.Wallet, c.state.TelegramUser, c.state.Preferences, c.state.Generation
	if wallet == "" || user == nil {
		c.applyLocked(Failed{Message: msgMissingTelegramUser})
		c.mu.Unlock()
		return clierr.New(clierr.CodePrecondition, msgMissingTelegramUser)
	}
	c.applyLocked(OperationStarted{Op: OpCreateAgent})
	c.mu.Unlock()

	resp, err := c.api.CreateAgent(ctx, wallet, user.ID, prefs)
	if err != nil {
		c.applyIf(gen, Failed{Message: clierr.Message(err)}, OperationFinished{Op: OpCreateAgent})
		return err
	}
	if !c.applyIf(gen, AgentCreated{Response: resp}, OperationFinished{Op: OpCreateAgent}) {
		return nil
	}
	c.log.Infow("agent created", "wallet", wallet, "agent", resp.OstiumAgentAddress)
	if c.onComplete != nil {
		if result := c.State().AgentResult; result != nil {
			c.onComplete(*result)
		}
	}
	return nil
}

func (c *Controller) SetTradingPreferences(p TradingPreferences) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Step == StepComplete {
		return clierr.New(clierr.CodePrecondition, msgPreferencesFinalized)
	}
	c.applyLocked(PreferencesSet{Preferences: p})
	return nil
}

func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(ErrorCleared{})
}

// Reset stops polling and returns the session to idle. In-flight results
// from before the reset are discarded when they arrive.
func (c *Controller) Reset() {
	c.StopPolling()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(ResetRequested{})
}

func (c *Controller) Close() {
	c.StopPolling()
}

func (c *Controller) begin() (string, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Wallet, c.state.Generation
}

// fail records a local precondition failure in the error slot.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(Failed{Message: clierr.Message(err)})
	return err
}

// applyIf folds events only when no reset happened since gen was captured.
func (c *Controller) applyIf(gen uint64, events ...Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Generation != gen {
		c.log.Debugw("discarding stale setup result", "generation", gen, "current", c.state.Generation)
		return false
	}
	c.applyLocked(events...)
	return true
}

func (c *Controller) applyLocked(events ...Event) {
	for _, e := range events {
		c.state = Apply(c.state, e)
	}
	close(c.changed)
	c.changed = make(chan struct{})
}
