// Package setup drives the four-step lazy trader onboarding flow: generate an
// agent, link Telegram, wait for the link, create the agent.
package setup

import (
	"github.com/ggonzalez94/lazytrader/internal/setupapi"
)

type (
	TradingPreferences = setupapi.TradingPreferences
	TelegramUser       = setupapi.TelegramUser
	AgentInfo          = setupapi.AgentInfo
	Deployment         = setupapi.Deployment
)

type Step string

const (
	StepIdle            Step = "idle"
	StepAgent           Step = "agent"
	StepTelegramLink    Step = "telegram-link"
	StepTelegramConnect Step = "telegram-connect"
	StepCreateAgent     Step = "create-agent"
	StepComplete        Step = "complete"
)

// Rank orders steps along the forward path. Unknown steps rank as idle.
func (s Step) Rank() int {
	switch s {
	case StepAgent:
		return 1
	case StepTelegramLink:
		return 2
	case StepTelegramConnect:
		return 3
	case StepCreateAgent:
		return 4
	case StepComplete:
		return 5
	default:
		return 0
	}
}

func (s Step) Valid() bool {
	return s == StepIdle || s.Rank() > 0
}

// Op names the asynchronous operations that carry a loading flag.
type Op string

const (
	OpCheckSetup    Op = "check-setup"
	OpGenerateAgent Op = "generate-agent"
	OpGenerateLink  Op = "generate-link"
	OpCreateAgent   Op = "create-agent"
)

const (
	PreferenceMin     = 0
	PreferenceMax     = 100
	PreferenceDefault = 50
)

func DefaultPreferences() TradingPreferences {
	return TradingPreferences{
		RiskTolerance:         PreferenceDefault,
		TradeFrequency:        PreferenceDefault,
		SocialSentimentWeight: PreferenceDefault,
		PriceMomentumFocus:    PreferenceDefault,
		MarketRankPriority:    PreferenceDefault,
	}
}

// ClampPreferences forces every dial into [PreferenceMin, PreferenceMax].
func ClampPreferences(p TradingPreferences) TradingPreferences {
	clamp := func(v int) int {
		if v < PreferenceMin {
			return PreferenceMin
		}
		if v > PreferenceMax {
			return PreferenceMax
		}
		return v
	}
	return TradingPreferences{
		RiskTolerance:         clamp(p.RiskTolerance),
		TradeFrequency:        clamp(p.TradeFrequency),
		SocialSentimentWeight: clamp(p.SocialSentimentWeight),
		PriceMomentumFocus:    clamp(p.PriceMomentumFocus),
		MarketRankPriority:    clamp(p.MarketRankPriority),
	}
}

// AgentResult is the outcome of the final creation call.
type AgentResult struct {
	Success      bool        `json:"success"`
	Agent        *AgentInfo  `json:"agent,omitempty"`
	Deployment   *Deployment `json:"deployment,omitempty"`
	AgentAddress string      `json:"ostiumAgentAddress,omitempty"`
}

// State is everything the flow owns for one wallet session.
type State struct {
	Wallet string `json:"wallet"`
	Step   Step   `json:"step"`

	AgentAddress string `json:"agentAddress,omitempty"`
	IsAgentNew   bool   `json:"isAgentNew"`

	LinkCode      string `json:"linkCode,omitempty"`
	DeepLink      string `json:"deepLink,omitempty"`
	BotUsername   string `json:"botUsername,omitempty"`
	LinkExpiresIn int    `json:"linkExpiresIn,omitempty"`
	AlreadyLinked bool   `json:"alreadyLinked"`

	TelegramUser *TelegramUser      `json:"telegramUser,omitempty"`
	Preferences  TradingPreferences `json:"tradingPreferences"`
	AgentResult  *AgentResult       `json:"agentResult,omitempty"`

	Error string `json:"error,omitempty"`

	CheckingSetup   bool `json:"isCheckingSetup"`
	GeneratingAgent bool `json:"isGeneratingAgent"`
	GeneratingLink  bool `json:"isGeneratingLink"`
	Polling         bool `json:"isPolling"`
	CreatingAgent   bool `json:"isCreatingAgent"`

	// Generation increments on every reset. Async results tagged with an
	// older generation are dropped.
	Generation uint64 `json:"generation"`
}

func NewState(wallet string) State {
	return State{Wallet: wallet, Step: StepIdle, Preferences: DefaultPreferences()}
}

// Busy reports whether any operation is in flight.
func (s State) Busy() bool {
	return s.CheckingSetup || s.GeneratingAgent || s.GeneratingLink || s.Polling || s.CreatingAgent
}

// Resumed returns s with in-flight flags cleared, for state loaded from disk
// by a process that is not running those operations.
func (s State) Resumed() State {
	s.CheckingSetup = false
	s.GeneratingAgent = false
	s.GeneratingLink = false
	s.Polling = false
	s.CreatingAgent = false
	if !s.Step.Valid() {
		s.Step = StepIdle
	}
	return s
}
