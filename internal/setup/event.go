package setup

import "github.com/ggonzalez94/lazytrader/internal/setupapi"

// Event is anything Apply knows how to fold into State.
type Event interface {
	isEvent()
}

type WalletSet struct {
	Wallet string
}

func (WalletSet) isEvent() {}

type SetupChecked struct {
	Response setupapi.CheckSetupResponse
}

func (SetupChecked) isEvent() {}

type AgentGenerated struct {
	Address string
	IsNew   bool
}

func (AgentGenerated) isEvent() {}

type LinkGenerated struct {
	Response setupapi.GenerateTelegramLinkResponse
}

func (LinkGenerated) isEvent() {}

type PollingStarted struct{}

func (PollingStarted) isEvent() {}

type PollingStopped struct{}

func (PollingStopped) isEvent() {}

type TelegramConnected struct {
	User TelegramUser
}

func (TelegramConnected) isEvent() {}

type AgentCreated struct {
	Response setupapi.CreateAgentResponse
}

func (AgentCreated) isEvent() {}

type OperationStarted struct {
	Op Op
}

func (OperationStarted) isEvent() {}

type OperationFinished struct {
	Op Op
}

func (OperationFinished) isEvent() {}

type Failed struct {
	Message string
}

func (Failed) isEvent() {}

type ErrorCleared struct{}

func (ErrorCleared) isEvent() {}

type PreferencesSet struct {
	Preferences TradingPreferences
}

func (PreferencesSet) isEvent() {}

type ResetRequested struct{}

func (ResetRequested) isEvent() {}
