package setup

import "github.com/ggonzalez94/lazytrader/internal/setupapi"

const msgUnexpectedLink = "Unexpected telegram link response"

// LinkShape is how a generate-telegram-link response is interpreted.
type LinkShape int

const (
	LinkUnrecognized LinkShape = iota
	LinkAlreadyLinked
	LinkIssued
)

// ClassifyLink decides which branch a link response takes. An already linked
// account without a user falls through to the code check.
func ClassifyLink(resp setupapi.GenerateTelegramLinkResponse) LinkShape {
	if resp.AlreadyLinked && resp.TelegramUser != nil {
		return LinkAlreadyLinked
	}
	if resp.LinkCode != "" && resp.DeepLink != "" {
		return LinkIssued
	}
	return LinkUnrecognized
}

// Apply is the pure transition function of the setup flow. Steps only move
// forward except on ResetRequested.
func Apply(state State, event Event) State {
	switch e := event.(type) {
	case WalletSet:
		return applyWalletSet(state, e)
	case SetupChecked:
		return applySetupChecked(state, e)
	case AgentGenerated:
		return applyAgentGenerated(state, e)
	case LinkGenerated:
		return applyLinkGenerated(state, e)
	case PollingStarted:
		nextState := state
		nextState.Polling = true
		nextState.Step = advance(state.Step, StepTelegramConnect)
		return nextState
	case PollingStopped:
		nextState := state
		nextState.Polling = false
		return nextState
	case TelegramConnected:
		nextState := state
		nextState.Polling = false
		nextState = setTelegramUser(nextState, e.User)
		nextState.Step = advance(state.Step, StepCreateAgent)
		return nextState
	case AgentCreated:
		return applyAgentCreated(state, e)
	case OperationStarted:
		return applyOperationStarted(state, e)
	case OperationFinished:
		return setLoading(state, e.Op, false)
	case Failed:
		nextState := state
		nextState.Error = e.Message
		return nextState
	case ErrorCleared:
		nextState := state
		nextState.Error = ""
		return nextState
	case PreferencesSet:
		if state.Step == StepComplete {
			return state
		}
		nextState := state
		nextState.Preferences = ClampPreferences(e.Preferences)
		return nextState
	case ResetRequested:
		nextState := NewState(state.Wallet)
		nextState.Generation = state.Generation + 1
		return nextState
	default:
		return state
	}
}

func applyWalletSet(state State, e WalletSet) State {
	nextState := state
	nextState.Wallet = e.Wallet
	return nextState
}

func applySetupChecked(state State, e SetupChecked) State {
	resp := e.Response
	if !resp.IsSetupComplete || resp.Agent == nil || resp.TelegramUser == nil {
		return state
	}

	nextState := state
	if nextState.AgentAddress == "" {
		nextState.AgentAddress = resp.OstiumAgentAddress
		nextState.IsAgentNew = false
	}
	nextState.AlreadyLinked = true
	nextState = setTelegramUser(nextState, *resp.TelegramUser)
	if nextState.AgentResult == nil {
		nextState.AgentResult = &AgentResult{
			Success:      true,
			Agent:        resp.Agent,
			Deployment:   resp.Deployment,
			AgentAddress: resp.OstiumAgentAddress,
		}
	}
	if resp.TradingPreferences != nil {
		nextState.Preferences = *resp.TradingPreferences
	}
	nextState.Step = advance(state.Step, StepComplete)
	return nextState
}

func applyAgentGenerated(state State, e AgentGenerated) State {
	nextState := state
	if nextState.AgentAddress == "" {
		nextState.AgentAddress = e.Address
		nextState.IsAgentNew = e.IsNew
	}
	nextState.Step = advance(state.Step, StepAgent)
	return nextState
}

func applyLinkGenerated(state State, e LinkGenerated) State {
	resp := e.Response
	nextState := state
	nextState.AlreadyLinked = resp.AlreadyLinked

	switch ClassifyLink(resp) {
	case LinkAlreadyLinked:
		nextState = setTelegramUser(nextState, *resp.TelegramUser)
		nextState.Step = advance(state.Step, StepCreateAgent)
	case LinkIssued:
		nextState.LinkCode = resp.LinkCode
		nextState.DeepLink = resp.DeepLink
		nextState.BotUsername = resp.BotUsername
		nextState.LinkExpiresIn = resp.ExpiresIn
		nextState.Step = advance(state.Step, StepTelegramLink)
	default:
		nextState.Error = msgUnexpectedLink
	}
	return nextState
}

func applyAgentCreated(state State, e AgentCreated) State {
	resp := e.Response
	nextState := state
	nextState.AgentResult = &AgentResult{
		Success:      resp.Success,
		Agent:        resp.Agent,
		Deployment:   resp.Deployment,
		AgentAddress: resp.OstiumAgentAddress,
	}
	if nextState.AgentAddress == "" {
		nextState.AgentAddress = resp.OstiumAgentAddress
	}
	nextState.Step = advance(state.Step, StepComplete)
	return nextState
}

// applyOperationStarted raises the loading flag. Generating an agent, a link
// or the final agent also clears any previous error.
func applyOperationStarted(state State, e OperationStarted) State {
	nextState := setLoading(state, e.Op, true)
	switch e.Op {
	case OpGenerateAgent, OpGenerateLink, OpCreateAgent:
		nextState.Error = ""
	}
	return nextState
}

func setLoading(state State, op Op, on bool) State {
	nextState := state
	switch op {
	case OpCheckSetup:
		nextState.CheckingSetup = on
	case OpGenerateAgent:
		nextState.GeneratingAgent = on
	case OpGenerateLink:
		nextState.GeneratingLink = on
	case OpCreateAgent:
		nextState.CreatingAgent = on
	}
	return nextState
}

// setTelegramUser records the first linked user. Later values are ignored.
func setTelegramUser(state State, user TelegramUser) State {
	if state.TelegramUser != nil {
		return state
	}
	u := user
	state.TelegramUser = &u
	return state
}

func advance(from, to Step) Step {
	if to.Rank() > from.Rank() {
		return to
	}
	return from
}
