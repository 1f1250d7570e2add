package setup

import (
	"testing"

	"github.com/ggonzalez94/lazytrader/internal/setupapi"
)

const testWallet = "0x1111111111111111111111111111111111111111"

func completeCheck() setupapi.CheckSetupResponse {
	return setupapi.CheckSetupResponse{
		Success:            true,
		IsSetupComplete:    true,
		Agent:              &AgentInfo{ID: "a1", Name: "Lazy", Venue: "OSTIUM"},
		Deployment:         &Deployment{ID: "d1", Status: "ACTIVE", IsTestnet: true},
		TelegramUser:       &TelegramUser{ID: "u1", TelegramUserID: "42", TelegramUsername: "alice"},
		OstiumAgentAddress: "0xagent",
		TradingPreferences: &TradingPreferences{RiskTolerance: 80, TradeFrequency: 50, SocialSentimentWeight: 50, PriceMomentumFocus: 50, MarketRankPriority: 50},
	}
}

func TestReducer_Idle_AgentGenerated(t *testing.T) {
	state := NewState(testWallet)

	next := Apply(state, AgentGenerated{Address: "0xagent", IsNew: true})

	if next.Step != StepAgent {
		t.Errorf("expected step %s, got %s", StepAgent, next.Step)
	}
	if next.AgentAddress != "0xagent" || !next.IsAgentNew {
		t.Errorf("unexpected agent record: %q new=%v", next.AgentAddress, next.IsAgentNew)
	}
	if state.Step != StepIdle {
		t.Errorf("input state mutated: %s", state.Step)
	}
}

func TestReducer_AgentAddressIsImmutable(t *testing.T) {
	state := Apply(NewState(testWallet), AgentGenerated{Address: "0xfirst", IsNew: true})

	next := Apply(state, AgentGenerated{Address: "0xsecond", IsNew: false})

	if next.AgentAddress != "0xfirst" {
		t.Errorf("agent address changed to %q", next.AgentAddress)
	}
	if !next.IsAgentNew {
		t.Errorf("isNew changed with the address kept")
	}
}

func TestReducer_LinkGenerated_Issued(t *testing.T) {
	state := Apply(NewState(testWallet), AgentGenerated{Address: "0xagent"})

	next := Apply(state, LinkGenerated{Response: setupapi.GenerateTelegramLinkResponse{
		Success:   true,
		LinkCode:  "abc",
		DeepLink:  "https://t.me/bot?start=abc",
		ExpiresIn: 600,
	}})

	if next.Step != StepTelegramLink {
		t.Errorf("expected step %s, got %s", StepTelegramLink, next.Step)
	}
	if next.LinkCode != "abc" || next.DeepLink == "" || next.LinkExpiresIn != 600 {
		t.Errorf("link not recorded: %+v", next)
	}
	if next.BotUsername != "" {
		t.Errorf("bot username should be optional, got %q", next.BotUsername)
	}
}

func TestReducer_LinkGenerated_AlreadyLinkedSkipsAhead(t *testing.T) {
	state := Apply(NewState(testWallet), AgentGenerated{Address: "0xagent"})

	next := Apply(state, LinkGenerated{Response: setupapi.GenerateTelegramLinkResponse{
		Success:       true,
		AlreadyLinked: true,
		TelegramUser:  &TelegramUser{ID: "u1"},
	}})

	if next.Step != StepCreateAgent {
		t.Fatalf("expected step %s, got %s", StepCreateAgent, next.Step)
	}
	if next.TelegramUser == nil || next.TelegramUser.ID != "u1" {
		t.Errorf("telegram user not recorded: %+v", next.TelegramUser)
	}
	if !next.AlreadyLinked {
		t.Errorf("alreadyLinked not recorded")
	}
}

func TestReducer_LinkGenerated_Unrecognized(t *testing.T) {
	state := Apply(NewState(testWallet), AgentGenerated{Address: "0xagent"})

	next := Apply(state, LinkGenerated{Response: setupapi.GenerateTelegramLinkResponse{Success: true, AlreadyLinked: true}})

	if next.Step != state.Step {
		t.Errorf("step changed to %s", next.Step)
	}
	if next.Error != msgUnexpectedLink {
		t.Errorf("expected error %q, got %q", msgUnexpectedLink, next.Error)
	}
}

func TestReducer_TelegramConnect_Connected(t *testing.T) {
	state := NewState(testWallet)
	state.Step = StepTelegramLink
	state.LinkCode = "abc"
	state = Apply(state, PollingStarted{})
	if state.Step != StepTelegramConnect || !state.Polling {
		t.Fatalf("polling did not start: %+v", state)
	}

	next := Apply(state, TelegramConnected{User: TelegramUser{ID: "u1"}})

	if next.Step != StepCreateAgent {
		t.Errorf("expected step %s, got %s", StepCreateAgent, next.Step)
	}
	if next.Polling {
		t.Errorf("polling flag still set")
	}
}

func TestReducer_TelegramUserSetOnce(t *testing.T) {
	state := Apply(NewState(testWallet), TelegramConnected{User: TelegramUser{ID: "u1"}})

	next := Apply(state, TelegramConnected{User: TelegramUser{ID: "u2"}})

	if next.TelegramUser.ID != "u1" {
		t.Errorf("telegram user replaced with %q", next.TelegramUser.ID)
	}
}

func TestReducer_StepNeverMovesBackward(t *testing.T) {
	state := NewState(testWallet)
	state.Step = StepCreateAgent

	events := []Event{
		AgentGenerated{Address: "0xagent"},
		LinkGenerated{Response: setupapi.GenerateTelegramLinkResponse{LinkCode: "c", DeepLink: "d"}},
		PollingStarted{},
		PollingStopped{},
		Failed{Message: "boom"},
	}
	for _, e := range events {
		state = Apply(state, e)
		if state.Step != StepCreateAgent {
			t.Fatalf("%T moved step to %s", e, state.Step)
		}
	}
}

func TestReducer_SetupChecked_FastPath(t *testing.T) {
	next := Apply(NewState(testWallet), SetupChecked{Response: completeCheck()})

	if next.Step != StepComplete {
		t.Fatalf("expected step %s, got %s", StepComplete, next.Step)
	}
	if next.AgentAddress != "0xagent" || next.IsAgentNew {
		t.Errorf("unexpected agent record: %q new=%v", next.AgentAddress, next.IsAgentNew)
	}
	if !next.AlreadyLinked || next.TelegramUser == nil {
		t.Errorf("telegram not recorded: %+v", next)
	}
	if next.AgentResult == nil || !next.AgentResult.Success || next.AgentResult.AgentAddress != "0xagent" {
		t.Errorf("unexpected agent result: %+v", next.AgentResult)
	}
	if next.Preferences.RiskTolerance != 80 {
		t.Errorf("preferences not taken from response: %+v", next.Preferences)
	}
}

func TestReducer_SetupChecked_KeepsPreferencesWhenAbsent(t *testing.T) {
	resp := completeCheck()
	resp.TradingPreferences = nil

	next := Apply(NewState(testWallet), SetupChecked{Response: resp})

	if next.Preferences != DefaultPreferences() {
		t.Errorf("preferences changed: %+v", next.Preferences)
	}
}

func TestReducer_SetupChecked_IncompleteIsNoop(t *testing.T) {
	cases := map[string]func(*setupapi.CheckSetupResponse){
		"not complete": func(r *setupapi.CheckSetupResponse) { r.IsSetupComplete = false },
		"no agent":     func(r *setupapi.CheckSetupResponse) { r.Agent = nil },
		"no user":      func(r *setupapi.CheckSetupResponse) { r.TelegramUser = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			resp := completeCheck()
			mutate(&resp)
			state := NewState(testWallet)
			if next := Apply(state, SetupChecked{Response: resp}); next != state {
				t.Errorf("state changed: %+v", next)
			}
		})
	}
}

func TestReducer_FastPathMatchesManualPath(t *testing.T) {
	fast := Apply(NewState(testWallet), SetupChecked{Response: completeCheck()})

	manual := NewState(testWallet)
	manual = Apply(manual, AgentGenerated{Address: "0xagent", IsNew: false})
	manual = Apply(manual, LinkGenerated{Response: setupapi.GenerateTelegramLinkResponse{
		AlreadyLinked: true,
		TelegramUser:  &TelegramUser{ID: "u1", TelegramUserID: "42", TelegramUsername: "alice"},
	}})
	manual = Apply(manual, AgentCreated{Response: setupapi.CreateAgentResponse{
		Success:            true,
		Agent:              &AgentInfo{ID: "a1", Name: "Lazy", Venue: "OSTIUM"},
		Deployment:         &Deployment{ID: "d1", Status: "ACTIVE", IsTestnet: true},
		OstiumAgentAddress: "0xagent",
	}})

	if fast.Step != manual.Step || fast.AgentAddress != manual.AgentAddress || fast.AlreadyLinked != manual.AlreadyLinked {
		t.Errorf("fast %+v manual %+v", fast, manual)
	}
	if *fast.TelegramUser != *manual.TelegramUser {
		t.Errorf("telegram user differs: %+v vs %+v", fast.TelegramUser, manual.TelegramUser)
	}
	if fast.AgentResult.Success != manual.AgentResult.Success ||
		*fast.AgentResult.Agent != *manual.AgentResult.Agent ||
		*fast.AgentResult.Deployment != *manual.AgentResult.Deployment ||
		fast.AgentResult.AgentAddress != manual.AgentResult.AgentAddress {
		t.Errorf("agent result differs: %+v vs %+v", fast.AgentResult, manual.AgentResult)
	}
}

func TestReducer_OperationStarted_ClearsError(t *testing.T) {
	for _, op := range []Op{OpGenerateAgent, OpGenerateLink, OpCreateAgent} {
		state := NewState(testWallet)
		state.Error = "old"
		next := Apply(state, OperationStarted{Op: op})
		if next.Error != "" {
			t.Errorf("%s kept error %q", op, next.Error)
		}
		if !next.Busy() {
			t.Errorf("%s did not raise a loading flag", op)
		}
		if Apply(next, OperationFinished{Op: op}).Busy() {
			t.Errorf("%s loading flag not cleared", op)
		}
	}

	state := NewState(testWallet)
	state.Error = "old"
	if next := Apply(state, OperationStarted{Op: OpCheckSetup}); next.Error != "old" {
		t.Errorf("check setup cleared the error")
	}
}

func TestReducer_PreferencesSet(t *testing.T) {
	state := NewState(testWallet)

	next := Apply(state, PreferencesSet{Preferences: TradingPreferences{RiskTolerance: 150, TradeFrequency: -4, SocialSentimentWeight: 10, PriceMomentumFocus: 20, MarketRankPriority: 30}})

	want := TradingPreferences{RiskTolerance: 100, TradeFrequency: 0, SocialSentimentWeight: 10, PriceMomentumFocus: 20, MarketRankPriority: 30}
	if next.Preferences != want {
		t.Errorf("expected %+v, got %+v", want, next.Preferences)
	}

	next.Step = StepComplete
	if after := Apply(next, PreferencesSet{Preferences: DefaultPreferences()}); after.Preferences != want {
		t.Errorf("preferences changed after completion: %+v", after.Preferences)
	}
}

func TestReducer_ResetRequested(t *testing.T) {
	state := Apply(NewState(testWallet), SetupChecked{Response: completeCheck()})
	state.Error = "boom"
	state.Polling = true

	next := Apply(state, ResetRequested{})

	want := NewState(testWallet)
	want.Generation = state.Generation + 1
	if next != want {
		t.Errorf("expected %+v, got %+v", want, next)
	}
}

func TestStepRank(t *testing.T) {
	order := []Step{StepIdle, StepAgent, StepTelegramLink, StepTelegramConnect, StepCreateAgent, StepComplete}
	for i, s := range order {
		if s.Rank() != i {
			t.Errorf("%s rank %d, expected %d", s, s.Rank(), i)
		}
	}
	if Step("bogus").Valid() {
		t.Errorf("unknown step reported valid")
	}
}
