package setupapi

// TradingPreferences are the five agent dials, each expected in [0,100].
type TradingPreferences struct {
	RiskTolerance         int `json:"risk_tolerance"`
	TradeFrequency        int `json:"trade_frequency"`
	SocialSentimentWeight int `json:"social_sentiment_weight"`
	PriceMomentumFocus    int `json:"price_momentum_focus"`
	MarketRankPriority    int `json:"market_rank_priority"`
}

type TelegramUser struct {
	ID               string `json:"id"`
	TelegramUserID   string `json:"telegram_user_id"`
	TelegramUsername string `json:"telegram_username"`
}

type AgentInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Venue string `json:"venue"`
}

type Deployment struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	IsTestnet bool   `json:"isTestnet"`
}

type GenerateAgentResponse struct {
	AgentAddress string `json:"agentAddress"`
	IsNew        bool   `json:"isNew"`
}

type GenerateTelegramLinkResponse struct {
	Success       bool          `json:"success"`
	AlreadyLinked bool          `json:"alreadyLinked"`
	LinkCode      string        `json:"linkCode,omitempty"`
	BotUsername   string        `json:"botUsername,omitempty"`
	DeepLink      string        `json:"deepLink,omitempty"`
	ExpiresIn     int           `json:"expiresIn,omitempty"`
	TelegramUser  *TelegramUser `json:"telegramUser,omitempty"`
}

type CheckTelegramStatusResponse struct {
	Success      bool          `json:"success"`
	Connected    bool          `json:"connected"`
	TelegramUser *TelegramUser `json:"telegramUser,omitempty"`
}

type CreateAgentResponse struct {
	Success            bool        `json:"success"`
	Agent              *AgentInfo  `json:"agent,omitempty"`
	Deployment         *Deployment `json:"deployment,omitempty"`
	OstiumAgentAddress string      `json:"ostiumAgentAddress,omitempty"`
}

type CheckSetupResponse struct {
	Success            bool                `json:"success"`
	IsSetupComplete    bool                `json:"isSetupComplete"`
	Agent              *AgentInfo          `json:"agent,omitempty"`
	Deployment         *Deployment         `json:"deployment,omitempty"`
	TelegramUser       *TelegramUser       `json:"telegramUser,omitempty"`
	OstiumAgentAddress string              `json:"ostiumAgentAddress,omitempty"`
	TradingPreferences *TradingPreferences `json:"tradingPreferences,omitempty"`
}
