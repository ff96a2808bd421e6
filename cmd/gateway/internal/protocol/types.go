package protocol

const (
	TypeRegister            = "register"
	TypeInitialPrices       = "initial_prices"
	TypePriceUpdate         = "price_update"
	TypeSubscriptionAdded   = "subscription_added"
	TypeSubscriptionRemoved = "subscription_removed"
	TypeError               = "error"
)

// WSRequest is the only inbound frame: {"type":"register","email":"..."}.
type WSRequest struct {
	Type    string `json:"type"`
	Email   string `json:"email,omitempty"`
	UserKey string `json:"userKey,omitempty"` // alias for Email
}

// Identity returns the user key carried by a register frame.
func (r WSRequest) Identity() string {
	if r.Email != "" {
		return r.Email
	}
	return r.UserKey
}

type InitialPrices struct {
	Type          string             `json:"type"`
	Prices        map[string]float64 `json:"prices"`
	Subscriptions []string           `json:"subscriptions"`
}

type PriceUpdate struct {
	Type      string  `json:"type"`
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"` // RFC 3339
	Seq       int64   `json:"seq"`
}

type SubscriptionAdded struct {
	Type   string  `json:"type"`
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
}

type SubscriptionRemoved struct {
	Type   string `json:"type"`
	Ticker string `json:"ticker"`
}

type WSResponse struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message,omitempty"`
}
