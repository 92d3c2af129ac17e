package types

type Role string

type TransactionType string

type TransactionStatus string

type TradeSide string

type TradeStatus string

type EndpointClass string

const (
	RoleViewer Role = "viewer"
	RoleTrader Role = "trader"
	RoleAdmin  Role = "admin"
)

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTradeLeg   TransactionType = "trade_leg"
	TransactionTypeFee        TransactionType = "fee"
)

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

const (
	TradeStatusPending   TradeStatus = "pending"
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusRejected  TradeStatus = "rejected"
)

const (
	EndpointClassAuth    EndpointClass = "auth"
	EndpointClassTrading EndpointClass = "trading"
	EndpointClassInfo    EndpointClass = "info"
	EndpointClassAdmin   EndpointClass = "admin"
)

func ValidRole(r Role) bool {
	switch r {
	case RoleViewer, RoleTrader, RoleAdmin:
		return true
	}
	return false
}

// Principal is the resolved caller identity handed to the core by the
// auth layer. EntityIDs lists every entity the caller belongs to.
type Principal struct {
	UserID    string
	Role      Role
	EntityIDs []string
}

func (p Principal) MemberOf(entityID string) bool {
	for _, id := range p.EntityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}
