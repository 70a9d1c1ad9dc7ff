package model

import "time"

type State string

const (
	StatePending   State = "PENDING"
	StateAvailable State = "AVAILABLE"
	StateRevoked   State = "REVOKED"
	StateExpired   State = "EXPIRED"
	StateRedeemed  State = "REDEEMED"
)

var allowedEdges = map[State][]State{
	StatePending:   {StateAvailable, StateRevoked, StateExpired},
	StateAvailable: {StateRevoked, StateRedeemed},
}

// CanTransition reports whether from -> to is a legal ledger edge.
func CanTransition(from, to State) bool {
	for _, s := range allowedEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live states still carry points that can move.
func (s State) Live() bool {
	return s == StatePending || s == StateAvailable
}

// PointTransaction is one grant, or one split-off part of a grant.
// Awarded is set only on the original grant; split records carry Awarded 0 and RootID of the grant.
type PointTransaction struct {
	ID          int64      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	TenantID    string     `gorm:"size:64;not null;index:idx_tx_member,priority:1;index:idx_tx_due,priority:2" json:"tenant_id"`
	MemberID    string     `gorm:"size:128;not null;index:idx_tx_member,priority:2" json:"member_id"`
	OrderID     string     `gorm:"size:128;index" json:"order_id,omitempty"`
	ItemID      string     `gorm:"size:128" json:"item_id,omitempty"`
	RootID      int64      `gorm:"index" json:"root_id,string"`
	Awarded     int64      `json:"awarded"`
	Amount      int64      `json:"amount"`
	State       State      `gorm:"size:16;not null;index:idx_tx_due,priority:1" json:"state"`
	Seq         int        `json:"seq"`
	Flagged     bool       `json:"flagged"`
	Decision    Decision   `gorm:"serializer:json" json:"decision"`
	Item        OrderItem  `gorm:"serializer:json" json:"item"`
	PurchasedAt time.Time  `json:"purchased_at"`
	AvailableAt time.Time  `gorm:"index" json:"available_at"`
	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	Reference   string     `gorm:"size:128" json:"reference,omitempty"`
	Version     int64      `json:"-"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

// Transition is an append-only history row; (TransactionID, Seq) is unique.
type Transition struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	TenantID      string    `gorm:"size:64;not null;index" json:"tenant_id"`
	TransactionID int64     `gorm:"not null;uniqueIndex:idx_transition_seq,priority:1" json:"transaction_id,string"`
	Seq           int       `gorm:"not null;uniqueIndex:idx_transition_seq,priority:2" json:"seq"`
	From          State     `gorm:"size:16" json:"from,omitempty"`
	To            State     `gorm:"size:16;not null" json:"to"`
	Amount        int64     `json:"amount"`
	RelatedID     int64     `json:"related_id,string,omitempty"`
	Reason        string    `gorm:"size:255" json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

func (Transition) TableName() string { return "point_transitions" }

// Balance is derived from transaction states, never stored.
type Balance struct {
	TenantID  string `json:"tenant_id"`
	MemberID  string `json:"member_id"`
	Available int64  `json:"available"`
	Pending   int64  `json:"pending"`
	Redeemed  int64  `json:"redeemed"`
	Revoked   int64  `json:"revoked"`
	Expired   int64  `json:"expired"`
	Awarded   int64  `json:"awarded"`
}

// Add folds one transaction into the balance.
func (b *Balance) Add(tx *PointTransaction) {
	b.Awarded += tx.Awarded
	switch tx.State {
	case StateAvailable:
		b.Available += tx.Amount
	case StatePending:
		b.Pending += tx.Amount
	case StateRedeemed:
		b.Redeemed += tx.Amount
	case StateRevoked:
		b.Revoked += tx.Amount
	case StateExpired:
		b.Expired += tx.Amount
	}
}

// Conserved reports whether awarded points equal the sum across all states.
func (b Balance) Conserved() bool {
	return b.Awarded == b.Available+b.Pending+b.Redeemed+b.Revoked+b.Expired
}
