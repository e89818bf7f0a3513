package exchange

type Tif string

const (
	TifAlo Tif = "Alo"
	TifIoc Tif = "Ioc"
	TifGtc Tif = "Gtc"
)

type LimitOrderType struct {
	Tif Tif `json:"tif"`
}

type OrderTypeWire struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

type OrderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Price      string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  OrderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
	Builder  any         `json:"builder,omitempty"`
}

type CancelWire struct {
	Asset   int   `json:"a"`
	OrderID int64 `json:"o"`
}

type CancelAction struct {
	Type    string       `json:"type"`
	Cancels []CancelWire `json:"cancels"`
}

// ModifyWire replaces the order identified by OrderID with Order atomically.
type ModifyWire struct {
	OrderID int64     `json:"oid"`
	Order   OrderWire `json:"order"`
}

type BatchModifyAction struct {
	Type     string       `json:"type"`
	Modifies []ModifyWire `json:"modifies"`
}

// ScheduleCancelAction arms the exchange-side dead-man's switch: all resting
// orders are cancelled at Time (ms since epoch). A nil Time disarms it.
type ScheduleCancelAction struct {
	Type string  `json:"type"`
	Time *uint64 `json:"time,omitempty"`
}

type ReserveRequestWeightAction struct {
	Type   string `json:"type"`
	Weight int    `json:"weight"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type SignedAction struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
	ExpiresAfter *uint64   `json:"expiresAfter"`
}
