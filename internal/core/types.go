// Package core defines the value types and fixed-point conventions shared by
// every stage of the trading pipeline. All prices are unsigned 64-bit integers
// scaled by PriceScale; quantities, notionals, ids and timestamps are unsigned
// 64-bit; symbol ids are unsigned 32-bit. No floating point enters the engine.
package core

// PriceScale is the fixed-point denominator for prices: 1.0 == 10^8.
const PriceScale uint64 = 100_000_000

// DefaultQueueSize is the capacity used for pipeline queues unless configured.
const DefaultQueueSize = 4096

// Side of an order or tick.
type Side uint8

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType enumerates the supported order types. Stop and StopLimit are
// carried through the pipeline but trigger handling is delegated to the
// strategy layer; the matcher treats an elected stop as its underlying type.
type OrderType uint8

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce controls what happens to the unmatched remainder of an order.
type TimeInForce uint8

const (
	TIFDay TimeInForce = iota
	TIFIOC
	TIFFOK
	TIFGTC
)

func (t TimeInForce) String() string {
	switch t {
	case TIFDay:
		return "DAY"
	case TIFIOC:
		return "IOC"
	case TIFFOK:
		return "FOK"
	case TIFGTC:
		return "GTC"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus transitions are monotonic: Incoming -> PartiallyFilled -> Filled,
// or Incoming -> Cancelled/Rejected. Rejected is only ever set by the risk gate.
type OrderStatus uint8

const (
	OrderStatusIncoming OrderStatus = iota
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusIncoming:
		return "INCOMING"
	case OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further fills can occur for the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}

// Order is the unit of work flowing ingress -> risk -> matcher. Orders move
// through queues by value; exactly one stage owns a given order at any instant.
type Order struct {
	OrderID   uint64
	Price     uint64
	Quantity  uint64
	Filled    uint64
	Timestamp uint64
	Symbol    uint32
	Side      Side
	Type      OrderType
	TIF       TimeInForce
	Status    OrderStatus
}

// OpenQuantity is the unfilled remainder.
func (o *Order) OpenQuantity() uint64 {
	if o.Filled >= o.Quantity {
		return 0
	}
	return o.Quantity - o.Filled
}

// IsMarket reports whether the order crosses at any price.
func (o *Order) IsMarket() bool {
	return o.Type == OrderTypeMarket
}

// Tick is a normalized market-data event. Seq is strictly increasing per
// symbol and is assigned by the symbol's gateway processor.
type Tick struct {
	Price     uint64
	Quantity  uint64
	Timestamp uint64
	Seq       uint64
	Symbol    uint32
	Side      Side
}

// Trade records a match. Price always equals the resting order's price; the
// aggressor side identifies the incoming order and is informational only.
type Trade struct {
	TradeID       uint64
	BuyOrderID    uint64
	SellOrderID   uint64
	Price         uint64
	Quantity      uint64
	Timestamp     uint64
	Symbol        uint32
	AggressorSide Side
}

// Notional returns price*qty/PriceScale using 128-bit intermediate math,
// saturating at MaxUint64 on overflow.
func (t *Trade) Notional() uint64 {
	return Notional(t.Price, t.Quantity)
}
