package ledger

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// TradeResult is the outcome of a sell. Fee and cost fields hold the
// sold share of the position's values.
type TradeResult struct {
	ID                string          `json:"id"`
	IsSuccessful      bool            `json:"is_successful"`
	Pair              string          `json:"pair"`
	Amount            decimal.Decimal `json:"amount"`
	OrderDates        []time.Time     `json:"order_dates"`
	AveragePricePaid  decimal.Decimal `json:"average_price_paid"`
	FeesPair          decimal.Decimal `json:"fees_pair"`
	FeesMarket        decimal.Decimal `json:"fees_market"`
	SellFees          decimal.Decimal `json:"sell_fees"`
	ActualCost        decimal.Decimal `json:"actual_cost"`
	AdditionalCosts   decimal.Decimal `json:"additional_costs"`
	SellDate          time.Time       `json:"sell_date"`
	SellPrice         decimal.Decimal `json:"sell_price"`
	BalanceDifference decimal.Decimal `json:"balance_difference"`
	Profit            decimal.Decimal `json:"profit"`
	DCALevel          int             `json:"dca_level"`
	Metadata          Metadata        `json:"metadata"`
}

// Margin is the realized profit in percent of the sold cost basis.
func (r TradeResult) Margin() float64 {
	basis := r.ActualCost.Add(r.AdditionalCosts)
	if basis.IsZero() {
		return 0
	}
	return r.Profit.Div(basis).Mul(hundred).InexactFloat64()
}

var (
	idMu   sync.Mutex
	idMono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	idMono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// newID returns a ULID; ids of one process sort by creation time.
func newID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), idMono).String()
}
