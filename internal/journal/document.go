package journal

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/trade-engine/internal/ledger"
)

func toDocument(r ledger.TradeResult) (document, error) {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return document{}, fmt.Errorf("encode trade %s metadata: %w", r.ID, err)
	}
	return document{
		ID:                r.ID,
		Pair:              r.Pair,
		Amount:            r.Amount.String(),
		AveragePricePaid:  r.AveragePricePaid.String(),
		SellPrice:         r.SellPrice.String(),
		ActualCost:        r.ActualCost.String(),
		AdditionalCosts:   r.AdditionalCosts.String(),
		FeesPair:          r.FeesPair.String(),
		FeesMarket:        r.FeesMarket.String(),
		SellFees:          r.SellFees.String(),
		BalanceDifference: r.BalanceDifference.String(),
		Profit:            r.Profit.String(),
		Margin:            r.Margin(),
		DCALevel:          r.DCALevel,
		OrderDates:        r.OrderDates,
		SellDate:          r.SellDate,
		Metadata:          string(meta),
	}, nil
}

func fromDocument(doc document) (ledger.TradeResult, error) {
	r := ledger.TradeResult{
		ID:           doc.ID,
		IsSuccessful: true,
		Pair:         doc.Pair,
		OrderDates:   doc.OrderDates,
		SellDate:     doc.SellDate,
		DCALevel:     doc.DCALevel,
	}
	if doc.Metadata != "" {
		if err := json.Unmarshal([]byte(doc.Metadata), &r.Metadata); err != nil {
			return ledger.TradeResult{}, fmt.Errorf("decode trade %s metadata: %w", doc.ID, err)
		}
	}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&r.Amount, doc.Amount},
		{&r.AveragePricePaid, doc.AveragePricePaid},
		{&r.SellPrice, doc.SellPrice},
		{&r.ActualCost, doc.ActualCost},
		{&r.AdditionalCosts, doc.AdditionalCosts},
		{&r.FeesPair, doc.FeesPair},
		{&r.FeesMarket, doc.FeesMarket},
		{&r.SellFees, doc.SellFees},
		{&r.BalanceDifference, doc.BalanceDifference},
		{&r.Profit, doc.Profit},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.src)
		if err != nil {
			return ledger.TradeResult{}, fmt.Errorf("decode trade %s: %w", doc.ID, err)
		}
		*f.dst = v
	}
	return r, nil
}
