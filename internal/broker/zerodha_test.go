package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kitemodels "github.com/zerodha/gokiteconnect/v4/models"

	"trend-trader/internal/models"
)

func TestKiteStatus(t *testing.T) {
	cases := []struct {
		status string
		filled float64
		want   models.OrderStatus
	}{
		{"OPEN", 0, models.StatusActive},
		{"TRIGGER PENDING", 0, models.StatusActive},
		{"OPEN", 1, models.StatusFilled},
		{"TRIGGER PENDING", 2, models.StatusFilled},
		{"COMPLETE", 3, models.StatusFilled},
		{"CANCELLED", 0, models.StatusCancelled},
		{"CANCELLED", 1, models.StatusFilled},
		{"REJECTED", 0, models.StatusInactive},
		{"PUT ORDER REQ RECEIVED", 0, models.StatusSubmitted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, kiteStatus(tc.status, tc.filled), "%s filled=%v", tc.status, tc.filled)
	}
}

func TestKiteUpdatePartialFill(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	u := kiteUpdate(kiteconnect.Order{
		OrderID:        "240301000001",
		Status:         "OPEN",
		Quantity:       4,
		FilledQuantity: 2,
		AveragePrice:   4000.25,
	}, now)

	assert.Equal(t, models.StatusFilled, u.Status)
	assert.Equal(t, 2, u.FilledQty)
	assert.Equal(t, 4000.25, u.AvgPrice)
	assert.Equal(t, now, u.Time)

	stamped := time.Date(2024, 3, 1, 9, 29, 58, 0, time.UTC)
	u = kiteUpdate(kiteconnect.Order{
		OrderID:                 "240301000001",
		Status:                  "COMPLETE",
		ExchangeUpdateTimestamp: kitemodels.Time{Time: stamped},
	}, now)
	assert.Equal(t, stamped, u.Time)
}

func TestKiteOrderState(t *testing.T) {
	stop := kiteOrderState(kiteconnect.Order{
		OrderID:         "1",
		Status:          "TRIGGER PENDING",
		TransactionType: "SELL",
		OrderType:       kiteconnect.OrderTypeSLM,
		Quantity:        1,
		TriggerPrice:    3990,
	})
	assert.Equal(t, models.StatusActive, stop.Status)
	assert.Equal(t, models.Sell, stop.Side)
	assert.Equal(t, 1, stop.Quantity)
	assert.Equal(t, models.OrderSpec{Type: models.OrderTypeStop, StopPrice: 3990}, stop.Spec)

	limit := kiteOrderState(kiteconnect.Order{
		OrderID:         "2",
		Status:          "OPEN",
		TransactionType: "SELL",
		OrderType:       kiteconnect.OrderTypeLimit,
		Quantity:        1,
		Price:           4020,
	})
	assert.Equal(t, models.OrderSpec{Type: models.OrderTypeLimit, LimitPrice: 4020}, limit.Spec)

	stopLimit := kiteOrderState(kiteconnect.Order{
		OrderID:         "3",
		Status:          "TRIGGER PENDING",
		TransactionType: "BUY",
		OrderType:       kiteconnect.OrderTypeSL,
		Quantity:        2,
		TriggerPrice:    4010,
		Price:           4012,
	})
	assert.Equal(t, models.Buy, stopLimit.Side)
	assert.Equal(t, models.OrderTypeTrailLimit, stopLimit.Spec.Type)
	assert.Equal(t, 4010.0, stopLimit.Spec.StopPrice)
	assert.InDelta(t, 2.0, stopLimit.Spec.LimitOffset, 1e-9)
}
