package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequiredLockIncludesBuyerFee(t *testing.T) {
	buy := &Order{Side: Buy, Price: Money("2500"), Amount: Money("2")}
	assert.Equal(t, "5075", buy.RequiredLock().String())

	sell := &Order{Side: Sell, Price: Money("2500"), Amount: Money("2")}
	assert.Equal(t, "2", sell.RequiredLock().String())
}

func TestOrderRemaining(t *testing.T) {
	o := &Order{Amount: Money("5"), FilledAmount: Money("2")}
	assert.True(t, o.Remaining().Equal(Money("3")))
}

func TestOrderBaseAsset(t *testing.T) {
	o := &Order{Symbol: "BTC/USD"}
	assert.Equal(t, "BTC", o.BaseAsset())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, OrderOpen.CanTransitionTo(OrderFilled))
	assert.True(t, OrderOpen.CanTransitionTo(OrderCancelled))
	assert.True(t, OrderOpen.CanTransitionTo(OrderExpired))
	assert.True(t, OrderPartiallyFilled.CanTransitionTo(OrderFilled))
	assert.True(t, OrderPartiallyFilled.CanTransitionTo(OrderCancelled))

	assert.False(t, OrderFilled.CanTransitionTo(OrderOpen))
	assert.False(t, OrderCancelled.CanTransitionTo(OrderOpen))
	assert.False(t, OrderExpired.CanTransitionTo(OrderFilled))
	assert.False(t, OrderPartiallyFilled.CanTransitionTo(OrderExpired))
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, OrderOpen.IsActive())
	assert.True(t, OrderPartiallyFilled.IsActive())
	assert.False(t, OrderFilled.IsActive())

	assert.True(t, OrderFilled.IsFinal())
	assert.True(t, OrderCancelled.IsFinal())
	assert.True(t, OrderExpired.IsFinal())
	assert.False(t, OrderOpen.IsFinal())
}
