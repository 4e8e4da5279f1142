package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTransitionCounter(t *testing.T) {
	before := testutil.ToFloat64(Engine.Transitions.WithLabelValues("trade", "paid"))
	Transition("trade", "paid")
	assert.Equal(t, before+1, testutil.ToFloat64(Engine.Transitions.WithLabelValues("trade", "paid")))
}

func TestObserveCountsErrorsOnly(t *testing.T) {
	before := testutil.ToFloat64(Engine.Errors.WithLabelValues("deposit.advance", "conflict"))
	Observe("deposit.advance", time.Now(), "")
	Observe("deposit.advance", time.Now(), "conflict")
	assert.Equal(t, before+1, testutil.ToFloat64(Engine.Errors.WithLabelValues("deposit.advance", "conflict")))
}
