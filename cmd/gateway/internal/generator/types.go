package generator

import (
	"math/rand"
	"time"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// for deterministic testing
type Clock interface {
	Now() time.Time
}

// for deterministic values
type Rand interface {
	Float64() float64
}

// TickHandler receives every price produced by the generator, in order.
// Implementations must not block.
type TickHandler interface {
	OnTick(update models.StockUpdate)
}

// Sample is one point of an instrument's trailing price history.
type Sample struct {
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

type RealRand struct{ *rand.Rand }

func NewRealRand() RealRand {
	return RealRand{rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r RealRand) Float64() float64 { return r.Rand.Float64() }
