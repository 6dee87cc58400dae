package trading

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"portfolio-state/internal/models"
)

// genFills generates a sequence of valid fills over a small symbol set.
func genFills() gopter.Gen {
	symbols := []string{"RELIANCE", "TCS", "INFY"}
	return gen.SliceOf(gen.Struct(reflect.TypeOf(fillSpec{}), map[string]gopter.Gen{
		"SymbolIdx": gen.IntRange(0, len(symbols)-1),
		"Buy":       gen.Bool(),
		"Quantity":  gen.IntRange(1, 50),
		"Price":     gen.Float64Range(1, 5000),
	})).Map(func(specs []fillSpec) []models.Fill {
		fills := make([]models.Fill, len(specs))
		for i, s := range specs {
			side := models.OrderSideSell
			if s.Buy {
				side = models.OrderSideBuy
			}
			fills[i] = models.Fill{
				FillID:   fmt.Sprintf("F%d", i),
				Symbol:   symbols[s.SymbolIdx],
				Side:     side,
				Quantity: s.Quantity,
				Price:    math.Round(s.Price*100) / 100,
				Strategy: fmt.Sprintf("s%d", s.SymbolIdx%2),
			}
		}
		return fills
	})
}

type fillSpec struct {
	SymbolIdx int
	Buy       bool
	Quantity  int
	Price     float64
}

// Property: equity == starting capital + realized + unrealized after every fill,
// and cash plus marked position value agrees with it.
func TestProperty_EquityInvariantHoldsAfterEveryFill(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("equity invariant", prop.ForAll(
		func(fills []models.Fill) bool {
			l := NewLedger(100000, 0, zerolog.Nop())
			for _, f := range fills {
				if _, err := l.Apply(f); err != nil {
					return false
				}

				eq := l.Equity()
				var realized, unrealized, marked float64
				for _, p := range l.Positions() {
					realized += p.RealizedPnL
					unrealized += p.UnrealizedPnL
					marked += float64(p.Quantity) * p.LastPrice
				}
				if !approxEqual(eq.Equity, eq.StartingCapital+realized+unrealized) {
					return false
				}
				if !approxEqual(eq.Equity, eq.Cash+marked) {
					return false
				}
			}
			return true
		},
		genFills(),
	))

	properties.TestingRun(t)
}

// Property: applying every fill twice leaves the same state as applying once.
func TestProperty_ApplyIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("duplicates do not mutate state", prop.ForAll(
		func(fills []models.Fill) bool {
			once := NewLedger(100000, 0, zerolog.Nop())
			twice := NewLedger(100000, 0, zerolog.Nop())
			onceStats := NewStatsTracker()
			twiceStats := NewStatsTracker()

			for _, f := range fills {
				res, _ := once.Apply(f)
				onceStats.Apply(f, res)

				res, _ = twice.Apply(f)
				twiceStats.Apply(f, res)
				res, _ = twice.Apply(f)
				if res.Outcome != OutcomeDuplicateIgnored {
					return false
				}
				twiceStats.Apply(f, res)
			}

			return once.Equity() == twice.Equity() &&
				fmt.Sprint(once.Positions()) == fmt.Sprint(twice.Positions()) &&
				fmt.Sprint(onceStats.Snapshot()) == fmt.Sprint(twiceStats.Snapshot())
		},
		genFills(),
	))

	properties.TestingRun(t)
}

// Property: the closed-trade count equals the number of exits, and each
// strategy's day P&L equals the realized P&L it produced.
func TestProperty_StatsAgreeWithLedger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("stats track realized P&L", prop.ForAll(
		func(fills []models.Fill) bool {
			l := NewLedger(100000, 0, zerolog.Nop())
			stats := NewStatsTracker()
			realizedBy := make(map[string]float64)

			for _, f := range fills {
				res, err := l.Apply(f)
				if err != nil {
					return false
				}
				stats.Apply(f, res)
				realizedBy[f.StrategyID()] += res.RealizedDelta
			}

			var total float64
			for id, st := range stats.Snapshot() {
				if st.ClosedTrades != st.ExitCount {
					return false
				}
				if !approxEqual(st.DayPnL, realizedBy[id]) {
					return false
				}
				total += st.DayPnL
			}
			return approxEqual(total, l.Equity().RealizedPnL)
		},
		genFills(),
	))

	properties.TestingRun(t)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-6*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
