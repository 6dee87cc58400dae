package cli

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var indianGrouping = regexp.MustCompile(`^-?₹(\d{1,2},)*(\d{1,3})?\d{0,3}\.\d{2}$`)

// parseIndianCurrency reverses FormatIndianCurrency.
func parseIndianCurrency(s string) (float64, error) {
	s = strings.Replace(s, "₹", "", 1)
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(s, 64)
}

func TestProperty_IndianCurrencyRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("formatted amounts parse back to the rounded value", prop.ForAll(
		func(paise int64) bool {
			amount := float64(paise) / 100
			formatted := FormatIndianCurrency(amount)
			if !indianGrouping.MatchString(formatted) {
				t.Logf("unexpected format %q for %d paise", formatted, paise)
				return false
			}
			parsed, err := parseIndianCurrency(formatted)
			if err != nil {
				return false
			}
			return math.Abs(parsed-amount) < 0.005
		},
		gen.Int64Range(-1e13, 1e13),
	))

	properties.Property("groups after the first three digits have two digits", prop.ForAll(
		func(n int64) bool {
			raw := strconv.FormatInt(n, 10)
			groups := strings.Split(formatIndianNumber(raw), ",")
			if len(groups[len(groups)-1]) != min(3, len(raw)) {
				return false
			}
			for i := 1; i < len(groups)-1; i++ {
				if len(groups[i]) != 2 {
					return false
				}
			}
			return len(groups[0]) >= 1 && len(groups[0]) <= 3
		},
		gen.Int64Range(0, 1e15),
	))

	properties.Property("P&L carries an explicit sign", prop.ForAll(
		func(paise int64) bool {
			pnl := float64(paise) / 100
			s := FormatPnL(pnl)
			switch {
			case pnl > 0:
				return strings.HasPrefix(s, "+₹")
			case pnl < 0:
				return strings.HasPrefix(s, "-₹")
			default:
				return s == "₹0.00"
			}
		},
		gen.Int64Range(-1e9, 1e9),
	))

	properties.TestingRun(t)
}

func TestFormatIndianCurrencyExamples(t *testing.T) {
	cases := map[float64]string{
		0:           "₹0.00",
		100:         "₹100.00",
		1000:        "₹1,000.00",
		100000:      "₹1,00,000.00",
		101000:      "₹1,01,000.00",
		10000000:    "₹1,00,00,000.00",
		-1234.56:    "-₹1,234.56",
		12345678.90: "₹1,23,45,678.90",
	}
	for amount, want := range cases {
		assert.Equal(t, want, FormatIndianCurrency(amount))
	}
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "+1.50%", FormatPercent(1.5))
	assert.Equal(t, "-2.50%", FormatPercent(-2.5))
	assert.Equal(t, "+₹500.00", FormatPnL(500))
	assert.Equal(t, "-1,00,000", FormatQuantity(-100000))
	assert.Equal(t, "2500.00", FormatPrice(2500))
	assert.Equal(t, "9.5000", FormatPrice(9.5))
	assert.Equal(t, "-", FormatDateTime(time.Time{}))
	assert.Equal(t, "02-Jan-2024 14:45:00", FormatDateTime(time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC)))

	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, "never", FormatAge(time.Time{}, now))
	assert.Equal(t, "45s ago", FormatAge(now.Add(-45*time.Second), now))
	assert.Equal(t, "2h 5m ago", FormatAge(now.Add(-125*time.Minute), now))
	assert.Equal(t, "abc...", TruncateString("abcdefgh", 6))
}
