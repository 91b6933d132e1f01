package kpi

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/okian/kpisync/internal/domain/model"
)

// UnknownBucket names rows lacking a breakdown dimension.
const UnknownBucket = "unknown"

const moneyPlaces = 2

// Summary holds the headline KPIs of a range.
type Summary struct {
	TotalCount            int             `json:"totalCount"`
	SucceededLiveCount    int             `json:"succeededLiveCount"`
	NonRevenueCount       int             `json:"nonRevenueCount"`
	GrossAmount           decimal.Decimal `json:"grossAmount"`
	AvgTicket             decimal.Decimal `json:"avgTicket"`
	RefundedCount         int             `json:"refundedCount"`
	RefundedAmount        decimal.Decimal `json:"refundedAmount"`
	NetAmount             decimal.Decimal `json:"netAmount"`
	WithStateCount        int             `json:"withStateCount"`
	StateRate             float64         `json:"stateRate"`
	InferredFromContact   int             `json:"inferredFromContact"`
	UniqueCustomers       int             `json:"uniqueCustomers"`
	PayingCustomers       int             `json:"payingCustomers"`
	AvgOrdersPerCustomer  float64         `json:"avgOrdersPerCustomer"`
	RepeatCustomerRate    float64         `json:"repeatCustomerRate"`
	AvgLifetimeOrderValue decimal.Decimal `json:"avgLifetimeOrderValue"`
}

// Bucket is one row of a breakdown.
type Bucket struct {
	Key     string          `json:"key"`
	Count   int             `json:"count"`
	Revenue decimal.Decimal `json:"revenue"`
}

// Breakdowns groups the range by geography.
type Breakdowns struct {
	State  []Bucket `json:"state"`
	City   []Bucket `json:"city"`
	County []Bucket `json:"county"`
}

// Lifetime is the per-contact revenue history over a whole snapshot.
type Lifetime struct {
	Net    decimal.Decimal
	Orders int
}

// IsRevenue reports whether r counts toward gross revenue.
func IsRevenue(r model.TransactionRecord) bool {
	return r.IsLive() && Classify(r.Status) == ClassRevenue
}

// FilterRange keeps rows with startMs <= CreatedMs <= endMs. Rows with an
// unknown timestamp are never in range.
func FilterRange(rows []model.TransactionRecord, startMs, endMs int64) []model.TransactionRecord {
	out := make([]model.TransactionRecord, 0, len(rows))
	for _, r := range rows {
		if r.CreatedMs <= 0 {
			continue
		}
		if r.CreatedMs >= startMs && r.CreatedMs <= endMs {
			out = append(out, r)
		}
	}
	return out
}

// Lifetimes computes per-contact net revenue and order counts over rows.
func Lifetimes(rows []model.TransactionRecord) map[string]Lifetime {
	out := make(map[string]Lifetime)
	for _, r := range rows {
		if r.ContactID == "" || !IsRevenue(r) {
			continue
		}
		lt := out[r.ContactID]
		lt.Net = lt.Net.Add(r.Amount.Sub(r.AmountRefunded))
		lt.Orders++
		out[r.ContactID] = lt
	}
	return out
}

// ApplyLifetime stamps every row with its contact's lifetime figures and
// returns the map it used.
func ApplyLifetime(rows []model.TransactionRecord) map[string]Lifetime {
	lifetimes := Lifetimes(rows)
	for i := range rows {
		lt := lifetimes[rows[i].ContactID]
		rows[i].ContactLifetimeNet = lt.Net
		rows[i].ContactLifetimeOrders = lt.Orders
	}
	return lifetimes
}

// Aggregate computes the summary of rows. lifetimes comes from the full
// snapshot, not the range.
func Aggregate(rows []model.TransactionRecord, lifetimes map[string]Lifetime) Summary {
	s := Summary{TotalCount: len(rows)}
	contacts := make(map[string]struct{})
	ordersByContact := make(map[string]int)
	revenueWithContact := 0

	for _, r := range rows {
		if r.ContactID != "" {
			contacts[r.ContactID] = struct{}{}
		}
		if IsRevenue(r) {
			s.SucceededLiveCount++
			s.GrossAmount = s.GrossAmount.Add(r.Amount)
			if r.ContactID != "" {
				ordersByContact[r.ContactID]++
				revenueWithContact++
			}
		}
		if refund, ok := refundAmount(r); ok {
			s.RefundedCount++
			s.RefundedAmount = s.RefundedAmount.Add(refund)
		}
		if r.State != "" {
			s.WithStateCount++
		}
		if r.StateFrom == model.StateFromContact || r.StateFrom == model.StateFromContactCustom {
			s.InferredFromContact++
		}
	}

	s.NonRevenueCount = s.TotalCount - s.SucceededLiveCount
	s.NetAmount = s.GrossAmount.Sub(s.RefundedAmount)
	if s.SucceededLiveCount > 0 {
		s.AvgTicket = s.GrossAmount.Div(decimal.NewFromInt(int64(s.SucceededLiveCount))).Round(moneyPlaces)
	}
	s.StateRate = ratio(s.WithStateCount, s.TotalCount)

	// Unique customers are every contact in the range; order figures are per
	// paying customer.
	s.UniqueCustomers = len(contacts)
	s.PayingCustomers = len(ordersByContact)
	repeat := 0
	for _, n := range ordersByContact {
		if n > 1 {
			repeat++
		}
	}
	s.AvgOrdersPerCustomer = ratio(revenueWithContact, s.PayingCustomers)
	s.RepeatCustomerRate = ratio(repeat, s.PayingCustomers)

	net, orders := decimal.Zero, 0
	for _, lt := range lifetimes {
		net = net.Add(lt.Net)
		orders += lt.Orders
	}
	if orders > 0 {
		s.AvgLifetimeOrderValue = net.Div(decimal.NewFromInt(int64(orders))).Round(moneyPlaces)
	}
	return s
}

// refundAmount returns the refunded value of a live row, if any.
func refundAmount(r model.TransactionRecord) (decimal.Decimal, bool) {
	if !r.IsLive() {
		return decimal.Zero, false
	}
	if r.AmountRefunded.IsPositive() {
		return r.AmountRefunded, true
	}
	if Classify(r.Status) == ClassRefund {
		return r.Amount.Abs(), true
	}
	return decimal.Zero, false
}

// Breakdown groups rows by state, "City, ST" and county.
func Breakdown(rows []model.TransactionRecord) Breakdowns {
	return Breakdowns{
		State: group(rows, func(r model.TransactionRecord) string { return r.State }),
		City: group(rows, func(r model.TransactionRecord) string {
			if r.City == "" {
				return ""
			}
			if r.State == "" {
				return r.City
			}
			return r.City + ", " + r.State
		}),
		County: group(rows, func(r model.TransactionRecord) string { return r.County }),
	}
}

func group(rows []model.TransactionRecord, key func(model.TransactionRecord) string) []Bucket {
	idx := make(map[string]int)
	var out []Bucket
	for _, r := range rows {
		k := key(r)
		if k == "" {
			k = UnknownBucket
		}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Bucket{Key: k})
		}
		out[i].Count++
		if IsRevenue(r) {
			out[i].Revenue = out[i].Revenue.Add(r.Amount)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if out == nil {
		out = []Bucket{}
	}
	return out
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
