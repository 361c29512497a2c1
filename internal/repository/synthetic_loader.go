package repository

import (
	"context"
	"math/rand"

	"github.com/shopspring/decimal"

	"ChartFeed/internal/domain/models"
)

const (
	DefaultSyntheticSeconds = 600
	DefaultSyntheticNow     = int64(1756909000)
	DefaultStartPrice       = 0.043
	DefaultSupply           = 1_000_000
)

type SyntheticOptions struct {
	Seconds    int
	Now        int64
	Seed       int64
	StartPrice float64
	Supply     decimal.Decimal
}

// SyntheticLoader generates a seeded random walk of per-second bars ending at Now.
// Market cap starts at StartPrice x Supply and walks independently with half the noise.
type SyntheticLoader struct {
	opts SyntheticOptions
}

func NewSyntheticLoader(opts SyntheticOptions) *SyntheticLoader {
	if opts.Seconds <= 0 {
		opts.Seconds = DefaultSyntheticSeconds
	}
	if opts.Now == 0 {
		opts.Now = DefaultSyntheticNow
	}
	if opts.StartPrice <= 0 {
		opts.StartPrice = DefaultStartPrice
	}
	if opts.Supply.IsZero() {
		opts.Supply = decimal.NewFromInt(DefaultSupply)
	}
	return &SyntheticLoader{opts: opts}
}

func (g *SyntheticLoader) Source() string { return "synthetic" }

func (g *SyntheticLoader) Load(_ context.Context) (*models.Series, error) {
	r := rand.New(rand.NewSource(g.opts.Seed))
	n := g.opts.Seconds

	price := make([]models.Bar, 0, n)
	mcap := make([]models.Bar, 0, n)

	p := g.opts.StartPrice
	c, _ := decimal.NewFromFloat(p).Mul(g.opts.Supply).Float64()

	for i := n - 1; i >= 0; i-- {
		t := g.opts.Now - int64(i)
		vol := int64(r.Intn(1000) + 100)

		pb := walk(r, t, p, 0.001, vol)
		cb := walk(r, t, c, 0.0005, vol)
		price = append(price, pb)
		mcap = append(mcap, cb)
		p, c = pb.Close, cb.Close
	}

	ser, _ := models.NewSeries(price, mcap)
	return ser, nil
}

func walk(r *rand.Rand, t int64, open, noise float64, vol int64) models.Bar {
	high := open * (1 + r.Float64()*noise)
	low := open * (1 - r.Float64()*noise)
	return models.Bar{
		Time:   t,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  low + r.Float64()*(high-low),
		Volume: vol,
	}
}
