package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arcollect/arcollect/internal/ledger"
)

// Value tiers splitting customers by lifetime sales.
const (
	tier1Min = 100000.0
	tier2Min = 25000.0
	tier3Min = 5000.0
)

// Windows for history and effort lookbacks.
const (
	promiseWindow = 90 * 24 * time.Hour
	effortWindow  = 60 * 24 * time.Hour
)

// Scorer computes priority scores from current ledger state. An optional
// cache bounds repeated reads; a nil cache disables it.
type Scorer struct {
	repo       RepositoryPort
	cache      *Cache
	weights    Weights
	thresholds Thresholds
	logger     *slog.Logger
	clock      func() time.Time
}

// NewScorer builds a Scorer with the given policy. Cache may be nil.
func NewScorer(repo RepositoryPort, cache *Cache, weights Weights, thresholds Thresholds, logger *slog.Logger) *Scorer {
	return &Scorer{
		repo:       repo,
		cache:      cache,
		weights:    weights.normalised(),
		thresholds: thresholds,
		logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// CachedScore returns the cached score when fresh, recomputing (and
// re-caching) on miss or when force is set. Cache failures degrade to a
// recompute, never to an error.
func (s *Scorer) CachedScore(ctx context.Context, customerID int64, force bool) (*PriorityScore, error) {
	if s.cache != nil && !force {
		cached, err := s.cache.Get(ctx, customerID)
		if err != nil {
			s.logger.Warn("score cache read failed", "customer_id", customerID, "error", err)
		} else if cached != nil {
			return cached, nil
		}
	}
	score, err := s.Score(ctx, customerID)
	if err != nil {
		return nil, err
	}
	s.warmCache(ctx, score)
	return score, nil
}

// InvalidateScore drops the cached score after ledger state changes.
func (s *Scorer) InvalidateScore(ctx context.Context, customerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, customerID); err != nil {
		s.logger.Warn("score cache invalidation failed", "customer_id", customerID, "error", err)
	}
}

func (s *Scorer) warmCache(ctx context.Context, score *PriorityScore) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, score); err != nil {
		s.logger.Warn("score cache write failed", "customer_id", score.CustomerID, "error", err)
	}
}

// Score computes the priority score for one customer. Read-only: persistence
// of scores for reporting happens in RefreshAll, not here.
func (s *Scorer) Score(ctx context.Context, customerID int64) (*PriorityScore, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	invoices, err := s.repo.OutstandingInvoices(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return &PriorityScore{
			CustomerID:      customerID,
			CustomerName:    customer.Name,
			Risk:            RiskLow,
			NextAction:      ActionNone,
			Recommendations: []string{"No outstanding balance"},
			ComputedAt:      now,
		}, nil
	}

	promises, err := s.repo.PromiseStats(ctx, customerID, now.Add(-promiseWindow))
	if err != nil {
		return nil, err
	}
	activities, err := s.repo.RecentActivities(ctx, customerID, now.Add(-effortWindow))
	if err != nil {
		return nil, err
	}

	var total float64
	oldest := 0
	ageSum := 0
	for _, inv := range invoices {
		total += inv.Outstanding
		days := inv.DaysPastDueOf(now)
		ageSum += days
		if days > oldest {
			oldest = days
		}
	}

	components := Components{
		Amount:       amountScore(total),
		Aging:        agingScore(invoices, now),
		History:      historyScore(customer, promises),
		Relationship: relationshipScore(customer, total, now),
		Effort:       effortScore(activities, now),
	}
	composite := clamp(
		components.Amount*s.weights.Amount+
			components.Aging*s.weights.Aging+
			components.History*s.weights.History+
			components.Relationship*s.weights.Relationship+
			components.Effort*s.weights.Effort,
		0, 100)

	score := &PriorityScore{
		CustomerID:        customerID,
		CustomerName:      customer.Name,
		Composite:         composite,
		Components:        components,
		Risk:              s.thresholds.RiskFor(composite),
		TotalOutstanding:  total,
		InvoiceCount:      len(invoices),
		OldestInvoiceDays: oldest,
		AvgInvoiceAge:     float64(ageSum) / float64(len(invoices)),
		NextAction:        NextActionFor(composite, oldest),
		ComputedAt:        now,
	}
	score.Recommendations = recommendations(customer, components, composite, total, oldest, promises)
	return score, nil
}

// amountScore bands total outstanding so large balances weigh
// disproportionately more than a linear scale would give them.
func amountScore(totalOutstanding float64) float64 {
	switch {
	case totalOutstanding <= 0:
		return 0
	case totalOutstanding <= 1000:
		return 10
	case totalOutstanding <= 5000:
		return 25
	case totalOutstanding <= 25000:
		return 50
	case totalOutstanding <= 100000:
		return 75
	default:
		return 90
	}
}

// agingScore averages per-invoice age scores weighted by outstanding amount,
// so one large old invoice dominates several small ones.
func agingScore(invoices []ledger.Invoice, asOf time.Time) float64 {
	var weighted, totalWeight float64
	for _, inv := range invoices {
		daysScore := clamp(float64(inv.DaysPastDueOf(asOf))*0.8, 0, 100)
		weighted += daysScore * inv.Outstanding
		totalWeight += inv.Outstanding
	}
	if totalWeight <= 0 {
		return 0
	}
	return weighted / totalWeight
}

// historyScore starts from the stored reliability score, penalises paying
// beyond terms and folds in the recent promise keep rate.
func historyScore(customer *ledger.Customer, promises PromiseStats) float64 {
	score := customer.ReliabilityScore
	terms := float64(customer.PaymentTermsDays)
	switch {
	case customer.AvgDaysToPay <= terms:
		score = clamp(score+10, 0, 100)
	case customer.AvgDaysToPay <= terms+10:
		score = clamp(score-5, 0, 100)
	default:
		penalty := clamp((customer.AvgDaysToPay-terms)*2, 0, 50)
		score = clamp(score-penalty, 0, 100)
	}

	if promises.Total > 0 {
		rate := float64(promises.Kept) / float64(promises.Total)
		if rate < 0.5 {
			score = clamp(score-20, 0, 100)
		} else if rate > 0.8 {
			score = clamp(score+5, 0, 100)
		}
	}
	return score
}

// relationshipScore adjusts a neutral base by customer segment, lifetime
// value, credit utilisation and tenure.
func relationshipScore(customer *ledger.Customer, outstanding float64, asOf time.Time) float64 {
	score := 50.0

	switch customer.Type {
	case ledger.CustomerVIP:
		score -= 20
	case ledger.CustomerHighRisk:
		score += 30
	case ledger.CustomerNew:
		score += 10
	}

	switch {
	case customer.LifetimeSales >= tier1Min:
		score -= 15
	case customer.LifetimeSales >= tier2Min:
		score -= 5
	case customer.LifetimeSales < tier3Min:
		score += 10
	}

	if customer.CreditLimit > 0 {
		utilisation := outstanding / customer.CreditLimit
		switch {
		case utilisation > 1.0:
			score += 25
		case utilisation > 0.8:
			score += 15
		case utilisation > 0.5:
			score += 5
		}
	}

	if !customer.CustomerSince.IsZero() {
		years := asOf.Sub(customer.CustomerSince).Hours() / (24 * 365.25)
		if years > 5 {
			score -= 10
		} else if years < 1 {
			score += 5
		}
	}

	return clamp(score, 0, 100)
}

// effortScore reflects how much recent collection effort the customer has
// absorbed. No activity in the window leaves the component neutral.
func effortScore(activities []ledger.Activity, asOf time.Time) float64 {
	if len(activities) == 0 {
		return 50
	}

	score := 50.0
	noAnswer := 0
	promises := 0
	disputes := 0
	var last time.Time
	for _, a := range activities {
		switch a.Result {
		case ledger.ResultNoAnswer:
			noAnswer++
		case ledger.ResultPromiseMade:
			promises++
		case ledger.ResultDisputeRaised:
			disputes++
		}
		if a.At.After(last) {
			last = a.At
		}
	}

	noAnswerRate := float64(noAnswer) / float64(len(activities))
	if noAnswerRate > 0.7 {
		score += 20
	} else if noAnswerRate < 0.3 {
		score -= 5
	}
	if promises > 0 {
		score += 10
	}
	if disputes > 0 {
		score += 15
	}

	if !last.IsZero() {
		daysSince := int(asOf.Sub(last).Hours() / 24)
		if daysSince > 14 {
			score += 10
		} else if daysSince < 3 {
			score -= 5
		}
	}

	return clamp(score, 0, 100)
}

func recommendations(customer *ledger.Customer, components Components, composite, total float64, oldest int, promises PromiseStats) []string {
	var recs []string

	if total > 50000 {
		recs = append(recs, "High-value account: assign a senior collector")
	} else if total < 500 {
		recs = append(recs, "Low-value account: automated collection only")
	}

	switch {
	case oldest > 90:
		recs = append(recs, "Critical aging: escalate to collection manager")
	case oldest > 60:
		recs = append(recs, "Serious aging: daily follow-up required")
	case oldest > 30:
		recs = append(recs, "Standard follow-up: weekly contact recommended")
	}

	if components.History < 30 {
		recs = append(recs, "Poor payment history: consider credit hold and COD terms")
	} else if components.History > 80 {
		recs = append(recs, "Good payment history: a courteous reminder may suffice")
	}

	switch customer.Type {
	case ledger.CustomerVIP:
		recs = append(recs, "VIP customer: diplomatic approach, involve senior staff")
	case ledger.CustomerHighRisk:
		recs = append(recs, "High-risk customer: monitor closely, consider guarantees")
	}

	if components.Effort > 70 {
		recs = append(recs, "High collection effort so far: try different contact methods")
	}

	switch {
	case composite > 80:
		recs = append(recs, "Urgent: immediate action required, consider legal consultation")
	case composite > 60:
		recs = append(recs, "High priority: daily monitoring and weekly contact")
	case composite < 30:
		recs = append(recs, "Low priority: standard automated collection process")
	}

	if customer.CreditHold {
		recs = append(recs, "Customer on credit hold: no new orders until balance resolved")
	}
	if promises.Active > 0 {
		recs = append(recs, fmt.Sprintf("Active payment promises (%d): monitor follow-up dates", promises.Active))
	}

	return recs
}

// RefreshSummary reports the outcome of a batch score refresh.
type RefreshSummary struct {
	Scored int      `json:"scored"`
	Errors []string `json:"errors,omitempty"`
}

// RefreshAll recomputes scores for every customer carrying a balance and
// persists the derived priority segment for reporting. Computation fans out
// across a bounded worker group; a failed customer is recorded and skipped,
// never fatal to the batch.
func (s *Scorer) RefreshAll(ctx context.Context, parallelism int) (*RefreshSummary, error) {
	ids, err := s.repo.CustomerIDsWithBalance(ctx)
	if err != nil {
		return nil, err
	}
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]*PriorityScore, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, id := range ids {
		g.Go(func() error {
			score, err := s.Score(gctx, id)
			if err != nil {
				errs[i] = fmt.Errorf("customer %d: %w", id, err)
				return nil
			}
			results[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := &RefreshSummary{}
	for i, score := range results {
		if errs[i] != nil {
			summary.Errors = append(summary.Errors, errs[i].Error())
			continue
		}
		if err := s.repo.SetPriority(ctx, score.CustomerID, PriorityLevelFor(score.Composite)); err != nil {
			summary.Errors = append(summary.Errors, fmt.Errorf("customer %d: persist priority: %w", score.CustomerID, err).Error())
			continue
		}
		s.warmCache(ctx, score)
		summary.Scored++
	}
	return summary, nil
}

// PrioritizedQueue scores every customer with a balance and returns those at
// or above minScore, highest first, capped at limit.
func (s *Scorer) PrioritizedQueue(ctx context.Context, limit int, minScore float64) ([]PriorityScore, error) {
	ids, err := s.repo.CustomerIDsWithBalance(ctx)
	if err != nil {
		return nil, err
	}
	var queue []PriorityScore
	for _, id := range ids {
		score, err := s.Score(ctx, id)
		if err != nil {
			return nil, err
		}
		if score.Composite >= minScore {
			queue = append(queue, *score)
		}
	}
	sortScoresDesc(queue)
	if limit > 0 && len(queue) > limit {
		queue = queue[:limit]
	}
	return queue, nil
}

func sortScoresDesc(scores []PriorityScore) {
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && scores[j].Composite > scores[j-1].Composite; j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
}
