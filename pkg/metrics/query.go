package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// ThroughputReport aggregates pipeline throughput over a window.
type ThroughputReport struct {
	Approved   int64 `json:"approved"`
	Escalated  int64 `json:"escalated"`
	Rejected   int64 `json:"rejected"`
	Dispatched int64 `json:"dispatched"`
}

// QueryService queries recorded metrics back out of a Prometheus server for
// operator reporting.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a metrics query service against a Prometheus URL.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{Address: prometheusURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{client: client, queryAPI: v1.NewAPI(client)}, nil
}

// GetThroughput returns gate-decision and dispatch totals accumulated over
// the given window.
func (q *QueryService) GetThroughput(ctx context.Context, window time.Duration) (*ThroughputReport, error) {
	report := &ThroughputReport{}

	decisions := map[string]*int64{
		"APPROVE":  &report.Approved,
		"ESCALATE": &report.Escalated,
		"REJECT":   &report.Rejected,
	}
	for decision, target := range decisions {
		query := fmt.Sprintf(`sum(increase(copydesk_gate_decisions_total{decision=%q}[%s]))`,
			decision, model.Duration(window).String())
		value, err := q.scalarQuery(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s decisions: %w", decision, err)
		}
		*target = value
	}

	dispatchQuery := fmt.Sprintf(`sum(increase(copydesk_tasks_dispatched_total[%s]))`,
		model.Duration(window).String())
	dispatched, err := q.scalarQuery(ctx, dispatchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches: %w", err)
	}
	report.Dispatched = dispatched

	return report, nil
}

// GetDispatchesByRole returns dispatch totals per worker role over the
// window.
func (q *QueryService) GetDispatchesByRole(ctx context.Context, window time.Duration) (map[string]int64, error) {
	query := fmt.Sprintf(`sum by (agent_role) (increase(copydesk_tasks_dispatched_total[%s]))`,
		model.Duration(window).String())
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatches by role: %w", err)
	}

	byRole := make(map[string]int64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if role, ok := sample.Metric["agent_role"]; ok {
				byRole[string(role)] = int64(sample.Value)
			}
		}
	}
	return byRole, nil
}

func (q *QueryService) scalarQuery(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}
