package decision

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/tuner/internal/domain/audit"
	"github.com/alexisbeaulieu97/tuner/internal/domain/cluster"
	"github.com/alexisbeaulieu97/tuner/internal/domain/efficacy"
	"github.com/alexisbeaulieu97/tuner/internal/domain/solution"
	"github.com/alexisbeaulieu97/tuner/internal/domain/strategy"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/catalog"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/clustermodel"
	"github.com/alexisbeaulieu97/tuner/internal/infrastructure/store/memory"
	"github.com/alexisbeaulieu97/tuner/internal/ports"
)

// funcStrategy lets each test script the four phases.
type funcStrategy struct {
	pre    func(ctx context.Context) error
	do     func(ctx context.Context) ([]solution.ProposedAction, error)
	post   func(ctx context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error)
	global func(indicators []efficacy.Indicator) (efficacy.Global, error)

	mu    sync.Mutex
	calls []string
}

func (s *funcStrategy) record(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, phase)
}

func (s *funcStrategy) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *funcStrategy) PreExecute(ctx context.Context) error {
	s.record(PhasePreExecute)
	if s.pre != nil {
		return s.pre(ctx)
	}
	return nil
}

func (s *funcStrategy) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	s.record(PhaseDoExecute)
	if s.do != nil {
		return s.do(ctx)
	}
	return nopActions(1), nil
}

func (s *funcStrategy) PostExecute(ctx context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	s.record(PhasePostExecute)
	if s.post != nil {
		return s.post(ctx, actions)
	}
	return []efficacy.Indicator{{Name: "action_count", Value: float64(len(actions))}}, nil
}

func (s *funcStrategy) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	s.record(PhaseGlobalEfficacy)
	if s.global != nil {
		return s.global(indicators)
	}
	return efficacy.Global{Name: "score", Unit: "%", Value: 10 * efficacy.Set(indicators).Value("action_count")}, nil
}

// mockStrategy is a testify mock used where call expectations matter.
type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) PreExecute(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStrategy) DoExecute(ctx context.Context) ([]solution.ProposedAction, error) {
	args := m.Called(ctx)
	actions, _ := args.Get(0).([]solution.ProposedAction)
	return actions, args.Error(1)
}

func (m *mockStrategy) PostExecute(ctx context.Context, actions []solution.ProposedAction) ([]efficacy.Indicator, error) {
	args := m.Called(ctx, actions)
	indicators, _ := args.Get(0).([]efficacy.Indicator)
	return indicators, args.Error(1)
}

func (m *mockStrategy) ComputeGlobalEfficacy(indicators []efficacy.Indicator) (efficacy.Global, error) {
	args := m.Called(indicators)
	global, _ := args.Get(0).(efficacy.Global)
	return global, args.Error(1)
}

func nopActions(n int) []solution.ProposedAction {
	out := make([]solution.ProposedAction, n)
	for i := range out {
		out[i] = solution.ProposedAction{
			Type:       solution.ActionNop,
			ResourceID: "node-" + string(rune('a'+i)),
			Parameters: map[string]interface{}{"message": "step"},
		}
	}
	return out
}

func descriptor(id string, priority int, goals ...string) strategy.Descriptor {
	return strategy.Descriptor{ID: id, DisplayName: id, Goals: goals, Priority: priority}
}

func factoryFor(s strategy.Strategy) strategy.Factory {
	return func(*cluster.Model, map[string]interface{}) (strategy.Strategy, error) { return s, nil }
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ports.DomainEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e ports.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Subscribe(string, ports.EventHandler) (ports.Subscription, error) {
	return nil, nil
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType()
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	gauge    float64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: make(map[string]int)}
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := name
	for _, l := range []string{"status", "phase", "action_type"} {
		if v, ok := labels[l]; ok {
			key += "|" + v
		}
	}
	m.counters[key]++
}

func (m *recordingMetrics) AddGauge(_ context.Context, _ string, delta float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauge += delta
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

type fixture struct {
	store    *memory.Store
	catalog  *catalog.Registry
	models   *clustermodel.StaticProvider
	events   *recordingPublisher
	metrics  *recordingMetrics
	selector *Selector
	planner  *Planner
	runner   *Runner
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	strict     bool
	planStore  ports.PlanStore
	auditStore ports.AuditStore
}

func withStrict() fixtureOption {
	return func(c *fixtureConfig) { c.strict = true }
}

func withPlanStore(s ports.PlanStore) fixtureOption {
	return func(c *fixtureConfig) { c.planStore = s }
}

func testModel(t *testing.T) *cluster.Model {
	t.Helper()
	m, err := cluster.NewModel(cluster.Snapshot{
		Nodes: []cluster.Node{
			{ID: "n1", Capacity: cluster.Resources{VCPUs: 8}},
			{ID: "n2", Capacity: cluster.Resources{VCPUs: 8}},
		},
	})
	require.NoError(t, err)
	return m
}

func withAuditStore(s ports.AuditStore) fixtureOption {
	return func(c *fixtureConfig) { c.auditStore = s }
}

func newFixtureWithStore(t *testing.T, store *memory.Store, opts ...fixtureOption) *fixture {
	t.Helper()
	cfg := fixtureConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.planStore == nil {
		cfg.planStore = store
	}
	if cfg.auditStore == nil {
		cfg.auditStore = store
	}

	f := &fixture{
		store:   store,
		catalog: catalog.NewRegistry(),
		models:  clustermodel.NewStaticProvider(testModel(t)),
		events:  &recordingPublisher{},
		metrics: newRecordingMetrics(),
	}

	var err error
	f.selector, err = NewSelector(f.catalog, f.models, WithStrictGoals(cfg.strict))
	require.NoError(t, err)
	f.planner = NewPlanner(cfg.planStore)
	f.runner = NewRunner(cfg.auditStore, f.selector, f.planner,
		WithEvents(f.events),
		WithMetrics(f.metrics),
		WithParallelism(2),
	)
	f.runner.settleBackoff = 0
	return f
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	return newFixtureWithStore(t, memory.New(), opts...)
}

func (f *fixture) register(t *testing.T, desc strategy.Descriptor, s strategy.Strategy) {
	t.Helper()
	require.NoError(t, f.catalog.Register(desc, factoryFor(s)))
}

func (f *fixture) create(t *testing.T, goal, strategyID string) *audit.Audit {
	t.Helper()
	a, err := f.runner.Create(context.Background(), CreateRequest{Goal: goal, StrategyID: strategyID})
	require.NoError(t, err)
	return a
}

func (f *fixture) audit(t *testing.T, id string) *audit.Audit {
	t.Helper()
	a, err := f.store.GetAudit(context.Background(), id)
	require.NoError(t, err)
	return a
}
