package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/orchestry/missiond/internal/domain"
	"github.com/orchestry/missiond/internal/domain/approval"
	"github.com/orchestry/missiond/internal/domain/checkpoint"
	"github.com/orchestry/missiond/internal/domain/cost"
	"github.com/orchestry/missiond/internal/domain/event"
	"github.com/orchestry/missiond/internal/domain/mission"
	"github.com/orchestry/missiond/internal/port/collaborator"
	"github.com/orchestry/missiond/internal/port/database"
)

// fakeStore is an in-memory database.Store for service tests.
type fakeStore struct {
	mu         sync.Mutex
	missions   map[string]*mission.Mission
	rounds     map[string][]mission.Round
	costs      map[string][]cost.Entry
	workflows  map[string]*approval.Workflow
	requests   map[string]*approval.Request
	steps      map[string][]approval.StepState
	decisions  map[string][]approval.Decision
	events     []event.Event
	createdSeq []string

	stepTrail map[string][]approval.StepStatus // requestID/stepID -> status history

	// onRequestCreated, when set, runs synchronously after a request
	// commits, before the caller regains control.
	onRequestCreated func(req *approval.Request)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		missions:  make(map[string]*mission.Mission),
		rounds:    make(map[string][]mission.Round),
		costs:     make(map[string][]cost.Entry),
		workflows: make(map[string]*approval.Workflow),
		requests:  make(map[string]*approval.Request),
		steps:     make(map[string][]approval.StepState),
		decisions: make(map[string][]approval.Decision),
		stepTrail: make(map[string][]approval.StepStatus),
	}
}

func (f *fakeStore) CreateMission(_ context.Context, m *mission.Mission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	f.missions[m.ID] = &cp
	f.createdSeq = append(f.createdSeq, m.ID)
	return nil
}

func (f *fakeStore) GetMission(_ context.Context, id string) (*mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return nil, fmt.Errorf("mission %s: %w", id, domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) ListMissions(_ context.Context, limit int) ([]mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mission.Mission
	for i := len(f.createdSeq) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, *f.missions[f.createdSeq[i]])
	}
	return out, nil
}

func (f *fakeStore) UpdateMissionStatus(_ context.Context, id string, status mission.Status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	m.Error = errMsg
	if status.IsTerminal() && m.CompletedAt == nil {
		now := time.Now().UTC()
		m.CompletedAt = &now
	}
	return nil
}

func (f *fakeStore) UpdateMissionProgress(_ context.Context, id string, round int, costUSD float64, artifacts []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Round = round
	m.CostUSD = costUSD
	m.Artifacts = artifacts
	return nil
}

func (f *fakeStore) SetMissionApprovalRequest(_ context.Context, id, requestID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.missions[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.ApprovalRequestID = requestID
	return nil
}

func (f *fakeStore) GetMissionByApprovalRequest(_ context.Context, requestID string) (*mission.Mission, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.missions {
		if m.ApprovalRequestID == requestID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeStore) AppendRound(_ context.Context, r *mission.Round) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rounds[r.MissionID] = append(f.rounds[r.MissionID], *r)
	return nil
}

func (f *fakeStore) ListRounds(_ context.Context, missionID string) ([]mission.Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mission.Round(nil), f.rounds[missionID]...), nil
}

func (f *fakeStore) AppendCostEntry(_ context.Context, missionID string, e *cost.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.costs[missionID] = append(f.costs[missionID], *e)
	return nil
}

func (f *fakeStore) CostSummaryByMission(_ context.Context, missionID string) (*database.MissionCostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &database.MissionCostSummary{MissionID: missionID}
	for _, e := range f.costs[missionID] {
		s.TotalCostUSD += e.CostUSD
		s.TotalTokensIn += e.TokensIn
		s.TotalTokensOut += e.TokensOut
		s.CallCount++
	}
	return s, nil
}

func (f *fakeStore) CostByModel(_ context.Context, missionID string) ([]database.ModelCostSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	byModel := make(map[string]*database.ModelCostSummary)
	for _, e := range f.costs[missionID] {
		s, ok := byModel[e.Model]
		if !ok {
			s = &database.ModelCostSummary{Model: e.Model}
			byModel[e.Model] = s
		}
		s.TotalCostUSD += e.CostUSD
		s.TotalTokensIn += e.TokensIn
		s.TotalTokensOut += e.TokensOut
		s.CallCount++
	}
	var out []database.ModelCostSummary
	for _, s := range byModel {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalCostUSD > out[j].TotalCostUSD })
	return out, nil
}

func (f *fakeStore) CostDaily(_ context.Context, _ int) ([]database.DailyCost, error) {
	return nil, nil
}

func (f *fakeStore) CreateWorkflow(_ context.Context, wf *approval.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *wf
	f.workflows[wf.ID] = &cp
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, id string) (*approval.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	cp := *wf
	return &cp, nil
}

func (f *fakeStore) ListWorkflows(_ context.Context) ([]approval.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []approval.Workflow
	for _, wf := range f.workflows {
		out = append(out, *wf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateRequest(_ context.Context, req *approval.Request, steps []approval.StepState) error {
	f.mu.Lock()
	cp := *req
	f.requests[req.ID] = &cp
	f.steps[req.ID] = append(f.steps[req.ID], steps...)
	hook := f.onRequestCreated
	f.mu.Unlock()
	if hook != nil {
		hook(req)
	}
	return nil
}

func (f *fakeStore) GetRequest(_ context.Context, id string) (*approval.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, domain.ErrNotFound)
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) ListOpenRequests(_ context.Context) ([]approval.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []approval.Request
	for _, req := range f.requests {
		if req.Status == approval.RequestPending {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateRequestStatus(_ context.Context, id string, status approval.RequestStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	req.Status = status
	return nil
}

func (f *fakeStore) InsertStepStates(_ context.Context, states []approval.StepState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range states {
		f.steps[st.RequestID] = append(f.steps[st.RequestID], st)
	}
	return nil
}

func (f *fakeStore) UpdateStepState(_ context.Context, st *approval.StepState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	states := f.steps[st.RequestID]
	for i := range states {
		if states[i].StepID == st.StepID {
			states[i] = *st
			key := st.RequestID + "/" + st.StepID
			f.stepTrail[key] = append(f.stepTrail[key], st.Status)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeStore) ListStepStates(_ context.Context, requestID string) ([]approval.StepState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approval.StepState(nil), f.steps[requestID]...), nil
}

func (f *fakeStore) ListExpiredSteps(_ context.Context, now time.Time) ([]approval.StepState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []approval.StepState
	for reqID, states := range f.steps {
		req := f.requests[reqID]
		if req == nil || req.Status != approval.RequestPending {
			continue
		}
		for _, st := range states {
			if st.Status == approval.StepAwaitingDecision && !st.Deadline.After(now) {
				out = append(out, st)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) AppendDecision(_ context.Context, d *approval.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decisions[d.RequestID] = append(f.decisions[d.RequestID], *d)
	return nil
}

func (f *fakeStore) ListDecisions(_ context.Context, requestID string) ([]approval.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]approval.Decision(nil), f.decisions[requestID]...), nil
}

func (f *fakeStore) AppendEvent(_ context.Context, ev *event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeStore) ListEventsByMission(_ context.Context, missionID string) ([]event.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, ev := range f.events {
		if ev.MissionID == missionID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeStore) Close() error { return nil }

// fakeCheckpoints is an in-memory checkpoint store.
type fakeCheckpoints struct {
	mu    sync.Mutex
	saved map[string]*checkpoint.Checkpoint
	fails bool
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{saved: make(map[string]*checkpoint.Checkpoint)}
}

func (f *fakeCheckpoints) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails {
		return fmt.Errorf("checkpoint store unavailable")
	}
	c := *cp
	f.saved[cp.MissionID] = &c
	return nil
}

func (f *fakeCheckpoints) Load(_ context.Context, missionID string) (*checkpoint.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.saved[missionID]
	if !ok {
		return nil, nil
	}
	c := *cp
	return &c, nil
}

func (f *fakeCheckpoints) Clear(_ context.Context, missionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, missionID)
	return nil
}

func (f *fakeCheckpoints) get(missionID string) *checkpoint.Checkpoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[missionID]
}

// scriptedClient returns canned collaborator responses in order. When
// the script is exhausted the last response repeats.
type scriptedClient struct {
	mu       sync.Mutex
	script   []collaborator.Response
	errs     map[int]error // by call index
	calls    []collaborator.Request
	callGate chan struct{} // optional: each call blocks until a tick
}

func (c *scriptedClient) Complete(ctx context.Context, req collaborator.Request) (*collaborator.Response, error) {
	if c.callGate != nil {
		select {
		case <-c.callGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := len(c.calls)
	c.calls = append(c.calls, req)
	if err, ok := c.errs[i]; ok {
		return nil, err
	}
	if len(c.script) == 0 {
		return nil, fmt.Errorf("scripted client has no responses")
	}
	if i >= len(c.script) {
		i = len(c.script) - 1
	}
	resp := c.script[i]
	return &resp, nil
}

func (c *scriptedClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// captureSink records emitted events.
type captureSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *captureSink) Emit(_ context.Context, ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
}

func (s *captureSink) typesSeen() map[event.Type]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[event.Type]int)
	for _, ev := range s.events {
		out[ev.Type]++
	}
	return out
}

// memCache is a trivial cache.Cache.
type memCache struct {
	mu sync.Mutex
	m  map[string][]byte
}

func newMemCache() *memCache { return &memCache{m: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
