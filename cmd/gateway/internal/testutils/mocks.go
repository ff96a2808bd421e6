package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shubham-shewale/stock-pulse/pkg/models"
)

// Frame is a decoded outbound message; it has the union of all message fields.
type Frame struct {
	Type          string             `json:"type"`
	Ticker        string             `json:"ticker"`
	Price         float64            `json:"price"`
	Timestamp     string             `json:"timestamp"`
	Seq           int64              `json:"seq"`
	Prices        map[string]float64 `json:"prices"`
	Subscriptions []string           `json:"subscriptions"`
	Message       string             `json:"message"`
}

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal          string
	Messages       []Frame // every frame, in send order
	IsClosed       bool
	SentAfterClose int
	Mu             sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]Frame, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.IsClosed = true
}

func (m *MockClient) Closed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.IsClosed
}

func (m *MockClient) SendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	m.SendBytes(b)
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		f = Frame{Type: "raw", Message: string(b)}
	}
	if m.IsClosed {
		m.SentAfterClose++
	}
	m.Messages = append(m.Messages, f)
}

func (m *MockClient) Frames() []Frame {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]Frame(nil), m.Messages...)
}

func (m *MockClient) FramesOfType(typ string) []Frame {
	var out []Frame
	for _, f := range m.Frames() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

func (m *MockClient) Reset() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Messages = m.Messages[:0]
}

// StaticPrices is a fixed PriceSource.
type StaticPrices map[string]float64

func (s StaticPrices) Price(ticker string) (float64, bool) {
	p, ok := s[ticker]
	return p, ok
}

type MockClock struct {
	CurrentTime time.Time
	Slept       time.Duration
	Mu          sync.Mutex
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}

func (m *MockClock) Sleep(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Slept += d
	m.CurrentTime = m.CurrentTime.Add(d)
}

type MockRand struct {
	ValFloat float64
}

func (m *MockRand) Float64() float64 { return m.ValFloat }

// TickRecorder collects generator output.
type TickRecorder struct {
	updates []models.StockUpdate
	mu      sync.Mutex
}

func (r *TickRecorder) OnTick(u models.StockUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *TickRecorder) Updates() []models.StockUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.StockUpdate(nil), r.updates...)
}

// MockUserStore is an in-memory UserStore that can be told to fail.
type MockUserStore struct {
	Records    []models.UserRecord
	SaveCount  int
	FailSaves  int // number of upcoming saves that return an error
	LoadErr    error
	Mu         sync.Mutex
	savedCalls chan struct{}
}

func NewMockUserStore() *MockUserStore {
	return &MockUserStore{savedCalls: make(chan struct{}, 100)}
}

func (m *MockUserStore) LoadUsers(ctx context.Context) ([]models.UserRecord, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return append([]models.UserRecord(nil), m.Records...), nil
}

func (m *MockUserStore) SaveUsers(ctx context.Context, records []models.UserRecord) error {
	m.Mu.Lock()
	defer func() {
		m.Mu.Unlock()
		select {
		case m.savedCalls <- struct{}{}:
		default:
		}
	}()
	m.SaveCount++
	if m.FailSaves > 0 {
		m.FailSaves--
		return errors.New("disk full")
	}
	m.Records = append([]models.UserRecord(nil), records...)
	return nil
}

func (m *MockUserStore) Close() error { return nil }

// WaitSave blocks until a SaveUsers call happened or the timeout passed.
func (m *MockUserStore) WaitSave(timeout time.Duration) bool {
	select {
	case <-m.savedCalls:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (m *MockUserStore) Saves() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.SaveCount
}

func (m *MockUserStore) Stored() []models.UserRecord {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]models.UserRecord(nil), m.Records...)
}

// Eventually polls cond until it holds or the timeout passes.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("Condition not met within %s: %s", timeout, msg)
}
