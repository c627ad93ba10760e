package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

var _ repository.CatalogRepo = (*Store)(nil)
var _ repository.QueueRepo = (*Store)(nil)
var _ repository.KVRepo = (*Store)(nil)

// Store is an in-memory stand-in for the SQLite repository. The *Err fields
// make the matching operation fail.
type Store struct {
	mu        sync.Mutex
	forms     []models.Form
	questions map[string][]models.Question
	queue     []models.QueueRow
	nextKey   int64
	kv        map[string]string

	SaveFormsErr  error
	GetFormsErr   error
	EnqueueErr    error
	ListQueueErr  error
	UpdateErr     error
	DeleteErr     error
	CountErr      error
	SetValueErr   error
	ClearValueErr error

	// Updates records every UpdatePayload call in order.
	Updates []int64
}

func New() *Store {
	return &Store{questions: map[string][]models.Question{}, kv: map[string]string{}}
}

func (s *Store) SaveForms(_ context.Context, forms []models.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveFormsErr != nil {
		return s.SaveFormsErr
	}
	s.forms = append([]models.Form(nil), forms...)
	return nil
}

func (s *Store) GetForms(_ context.Context) ([]models.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetFormsErr != nil {
		return nil, s.GetFormsErr
	}
	out := append([]models.Form{}, s.forms...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].FormName < out[j].FormName })
	return out, nil
}

func (s *Store) SaveQuestions(_ context.Context, formID string, items []models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[formID] = append([]models.Question{}, items...)
	return nil
}

func (s *Store) GetQuestions(_ context.Context, formID string) ([]models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Question{}, s.questions[formID]...), nil
}

// Seed appends rows directly, bypassing Enqueue. Used to plant legacy payloads.
func (s *Store) Seed(payloads ...models.QueuedSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range payloads {
		s.nextKey++
		s.queue = append(s.queue, models.QueueRow{Key: s.nextKey, EnqueuedAt: time.Now().UTC(), Payload: p})
	}
}

func (s *Store) Enqueue(_ context.Context, payload models.QueuedSubmission) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EnqueueErr != nil {
		return 0, s.EnqueueErr
	}
	s.nextKey++
	s.queue = append(s.queue, models.QueueRow{Key: s.nextKey, EnqueuedAt: time.Now().UTC(), Payload: payload})
	return s.nextKey, nil
}

func (s *Store) ListQueue(_ context.Context) ([]models.QueueRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListQueueErr != nil {
		return nil, s.ListQueueErr
	}
	return append([]models.QueueRow{}, s.queue...), nil
}

func (s *Store) UpdatePayload(_ context.Context, key int64, payload models.QueuedSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	for i := range s.queue {
		if s.queue[i].Key == key {
			s.queue[i].Payload = payload
			s.Updates = append(s.Updates, key)
			return nil
		}
	}
	return nil
}

func (s *Store) DeleteQueued(_ context.Context, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for i := range s.queue {
		if s.queue[i].Key == key {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) CountQueued(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	return int64(len(s.queue)), nil
}

func (s *Store) GetValue(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok, nil
}

func (s *Store) SetValue(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetValueErr != nil {
		return s.SetValueErr
	}
	s.kv[key] = value
	return nil
}

func (s *Store) ClearValues(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClearValueErr != nil {
		return s.ClearValueErr
	}
	s.kv = map[string]string{}
	return nil
}
