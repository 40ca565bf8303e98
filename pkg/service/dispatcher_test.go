package service_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
)

type recordingSink struct {
	mu  sync.Mutex
	got []service.Transition
}

func (s *recordingSink) Deliver(t service.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, t)
	return nil
}

func (s *recordingSink) transitions() []service.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]service.Transition, len(s.got))
	copy(out, s.got)
	return out
}

func TestDispatcher(t *testing.T) {
	t.Run("DeliversToAllSinks", func(t *testing.T) {
		d := service.NewDispatcher(logger{}, 16)
		sink1 := &recordingSink{}
		sink2 := &recordingSink{}
		d.RegisterSink(sink1)
		d.RegisterSink(sink2)
		d.Start(2)

		for i := 0; i < 10; i++ {
			d.OnTransition(service.Transition{RunID: "r-1", ToStage: "review", Outcome: models.OutcomeAuto})
		}
		d.Stop()

		assert.Len(t, sink1.transitions(), 10)
		assert.Len(t, sink2.transitions(), 10)
	})

	t.Run("FailingSinkDoesNotBlockOthers", func(t *testing.T) {
		d := service.NewDispatcher(logger{}, 16)
		failing := service.SinkFunc(func(tr service.Transition) error {
			return errors.New("smtp down")
		})
		sink := &recordingSink{}
		d.RegisterSink(failing)
		d.RegisterSink(sink)
		d.Start(1)

		d.OnTransition(service.Transition{RunID: "r-1", ToStage: "review"})
		d.Stop()

		assert.Len(t, sink.transitions(), 1)
	})

	t.Run("StopDrainsQueue", func(t *testing.T) {
		d := service.NewDispatcher(logger{}, 64)
		sink := &recordingSink{}
		d.RegisterSink(sink)
		d.Start(1)

		for i := 0; i < 50; i++ {
			d.OnTransition(service.Transition{RunID: "r-1", ToStage: "review"})
		}
		d.Stop()

		assert.Len(t, sink.transitions(), 50)
	})
}
