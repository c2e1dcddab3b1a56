package dispenser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStateMachine() *StateMachine {
	sm := NewStateMachine(zap.NewNop())
	sm.AddTransition(Transition{From: StateIdle, Event: EventTagResolved, To: StateRecipeLoaded})
	sm.AddTransition(Transition{From: StateRecipeLoaded, Event: EventCupPresent, To: StatePouring})
	sm.AddTransition(Transition{From: StatePouring, Event: EventCupRemoved, To: StateError})
	return sm
}

// TestTrigger 合法事件执行转换
func TestTrigger(t *testing.T) {
	sm := newTestStateMachine()
	require.Equal(t, StateIdle, sm.GetState())

	require.NoError(t, sm.Trigger(context.Background(), EventTagResolved))
	assert.Equal(t, StateRecipeLoaded, sm.GetState())
}

// TestTriggerInvalid 非法事件保持原状态
func TestTriggerInvalid(t *testing.T) {
	sm := newTestStateMachine()

	err := sm.Trigger(context.Background(), EventCupRemoved)
	require.Error(t, err)
	assert.Equal(t, StateIdle, sm.GetState())
}

// TestTriggerActionFailure 转换动作失败时保持原状态
func TestTriggerActionFailure(t *testing.T) {
	sm := NewStateMachine(zap.NewNop())
	sm.AddTransition(Transition{
		From:  StateIdle,
		Event: EventTagResolved,
		To:    StateRecipeLoaded,
		Action: func(ctx context.Context) error {
			return assert.AnError
		},
	})

	err := sm.Trigger(context.Background(), EventTagResolved)
	require.Error(t, err)
	assert.Equal(t, StateIdle, sm.GetState())
}

// TestCanTransition 事件可达性检查
func TestCanTransition(t *testing.T) {
	sm := newTestStateMachine()

	assert.True(t, sm.CanTransition(EventTagResolved))
	assert.False(t, sm.CanTransition(EventCupRemoved))
}

// TestOnStateChangeCallback 状态变更回调收到新旧状态和事件
func TestOnStateChangeCallback(t *testing.T) {
	sm := newTestStateMachine()

	var gotFrom, gotTo State
	var gotEvent string
	sm.OnStateChange(func(from, to State, event string) {
		gotFrom, gotTo, gotEvent = from, to, event
	})

	require.NoError(t, sm.Trigger(context.Background(), EventTagResolved))
	assert.Equal(t, StateIdle, gotFrom)
	assert.Equal(t, StateRecipeLoaded, gotTo)
	assert.Equal(t, EventTagResolved, gotEvent)
}

// TestReset 复位强制回到待机
func TestReset(t *testing.T) {
	sm := newTestStateMachine()
	require.NoError(t, sm.Trigger(context.Background(), EventTagResolved))
	require.NoError(t, sm.Trigger(context.Background(), EventCupPresent))
	require.Equal(t, StatePouring, sm.GetState())

	sm.Reset()
	assert.Equal(t, StateIdle, sm.GetState())
}
