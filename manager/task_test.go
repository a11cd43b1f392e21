package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestState_Classification(t *testing.T) {
	tests := []struct {
		state    State
		active   bool
		terminal bool
	}{
		{StatePending, true, false},
		{StateProcessing, true, false},
		{StateTexturing, true, false},
		{StateConverting, true, false},
		{StateCompleted, false, true},
		{StateFailed, false, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.active, tt.state.IsActive())
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
		})
	}
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, StatePending.CanTransitionTo(StateProcessing))
	assert.True(t, StatePending.CanTransitionTo(StateConverting))
	assert.True(t, StateTexturing.CanTransitionTo(StateConverting))
	assert.True(t, StateConverting.CanTransitionTo(StateCompleted))
	assert.True(t, StateConverting.CanTransitionTo(StateFailed))

	assert.False(t, StatePending.CanTransitionTo(StateCompleted), "completion requires conversion")
	assert.False(t, StateConverting.CanTransitionTo(StateProcessing))
	assert.False(t, StateCompleted.CanTransitionTo(StateFailed))
	assert.False(t, StateFailed.CanTransitionTo(StateProcessing))
}

// 任意事件序列下：终态不再变化，Converting 之后不会回到轮询态，
// 且活跃集合与状态保持一致
func TestRegistry_TransitionsAreMonotonic(t *testing.T) {
	all := []State{StatePending, StateProcessing, StateTexturing, StateConverting, StateCompleted, StateFailed}
	rank := map[State]int{
		StatePending: 0, StateProcessing: 1, StateTexturing: 1,
		StateConverting: 2, StateCompleted: 3, StateFailed: 3,
	}

	rapid.Check(t, func(t *rapid.T) {
		r := newRegistry()
		if err := r.insert(&task{info: TaskInfo{ID: "t", State: StatePending}}); err != nil {
			t.Fatalf("insert: %v", err)
		}

		events := rapid.SliceOf(rapid.SampledFrom(all)).Draw(t, "events")
		prev := StatePending
		for _, to := range events {
			ch, ok := r.transition("t", to, nil)
			info, _ := r.get("t")
			if ok {
				if ch.from != prev {
					t.Fatalf("from = %s, want %s", ch.from, prev)
				}
				if rank[to] < rank[prev] {
					t.Fatalf("went backwards %s -> %s", prev, to)
				}
				prev = to
			}
			if prev.IsTerminal() && info.State != prev {
				t.Fatalf("left terminal state %s", prev)
			}
			_, active := r.counts()
			if (active == 1) != info.State.IsActive() {
				t.Fatalf("active set out of sync: state=%s active=%d", info.State, active)
			}
		}
	})
}

func TestDeriveOutputPath(t *testing.T) {
	assert.Equal(t, "/data/in/chair_hunyuan3d.usd", DeriveOutputPath("/data/in/chair.png"))
	assert.Equal(t, "/data/in/chair.v2_hunyuan3d.usd", DeriveOutputPath("/data/in/chair.v2.jpg"))
	assert.Equal(t, "noext_hunyuan3d.usd", DeriveOutputPath("noext"))
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "abc.glb", artifactName("abc"))
	assert.Equal(t, "a_b_c.glb", artifactName("a/b\\c"))
}
