package protocol

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/crawld/internal/game"
)

type stubAction struct {
	note string
}

func (s stubAction) Validate(game.Context) error {
	return nil
}

func (s stubAction) Execute(game.Context) (game.Outcome, error) {
	return game.Outcome{Events: []string{s.note}}, nil
}

func TestCodecRegisterAndDecode(t *testing.T) {
	c := NewCodec()
	require.NoError(t, c.Register("wave", func(params json.RawMessage) (game.Action, error) {
		var p struct {
			At string `json:"at"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return stubAction{note: "waves at " + p.At}, nil
	}))

	a, err := c.Decode("wave", json.RawMessage(`{"at":"the ghoul"}`))
	require.NoError(t, err)

	out, err := a.Execute(game.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"waves at the ghoul"}, out.Events)
}

func TestCodecUnknownAction(t *testing.T) {
	c := NewCodec()
	_, err := c.Decode("summon_dragon", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestCodecFactoryErrorIsWrapped(t *testing.T) {
	c := NewCodec()
	require.NoError(t, c.Register("bad", func(json.RawMessage) (game.Action, error) {
		return nil, fmt.Errorf("params did not parse")
	}))

	_, err := c.Decode("bad", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownAction)
	assert.Contains(t, err.Error(), `"bad"`)
}

func TestCodecRejectsDuplicates(t *testing.T) {
	c := NewCodec()
	factory := func(json.RawMessage) (game.Action, error) { return stubAction{}, nil }

	require.NoError(t, c.Register("move", factory))
	assert.Error(t, c.Register("move", factory))
}

func TestCodecRejectsEmptyTypeAndNilFactory(t *testing.T) {
	c := NewCodec()
	assert.Error(t, c.Register("", func(json.RawMessage) (game.Action, error) { return stubAction{}, nil }))
	assert.Error(t, c.Register("move", nil))
}

func TestCodecMustRegisterPanicsOnDuplicate(t *testing.T) {
	c := NewCodec()
	factory := func(json.RawMessage) (game.Action, error) { return stubAction{}, nil }

	c.MustRegister("move", factory)
	assert.Panics(t, func() {
		c.MustRegister("move", factory)
	})
}

func TestCodecTypesSorted(t *testing.T) {
	c := NewCodec()
	factory := func(json.RawMessage) (game.Action, error) { return stubAction{}, nil }
	c.MustRegister("wait", factory)
	c.MustRegister("attack", factory)
	c.MustRegister("move", factory)

	assert.Equal(t, []string{"attack", "move", "wait"}, c.Types())
}

func TestCodecConcurrentAccess(t *testing.T) {
	c := NewCodec()
	factory := func(json.RawMessage) (game.Action, error) { return stubAction{}, nil }
	c.MustRegister("move", factory)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = c.Register(fmt.Sprintf("action_%d", n), factory)
		}(i)
		go func() {
			defer wg.Done()
			if _, err := c.Decode("move", nil); err != nil {
				t.Errorf("decode failed: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.Types(), 17)
}
