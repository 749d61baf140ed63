package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowAll = Policy{Allow: []string{"*"}}

func echoTool() Definition {
	return Definition{
		Name:        "echo",
		Description: "Echo the input back.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}
}

func TestPolicy(t *testing.T) {
	t.Run("should deny everything with an empty allow list", func(t *testing.T) {
		assert.False(t, Policy{}.IsAllowed("read_file"))
	})

	t.Run("should allow wildcard", func(t *testing.T) {
		assert.True(t, allowAll.IsAllowed("anything"))
	})

	t.Run("should let deny override allow", func(t *testing.T) {
		p := Policy{Allow: []string{"*"}, Deny: []string{"exec"}}
		assert.True(t, p.IsAllowed("read_file"))
		assert.False(t, p.IsAllowed("exec"))
	})

	t.Run("should match explicit allow entries", func(t *testing.T) {
		p := Policy{Allow: []string{"read_file"}}
		assert.True(t, p.IsAllowed("read_file"))
		assert.False(t, p.IsAllowed("write_file"))
	})
}

func TestRegistryRegister(t *testing.T) {
	t.Run("should reject duplicate names", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(echoTool()))
		assert.Error(t, r.Register(echoTool()))
	})

	t.Run("should reject definitions without a handler", func(t *testing.T) {
		r := NewRegistry(time.Second)
		err := r.Register(Definition{Name: "broken", Description: "x"})
		assert.Error(t, err)
	})

	t.Run("should reject invalid parameter types", func(t *testing.T) {
		r := NewRegistry(time.Second)
		err := r.Register(Definition{
			Name:        "broken",
			Description: "x",
			Parameters:  []Parameter{{Name: "p", Type: "uuid", Description: "d"}},
			Handler:     func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
		})
		assert.Error(t, err)
	})
}

func TestRegistryDefinitions(t *testing.T) {
	r := NewRegistry(time.Second)
	require.NoError(t, r.Register(echoTool()))
	require.NoError(t, r.Register(Definition{
		Name:        "noop",
		Description: "Do nothing.",
		Handler:     func(context.Context, map[string]interface{}) (interface{}, error) { return nil, nil },
	}))

	t.Run("should expose schemas for allowed tools", func(t *testing.T) {
		defs := r.Definitions(allowAll)
		require.Len(t, defs, 2)
		assert.Equal(t, "echo", defs[0].Name)
		assert.Equal(t, "noop", defs[1].Name)

		schema := defs[0].InputSchema
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, []string{"text"}, schema["required"])
	})

	t.Run("should filter by policy", func(t *testing.T) {
		defs := r.Definitions(Policy{Allow: []string{"noop"}})
		require.Len(t, defs, 1)
		assert.Equal(t, "noop", defs[0].Name)
	})
}

func TestRegistryExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("should run an allowed tool", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(echoTool()))

		result := r.Execute(ctx, "echo", map[string]interface{}{"text": "hello"}, allowAll)
		require.True(t, result.Success)
		assert.Equal(t, "hello", result.Data)
	})

	t.Run("should block a denied tool", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(echoTool()))

		result := r.Execute(ctx, "echo", map[string]interface{}{"text": "hi"}, Policy{})
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not allowed")
	})

	t.Run("should report unknown tools", func(t *testing.T) {
		r := NewRegistry(time.Second)
		result := r.Execute(ctx, "ghost", nil, allowAll)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "tool not found")
	})

	t.Run("should reject arguments missing required fields", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(echoTool()))

		result := r.Execute(ctx, "echo", map[string]interface{}{}, allowAll)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "validation")
	})

	t.Run("should reject unexpected arguments", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(echoTool()))

		result := r.Execute(ctx, "echo", map[string]interface{}{"text": "x", "extra": true}, allowAll)
		assert.False(t, result.Success)
	})

	t.Run("should surface handler errors in the result", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(Definition{
			Name:        "fail",
			Description: "Always fails.",
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				return nil, errors.New("boom")
			},
		}))

		result := r.Execute(ctx, "fail", nil, allowAll)
		assert.False(t, result.Success)
		assert.Equal(t, "boom", result.Error)
	})

	t.Run("should time out a stuck handler", func(t *testing.T) {
		r := NewRegistry(50 * time.Millisecond)
		require.NoError(t, r.Register(Definition{
			Name:        "sleep",
			Description: "Sleeps forever.",
			Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
				<-ctx.Done()
				time.Sleep(10 * time.Second)
				return nil, ctx.Err()
			},
		}))

		start := time.Now()
		result := r.Execute(ctx, "sleep", nil, allowAll)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "timeout")
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("should truncate oversized string output", func(t *testing.T) {
		r := NewRegistry(time.Second)
		require.NoError(t, r.Register(Definition{
			Name:        "big",
			Description: "Returns a lot of text.",
			Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
				out := make([]byte, 20*1024)
				for i := range out {
					out[i] = 'a'
				}
				return string(out), nil
			},
		}))

		result := r.Execute(ctx, "big", nil, allowAll)
		require.True(t, result.Success)
		assert.True(t, result.Truncated)
		assert.Contains(t, result.Data.(string), "[output truncated]")
	})
}
