package archive

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/germanamz/agentloop/pkg/chats/content"
	"github.com/germanamz/agentloop/pkg/chats/message"
	"github.com/germanamz/agentloop/pkg/chats/role"
	"github.com/germanamz/agentloop/pkg/fault"
	"github.com/germanamz/agentloop/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// stores returns one of each Repository implementation sharing clk.
func stores(t *testing.T, clk *clock) map[string]Repository {
	t.Helper()

	mem := NewMemory()
	mem.SetNowFunc(clk.Now)

	file, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "archive.db"))
	require.NoError(t, err)
	file.SetNowFunc(clk.Now)

	inMem, err := NewSQLite(MemoryPath)
	require.NoError(t, err)
	inMem.SetNowFunc(clk.Now)

	repos := map[string]Repository{"memory": mem, "sqlite": file, "sqlite-memory": inMem}
	t.Cleanup(func() {
		for _, r := range repos {
			_ = r.Close()
		}
	})
	return repos
}

func orderRecord(id string) Record {
	return Record{
		ID:        id,
		Status:    "completed",
		Turns:     2,
		FinalText: "Your order has shipped.",
		Usage:     usage.TokenCount{InputTokens: 310, OutputTokens: 42},
		Messages: []message.Message{
			message.NewText(role.User, "Where is order 42?"),
			message.New(role.Assistant, content.ToolCall{
				ID:    "a",
				Name:  "check_order_status",
				Input: json.RawMessage(`{"order_id":"42"}`),
			}),
			message.New(role.Tool, content.Success("a", json.RawMessage(`{"status":"shipped"}`))),
			message.NewText(role.Assistant, "Your order has shipped."),
		},
	}
}

func TestSaveGet(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, orderRecord("s1")))

			got, err := repo.Get(ctx, "s1")
			require.NoError(t, err)

			assert.Equal(t, "completed", got.Status)
			assert.Equal(t, 2, got.Turns)
			assert.Equal(t, "Your order has shipped.", got.FinalText)
			assert.Nil(t, got.Failure)
			assert.Equal(t, usage.TokenCount{InputTokens: 310, OutputTokens: 42}, got.Usage)
			assert.True(t, got.CreatedAt.Equal(clk.now))
			assert.True(t, got.UpdatedAt.Equal(clk.now))

			require.Len(t, got.Messages, 4)
			calls := got.Messages[1].ToolCalls()
			require.Len(t, calls, 1)
			assert.Equal(t, "check_order_status", calls[0].Name)
			results := got.Messages[2].ToolResults()
			require.Len(t, results, 1)
			assert.JSONEq(t, `{"status":"shipped"}`, string(results[0].Output))
		})
	}
}

func TestSaveFailure(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := Record{
				ID:      "s2",
				Status:  "failed",
				Turns:   1,
				Failure: &fault.Descriptor{Kind: fault.ModelInvocation, Message: "retries exhausted", Retryable: true},
			}
			require.NoError(t, repo.Save(ctx, rec))

			got, err := repo.Get(ctx, "s2")
			require.NoError(t, err)
			require.NotNil(t, got.Failure)
			assert.Equal(t, *rec.Failure, *got.Failure)
			assert.Empty(t, got.Messages)
		})
	}
}

func TestSaveReplaces(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, repo.Save(ctx, orderRecord("s1")))
			first, err := repo.Get(ctx, "s1")
			require.NoError(t, err)

			clk.Advance(time.Minute)
			updated := first
			updated.Status = "failed"
			require.NoError(t, repo.Save(ctx, updated))

			got, err := repo.Get(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, "failed", got.Status)
			assert.True(t, got.CreatedAt.Equal(first.CreatedAt))
			assert.True(t, got.UpdatedAt.After(first.UpdatedAt))
		})
	}
}

func TestGetNotFound(t *testing.T) {
	clk := &clock{now: time.Now()}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveEmptyID(t *testing.T) {
	clk := &clock{now: time.Now()}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, repo.Save(context.Background(), Record{Status: "completed"}))
		})
	}
}

func TestList(t *testing.T) {
	clk := &clock{now: time.UnixMilli(1_700_000_000_000)}

	for name, repo := range stores(t, clk) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := clk.now
			for i, id := range []string{"a", "b", "c"} {
				r := orderRecord(id)
				r.CreatedAt = base.Add(time.Duration(i) * time.Second)
				require.NoError(t, repo.Save(ctx, r))
			}

			all, err := repo.List(ctx, 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

			two, err := repo.List(ctx, 2)
			require.NoError(t, err)
			require.Len(t, two, 2)
			assert.Equal(t, "c", two[0].ID)
		})
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	rec := orderRecord("s1")
	require.NoError(t, repo.Save(ctx, rec))
	rec.Messages[0] = message.NewText(role.User, "changed")

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Where is order 42?", got.Messages[0].TextContent())
}

func TestSQLiteStore_Ping(t *testing.T) {
	s, err := NewSQLite(MemoryPath)
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Ping(context.Background()))
}
