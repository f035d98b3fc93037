package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"gridcal/internal/model"
)

func TestMessage(t *testing.T) {
	algo := map[string]any{"eventTitle": "Algorithms"}
	plain := map[string]any{"id": 1}

	tests := []struct {
		name string
		d    model.DiffResult
		want string
	}{
		{"unchanged", model.DiffResult{}, "calendar unchanged"},
		{"both", model.DiffResult{HasChanges: true, Added: []any{algo}, Removed: []any{plain, plain}}, "calendar updated: +1 added, -2 removed"},
		{"added with title", model.DiffResult{HasChanges: true, Added: []any{algo}}, "calendar updated: +1 new event(s): Algorithms"},
		{"added without title", model.DiffResult{HasChanges: true, Added: []any{plain}}, "calendar updated: +1 new event(s)"},
		{"removed", model.DiffResult{HasChanges: true, Removed: []any{algo}}, "calendar updated: -1 event(s) removed: Algorithms"},
		{"added scalar", model.DiffResult{HasChanges: true, Added: []any{"Algorithms"}}, "calendar updated: +1 new event(s)"},
		{"removed null", model.DiffResult{HasChanges: true, Removed: []any{nil}}, "calendar updated: -1 event(s) removed"},
		{"raw fallback", model.DiffResult{HasChanges: true, Error: "bad json"}, "calendar updated (raw payload changed)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.d))
		})
	}
}

func TestFuncAdapter(t *testing.T) {
	var got model.DiffResult
	var n Notifier = Func(func(_ context.Context, d model.DiffResult) error {
		got = d
		return nil
	})
	want := model.DiffResult{HasChanges: true, TotalCurrent: 3}
	assert.NoError(t, n.Notify(context.Background(), want))
	assert.Equal(t, want, got)
	assert.NoError(t, Log{}.Notify(context.Background(), want))
}
