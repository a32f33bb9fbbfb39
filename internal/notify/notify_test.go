package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseTargetsSplitsTypeAndConfig(t *testing.T) {
	channels := ParseTargets("telegram:12345, webhook:https://example.com/hook,, bogus")
	require.Equal(t, []Channel{
		{Type: "telegram", Config: "12345"},
		{Type: "webhook", Config: "https://example.com/hook"},
		{Type: "unknown", Config: "bogus"},
	}, channels)
}

type fakeSender struct {
	calls []Channel
	err   error
}

func (f *fakeSender) Send(_ context.Context, ch Channel, _ string) error {
	f.calls = append(f.calls, ch)
	return f.err
}

func TestDispatchIsolatesPerChannelFailure(t *testing.T) {
	good := &fakeSender{}
	bad := &fakeSender{err: errors.New("boom")}

	d := NewDispatcher(nil, 1000, 10)
	d.Register("telegram", good)
	d.Register("webhook", bad)

	results := d.Dispatch(context.Background(), "telegram:abc,webhook:xyz", "disk at 95%")
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
	require.Len(t, good.calls, 1)
	require.Len(t, bad.calls, 1)
}

func TestDispatchUnregisteredChannelTypeErrorsWithoutAffectingOthers(t *testing.T) {
	good := &fakeSender{}
	d := NewDispatcher(nil, 1000, 10)
	d.Register("telegram", good)

	results := d.Dispatch(context.Background(), "telegram:abc,slack:xyz", "msg")
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)
}
