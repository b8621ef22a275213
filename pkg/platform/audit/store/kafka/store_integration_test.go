//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	id "civicwatch/pkg/domain"
	audit "civicwatch/pkg/platform/audit"
	"civicwatch/pkg/testutil/containers"
)

func TestAppendToBroker(t *testing.T) {
	kc := containers.NewKafkaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	const topic = "civicwatch.case-events.test"
	producer, err := NewClient(kc.Brokers, topic)
	require.NoError(t, err)
	defer producer.Close()

	require.NoError(t, EnsureTopic(ctx, producer, topic, 1, 1))
	require.NoError(t, EnsureTopic(ctx, producer, topic, 1, 1), "second call is a no-op")

	caseID := id.NewCaseID()
	store := New(producer, topic)
	for _, action := range []audit.Action{audit.ActionCaseFiled, audit.ActionStatusChanged} {
		require.NoError(t, store.Append(ctx, audit.Event{CaseID: caseID, Action: action}))
	}

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(kc.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []audit.Event
	for len(got) < 2 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err(), "timed out waiting for events")
		fetches.EachRecord(func(r *kgo.Record) {
			var e audit.Event
			require.NoError(t, json.Unmarshal(r.Value, &e))
			assert.Equal(t, caseID.String(), string(r.Key))
			got = append(got, e)
		})
	}
	assert.Equal(t, audit.ActionCaseFiled, got[0].Action)
	assert.Equal(t, audit.ActionStatusChanged, got[1].Action)
}
