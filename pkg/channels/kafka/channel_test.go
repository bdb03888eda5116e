package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/kbforge/kbforge/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, ParseBrokers(" a:9092, ,b:9092"))
	assert.Empty(t, ParseBrokers(""))
}

func TestCreateChannel_NoBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "kbforge")
	require.ErrorIs(t, err, ErrNoBrokers)
}

func TestPartitionKey(t *testing.T) {
	msg := message.NewMessage(watermill.NewUUID(), []byte(`{}`))
	msg.Metadata.Set(events.EventMetadataKey, "run-1")

	key, err := PartitionKey(events.Topic, msg)
	require.NoError(t, err)
	assert.Equal(t, "run-1", key)

	produced, err := Marshaler().Marshal(events.Topic, msg)
	require.NoError(t, err)

	encoded, err := produced.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte("run-1"), encoded)
}

func TestProducerAndConsumerConfig(t *testing.T) {
	assert.Equal(t, sarama.WaitForAll, producerConfig().Producer.RequiredAcks)
	assert.True(t, producerConfig().Producer.Return.Successes)
	assert.Equal(t, sarama.OffsetOldest, consumerConfig().Consumer.Offsets.Initial)
}
