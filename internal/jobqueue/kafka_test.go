package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"memoryd/internal/config"
	"memoryd/internal/core/ports"
)

func TestNewKafkaRequiresBrokers(t *testing.T) {
	_, err := NewKafka(config.KafkaConfig{})
	require.Error(t, err)
}

func TestKafkaTopicForMapsJobTypes(t *testing.T) {
	k, err := NewKafka(config.KafkaConfig{
		Brokers:            "localhost:9092, localhost:9093",
		SegmentationTopic:  "memoryd.segmentation",
		ReviewTopic:        "memoryd.review",
		ConsolidationTopic: "memoryd.consolidation",
		DLQTopic:           "memoryd.dlq",
		ConsumerGroup:      "memoryd",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"localhost:9092", "localhost:9093"}, k.brokers)
	require.Equal(t, "memoryd.segmentation", k.topicFor(ports.JobSegmentation))
	require.Equal(t, "memoryd.review", k.topicFor(ports.JobReview))
	require.Equal(t, "memoryd.consolidation", k.topicFor(ports.JobConsolidation))
}

func TestSplitBrokersTrimsAndDropsEmpty(t *testing.T) {
	require.Equal(t, []string{"a:1", "b:2"}, splitBrokers(" a:1 , ,b:2,"))
}
