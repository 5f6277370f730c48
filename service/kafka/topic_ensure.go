package kafka

import (
	"errors"
	"fmt"

	"CharChat/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// topicAdmin is the part of sarama.ClusterAdmin EnsureTopic needs.
type topicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
}

// EnsureTopic 会：不存在就创建；已存在则保持原样（不改分区、不改配置）。
func EnsureTopic(admin topicAdmin, topic string, partitions int32, rf int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	desc, err := admin.DescribeTopics([]string{topic})
	if err == nil && len(desc) == 1 && desc[0].Err == sarama.ErrNoError {
		logger.Debug("[Topic] exists", zap.String("topic", topic), zap.Int("partitions", len(desc[0].Partitions)))
		return nil
	}
	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}
	td := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: rf,
		ConfigEntries: map[string]*string{
			"cleanup.policy":                 strPtr("delete"),
			"min.insync.replicas":            strPtr(minISR),
			"unclean.leader.election.enable": strPtr("false"),
			"compression.type":               strPtr("producer"),
		},
	}
	if err := admin.CreateTopic(topic, td, false); err != nil {
		var te *sarama.TopicError
		if errors.Is(err, sarama.ErrTopicAlreadyExists) || (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) {
			logger.Debug("[Topic] exists (race)", zap.String("topic", topic))
			return nil
		}
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	logger.Info("[Topic] created", zap.String("topic", topic), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
	return nil
}

func strPtr(s string) *string { return &s }
