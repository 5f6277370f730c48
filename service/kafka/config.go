package kafka

type Config struct {
	Brokers           []string
	Topic             string
	Version           string // 例如 "2.1.0"
	Compression       string // none/snappy/lz4/zstd
	Retries           int
	Partitions        int32 // 仅在需要创建 topic 时使用
	ReplicationFactor int16
	EnsureTopic       bool
}

func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		Topic:             "charchat.events",
		Version:           "2.1.0",
		Compression:       "snappy",
		Retries:           5,
		Partitions:        8,
		ReplicationFactor: 1,
	}
}
