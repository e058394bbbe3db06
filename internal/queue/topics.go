package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/kafka-go"
)

// missingTopics returns the configs of the named topics not in existing.
// Empty and repeated names are skipped.
func missingTopics(topics []string, existing map[string]bool, partitions, replication int) []kafka.TopicConfig {
	seen := make(map[string]bool, len(topics))
	var out []kafka.TopicConfig
	for _, t := range topics {
		if t == "" || seen[t] || existing[t] {
			continue
		}
		seen[t] = true
		out = append(out, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     partitions,
			ReplicationFactor: replication,
		})
	}
	return out
}

// dialAny connects to the first reachable broker
func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	var merr *multierror.Error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		merr = multierror.Append(merr, fmt.Errorf("%s: %w", b, err))
	}
	if merr == nil {
		return nil, errors.New("no kafka brokers configured")
	}
	return nil, merr
}

// EnsureTopics creates the topics the cluster does not have yet through the
// controller broker. It returns the names it created.
func EnsureTopics(ctx context.Context, brokers []string, partitions, replication int, topics ...string) ([]string, error) {
	conn, err := dialAny(ctx, brokers)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	parts, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	existing := make(map[string]bool)
	for _, p := range parts {
		existing[p.Topic] = true
	}

	configs := missingTopics(topics, existing, partitions, replication)
	if len(configs) == 0 {
		return nil, nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("failed to find controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to dial controller: %w", err)
	}
	defer cc.Close()

	// another service may create the same topics concurrently
	if err := cc.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return nil, fmt.Errorf("failed to create topics: %w", err)
	}

	created := make([]string, len(configs))
	for i, c := range configs {
		created[i] = c.Topic
	}
	return created, nil
}
