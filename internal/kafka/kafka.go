// Package kafka provides methods for initiating kafka-topics for the app, a kafka readiness-probing
// and the wire format of watermark jobs
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	kafkago "github.com/segmentio/kafka-go"
)

// InitKafkaTopics - creates topics in kafka
func InitKafkaTopics(ctx context.Context, brokerAddr string, delay time.Duration, topics ...string) error {
	client := &kafkago.Client{
		Addr:    kafkago.TCP(brokerAddr),
		Timeout: 10 * time.Second,
	}

	req := kafkago.CreateTopicsRequest{
		Topics: make([]kafkago.TopicConfig, 0, len(topics)),
	}

	for _, t := range topics {
		topic := kafkago.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
		req.Topics = append(req.Topics, topic)
	}

	for {
		resp, err := client.CreateTopics(ctx, &req)
		if err == nil && topicsCreated(resp) {
			log.Println("All topics created successfully!")
			return nil
		}
		if err != nil {
			log.Printf("Failed to run topics creation request: %v\nWait %v before next try...", err, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("init kafka topics: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

func topicsCreated(resp *kafkago.CreateTopicsResponse) bool {
	ok := true
	for k, v := range resp.Errors {
		switch {
		case v == nil, errors.Is(v, kafkago.TopicAlreadyExists):
		default:
			log.Printf("Topic %q creation error: %v", k, v)
			ok = false
		}
	}
	return ok
}

// WaitKafkaReady - timeout given to kafka-service for getting fully functional
func WaitKafkaReady(ctx context.Context, brokerAddr string, delay time.Duration) error {
	var dialer kafkago.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", brokerAddr)
		if err == nil {
			if errConn := conn.Close(); errConn != nil {
				log.Println("Failed to close connection after testing Kafka readyness:", errConn)
			}
			log.Println("Kafka is ready!")
			return nil
		}
		log.Printf("Kafka not ready, retrying in %v...", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for kafka: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// EncodeJob returns the message key (job id) and value of a job
func EncodeJob(job model.Job) ([]byte, []byte, error) {
	if len(job.PhotoIDs) == 0 {
		return nil, nil, errors.New("job without photos")
	}
	value, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal job: %w", err)
	}
	return []byte(job.ID), value, nil
}

// DecodeJob accepts a job document; a bare photo UUID in the key (messages of the old single-photo flow) is a job of one.
func DecodeJob(msg kafkago.Message) (model.Job, error) {
	var job model.Job
	if len(msg.Value) == 0 {
		if len(msg.Key) == 0 {
			return job, errors.New("empty job message")
		}
		job.PhotoIDs = []string{string(msg.Key)}
		return job, nil
	}

	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return job, fmt.Errorf("unmarshal job: %w", err)
	}
	if len(job.PhotoIDs) == 0 {
		return job, errors.New("job without photos")
	}
	if job.ID == "" {
		job.ID = string(msg.Key)
	}
	return job, nil
}
