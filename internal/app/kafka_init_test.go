package app

import (
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestInitKafkaProducer_EmptyBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	for _, brokers := range []string{"", " , "} {
		producer, err := initKafkaProducer(brokers, logger)
		if err != nil {
			t.Errorf("expected no error for empty brokers %q, got %v", brokers, err)
		}
		if producer != nil {
			t.Errorf("expected nil producer for empty brokers %q", brokers)
		}
	}
}

func TestInitKafkaProducer_InvalidBrokers(t *testing.T) {
	logger := log.WithField("test", "kafka")

	testCases := []struct {
		name    string
		brokers string
	}{
		{name: "single", brokers: "invalid-broker:9999"},
		{name: "multiple", brokers: "broker1:9092,broker2:9092,broker3:9092"},
		{name: "with spaces", brokers: "broker1:9092, broker2:9092"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			producer, err := initKafkaProducer(tc.brokers, logger)
			if err == nil {
				t.Error("expected error for unreachable brokers")
			}
			if producer != nil {
				t.Error("expected nil producer on error")
			}
		})
	}
}

func TestCloseKafkaProducer_Nil(_ *testing.T) {
	closeKafkaProducer(nil, log.WithField("test", "kafka"))
}
