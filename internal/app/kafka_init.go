package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickart/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/quickart/internal/version"
)

const serviceName = "quickart-storefront"

// initKafkaProducer создаёт producer, если брокеры заданы.
// При пустом списке возвращает nil, nil: витрина работает без публикации событий.
func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, version.ClientID(serviceName))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// closeKafkaProducer закрывает producer, если он был создан.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
