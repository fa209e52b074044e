package kafka

import (
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	TopicOrderPaid      = "storefront.order.paid"
	TopicTicketRedeemed = "storefront.ticket.redeemed"
	TopicFraudDetected  = "storefront.fraud.detected"
)

func RequiredTopics() []string {
	return []string{TopicOrderPaid, TopicTicketRedeemed, TopicFraudDetected}
}

// EnsureTopicsExist creates the given topics if they don't already exist.
func EnsureTopicsExist(brokers []string, topics []string) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := kafka.Dial("tcp", controller.Host)
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err = controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			log.Printf("Error creating topic %s: %v", topic, err)
		}
	}

	// Give the brokers a moment to settle newly created topics.
	time.Sleep(1 * time.Second)
	return nil
}
