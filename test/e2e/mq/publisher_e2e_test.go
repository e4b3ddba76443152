package mq

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	amqp "github.com/rabbitmq/amqp091-go"

	"mascotas.dev/petwatch/internal/engine"
	"mascotas.dev/petwatch/internal/track"
	"mascotas.dev/petwatch/pkg/mq"
)

var _ = Describe("Publisher E2E", func() {
	var (
		publisher *mq.Publisher
		queueName string
	)

	BeforeEach(func() {
		// Unique queue name per spec
		queueName = "pet-snapshots-" + time.Now().Format("20060102-150405.000")
		publisher = mq.NewPublisher(queueName, rabbitmqURL, testLogger)

		// Wait for the background connection to come up
		time.Sleep(2 * time.Second)
	})

	AfterEach(func() {
		if publisher != nil {
			_ = publisher.Close()
			publisher = nil
		}
	})

	Describe("Publishing", func() {
		It("should publish a snapshot with broker confirmation", func() {
			snap := engine.Snapshot{
				TickAt: time.Now().UTC(),
				Entities: []track.EntitySnapshot{
					{EntityID: "pet-luna", Label: "Luna", InsideGeofence: true},
				},
			}
			payload, err := json.Marshal(snap)
			Expect(err).NotTo(HaveOccurred())

			err = publisher.Publish(context.Background(), payload)
			Expect(err).NotTo(HaveOccurred())
		})

		It("should publish successive snapshots", func() {
			for i := 0; i < 5; i++ {
				payload := []byte(`{"tickAt":"2026-08-20T10:00:00Z","entities":[]}`)
				Expect(publisher.Publish(context.Background(), payload)).NotTo(HaveOccurred())
			}
		})

		It("should deliver snapshots a consumer can decode", func() {
			conn, err := amqp.Dial(rabbitmqURL)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			ch, err := conn.Channel()
			Expect(err).NotTo(HaveOccurred())
			defer ch.Close()

			deliveries, err := ch.Consume(queueName, "", true, false, false, false, nil)
			Expect(err).NotTo(HaveOccurred())

			// Give the consumer time to register on the server
			time.Sleep(500 * time.Millisecond)

			snap := engine.Snapshot{
				TickAt: time.Now().UTC(),
				Entities: []track.EntitySnapshot{
					{EntityID: "pet-max", Label: "Max"},
				},
			}
			payload, err := json.Marshal(snap)
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.Publish(context.Background(), payload)).NotTo(HaveOccurred())

			select {
			case delivery := <-deliveries:
				Expect(delivery.ContentType).To(Equal("application/json"))

				var got engine.Snapshot
				Expect(json.Unmarshal(delivery.Body, &got)).To(Succeed())
				Expect(got.Entities).To(HaveLen(1))
				Expect(got.Entities[0].EntityID).To(Equal("pet-max"))
			case <-time.After(5 * time.Second):
				Fail("Did not receive snapshot within timeout")
			}
		})

		It("should keep retrying against an unreachable broker", func() {
			broken := mq.NewPublisher("unreachable", "amqp://invalid:5672", testLogger)

			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			err := broken.Publish(ctx, []byte("snapshot"))
			Expect(err).To(HaveOccurred())
		})
	})
})
