package store

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mascotas.dev/petwatch/internal/track"
)

var _ = Describe("PostgresStore E2E", func() {
	var (
		ctx      context.Context
		entityID string
	)

	visitAt := func(id string, recordedAt time.Time, inside bool) track.Visit {
		return track.Visit{
			EntityID:       id,
			Lat:            13.719,
			Lng:            -89.203,
			Timestamp:      recordedAt.Add(-2 * time.Second),
			InsideGeofence: inside,
			RecordedAt:     recordedAt,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		// Unique entity per test so specs do not see each other's rows.
		entityID = fmt.Sprintf("pet-e2e-%d", time.Now().UnixNano())
	})

	Describe("Append and RecentFor", func() {
		It("should round-trip a visit", func() {
			recordedAt := time.Now().UTC().Truncate(time.Second)
			Expect(visitStore.Append(ctx, visitAt(entityID, recordedAt, true))).To(Succeed())

			visits, err := visitStore.RecentFor(ctx, entityID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(1))
			Expect(visits[0].EntityID).To(Equal(entityID))
			Expect(visits[0].Lat).To(BeNumerically("~", 13.719, 1e-9))
			Expect(visits[0].Lng).To(BeNumerically("~", -89.203, 1e-9))
			Expect(visits[0].InsideGeofence).To(BeTrue())
			Expect(visits[0].RecordedAt).To(BeTemporally("~", recordedAt, time.Second))
		})

		It("should return visits most recent first", func() {
			base := time.Now().UTC().Truncate(time.Second)
			for i := 0; i < 5; i++ {
				visit := visitAt(entityID, base.Add(time.Duration(i)*time.Second), i%2 == 0)
				Expect(visitStore.Append(ctx, visit)).To(Succeed())
			}

			visits, err := visitStore.RecentFor(ctx, entityID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(5))
			for i := 1; i < len(visits); i++ {
				Expect(visits[i].RecordedAt.After(visits[i-1].RecordedAt)).To(BeFalse())
			}
		})

		It("should honor the limit", func() {
			base := time.Now().UTC().Truncate(time.Second)
			for i := 0; i < 5; i++ {
				Expect(visitStore.Append(ctx, visitAt(entityID, base.Add(time.Duration(i)*time.Second), true))).To(Succeed())
			}

			visits, err := visitStore.RecentFor(ctx, entityID, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(2))
			Expect(visits[0].RecordedAt).To(BeTemporally("~", base.Add(4*time.Second), time.Second))
		})

		It("should keep entities separate", func() {
			other := entityID + "-other"
			now := time.Now().UTC()
			Expect(visitStore.Append(ctx, visitAt(entityID, now, true))).To(Succeed())
			Expect(visitStore.Append(ctx, visitAt(other, now.Add(time.Second), false))).To(Succeed())

			visits, err := visitStore.RecentFor(ctx, entityID, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(1))
			Expect(visits[0].EntityID).To(Equal(entityID))
		})
	})

	Describe("Latest", func() {
		It("should return the most recent visit across entities", func() {
			other := entityID + "-other"
			now := time.Now().UTC().Truncate(time.Second)
			Expect(visitStore.Append(ctx, visitAt(entityID, now, true))).To(Succeed())
			Expect(visitStore.Append(ctx, visitAt(other, now.Add(time.Minute), false))).To(Succeed())

			visit, err := visitStore.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).NotTo(BeNil())
			Expect(visit.EntityID).To(Equal(other))
		})
	})
})
