package history_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mascotas.dev/petwatch/internal/history"
	"mascotas.dev/petwatch/internal/store"
	"mascotas.dev/petwatch/internal/track"
)

var _ = Describe("Query", func() {
	var (
		s     *store.MemoryStore
		query *history.Query
		ctx   context.Context
	)

	appendVisit := func(entityID string, recordedAt time.Time) {
		Expect(s.Append(ctx, track.Visit{
			EntityID:       entityID,
			Lat:            13.719,
			Lng:            -89.203,
			Timestamp:      recordedAt.Add(-2 * time.Second),
			InsideGeofence: true,
			RecordedAt:     recordedAt,
		})).To(Succeed())
	}

	BeforeEach(func() {
		s = store.NewMemoryStore()
		ctx = context.Background()

		var err error
		query, err = history.New(s)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("should reject a nil store", func() {
			_, err := history.New(nil)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("ForEntity", func() {
		It("should return an empty history for an unknown entity", func() {
			visits, err := query.ForEntity(ctx, "pet-ghost", nil, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(BeEmpty())
		})

		It("should return visits in reverse-chronological order", func() {
			base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				appendVisit("pet-luna", base.Add(time.Duration(i)*time.Minute))
			}

			visits, err := query.ForEntity(ctx, "pet-luna", nil, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(5))
			for i := 1; i < len(visits); i++ {
				Expect(visits[i].RecordedAt.After(visits[i-1].RecordedAt)).To(BeFalse())
			}
		})

		It("should apply the default limit when none is given", func() {
			base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
			for i := 0; i < history.DefaultLimit+10; i++ {
				appendVisit("pet-luna", base.Add(time.Duration(i)*time.Second))
			}

			visits, err := query.ForEntity(ctx, "pet-luna", nil, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(visits).To(HaveLen(history.DefaultLimit))
		})

		Context("with a day filter", func() {
			It("should keep only visits recorded on that calendar day", func() {
				day1 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
				day2 := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
				appendVisit("pet-luna", day1)
				appendVisit("pet-luna", day1.Add(time.Hour))
				appendVisit("pet-luna", day2)

				filter := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
				visits, err := query.ForEntity(ctx, "pet-luna", &filter, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(visits).To(HaveLen(2))
				for _, v := range visits {
					Expect(v.RecordedAt.UTC().Day()).To(Equal(20))
				}
			})

			It("should see past the limit window when filtering", func() {
				// A full day-two window in front must not hide day-one visits.
				day1 := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
				day2 := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
				appendVisit("pet-luna", day1)
				for i := 0; i < 5; i++ {
					appendVisit("pet-luna", day2.Add(time.Duration(i)*time.Minute))
				}

				filter := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
				visits, err := query.ForEntity(ctx, "pet-luna", &filter, 3)
				Expect(err).NotTo(HaveOccurred())
				Expect(visits).To(HaveLen(1))
				Expect(visits[0].RecordedAt).To(Equal(day1))
			})

			It("should truncate the filtered result at the limit", func() {
				day := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
				for i := 0; i < 5; i++ {
					appendVisit("pet-luna", day.Add(time.Duration(i)*time.Minute))
				}

				filter := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
				visits, err := query.ForEntity(ctx, "pet-luna", &filter, 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(visits).To(HaveLen(2))
			})

			It("should evaluate the calendar day in the filter's own location", func() {
				loc := time.FixedZone("UTC-6", -6*60*60)
				// 02:00 UTC on the 21st is still 20:00 on the 20th in UTC-6.
				appendVisit("pet-luna", time.Date(2026, 8, 21, 2, 0, 0, 0, time.UTC))

				filter := time.Date(2026, 8, 20, 0, 0, 0, 0, loc)
				visits, err := query.ForEntity(ctx, "pet-luna", &filter, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(visits).To(HaveLen(1))
			})
		})
	})

	Describe("Latest", func() {
		It("should return nil for an empty store", func() {
			visit, err := query.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).To(BeNil())
		})

		It("should return the most recent visit", func() {
			base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
			appendVisit("pet-luna", base)
			appendVisit("pet-max", base.Add(time.Minute))

			visit, err := query.Latest(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(visit).NotTo(BeNil())
			Expect(visit.EntityID).To(Equal("pet-max"))
		})
	})
})
