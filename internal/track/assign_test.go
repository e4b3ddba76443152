package track_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mascotas.dev/petwatch/internal/track"
)

var _ = Describe("Assigner", func() {
	var (
		assigner track.Assigner
		luna     track.Entity
		max      track.Entity
	)

	baseTime := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	reading := func(key string, offset time.Duration, entryID int64) track.Reading {
		return track.Reading{
			Lat:           13.719,
			Lng:           -89.203,
			Timestamp:     baseTime.Add(offset),
			SourceEntryID: entryID,
			RawEntityKey:  key,
		}
	}

	BeforeEach(func() {
		assigner = track.Assigner{}
		luna = track.Entity{ID: "pet-luna", Label: "Luna", FeedKey: "collar-1"}
		max = track.Entity{ID: "pet-max", Label: "Max"}
	})

	Describe("Assign", func() {
		Context("with tagged readings", func() {
			It("should route a reading to the entity matching its feed key", func() {
				buckets := assigner.Assign(
					[]track.Reading{reading("collar-1", 0, 1)},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
				Expect(buckets["pet-max"]).To(BeEmpty())
			})

			It("should match feed keys case-insensitively", func() {
				buckets := assigner.Assign(
					[]track.Reading{reading("COLLAR-1", 0, 1)},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
			})

			It("should match on the label when no feed key is set", func() {
				buckets := assigner.Assign(
					[]track.Reading{reading("max", 0, 1)},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-max"]).To(HaveLen(1))
				Expect(buckets["pet-luna"]).To(BeEmpty())
			})

			It("should give every entity a bucket even when empty", func() {
				buckets := assigner.Assign(
					[]track.Reading{reading("collar-1", 0, 1)},
					[]track.Entity{luna, max},
				)

				Expect(buckets).To(HaveKey("pet-luna"))
				Expect(buckets).To(HaveKey("pet-max"))
			})
		})

		Context("with the broadcast fallback", func() {
			It("should broadcast the most recent untagged reading to all entities", func() {
				buckets := assigner.Assign(
					[]track.Reading{
						reading("", 0, 1),
						reading("", time.Minute, 2),
					},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
				Expect(buckets["pet-max"]).To(HaveLen(1))
				Expect(buckets["pet-luna"][0].SourceEntryID).To(Equal(int64(2)))
				Expect(buckets["pet-max"][0].SourceEntryID).To(Equal(int64(2)))
			})

			It("should break most-recent ties by entry ID", func() {
				buckets := assigner.Assign(
					[]track.Reading{
						reading("", 0, 7),
						reading("", 0, 3),
					},
					[]track.Entity{luna},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
				Expect(buckets["pet-luna"][0].SourceEntryID).To(Equal(int64(7)))
			})

			It("should not broadcast once any entity has a real assignment", func() {
				buckets := assigner.Assign(
					[]track.Reading{
						reading("collar-1", 0, 1),
						reading("unknown-tag", time.Minute, 2),
					},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
				Expect(buckets["pet-max"]).To(BeEmpty())
			})

			It("should not broadcast when disabled", func() {
				assigner.DisableFallback = true

				buckets := assigner.Assign(
					[]track.Reading{reading("", 0, 1)},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(BeEmpty())
				Expect(buckets["pet-max"]).To(BeEmpty())
			})

			It("should not match an empty key against any entity", func() {
				// An empty raw key only reaches entities via the fallback.
				buckets := assigner.Assign(
					[]track.Reading{
						reading("collar-1", 0, 1),
						reading("", time.Minute, 2),
					},
					[]track.Entity{luna, max},
				)

				Expect(buckets["pet-luna"]).To(HaveLen(1))
				Expect(buckets["pet-max"]).To(BeEmpty())
			})
		})

		Context("bucket ordering", func() {
			It("should sort each bucket by timestamp ascending", func() {
				buckets := assigner.Assign(
					[]track.Reading{
						reading("collar-1", 2*time.Minute, 3),
						reading("collar-1", 0, 1),
						reading("collar-1", time.Minute, 2),
					},
					[]track.Entity{luna},
				)

				bucket := buckets["pet-luna"]
				Expect(bucket).To(HaveLen(3))
				Expect(bucket[0].SourceEntryID).To(Equal(int64(1)))
				Expect(bucket[1].SourceEntryID).To(Equal(int64(2)))
				Expect(bucket[2].SourceEntryID).To(Equal(int64(3)))
			})

			It("should break timestamp ties by entry ID ascending", func() {
				buckets := assigner.Assign(
					[]track.Reading{
						reading("collar-1", 0, 9),
						reading("collar-1", 0, 2),
						reading("collar-1", 0, 5),
					},
					[]track.Entity{luna},
				)

				bucket := buckets["pet-luna"]
				Expect(bucket).To(HaveLen(3))
				Expect(bucket[0].SourceEntryID).To(Equal(int64(2)))
				Expect(bucket[1].SourceEntryID).To(Equal(int64(5)))
				Expect(bucket[2].SourceEntryID).To(Equal(int64(9)))
			})
		})

		Context("with no entities", func() {
			It("should return an empty bucket map", func() {
				buckets := assigner.Assign(
					[]track.Reading{reading("", 0, 1)},
					nil,
				)

				Expect(buckets).To(BeEmpty())
			})
		})
	})
})
