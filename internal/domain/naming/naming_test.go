package naming_test

import (
	"testing"
	"time"

	"github.com/okian/noticeledger/internal/domain/catalog"
	"github.com/okian/noticeledger/internal/domain/naming"
	"github.com/smartystreets/goconvey/convey"
)

const prefixT = `
prefixes:
  - name: T
    alphabet: ABCDEFGHIJKLMNOPQRSTUVWXYZ
    template: "T {day}{letter}"
  - name: S
    alphabet: xyz
    template: "S-{day}{letter}"
default-prefix: T
facilities:
  - name: InstrumentA
    priority: 10
    topics: [INSTRUMENT_A]
`

func TestSequencer(t *testing.T) {
	convey.Convey("Given a sequencer with no state", t, func() {
		cat, err := catalog.Parse([]byte(prefixT))
		convey.So(err, convey.ShouldBeNil)
		tp, _ := cat.Prefix("T")
		sp, _ := cat.Prefix("S")
		day := tp.Day(time.Date(2025, 5, 20, 11, 0, 0, 0, time.UTC))
		seq := naming.New()

		convey.Convey("When two names are allocated on the same day", func() {
			first := seq.NextName(tp, day)
			second := seq.NextName(tp, day)

			convey.Convey("Then they end in A then B", func() {
				convey.So(first, convey.ShouldEqual, "T 250520A")
				convey.So(second, convey.ShouldEqual, "T 250520B")
			})
		})

		convey.Convey("When another day or prefix is used", func() {
			seq.NextName(tp, day)
			other := seq.NextName(tp, "250521")
			s := seq.NextName(sp, day)

			convey.Convey("Then each key starts from its own first letter", func() {
				convey.So(other, convey.ShouldEqual, "T 250521A")
				convey.So(s, convey.ShouldEqual, "S-250520x")
				convey.So(seq.Len(), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the alphabet is exhausted", func() {
			var names []string
			for range 5 {
				names = append(names, seq.NextName(sp, day))
			}

			convey.Convey("Then the last letter repeats", func() {
				convey.So(names, convey.ShouldResemble, []string{"S-250520x", "S-250520y", "S-250520z", "S-250520z", "S-250520z"})
			})
		})

		convey.Convey("When peeking before committing", func() {
			name, letter := seq.Peek(tp, day)
			again, _ := seq.Peek(tp, day)
			seq.Commit(tp, day, letter)
			next, _ := seq.Peek(tp, day)

			convey.Convey("Then only Commit advances the state", func() {
				convey.So(name, convey.ShouldEqual, "T 250520A")
				convey.So(again, convey.ShouldEqual, name)
				convey.So(next, convey.ShouldEqual, "T 250520B")
			})
		})

		convey.Convey("When existing names are recorded out of order", func() {
			convey.So(seq.RecordName(cat, "T 250520C"), convey.ShouldBeTrue)
			convey.So(seq.RecordName(cat, "T 250520A"), convey.ShouldBeTrue)
			convey.So(seq.RecordName(cat, "IceCubeCascade-250520a"), convey.ShouldBeFalse)

			convey.Convey("Then the state only moves forward", func() {
				l, ok := seq.Last("T", day)
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(l, convey.ShouldEqual, 'C')
				convey.So(seq.NextName(tp, day), convey.ShouldEqual, "T 250520D")
			})
		})

		convey.Convey("When a letter outside the alphabet is recorded", func() {
			seq.RecordExisting(tp, day, 'a')

			convey.Convey("Then it is ignored", func() {
				_, ok := seq.Last("T", day)
				convey.So(ok, convey.ShouldBeFalse)
			})
		})

		convey.Convey("When state is cloned and merged", func() {
			seq.NextName(tp, day)
			clone := seq.Clone()
			clone.NextName(tp, day)
			clone.NextName(tp, day)
			convey.So(seq.NextName(tp, day), convey.ShouldEqual, "T 250520B")

			seq.Merge(cat, clone)

			convey.Convey("Then the later letter wins per key", func() {
				l, _ := seq.Last("T", day)
				convey.So(l, convey.ShouldEqual, 'C')
			})
		})
	})

	convey.Convey("Given a history of names", t, func() {
		cat := catalog.Default()
		history := []string{"GRB 250520A", "EP 250520a", "GRB 250520B", "IceCube-250520A", "EP 250520b"}

		convey.Convey("When two sequencers replay it", func() {
			a, b := naming.New(), naming.New()
			for _, n := range history {
				a.RecordName(cat, n)
				b.RecordName(cat, n)
			}
			grb, _ := cat.Prefix(catalog.PrefixGRB)
			ep, _ := cat.Prefix(catalog.PrefixEP)

			convey.Convey("Then both allocate the same next names", func() {
				convey.So(a.NextName(grb, "250520"), convey.ShouldEqual, "GRB 250520C")
				convey.So(b.NextName(grb, "250520"), convey.ShouldEqual, "GRB 250520C")
				convey.So(a.NextName(ep, "250520"), convey.ShouldEqual, "EP 250520c")
			})
		})
	})
}
