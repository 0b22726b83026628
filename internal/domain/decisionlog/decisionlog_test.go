package decisionlog_test

import (
	"encoding/json"
	"testing"

	"github.com/okian/songrank/internal/domain/decisionlog"
	"github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	convey.Convey("Given an empty decision log", t, func() {
		var log decisionlog.Log

		convey.Convey("When undoing", func() {
			removed := log.Undo()

			convey.Convey("Then nothing happens", func() {
				convey.So(removed, convey.ShouldBeFalse)
				convey.So(log.Len(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When appending decisions", func() {
			log.Append(true)
			log.Append(false)
			log.Append(true)

			convey.Convey("Then they are kept in order", func() {
				convey.So(log.Values(), convey.ShouldResemble, []bool{true, false, true})
				last, ok := log.Last()
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(last, convey.ShouldBeTrue)
			})

			convey.Convey("And undo removes only the last one", func() {
				convey.So(log.Undo(), convey.ShouldBeTrue)
				convey.So(log.Values(), convey.ShouldResemble, []bool{true, false})
			})

			convey.Convey("And reset clears everything", func() {
				log.Reset()
				convey.So(log.Len(), convey.ShouldEqual, 0)
				_, ok := log.Last()
				convey.So(ok, convey.ShouldBeFalse)
			})

			convey.Convey("And Values returns a detached copy", func() {
				vals := log.Values()
				vals[0] = false
				convey.So(log[0], convey.ShouldBeTrue)
			})

			convey.Convey("And it encodes as a JSON array", func() {
				raw, err := json.Marshal(log)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(raw), convey.ShouldEqual, "[true,false,true]")
			})
		})
	})
}
