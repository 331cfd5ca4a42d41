package def

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLiftAndStringify(t *testing.T) {
	Convey("Lift should tag ordinary values", t, func() {
		So(Lift(nil).Kind, ShouldEqual, KindNil)
		So(Lift(true).Bool, ShouldBeTrue)
		So(Lift(7).Num, ShouldEqual, 7)
		So(Lift("hi").Str, ShouldEqual, "hi")
		So(Lift([]interface{}{1, "a"}).Kind, ShouldEqual, KindList)

		yamlish := map[interface{}]interface{}{"k": 1}
		So(Lift(yamlish).Map["k"].Num, ShouldEqual, 1)
	})

	Convey("Stringify should render command-splice forms", t, func() {
		So(NumV(3).Stringify(), ShouldEqual, "3")
		So(NumV(2.5).Stringify(), ShouldEqual, "2.5")
		So(BoolV(true).Stringify(), ShouldEqual, "true")
		So(ListV(NumV(1), StringV("x")).Stringify(), ShouldEqual, "1 x")
		So(FileV(&FileHolder{StageName: "a.txt"}).Stringify(), ShouldEqual, "a.txt")
	})

	Convey("Control sentinels should be recognizable", t, func() {
		So(Poison.IsPoison(), ShouldBeTrue)
		So(MissingOutput.IsMissing(), ShouldBeTrue)
		So(NumV(1).IsPoison(), ShouldBeFalse)
	})
}

func TestArity(t *testing.T) {
	Convey("Arity bounds are inclusive", t, func() {
		a := Arity{Min: 1, Max: 3}
		So(a.Admits(0), ShouldBeFalse)
		So(a.Admits(1), ShouldBeTrue)
		So(a.Admits(3), ShouldBeTrue)
		So(a.Admits(4), ShouldBeFalse)
	})
	Convey("A negative max is unbounded", t, func() {
		So(ArityMany.Admits(5000), ShouldBeTrue)
		So(ArityMany.Admits(0), ShouldBeFalse)
	})
	Convey("The zero arity constrains nothing", t, func() {
		So(Arity{}.Admits(0), ShouldBeTrue)
		So(Arity{}.Admits(12), ShouldBeTrue)
	})
}

func TestCloneForRetry(t *testing.T) {
	Convey("A retry clone should bump counters and reset run state", t, func() {
		proc := &Process{ID: 1, Name: "p"}
		t1 := NewTask(1, proc, 0)
		t1.ExitStatus = 1
		t1.Failed = true
		t1.WorkDir = "/somewhere"
		t1.Context["x"] = NumV(1)
		t1.Outputs["o"] = StringV("stale")
		t1.Holders = []*FileHolder{{StageName: "f"}}

		t2 := t1.CloneForRetry()
		So(t2.Attempt, ShouldEqual, 2)
		So(t2.SubmitAttempt, ShouldEqual, 1)
		So(t2.TupleIndex, ShouldEqual, t1.TupleIndex)
		So(t2.ExitStatus, ShouldEqual, ExitUnset)
		So(t2.WorkDir, ShouldBeEmpty)
		So(t2.Failed, ShouldBeFalse)
		So(t2.Outputs, ShouldBeEmpty)
		So(t2.Holders, ShouldBeEmpty)
		So(t2.Context["x"].Num, ShouldEqual, 1)

		Convey("Mutating the clone's context should not touch the original", func() {
			t2.Context["x"] = NumV(9)
			So(t1.Context["x"].Num, ShouldEqual, 1)
		})
	})
}
