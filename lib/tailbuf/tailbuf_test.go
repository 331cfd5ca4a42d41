package tailbuf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTailWindow(t *testing.T) {
	Convey("Given a tail with a small window", t, func() {
		tail := New(3)

		Convey("Under the limit, everything is kept", func() {
			tail.WriteLine("a")
			tail.WriteLine("b")
			So(tail.Lines(), ShouldResemble, []string{"a", "b"})
			So(tail.Truncated(), ShouldBeFalse)
		})

		Convey("Over the limit, the front scrolls off", func() {
			for _, l := range []string{"a", "b", "c", "d", "e"} {
				tail.WriteLine(l)
			}
			So(tail.Lines(), ShouldResemble, []string{"c", "d", "e"})
			So(tail.Truncated(), ShouldBeTrue)
		})
	})

	Convey("ReadFrom should keep only the tail of a stream", t, func() {
		tail := New(2)
		So(tail.ReadFrom(strings.NewReader("1\n2\n3\n4\n")), ShouldBeNil)
		So(tail.String(), ShouldEqual, "3\n4")
	})
}

func TestTailFile(t *testing.T) {
	Convey("File tailing", t, func() {
		dir := t.TempDir()

		Convey("A present file should tail", func() {
			path := filepath.Join(dir, "log.txt")
			So(os.WriteFile(path, []byte("x\ny\nz\n"), 0644), ShouldBeNil)
			tail, err := File(path, 2)
			So(err, ShouldBeNil)
			So(tail.Lines(), ShouldResemble, []string{"y", "z"})
		})

		Convey("A missing file should yield an empty tail, not an error", func() {
			tail, err := File(filepath.Join(dir, "nope.txt"), 5)
			So(err, ShouldBeNil)
			So(tail.Lines(), ShouldBeEmpty)
		})
	})
}
