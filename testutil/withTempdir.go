package testutil

import (
	"io/ioutil"
	"os"
)

func WithTmpdir(fn func(tmpDir string)) {
	tmpBase := "/tmp/rill-test/"
	err := os.MkdirAll(tmpBase, os.FileMode(0777)|os.ModeSticky)
	if err != nil {
		panic(err)
	}

	tmpdir, err := ioutil.TempDir(tmpBase, "")
	if err != nil {
		panic(err)
	}

	defer os.RemoveAll(tmpdir)
	fn(tmpdir)
}
