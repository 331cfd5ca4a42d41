package copy

import (
	"io"
	"os"

	"go.rillflow.net/rill/porter"
)

/*
	Fetcher for plain paths: a byte copy.  "Foreign" local paths come up
	when the executor's work area is a different mount than the input's
	home and the backend can't follow the original path.
*/
type Fetcher struct{}

var _ porter.Fetcher = Fetcher{}

func (Fetcher) Fetch(source string, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return porter.Error.Wrap(err)
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return porter.Error.Wrap(err)
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return porter.Error.Wrap(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return porter.Error.Wrap(err)
	}
	return nil
}
