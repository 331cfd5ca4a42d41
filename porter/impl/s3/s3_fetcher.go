package s3

import (
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rlmcpherson/s3gof3r"

	"go.rillflow.net/rill/porter"
)

var s3Conf = &s3gof3r.Config{
	Concurrency: 10,
	PartSize:    20 * 1024 * 1024,
	NTry:        10,
	Md5Check:    false,
	Scheme:      "https",
	Client:      s3gof3r.ClientWithTimeout(15 * time.Second),
}

/*
	Fetcher for `s3://bucket/key` sources.

	Credentials come from the environment (the usual AWS_ACCESS_KEY_ID
	pair), loaded once at construction: a missing credential is reported
	as a NewFetcher error before any fetch is attempted.
*/
type Fetcher struct {
	keys s3gof3r.Keys
}

var _ porter.Fetcher = &Fetcher{}

func NewFetcher() (*Fetcher, error) {
	keys, err := s3gof3r.EnvKeys()
	if err != nil {
		return nil, porter.Error.New("s3 credentials missing: %s", err)
	}
	return &Fetcher{keys: keys}, nil
}

func (f *Fetcher) Fetch(source string, target string) error {
	bucketName, key, err := splitURI(source)
	if err != nil {
		return err
	}
	s3 := s3gof3r.New("s3.amazonaws.com", f.keys)
	r, _, err := s3.Bucket(bucketName).GetReader(key, s3Conf)
	if err != nil {
		if err2, ok := err.(*s3gof3r.RespError); ok && err2.Code == "NoSuchKey" {
			return porter.Error.New("no such object: %s", source)
		}
		return porter.Error.Wrap(err)
	}
	defer r.Close()
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return porter.Error.Wrap(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return porter.Error.Wrap(err)
	}
	return nil
}

func splitURI(source string) (bucket string, key string, err error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", porter.Error.New("malformed s3 uri: %q", source)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}
