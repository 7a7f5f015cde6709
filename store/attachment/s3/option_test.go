package s3

import (
	"context"
	"testing"
)

func TestOptions(t *testing.T) {
	o := newOptions(WithBucket("b"), WithAssumeRole("arn:aws:iam::1:role/r", "", ""))
	if o.region != DefaultRegion || o.prefix != DefaultPrefix {
		t.Errorf("unexpected defaults %+v", o)
	}
	if o.roleSessionName != DefaultSessionName {
		t.Errorf("expected default session name, got %q", o.roleSessionName)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background()); err == nil {
		t.Fatal("expected error without bucket")
	}
}
