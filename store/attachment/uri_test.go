package attachment

import (
	"strings"
	"testing"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		key     string
		wantErr bool
	}{
		{"s3://bucket/a/b.txt", "bucket", "a/b.txt", false},
		{"s3://bucket", "", "", true},
		{"s3:///key", "", "", true},
		{"gs://bucket/key", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI("s3", tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("got %q %q", bucket, key)
			}
		})
	}
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("mail", "../../etc/passwd")
	if !strings.HasPrefix(key, "mail/") || !strings.HasSuffix(key, "/passwd") {
		t.Errorf("unexpected key %q", key)
	}
	if strings.Contains(key, "..") {
		t.Errorf("key escapes prefix: %q", key)
	}
}

func TestSanitizeFilename(t *testing.T) {
	for in, want := range map[string]string{
		"report.pdf":      "report.pdf",
		`C:\tmp\x.doc`:    "x.doc",
		"":                "attachment",
		"bad\x00name.txt": "badname.txt",
	} {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
