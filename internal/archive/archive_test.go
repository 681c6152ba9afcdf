package archive

import "testing"

func TestParseURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{
			name:       "valid",
			uri:        "gs://my-bucket/path/to/receipt.pdf",
			wantBucket: "my-bucket",
			wantObject: "path/to/receipt.pdf",
		},
		{
			name:       "single segment object",
			uri:        "gs://bucket/file.txt",
			wantBucket: "bucket",
			wantObject: "file.txt",
		},
		{
			name:    "missing scheme",
			uri:     "bucket/file.txt",
			wantErr: true,
		},
		{
			name:    "no object path",
			uri:     "gs://bucket",
			wantErr: true,
		},
		{
			name:    "empty object",
			uri:     "gs://bucket/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, object, err := ParseURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseURI(%q) expected an error", tt.uri)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURI(%q) error = %v", tt.uri, err)
			}
			if bucket != tt.wantBucket || object != tt.wantObject {
				t.Errorf("ParseURI(%q) = (%q, %q), want (%q, %q)", tt.uri, bucket, object, tt.wantBucket, tt.wantObject)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"gs://bucket/folder/receipt.pdf", "receipt.pdf"},
		{"gs://bucket/receipt.pdf", "receipt.pdf"},
		{"gs://bucket", "bucket"},
	}
	for _, tt := range tests {
		if got := Filename(tt.uri); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}
