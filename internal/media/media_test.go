package media

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	objects map[string]bool
	headErr error
	keys    []string
}

func (m *mockS3Client) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.keys = append(m.keys, *input.Key)
	if m.headErr != nil {
		return nil, m.headErr
	}
	if !m.objects[*input.Key] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func newTestStore(m *mockS3Client) *Store {
	return &Store{bucket: "homequest", client: m}
}

func TestNewDisabled(t *testing.T) {
	if New(S3Config{}) != nil {
		t.Error("New with empty config should return nil")
	}
	if New(S3Config{Bucket: "b", AccessKey: "k", SecretKey: "s", Region: "us-east-1"}) == nil {
		t.Error("New with full config should return a store")
	}
}

func TestKey(t *testing.T) {
	s := newTestStore(&mockS3Client{})
	tests := []struct{ ref, want string }{
		{"proofs/t1.jpg", "proofs/t1.jpg"},
		{"/proofs/t1.jpg", "proofs/t1.jpg"},
		{"https://media.example.com/proofs/t1.jpg", "proofs/t1.jpg"},
		{"https://s3.example.com/homequest/proofs/t1.jpg", "proofs/t1.jpg"},
		{"https://homequest.s3.example.com/proofs/t1.jpg?x=1", "proofs/t1.jpg"},
	}
	for _, tt := range tests {
		got, err := s.Key(tt.ref)
		if err != nil {
			t.Errorf("Key(%q): %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Key(%q) = %q, want %q", tt.ref, got, tt.want)
		}
	}
	if _, err := s.Key("https://media.example.com/"); err == nil {
		t.Error("expected error for url without key")
	}
}

func TestExists(t *testing.T) {
	m := &mockS3Client{objects: map[string]bool{"proofs/t1.jpg": true}}
	s := newTestStore(m)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "https://s3.example.com/homequest/proofs/t1.jpg")
	if err != nil || !ok {
		t.Errorf("existing object = %v, %v, want true", ok, err)
	}
	ok, err = s.Exists(ctx, "proofs/missing.jpg")
	if err != nil || ok {
		t.Errorf("missing object = %v, %v, want false", ok, err)
	}
	if len(m.keys) != 2 || m.keys[1] != "proofs/missing.jpg" {
		t.Errorf("keys = %v", m.keys)
	}
}

func TestExistsErrors(t *testing.T) {
	ctx := context.Background()

	m := &mockS3Client{headErr: &smithy.GenericAPIError{Code: "NoSuchKey"}}
	if ok, err := newTestStore(m).Exists(ctx, "a.jpg"); ok || err != nil {
		t.Errorf("NoSuchKey = %v, %v, want false, nil", ok, err)
	}

	m = &mockS3Client{headErr: errors.New("connection refused")}
	if _, err := newTestStore(m).Exists(ctx, "a.jpg"); err == nil {
		t.Error("expected transport error to propagate")
	}
}
