package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Sign("form1/submission/abc/photo.jpg", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	path, err := signer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if path != "form1/submission/abc/photo.jpg" {
		t.Fatalf("Verify() path = %q", path)
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	signer := NewSigner("test-secret")

	token, err := signer.Sign("p", -time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := signer.Verify(token); !errors.Is(err, ErrInvalidSignedToken) {
		t.Fatalf("Verify(expired) error = %v", err)
	}
}

func TestSignerRejectsForeignSecret(t *testing.T) {
	token, err := NewSigner("secret-a").Sign("p", time.Minute)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if _, err := NewSigner("secret-b").Verify(token); !errors.Is(err, ErrInvalidSignedToken) {
		t.Fatalf("Verify(foreign secret) error = %v", err)
	}
	if _, err := NewSigner("secret-a").Verify("not-a-token"); !errors.Is(err, ErrInvalidSignedToken) {
		t.Fatalf("Verify(garbage) error = %v", err)
	}
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8080", NewSigner("s"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}

	for _, path := range []string{"../outside", "/abs/path", "a/../../b", "."} {
		if err := store.Upload(context.Background(), path, []byte("x")); err == nil {
			t.Fatalf("Upload(%q) expected error", path)
		}
	}
}

func TestLocalStorageRoundTripAndPrefixRemove(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "http://localhost:8080", NewSigner("s"))
	if err != nil {
		t.Fatalf("NewLocalStorage() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Upload(ctx, "form1/submission/s1/a.jpg", []byte("aa")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if err := store.Upload(ctx, "form1/submission/s2/b.jpg", []byte("bb")); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	data, err := store.Get(ctx, "form1/submission/s1/a.jpg")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "aa" {
		t.Fatalf("Get() = %q", data)
	}

	if err := store.Remove(ctx, "form1/"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := store.Get(ctx, "form1/submission/s2/b.jpg"); err == nil {
		t.Fatalf("Get() after prefix remove expected error")
	}
}
