package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	supabase "github.com/supabase-community/storage-go"
)

// SupabaseStore persists objects in a Supabase storage bucket.
type SupabaseStore struct {
	client  *supabase.Client
	bucket  string
	baseURL string
}

// NewSupabaseStore builds a store against the given project URL using the
// service role key.
func NewSupabaseStore(projectURL, serviceKey, bucket string) (*SupabaseStore, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" || strings.TrimSpace(serviceKey) == "" {
		return nil, errors.New("storage: supabase url and service key are required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	client := supabase.NewClient(projectURL+"/storage/v1", serviceKey, nil)
	return &SupabaseStore{client: client, bucket: bucket, baseURL: projectURL}, nil
}

// Put uploads data under key with the given content type, upserting on
// repeated keys, and returns the key.
func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err = s.client.UploadFile(s.bucket, cleanKey, bytes.NewReader(data), supabase.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", cleanKey, err)
	}
	return cleanKey, nil
}

// Get downloads the object at key.
func (s *SupabaseStore) Get(ctx context.Context, key string) ([]byte, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := s.client.DownloadFile(s.bucket, cleanKey)
	if err != nil {
		return nil, fmt.Errorf("storage: download %s: %w", cleanKey, err)
	}
	return data, nil
}

// PublicURL returns the public object URL for key.
func (s *SupabaseStore) PublicURL(key string) string {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, cleanKey)
}

// Delete removes the object at key.
func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.client.RemoveFile(s.bucket, []string{cleanKey}); err != nil {
		return fmt.Errorf("storage: remove %s: %w", cleanKey, err)
	}
	return nil
}

var _ ObjectStore = (*SupabaseStore)(nil)
