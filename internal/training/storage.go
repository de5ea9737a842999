package training

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Client is the subset of the S3 API the audio store needs.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// AudioStore reads and writes session recordings in S3.
type AudioStore struct {
	client S3Client
	bucket string
}

// NewAudioStore creates an audio store for the given bucket.
func NewAudioStore(client S3Client, bucket string) *AudioStore {
	if client == nil {
		panic("training: nil s3 client")
	}
	if bucket == "" {
		panic("training: empty bucket")
	}
	return &AudioStore{client: client, bucket: bucket}
}

// Key builds the object key for one recording. The original file name is
// kept only for its extension so the transcription API can sniff the format.
func (a *AudioStore) Key(practiceID, sessionID, recordingID uuid.UUID, fileName string) string {
	ext := path.Ext(fileName)
	if ext == "" {
		ext = ".wav"
	}
	return fmt.Sprintf("training/%s/%s/%s%s", practiceID, sessionID, recordingID, ext)
}

// Put uploads one audio file.
func (a *AudioStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("training: read audio: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("training: upload audio: %w", err)
	}
	return nil
}

// Get downloads one audio file. The caller closes the reader.
func (a *AudioStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("training: download audio: %w", err)
	}
	return out.Body, nil
}
