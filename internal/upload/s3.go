package upload

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the gateway calls.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Gateway struct {
	Client  S3API
	Bucket  string
	BaseURL string
}

// NewS3Gateway builds a gateway from the default AWS credential chain.
func NewS3Gateway(ctx context.Context, region, bucket, baseURL string) (*S3Gateway, error) {
	if bucket == "" || baseURL == "" {
		return nil, errors.New("upload: s3 bucket and public base url are required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return &S3Gateway{Client: s3.NewFromConfig(cfg), Bucket: bucket, BaseURL: baseURL}, nil
}

func (g *S3Gateway) Upload(ctx context.Context, f File, key string) (string, error) {
	if !validKey(key) {
		return "", errors.New("upload: invalid key")
	}
	in := &s3.PutObjectInput{
		Bucket:      aws.String(g.Bucket),
		Key:         aws.String(key),
		Body:        f.Body,
		ContentType: aws.String(f.MimeType),
	}
	if f.Size > 0 {
		in.ContentLength = aws.Int64(f.Size)
	}
	if _, err := g.Client.PutObject(ctx, in); err != nil {
		return "", err
	}
	return joinURL(g.BaseURL, key), nil
}

func (g *S3Gateway) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return errors.New("upload: invalid key")
	}
	_, err := g.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.Bucket),
		Key:    aws.String(key),
	})
	return err
}
