package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// S3Options configures S3Results.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	// Passphrase enables sealing artifacts at rest when non-empty.
	Passphrase string
}

// S3API is the subset of the S3 client used by S3Results.
type S3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Results stores artifacts as objects {prefix}{id}.json. A single PUT is
// atomic from a reader's point of view.
type S3Results struct {
	client   S3API
	uploader *manager.Uploader
	bucket   string
	prefix   string
	sealer   *Sealer
}

// NewS3Client builds an S3 client from the default AWS chain, overridden by
// static credentials and a custom endpoint when configured.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	var loadOpts []func(*awscfg.LoadOptions) error
	if o.Region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(o.Region))
	}
	if o.AccessKey != "" && o.SecretKey != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	}), nil
}

func NewS3Results(client S3API, o S3Options) *S3Results {
	r := &S3Results{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   o.Bucket,
		prefix:   o.Prefix,
	}
	if o.Passphrase != "" {
		r.sealer = NewSealer(o.Passphrase)
	}
	return r
}

func (r *S3Results) key(id string) string { return r.prefix + ArtifactName(id) }

func (r *S3Results) Save(ctx context.Context, id string, data []byte) error {
	body := data
	meta := map[string]string{"extraction-id": id, "encrypted": "false"}
	if r.sealer != nil {
		sealed, err := r.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt artifact: %w", err)
		}
		body = sealed
		meta["encrypted"] = "true"
	}
	key := r.key(id)
	_, err := r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("extraction_id", id).Str("key", key).Bool("encrypted", r.sealer != nil).Msg("uploaded result artifact to S3")
	return nil
}

func (r *S3Results) Load(ctx context.Context, id string) ([]byte, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(id)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}
	if r.sealer != nil {
		plain, err := r.sealer.Open(b)
		if errors.Is(err, ErrNotSealed) {
			return b, nil
		}
		if err != nil {
			return nil, err
		}
		return plain, nil
	}
	return b, nil
}

// Ping checks the bucket is reachable.
func (r *S3Results) Ping(ctx context.Context) error {
	_, err := r.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(r.bucket)})
	return err
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *s3types.NotFound
	return errors.As(err, &nf)
}
