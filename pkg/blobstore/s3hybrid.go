// Copyright 2025 Rustus Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/s3rius/rustus/pkg/config"
	"github.com/s3rius/rustus/pkg/logger"
	"github.com/s3rius/rustus/pkg/types"
	"github.com/s3rius/rustus/pkg/utils"
)

func init() {
	Register("s3_hybrid", func(cfg config.StorageConfig) (Storage, error) {
		return NewS3Hybrid(cfg)
	})
}

// S3Hybrid streams chunks to the local filesystem and promotes the
// finished blob to object storage. Reads route to S3 once the upload
// is complete and to the local copy while it is still receiving.
type S3Hybrid struct {
	client        *s3.Client
	bucket        string
	headers       map[string]string
	local         *File
	dirStruct     string
	concatWorkers int
}

// NewS3Hybrid creates the hybrid local+S3 data storage.
func NewS3Hybrid(cfg config.StorageConfig) (*S3Hybrid, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3_bucket required for the s3_hybrid storage")
	}

	local, err := NewFile(cfg)
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
	}
	if cfg.S3PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	workers := cfg.S3ConcatWorker
	if workers <= 0 {
		workers = 4
	}

	return &S3Hybrid{
		client:        s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:        cfg.S3Bucket,
		headers:       cfg.S3Headers,
		local:         local,
		dirStruct:     cfg.DirStructure,
		concatWorkers: workers,
	}, nil
}

func (s *S3Hybrid) Name() string { return "s3_hybrid" }

func (s *S3Hybrid) Prepare(ctx context.Context) error {
	return s.local.Prepare(ctx)
}

// s3Key derives the object key from the directory template and the
// upload's creation time, so local and remote layouts match.
func (s *S3Hybrid) s3Key(info *types.FileInfo) string {
	base := utils.ExpandDirStruct(s.dirStruct, time.Unix(info.CreatedAt, 0))
	if utils.HasUnresolvedTokens(base) {
		base = ""
	}
	base = strings.Trim(base, "/")
	if base == "" {
		return info.ID
	}
	return base + "/" + info.ID
}

func (s *S3Hybrid) Create(ctx context.Context, info *types.FileInfo) (string, error) {
	return s.local.Create(ctx, info)
}

func (s *S3Hybrid) Append(ctx context.Context, info *types.FileInfo, offset int64, body io.Reader) (int64, error) {
	return s.local.Append(ctx, info, offset, body)
}

func (s *S3Hybrid) Truncate(ctx context.Context, info *types.FileInfo, size int64) error {
	return s.local.Truncate(ctx, info, size)
}

func (s *S3Hybrid) putObject(ctx context.Context, key string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if len(s.headers) > 0 {
		meta := make(map[string]string, len(s.headers))
		for k, v := range s.headers {
			meta[k] = v
		}
		input.Metadata = meta
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Finalize promotes the completed blob to S3 and removes the local
// copy.
func (s *S3Hybrid) Finalize(ctx context.Context, info *types.FileInfo) error {
	size, err := s.local.Length(ctx, info)
	if err != nil {
		return err
	}
	reader, err := s.local.Read(ctx, info)
	if err != nil {
		return err
	}
	defer reader.Close()

	key := s.s3Key(info)
	if err := s.putObject(ctx, key, reader, size); err != nil {
		return err
	}
	if err := s.local.Delete(ctx, info); err != nil {
		logger.Warn().Err(err).Str("upload_id", info.ID).Msg("failed to remove local copy after promotion")
	}
	logger.Debug().Str("upload_id", info.ID).Str("key", key).Msg("promoted upload to object storage")
	return nil
}

func (s *S3Hybrid) Read(ctx context.Context, info *types.FileInfo) (io.ReadCloser, error) {
	return s.ReadRange(ctx, info, 0, 0)
}

func (s *S3Hybrid) ReadRange(ctx context.Context, info *types.FileInfo, offset, length int64) (io.ReadCloser, error) {
	if !info.Completed() {
		return s.local.ReadRange(ctx, info, offset, length)
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.s3Key(info)),
	}
	if offset > 0 || length > 0 {
		if length > 0 {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
		}
	}
	out, err := s.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return out.Body, nil
}

func (s *S3Hybrid) Length(ctx context.Context, info *types.FileInfo) (int64, error) {
	if !info.Completed() {
		return s.local.Length(ctx, info)
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.s3Key(info)),
	})
	if err != nil {
		return 0, fmt.Errorf("head object: %w", err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// Concat downloads all parts from S3 into a scratch directory, stitches
// them in order and uploads the result under the final upload's key.
func (s *S3Hybrid) Concat(ctx context.Context, info *types.FileInfo, parts []*types.FileInfo) error {
	scratch, err := os.MkdirTemp("", "rustus-concat-"+info.ID)
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concatWorkers)
	for _, part := range parts {
		group.Go(func() error {
			out, err := s.client.GetObject(groupCtx, &s3.GetObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(s.s3Key(part)),
			})
			if err != nil {
				return fmt.Errorf("download part %s: %w", part.ID, err)
			}
			defer out.Body.Close()

			file, err := os.Create(filepath.Join(scratch, part.ID))
			if err != nil {
				return fmt.Errorf("create part scratch file: %w", err)
			}
			defer file.Close()
			if _, err := io.Copy(file, out.Body); err != nil {
				return fmt.Errorf("write part %s: %w", part.ID, err)
			}
			return file.Sync()
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	target := filepath.Join(scratch, info.ID)
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create concat target: %w", err)
	}
	for _, part := range parts {
		in, err := os.Open(filepath.Join(scratch, part.ID))
		if err != nil {
			out.Close()
			return fmt.Errorf("open part scratch file: %w", err)
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return fmt.Errorf("stitch part %s: %w", part.ID, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close concat target: %w", err)
	}

	stat, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("stat concat target: %w", err)
	}
	reader, err := os.Open(target)
	if err != nil {
		return fmt.Errorf("open concat target: %w", err)
	}
	defer reader.Close()
	if err := s.putObject(ctx, s.s3Key(info), reader, stat.Size()); err != nil {
		return err
	}
	// The empty local placeholder is no longer needed: the target
	// lives in object storage from here on.
	if err := s.local.Delete(ctx, info); err != nil {
		logger.Debug().Err(err).Str("upload_id", info.ID).Msg("failed to remove local concat placeholder")
	}
	return nil
}

func (s *S3Hybrid) Delete(ctx context.Context, info *types.FileInfo) error {
	if info.Completed() {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.s3Key(info)),
		})
		if err != nil {
			return fmt.Errorf("delete object: %w", err)
		}
		return nil
	}
	return s.local.Delete(ctx, info)
}

func (s *S3Hybrid) Close() error {
	return s.local.Close()
}
