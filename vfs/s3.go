package vfs

import (
	"context"
	"errors"
	"fmt"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
	"io"
	"io/fs"
	"strings"
)

// type S3Conf struct {{{

// Serves files from an S3 compatible bucket (AWS, MinIO, Ceph RGW).
type S3Conf struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accesskey"`
	SecretKey string `yaml:"secretkey"`

	// Required for MinIO.
	PathStyle bool `yaml:"pathstyle"`
} // }}}

// type s3Mount struct {{{

type s3Mount struct {
	l      zerolog.Logger
	co     S3Conf
	client *s3.Client
} // }}}

// func NewS3Mount {{{

func NewS3Mount(ctx context.Context, co S3Conf, l *zerolog.Logger) (Mount, error) {
	if co.Bucket == "" {
		return nil, errors.New("Missing bucket")
	}

	var opts []func(*config.LoadOptions) error

	if co.Region != "" {
		opts = append(opts, config.WithRegion(co.Region))
	}

	if co.AccessKey != "" && co.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(co.AccessKey, co.SecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)

	if co.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(co.Endpoint)
		})
	}

	if co.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &s3Mount{
		l:      l.With().Str("mod", "vfs").Str("mount", "s3").Str("bucket", co.Bucket).Logger(),
		co:     co,
		client: s3.NewFromConfig(cfg, s3Opts...),
	}, nil
} // }}}

func (sm *s3Mount) Name() string {
	return "s3:" + sm.co.Bucket + "/" + strings.Trim(sm.co.Prefix, "/")
}

func (sm *s3Mount) key(name string) string {
	return s3Key(sm.co.Prefix, name)
}

// func s3Key {{{

func s3Key(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}

	return prefix + "/" + name
} // }}}

// func isS3NotFound {{{

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *s3types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	// Not every S3 compatible server returns the typed errors.
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}

	return false
} // }}}

// func s3Mount.Open {{{

func (sm *s3Mount) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := sm.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sm.co.Bucket),
		Key:    aws.String(sm.key(name)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%s: %w", name, fs.ErrNotExist)
		}

		sm.l.Err(err).Str("func", "Open").Str("file", name).Send()
		return nil, err
	}

	return resp.Body, nil
} // }}}

// func s3Mount.Exists {{{

func (sm *s3Mount) Exists(ctx context.Context, name string) bool {
	_, err := sm.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sm.co.Bucket),
		Key:    aws.String(sm.key(name)),
	})

	return err == nil
} // }}}

func (sm *s3Mount) Close() error { return nil }
