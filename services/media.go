package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// inlineImagePattern 允许的内联图片格式 data:image/<type>;base64,
var inlineImagePattern = regexp.MustCompile(`^data:image/([a-zA-Z]+);base64,`)

// ErrInvalidImage 不是可识别的内联图片
var ErrInvalidImage = errors.New("invalid inline image")

// IsInlineImage 检查是否为 data URI 形式的图片
func IsInlineImage(s string) bool {
	return inlineImagePattern.MatchString(s)
}

// DecodeInlineImage 解析 data URI，返回内容类型、扩展名和原始字节
func DecodeInlineImage(dataURI string) (contentType, ext string, data []byte, err error) {
	match := inlineImagePattern.FindStringSubmatch(dataURI)
	if match == nil {
		return "", "", nil, ErrInvalidImage
	}
	ext = strings.ToLower(match[1])
	data, err = base64.StdEncoding.DecodeString(dataURI[len(match[0]):])
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return "image/" + ext, ext, data, nil
}

// MediaUploader 媒体托管服务，返回可公开访问的URI
type MediaUploader interface {
	Upload(ctx context.Context, dataURI string) (string, error)
}

// InlineUploader 开发环境使用，直接返回 data URI
type InlineUploader struct{}

func (InlineUploader) Upload(_ context.Context, dataURI string) (string, error) {
	if !IsInlineImage(dataURI) {
		return "", ErrInvalidImage
	}
	return dataURI, nil
}

// S3PutObjectAPI S3客户端中上传所需的部分
type S3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config S3兼容存储配置（R2、MinIO等）
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string
}

// S3Uploader 将图片上传到S3兼容存储
type S3Uploader struct {
	client        S3PutObjectAPI
	bucket        string
	publicBaseURL string
}

// NewS3Uploader 使用静态凭证创建上传器
func NewS3Uploader(cfg S3Config) *S3Uploader {
	awsCfg := aws.Config{
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Region:      cfg.Region,
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	return NewS3UploaderWithClient(client, cfg.Bucket, cfg.PublicBaseURL)
}

// NewS3UploaderWithClient 使用已有客户端创建上传器
func NewS3UploaderWithClient(client S3PutObjectAPI, bucket, publicBaseURL string) *S3Uploader {
	return &S3Uploader{
		client:        client,
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (u *S3Uploader) Upload(ctx context.Context, dataURI string) (string, error) {
	contentType, ext, data, err := DecodeInlineImage(dataURI)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("images/%s.%s", uuid.NewString(), ext)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	return u.publicBaseURL + "/" + key, nil
}
