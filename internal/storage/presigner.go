// Package storage はメンター画像のアップロード先となるS3互換ストレージを扱う。
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// DefaultUploadExpiry は署名付きURLの既定の有効期間。
const DefaultUploadExpiry = 15 * time.Minute

// 許可する画像のContent-Typeと拡張子
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Config はS3互換ストレージの設定。
type Config struct {
	Endpoint        string // 空の場合はAWSの既定エンドポイント
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string // アップロード後の公開URLの基底。空の場合はエンドポイントから組み立てる
	Expiry          time.Duration
}

// PresignedUpload は署名付きアップロードURLとアップロード後の公開URL。
type PresignedUpload struct {
	UploadURL string    `json:"upload_url"`
	PublicURL string    `json:"public_url"`
	ObjectKey string    `json:"object_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FilePresigner は画像アップロード用の署名付きURLを発行する。
type FilePresigner struct {
	client *s3.PresignClient
	cfg    Config
	now    func() time.Time
}

// NewFilePresigner はFilePresignerを生成する。Bucketが空の場合はnilを返す。
func NewFilePresigner(ctx context.Context, cfg Config) (*FilePresigner, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultUploadExpiry
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &FilePresigner{
		client: s3.NewPresignClient(client),
		cfg:    cfg,
		now:    time.Now,
	}, nil
}

// PresignImageUpload はメンター画像のアップロードURLを発行する。
// contentTypeはimage/jpeg、image/png、image/webpのいずれか。
func (p *FilePresigner) PresignImageUpload(ctx context.Context, uid, contentType string) (*PresignedUpload, error) {
	key, err := ImageObjectKey(uid, contentType)
	if err != nil {
		return nil, err
	}

	req, err := p.client.PresignPutObject(ctx,
		&s3.PutObjectInput{
			Bucket:      aws.String(p.cfg.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String(contentType),
		},
		s3.WithPresignExpires(p.cfg.Expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &PresignedUpload{
		UploadURL: req.URL,
		PublicURL: p.publicURL(key),
		ObjectKey: key,
		ExpiresAt: p.now().Add(p.cfg.Expiry),
	}, nil
}

func (p *FilePresigner) publicURL(key string) string {
	if p.cfg.PublicBaseURL != "" {
		return strings.TrimRight(p.cfg.PublicBaseURL, "/") + "/" + key
	}
	if p.cfg.Endpoint != "" {
		return strings.TrimRight(p.cfg.Endpoint, "/") + "/" + p.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.cfg.Bucket, p.cfg.Region, key)
}

// ImageObjectKey はメンター画像のオブジェクトキーを生成する。
func ImageObjectKey(uid, contentType string) (string, error) {
	ext, ok := allowedImageTypes[strings.ToLower(contentType)]
	if !ok {
		return "", fmt.Errorf("unsupported content type: %q", contentType)
	}
	if uid == "" {
		return "", fmt.Errorf("uid is required")
	}
	return path.Join("mentors", uid, uuid.New().String()+ext), nil
}
