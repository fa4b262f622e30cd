package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func init() {
	RegisterSourceType("s3", s3SourceFromJSON)
	RegisterHandleType("s3", s3HandleFromJSON)
	RegisterOpener("s3", func(ctx context.Context, s Source, sm SourceManager) (any, func() error, error) {
		src, ok := s.(*S3Source)
		if !ok {
			return nil, nil, fmt.Errorf("not an S3Source")
		}
		var opts []func(*awsconfig.LoadOptions) error
		if src.Region != "" {
			opts = append(opts, awsconfig.WithRegion(src.Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, nil, NewUnavailableError(src.Bucket, err)
		}
		return s3.NewFromConfig(cfg), nil, nil
	})
}

// S3Source describes one S3 bucket, optionally restricted to a key prefix.
type S3Source struct {
	Bucket string
	Prefix string
	Region string
}

// NewS3Source builds an S3Source for the given bucket and key prefix.
func NewS3Source(bucket, prefix, region string) *S3Source {
	return &S3Source{Bucket: bucket, Prefix: prefix, Region: region}
}

func (s *S3Source) Type() string { return "s3" }

func (s *S3Source) EqualityProperties() map[string]any {
	return map[string]any{"bucket": s.Bucket, "region": s.Region}
}

func (s *S3Source) Censor() Source { return s }

func (s *S3Source) YieldsIndependentSources() bool { return false }

func (s *S3Source) Handles(ctx context.Context, sm SourceManager) iter.Seq2[Handle, error] {
	return func(yield func(Handle, error) bool) {
		cookie, err := sm.Open(ctx, s)
		if err != nil {
			yield(nil, err)
			return
		}
		client, ok := cookie.(*s3.Client)
		if !ok {
			yield(nil, &MalformedError{Where: s.Bucket, Err: fmt.Errorf("cookie is not an s3 client")})
			return
		}
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.Bucket),
			Prefix: aws.String(s.Prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, NewUnavailableError(s.Bucket, err))
				return
			}
			for _, obj := range page.Contents {
				if obj.Key == nil {
					continue
				}
				h := &S3Handle{Base: NewBase(s, *obj.Key)}
				if !yield(h, nil) {
					return
				}
			}
		}
	}
}

func (s *S3Source) ToJSON() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type   string `json:"type"`
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix,omitempty"`
		Region string `json:"region,omitempty"`
	}{Type: s.Type(), Bucket: s.Bucket, Prefix: s.Prefix, Region: s.Region})
}

func s3SourceFromJSON(data []byte) (Source, error) {
	var v struct {
		Bucket string `json:"bucket"`
		Prefix string `json:"prefix"`
		Region string `json:"region"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	if v.Bucket == "" {
		return nil, &DeserialisationError{TypeLabel: "s3", Field: "bucket", Err: fmt.Errorf("empty bucket")}
	}
	return NewS3Source(v.Bucket, v.Prefix, v.Region), nil
}

// S3Handle names one object within an S3Source's bucket.
type S3Handle struct {
	Base
}

func (h *S3Handle) Presentation() string { return h.PresentationURL() }

func (h *S3Handle) PresentationURL() string {
	src, ok := h.Source().(*S3Source)
	if !ok {
		return ""
	}
	return fmt.Sprintf("s3://%s/%s", src.Bucket, EscapePath(h.RelativePath()))
}

func (h *S3Handle) Censor() Handle {
	return &S3Handle{Base: NewBase(h.Source().Censor(), h.RelativePath())}
}

func (h *S3Handle) Crunch(hash bool) ([]byte, error) { return Crunch(h, hash) }

func (h *S3Handle) Follow(ctx context.Context, sm SourceManager) (Resource, error) {
	cookie, err := sm.Open(ctx, h.Source())
	if err != nil {
		return nil, err
	}
	client, ok := cookie.(*s3.Client)
	if !ok {
		return nil, &MalformedError{Where: h.Presentation(), Err: fmt.Errorf("cookie is not an s3 client")}
	}
	src := h.Source().(*S3Source)
	return &s3Resource{handle: h, client: client, bucket: src.Bucket, key: h.RelativePath()}, nil
}

func (h *S3Handle) ToJSON() (json.RawMessage, error) {
	srcJSON, err := h.Source().ToJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		Type   string          `json:"type"`
		Source json.RawMessage `json:"source"`
		Key    string          `json:"key"`
	}{Type: "s3", Source: srcJSON, Key: h.RelativePath()})
}

func s3HandleFromJSON(data []byte) (Handle, error) {
	var v struct {
		Source json.RawMessage `json:"source"`
		Key    string          `json:"key"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	src, err := FromJSONObject(v.Source)
	if err != nil {
		return nil, err
	}
	return &S3Handle{Base: NewBase(src, v.Key)}, nil
}

type s3Resource struct {
	handle *S3Handle
	client *s3.Client
	bucket string
	key    string

	head *s3.HeadObjectOutput
}

func (r *s3Resource) Handle() Handle { return r.handle }

func (r *s3Resource) headObject(ctx context.Context) (*s3.HeadObjectOutput, error) {
	if r.head != nil {
		return r.head, nil
	}
	out, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, NewUnavailableError(r.key, err)
	}
	r.head = out
	return out, nil
}

func (r *s3Resource) LastModified() (time.Time, error) {
	head, err := r.headObject(context.Background())
	if err != nil {
		return time.Time{}, err
	}
	if head.LastModified == nil {
		return time.Time{}, nil
	}
	return *head.LastModified, nil
}

func (r *s3Resource) MimeType() (string, error) {
	head, err := r.headObject(context.Background())
	if err != nil {
		return "", err
	}
	if head.ContentType != nil && *head.ContentType != "" {
		return *head.ContentType, nil
	}
	return mimeFromExtension(r.key), nil
}

func (r *s3Resource) Open() (io.ReadCloser, error) {
	out, err := r.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, NewUnavailableError(r.key, err)
	}
	return out.Body, nil
}

func (r *s3Resource) Size() (int64, error) {
	head, err := r.headObject(context.Background())
	if err != nil {
		return 0, err
	}
	if head.ContentLength == nil {
		return -1, nil
	}
	return *head.ContentLength, nil
}
