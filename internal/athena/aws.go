package athena

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"windwatts/internal/config"
)

// NewFromAWS：按默认凭证链构造真实引擎
// 返回：引擎之外单独给出 S3 客户端，下载链路直接复用同一套凭证
func NewFromAWS(ctx context.Context, cfg *config.Config) (*Engine, *s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, nil, fmt.Errorf("athena: load aws config: %w", err)
	}
	s3c := s3.NewFromConfig(awsCfg)
	return NewEngine(awsathena.NewFromConfig(awsCfg), s3c, cfg), s3c, nil
}
