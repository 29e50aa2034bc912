// Copyright 2025 James Ross
package policy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// PriceTable supplies the per-resource cost rates the cost_ceiling rule
// needs. An empty PriceTable makes cost_ceiling never violate, per spec.
type PriceTable struct {
	CPUCoreHour float64            `mapstructure:"cpu_core_hour"`
	MemGBHour   float64            `mapstructure:"mem_gb_hour"`
	GPUHourBySKU map[string]float64 `mapstructure:"gpu_hour"`
}

// HourlyCost estimates Σ(replica · (cpu·cpu_rate + mem_gb·mem_rate +
// gpu_count·gpu_rate[sku])) for a post-state resource shape.
func (pt PriceTable) HourlyCost(replicas int, cpuCores, memGB float64, gpuCount int, gpuSKU string) float64 {
	if pt.CPUCoreHour == 0 && pt.MemGBHour == 0 && len(pt.GPUHourBySKU) == 0 {
		return 0
	}
	perReplica := cpuCores*pt.CPUCoreHour + memGB*pt.MemGBHour
	if gpuCount > 0 {
		perReplica += float64(gpuCount) * pt.GPUHourBySKU[gpuSKU]
	}
	return float64(replicas) * perReplica
}

// S3PriceTableLoader optionally loads a PriceTable from an S3 object. The
// engine works with a PriceTable built any other way; this is one
// concrete source for it.
type S3PriceTableLoader struct {
	client *s3.S3
	bucket string
	key    string
}

func NewS3PriceTableLoader(region, bucket, key string) (*S3PriceTableLoader, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("price table: new aws session: %w", err)
	}
	return &S3PriceTableLoader{client: s3.New(sess), bucket: bucket, key: key}, nil
}

func (l *S3PriceTableLoader) Load(ctx context.Context) (PriceTable, error) {
	out, err := l.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.bucket),
		Key:    aws.String(l.key),
	})
	if err != nil {
		return PriceTable{}, fmt.Errorf("price table: get object: %w", err)
	}
	defer out.Body.Close()
	var pt PriceTable
	if err := json.NewDecoder(out.Body).Decode(&pt); err != nil {
		return PriceTable{}, fmt.Errorf("price table: decode: %w", err)
	}
	return pt, nil
}
