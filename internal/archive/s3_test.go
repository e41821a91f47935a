package archive

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"repovault/internal/core"
	"repovault/internal/model"
)

func TestRestoreStateFromHeader(t *testing.T) {
	tests := []struct {
		name   string
		header *string
		want   core.RestoreState
	}{
		{"absent", nil, core.RestoreNone},
		{"in progress", aws.String(`ongoing-request="true"`), core.RestoreInProgress},
		{"ready", aws.String(`ongoing-request="false", expiry-date="Fri, 21 Dec 2025 00:00:00 GMT"`), core.RestoreReady},
		{"garbage", aws.String("unexpected"), core.RestoreNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := restoreStateFromHeader(tt.header); got != tt.want {
				t.Errorf("restoreStateFromHeader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageClassMapping(t *testing.T) {
	pairs := []struct {
		local model.StorageClass
		s3    types.StorageClass
	}{
		{model.ClassHot, types.StorageClassStandard},
		{model.ClassWarmIA, types.StorageClassStandardIa},
		{model.ClassCold, types.StorageClassGlacier},
		{model.ClassDeepCold, types.StorageClassDeepArchive},
	}
	for _, p := range pairs {
		if got := classToS3(p.local); got != p.s3 {
			t.Errorf("classToS3(%s) = %s, want %s", p.local, got, p.s3)
		}
		if got := classFromS3(p.s3); got != p.local {
			t.Errorf("classFromS3(%s) = %s, want %s", p.s3, got, p.local)
		}
	}

	// HeadObject reports no class at all for STANDARD objects.
	if got := classFromS3(""); got != model.ClassHot {
		t.Errorf("classFromS3(empty) = %s, want hot", got)
	}
}

func TestTierMapping(t *testing.T) {
	if tierToS3(model.TierExpedited) != types.TierExpedited {
		t.Error("expedited mapping wrong")
	}
	if tierToS3(model.TierStandard) != types.TierStandard {
		t.Error("standard mapping wrong")
	}
	if tierToS3(model.TierBulk) != types.TierBulk {
		t.Error("bulk mapping wrong")
	}
}

func TestFullKey(t *testing.T) {
	a := &S3Archive{bucket: "b", prefix: "fleet/"}
	if got := a.fullKey("nightly/r/v.tar.gz"); got != "fleet/nightly/r/v.tar.gz" {
		t.Errorf("unexpected key: %s", got)
	}

	bare := &S3Archive{bucket: "b"}
	if got := bare.fullKey("k"); got != "k" {
		t.Errorf("unexpected key: %s", got)
	}
}
