package config

import "os"

// StorageConfig points at the S3-compatible bucket holding avatar images.
// Enabled is false unless bucket, endpoint and both keys are present.
type StorageConfig struct {
	Enabled      bool
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	PublicDomain string
	MaxBytes     int64
}

func LoadStorageConfig() StorageConfig {
	c := StorageConfig{
		Bucket:       os.Getenv("S3_BUCKET"),
		Endpoint:     os.Getenv("S3_ENDPOINT"),
		Region:       envStr("S3_REGION", "auto"),
		AccessKey:    os.Getenv("S3_ACCESS_KEY_ID"),
		SecretKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),
		PublicDomain: os.Getenv("S3_PUBLIC_DOMAIN"),
		MaxBytes:     int64(envInt("AVATAR_MAX_BYTES", 2<<20)),
	}
	c.Enabled = c.Bucket != "" && c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
	return c
}
