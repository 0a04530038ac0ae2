// Package s3 archives ACME accounts and certificates in Amazon S3 or an
// S3-compatible service (MinIO, Wasabi, DigitalOcean Spaces).
//
// Cache implements autocert.Cache, so it backs letsencrypt.AccountStore and
// letsencrypt.CertificateStore:
//
//	cache, err := s3.New(ctx, s3.Config{
//		Bucket: "ops-certificates",
//		Region: "eu-central-1",
//		Prefix: "autotls/",
//	})
//	if err != nil {
//		return err
//	}
//
//	certs := letsencrypt.NewCertificateStore(cache)
//
// Credentials fall back to the default AWS chain (IAM roles, environment)
// when AccessKeyID and SecretKey are empty. Objects are written with AES256
// server-side encryption.
//
// MinIO configuration:
//
//	cfg := s3.Config{
//		Bucket:         "certs",
//		Region:         "us-east-1",
//		AccessKeyID:    "minioadmin",
//		SecretKey:      "minioadmin",
//		Endpoint:       "http://localhost:9000",
//		ForcePathStyle: true,
//	}
//
// Missing objects are reported as autocert.ErrCacheMiss; other failures wrap
// ErrAccessDenied, ErrBucketNotFound, ErrServiceUnavailable and friends.
package s3
