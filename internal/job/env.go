// Package job runs a single scan in batch mode: the bundle is downloaded from
// blob storage, scanned, the report is uploaded next to it and the result is
// posted to a callback URL. Everything is configured through the environment
// a Kubernetes Job sets.
package job

import (
	"fmt"
	"strings"
)

// Environment variable names.
const (
	EnvBundleBucket   = "BUNDLE_S3_BUCKET"
	EnvBundleKey      = "BUNDLE_S3_KEY"
	EnvScanID         = "SCAN_ID"
	EnvCallbackURL    = "CALLBACK_URL"
	EnvResultBucket   = "RESULT_S3_BUCKET"
	EnvResultPrefix   = "RESULT_S3_PREFIX"
	EnvCallbackSecret = "CALLBACK_SECRET"
	EnvRegion         = "AWS_REGION"

	DefaultRegion = "us-east-1"
)

// Env is the job description read from the environment.
type Env struct {
	BundleBucket   string
	BundleKey      string
	ScanID         string
	CallbackURL    string
	ResultBucket   string
	ResultPrefix   string
	CallbackSecret string
	Region         string
}

// MissingEnvError lists required variables that are unset or empty.
type MissingEnvError struct {
	Names []string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("required environment variable(s) not set: %s", strings.Join(e.Names, ", "))
}

// EnvFromLookup reads the job description through lookup, normally
// os.LookupEnv. Every missing required variable is reported at once.
func EnvFromLookup(lookup func(string) (string, bool)) (Env, error) {
	var missing []string
	required := func(name string) string {
		v, _ := lookup(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	env := Env{
		BundleBucket: required(EnvBundleBucket),
		BundleKey:    required(EnvBundleKey),
		ScanID:       required(EnvScanID),
		CallbackURL:  required(EnvCallbackURL),
		ResultBucket: required(EnvResultBucket),
		ResultPrefix: required(EnvResultPrefix),
	}
	if len(missing) > 0 {
		return Env{}, &MissingEnvError{Names: missing}
	}

	env.CallbackSecret, _ = lookup(EnvCallbackSecret)
	env.Region, _ = lookup(EnvRegion)
	if env.Region == "" {
		env.Region = DefaultRegion
	}
	return env, nil
}

// ReportKey is the object key the report is uploaded under.
func (e Env) ReportKey() string {
	return e.ResultPrefix + e.ScanID + "/report.json"
}

// ReportURI is the s3:// URI of the uploaded report.
func (e Env) ReportURI() string {
	return "s3://" + e.ResultBucket + "/" + e.ReportKey()
}
