package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Stages accepted by every script's positional argument.
var Stages = []string{"development", "preview", "staging", "production"}

// ValidStage reports whether the given stage name is recognised.
func ValidStage(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// Endpoints derives every remote service base URL from the stage name.
type Endpoints struct {
	DataAPI   string
	SearchAPI string
	Assets    string
	Notify    string
	BulkMail  string
}

// Mailer provider bases do not vary by stage; stage separation happens
// through per-stage API keys.
const (
	notifyBaseURL   = "https://api.notifications.service.gov.uk"
	bulkMailBaseURL = "https://us5.api.mailchimp.com"
)

// ForStage returns the endpoint set for a stage. Production addresses the
// bare domain; other remote stages are prefixed; development is local.
func ForStage(stage string) (Endpoints, error) {
	switch stage {
	case "development":
		return Endpoints{
			DataAPI:   "http://localhost:5000",
			SearchAPI: "http://localhost:5009",
			Assets:    "http://localhost:5000/assets",
			Notify:    notifyBaseURL,
			BulkMail:  bulkMailBaseURL,
		}, nil
	case "production":
		return Endpoints{
			DataAPI:   "https://api.digitalmarketplace.service.gov.uk",
			SearchAPI: "https://search-api.digitalmarketplace.service.gov.uk",
			Assets:    "https://assets.digitalmarketplace.service.gov.uk",
			Notify:    notifyBaseURL,
			BulkMail:  bulkMailBaseURL,
		}, nil
	case "preview", "staging":
		return Endpoints{
			DataAPI:   fmt.Sprintf("https://%s-api.digitalmarketplace.service.gov.uk", stage),
			SearchAPI: fmt.Sprintf("https://%s-search-api.digitalmarketplace.service.gov.uk", stage),
			Assets:    fmt.Sprintf("https://%s-assets.digitalmarketplace.service.gov.uk", stage),
			Notify:    notifyBaseURL,
			BulkMail:  bulkMailBaseURL,
		}, nil
	default:
		return Endpoints{}, fmt.Errorf("unknown stage %q (expected one of %s)", stage, strings.Join(Stages, ", "))
	}
}

// Credentials holds the bearer tokens and mailer keys for one stage.
type Credentials struct {
	DataAPIToken   string
	SearchAPIToken string
	NotifyAPIKey   string
	BulkMailAPIKey string
}

// CredentialsForStage reads tokens from the environment through viper
// (DM_DATA_API_TOKEN_<STAGE> and friends). The Data API token is
// mandatory; the rest are required only by the scripts that use them.
func CredentialsForStage(stage string) (Credentials, error) {
	suffix := strings.ToUpper(stage)
	c := Credentials{
		DataAPIToken:   viper.GetString("data-api-token-" + stage),
		SearchAPIToken: viper.GetString("search-api-token-" + stage),
		NotifyAPIKey:   viper.GetString("notify-api-key-" + stage),
		BulkMailAPIKey: viper.GetString("bulk-mail-api-key-" + stage),
	}
	if c.DataAPIToken == "" {
		return c, fmt.Errorf("DM_DATA_API_TOKEN_%s is not set", suffix)
	}
	return c, nil
}

// ObjectStore locates the documents bucket for one stage.
type ObjectStore struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStoreForStage reads store credentials from the environment
// (DM_STORE_ACCESS_KEY_<STAGE> and friends). The bucket name follows the
// per-stage convention unless DM_STORE_BUCKET_<STAGE> overrides it.
func ObjectStoreForStage(stage string) (ObjectStore, error) {
	s := ObjectStore{
		Endpoint:  viper.GetString("store-endpoint-" + stage),
		AccessKey: viper.GetString("store-access-key-" + stage),
		SecretKey: viper.GetString("store-secret-key-" + stage),
		Bucket:    viper.GetString("store-bucket-" + stage),
		UseSSL:    stage != "development",
	}
	if s.Endpoint == "" {
		if stage == "development" {
			s.Endpoint = "localhost:9000"
		} else {
			s.Endpoint = "s3.amazonaws.com"
		}
	}
	if s.Bucket == "" {
		s.Bucket = "digitalmarketplace-documents-" + stage
	}
	suffix := strings.ToUpper(stage)
	if s.AccessKey == "" || s.SecretKey == "" {
		return s, fmt.Errorf("DM_STORE_ACCESS_KEY_%s and DM_STORE_SECRET_KEY_%s must be set", suffix, suffix)
	}
	return s, nil
}

// Init binds the DM_* environment namespace. Call once from main.
func Init() {
	viper.SetEnvPrefix("DM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
